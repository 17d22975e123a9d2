package webdoc

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// colly keeps an http.Transport alive between collectors.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}
