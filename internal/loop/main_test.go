package loop

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// Genkit and the rate limiter run background goroutines; opencensus
	// keeps a long-lived worker that is not ours to stop.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
		// genkit.Init installs a signal.NotifyContext and discards its
		// cancel func, so each Init leaks one signal-watcher goroutine.
		goleak.IgnoreTopFunction("os/signal.NotifyContext.func1"),
	)
}
