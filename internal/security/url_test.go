package security

import (
	"strings"
	"testing"
)

func TestValidateBlocksDangerousTargets(t *testing.T) {
	v := &URLValidator{}

	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{"public https", "https://example.com/docs", ""},
		{"public http", "http://example.com", ""},
		{"ftp scheme", "ftp://example.com/file", "unsupported scheme"},
		{"file scheme", "file:///etc/passwd", "unsupported scheme"},
		{"localhost", "http://localhost:8080/", "blocked host"},
		{"loopback ip", "http://127.0.0.1/", "loopback"},
		{"private 10", "http://10.0.0.5/", "private"},
		{"private 192.168", "http://192.168.1.1/admin", "private"},
		{"private 172.16", "http://172.16.0.1/", "private"},
		{"metadata endpoint", "http://169.254.169.254/latest/meta-data/", "link-local"},
		{"metadata hostname", "http://metadata.google.internal/", "blocked host"},
		{"unspecified", "http://0.0.0.0/", "unspecified"},
		{"ipv6 loopback", "http://[::1]/", "loopback"},
		{"empty host", "http:///path", "empty hostname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.url)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate(%q) = %v, want nil", tt.url, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate(%q) = %v, want error containing %q", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAllowPrivate(t *testing.T) {
	v := &URLValidator{AllowPrivate: true}

	for _, u := range []string{"http://127.0.0.1:9999/", "http://localhost/", "http://192.168.0.10/"} {
		if err := v.Validate(u); err != nil {
			t.Errorf("Validate(%q) with AllowPrivate = %v, want nil", u, err)
		}
	}

	// Scheme checks still apply.
	if err := v.Validate("file:///etc/passwd"); err == nil {
		t.Error("AllowPrivate must not bypass scheme validation")
	}
}
