// Package security provides the URL validation used when ragent fetches
// web documents for indexing. It blocks requests that would escape to
// private networks or cloud metadata endpoints.
package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// blockedHostnames are rejected regardless of DNS resolution.
var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
	"metadata.gce.internal":    {},
	"metadata.internal":        {},
}

// URLValidator checks fetch targets before and during connection.
//
// AllowPrivate disables the private-network checks. It exists for tests
// that serve fixtures from httptest servers on the loopback interface and
// must never be enabled in production configuration.
type URLValidator struct {
	AllowPrivate bool
}

// Validate performs static validation of a fetch target: scheme must be
// http or https and the host must not be a known-dangerous name or a
// blocked IP literal. Hostname targets get their resolved addresses
// checked again in Transport's dialer, which closes the DNS rebinding gap.
func (v *URLValidator) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported scheme %q (allowed: http, https)", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty hostname in %q", rawURL)
	}

	if _, blocked := blockedHostnames[strings.ToLower(host)]; blocked && !v.AllowPrivate {
		return fmt.Errorf("blocked host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		return v.checkIP(ip)
	}
	return nil
}

func (v *URLValidator) checkIP(ip net.IP) error {
	if v.AllowPrivate {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}

	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback address not allowed: %s", ip)
	case ip.IsPrivate():
		return fmt.Errorf("private address not allowed: %s", ip)
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		// Covers the cloud metadata endpoint 169.254.169.254.
		return fmt.Errorf("link-local address not allowed: %s", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified address not allowed: %s", ip)
	}
	return nil
}

// Transport returns an http.Transport whose dialer re-validates every
// resolved address, so a hostname that passes Validate cannot later
// resolve to a private IP.
func (v *URLValidator) Transport() *http.Transport {
	return &http.Transport{
		DialContext:         v.dialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

func (v *URLValidator) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		port = ""
	}

	if ip := net.ParseIP(host); ip != nil {
		if err := v.checkIP(ip); err != nil {
			return nil, fmt.Errorf("fetch blocked: %w", err)
		}
		return (&net.Dialer{}).DialContext(ctx, network, addr)
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed: %w", err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses resolved for %s", host)
	}
	for _, ip := range ips {
		if err := v.checkIP(ip); err != nil {
			return nil, fmt.Errorf("fetch blocked (%s resolved to %s): %w", host, ip, err)
		}
	}

	// Dial the first validated address to avoid a second, unchecked lookup.
	target := ips[0].String()
	if port != "" {
		target = net.JoinHostPort(target, port)
	}
	return (&net.Dialer{}).DialContext(ctx, network, target)
}

// CheckRedirect limits redirect chains and validates every hop.
func (v *URLValidator) CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	return v.Validate(req.URL.String())
}
