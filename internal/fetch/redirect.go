package fetch

import (
	"fmt"
	"net/netip"
	"net/url"

	"github.com/iconidentify/fetchd/internal/domain"
)

// RedirectGuard approves or rejects each redirect hop of one logical
// request before the session re-issues it. It tracks the visited chain
// and is discarded when the request completes.
type RedirectGuard struct {
	maxRedirects int
	allowedHosts map[string]struct{}
	originalHost string
	chain        []string // query-stripped visited URLs
}

// NewRedirectGuard creates a guard for one logical request starting at
// originalURL.
func NewRedirectGuard(originalURL *url.URL, maxRedirects int, allowedHosts []string) *RedirectGuard {
	g := &RedirectGuard{
		maxRedirects: maxRedirects,
		originalHost: originalURL.Hostname(),
	}
	if len(allowedHosts) > 0 {
		g.allowedHosts = make(map[string]struct{}, len(allowedHosts))
		for _, h := range allowedHosts {
			g.allowedHosts[h] = struct{}{}
		}
	}
	return g
}

// Hops returns the number of redirect hops followed so far.
func (g *RedirectGuard) Hops() int {
	return len(g.chain)
}

// Approve resolves location against the current URL and validates the hop:
// scheme, hostname presence, private-address rejection, allow-list, and
// the hop budget. Any rejection is terminal and carries a query-stripped
// URL only.
func (g *RedirectGuard) Approve(current *url.URL, location string) (*url.URL, error) {
	next, err := current.Parse(location)
	if err != nil {
		return nil, domain.NewUnsafeRedirectError(current.String(),
			fmt.Errorf("unresolvable Location header: %w", err))
	}
	target := domain.SanitizeURL(next.String())

	if next.Scheme != "http" && next.Scheme != "https" {
		return nil, domain.NewUnsafeRedirectError(target,
			fmt.Errorf("disallowed scheme %q", next.Scheme))
	}

	host := next.Hostname()
	if host == "" {
		return nil, domain.NewUnsafeRedirectError(target,
			fmt.Errorf("redirect target has no hostname"))
	}

	if isPrivateHost(host) {
		return nil, domain.NewUnsafeRedirectError(target,
			fmt.Errorf("redirect target resolves to a private address"))
	}

	if g.allowedHosts != nil {
		if _, ok := g.allowedHosts[host]; !ok {
			// Same-host redirects stay allowed as long as the original
			// host is itself not private.
			if host != g.originalHost || isPrivateHost(g.originalHost) {
				return nil, domain.NewUnsafeRedirectError(target,
					fmt.Errorf("host %q not in redirect allow-list", host))
			}
		}
	}

	if len(g.chain) >= g.maxRedirects {
		return nil, domain.NewUnsafeRedirectError(target, domain.ErrRedirectLimit)
	}

	g.chain = append(g.chain, target)
	return next, nil
}

// isPrivateHost reports whether host is a literal IP in a loopback,
// private (RFC 1918), link-local, multicast, or reserved range. Hostnames
// that are not literal IPs pass; DNS results are not chased.
func isPrivateHost(host string) bool {
	if host == "" {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsMulticast() || addr.IsUnspecified() {
		return true
	}
	// 240.0.0.0/4 experimental range
	if addr.Is4() {
		b := addr.As4()
		if b[0] >= 240 {
			return true
		}
	}
	return false
}
