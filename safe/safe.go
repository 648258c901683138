// Package safe holds the input checks applied at the edges of the service:
// caller-chosen identifiers, outbound webhook URLs and bounded reads.
package safe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MaxIdentifier is the longest identifier ValidateIdentifier accepts.
const MaxIdentifier = 128

var (
	ErrSSRF          = errors.New("safe: URL targets a private or loopback address")
	ErrUnsafeScheme  = errors.New("safe: only http and https schemes are allowed")
	ErrTooLarge      = errors.New("safe: input too large")
	ErrBadIdentifier = errors.New("safe: invalid identifier")
)

// ValidateIdentifier accepts identifiers that are safe in URL path segments,
// log lines and SQL parameters: ASCII letters, digits, '_', '-' and '.'.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrBadIdentifier)
	}
	if len(s) > MaxIdentifier {
		return fmt.Errorf("%w: longer than %d", ErrBadIdentifier, MaxIdentifier)
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("%w: character %q", ErrBadIdentifier, r)
		}
	}
	return nil
}

// ValidateURL checks that rawURL is http(s) with a host. Unless
// allowPrivate is set it also rejects hosts that are, or resolve to, private
// and loopback addresses.
func ValidateURL(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("safe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("safe: URL has no host")
	}
	if allowPrivate {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		// Unresolvable now; the request fails later if it stays that way.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

// LimitedReadAll reads at most max bytes from r.
func LimitedReadAll(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, max)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

var privateNets = func() []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7", "169.254.0.0/16"} {
		_, n, _ := net.ParseCIDR(cidr)
		out = append(out, n)
	}
	return out
}()

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
