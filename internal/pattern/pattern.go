// Package pattern compiles user-supplied origin patterns and decides whether
// a cookie falls inside them.
package pattern

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

// Scheme constrains which cookies a pattern matches.
type Scheme string

const (
	SchemeAny   Scheme = "any"
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

const subdomainMarker = "*."

// ErrInvalidOrigin is returned by Normalize for input that has no usable host.
var ErrInvalidOrigin = errors.New("invalid origin")

// Pattern is the compiled form of one sync URL entry.
type Pattern struct {
	Scheme          Scheme
	Host            string
	AllowSubdomains bool
}

// Compile turns raw origin patterns into compiled patterns. Empty entries and
// entries without a host are dropped. A missing scheme defaults to https.
func Compile(raw []string) []Pattern {
	out := make([]Pattern, 0, len(raw))
	for _, entry := range raw {
		p, ok := compileOne(entry)
		if ok {
			out = append(out, p)
		}
	}
	return out
}

func compileOne(entry string) (Pattern, bool) {
	rest := strings.TrimSpace(entry)
	if rest == "" {
		return Pattern{}, false
	}

	p := Pattern{Scheme: SchemeHTTPS}
	lower := strings.ToLower(rest)
	switch {
	case strings.HasPrefix(lower, "https://"):
		rest = rest[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		p.Scheme = SchemeHTTP
		rest = rest[len("http://"):]
	case strings.HasPrefix(lower, "*://"):
		p.Scheme = SchemeAny
		rest = rest[len("*://"):]
	}

	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	if strings.HasPrefix(rest, subdomainMarker) {
		p.AllowSubdomains = true
		rest = rest[len(subdomainMarker):]
	}
	host := stripPort(rest)
	host = strings.Trim(strings.ToLower(host), ".")
	if host == "" || strings.Contains(host, "*") {
		return Pattern{}, false
	}
	p.Host = host
	return p, true
}

func stripPort(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}

// Matches reports whether a cookie with the given domain and secure flag is
// covered by any of the patterns.
func Matches(domain string, secure bool, patterns []Pattern) bool {
	host := normalizeDomain(domain)
	if host == "" {
		return false
	}
	scheme := SchemeHTTP
	if secure {
		scheme = SchemeHTTPS
	}
	for _, p := range patterns {
		if p.match(host, scheme) {
			return true
		}
	}
	return false
}

func (p Pattern) match(host string, scheme Scheme) bool {
	if p.Scheme != SchemeAny && p.Scheme != scheme {
		return false
	}
	if p.AllowSubdomains {
		return isStrictSubdomain(host, p.Host)
	}
	return host == p.Host
}

// Covers reports whether domain is the pattern host or one of its subdomains,
// ignoring scheme. Used when listing every cookie that belongs to an origin.
func (p Pattern) Covers(domain string) bool {
	host := normalizeDomain(domain)
	return host == p.Host || isStrictSubdomain(host, p.Host)
}

func isStrictSubdomain(host, parent string) bool {
	return len(host) > len(parent)+1 && strings.HasSuffix(host, "."+parent)
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "."))
}

// Normalize converts user input such as "example.com", "http://example.com"
// or "https://sub.example.com/path" into a permission origin pattern of the
// form "<scheme>://<host>/*".
func Normalize(input string) (string, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", ErrInvalidOrigin
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Join(ErrInvalidOrigin, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrInvalidOrigin
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrInvalidOrigin
	}
	return scheme + "://" + host + "/*", nil
}

// OriginForDomain returns the https origin pattern of a cookie domain.
func OriginForDomain(domain string) string {
	return "https://" + normalizeDomain(domain) + "/*"
}
