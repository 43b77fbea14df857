// Package cookies is the local cookie store: a JSON cookie jar file shared
// with a browser-side helper, plus a change feed.
package cookies

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidCookie = errors.New("invalid cookie")

// Cookie mirrors the browser extension cookie record so that pushed
// payloads stay readable by every device.
type Cookie struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	Path           string  `json:"path"`
	Secure         bool    `json:"secure"`
	HTTPOnly       bool    `json:"httpOnly"`
	SameSite       string  `json:"sameSite,omitempty"`
	HostOnly       bool    `json:"hostOnly"`
	Session        bool    `json:"session"`
	ExpirationDate float64 `json:"expirationDate,omitempty"`
	StoreID        string  `json:"storeId,omitempty"`
}

// Key identifies a cookie slot: a later cookie with the same key
// overwrites an earlier one.
type Key struct {
	Name   string
	Domain string
	Path   string
}

func (c Cookie) Key() Key {
	return Key{Name: c.Name, Domain: strings.ToLower(c.Domain), Path: c.path()}
}

func (c Cookie) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// Expired reports whether a persistent cookie is past its expiry.
func (c Cookie) Expired(now time.Time) bool {
	if c.Session || c.ExpirationDate <= 0 {
		return false
	}
	return float64(now.Unix()) >= c.ExpirationDate
}

// URL is the address the cookie is set against.
func (c Cookie) URL() string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	return scheme + "://" + strings.TrimPrefix(c.Domain, ".") + c.path()
}

func (c Cookie) validate(now time.Time) error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidCookie)
	case strings.Trim(c.Domain, ".") == "":
		return fmt.Errorf("%w: %s has no domain", ErrInvalidCookie, c.Name)
	case c.Expired(now):
		return fmt.Errorf("%w: %s is expired", ErrInvalidCookie, c.Name)
	case c.SameSite == "no_restriction" && !c.Secure:
		return fmt.Errorf("%w: %s uses SameSite=None without Secure", ErrInvalidCookie, c.Name)
	}
	return nil
}

// Cause says why a cookie changed, using the browser's vocabulary.
type Cause string

const (
	CauseExplicit         Cause = "explicit"
	CauseOverwrite        Cause = "overwrite"
	CauseExpired          Cause = "expired"
	CauseEvicted          Cause = "evicted"
	CauseExpiredOverwrite Cause = "expired_overwrite"
)

// Change is one cookie change notification.
type Change struct {
	Cookie  Cookie
	Removed bool
	Cause   Cause
}
