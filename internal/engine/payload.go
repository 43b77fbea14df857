package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/btouchard/cookiejar/internal/cookies"
	"github.com/btouchard/cookiejar/internal/pattern"
)

// Payload is the plaintext sealed into the content file.
type Payload struct {
	Plain               []cookies.Cookie `json:"plain"`
	Origins             []string         `json:"origins"`
	LatestSyncTimestamp int64            `json:"latestSyncTimestamp"`
}

// decodePayload accepts the current object form and the older bare
// cookie array.
func decodePayload(raw json.RawMessage) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var plain []cookies.Cookie
		if err := json.Unmarshal(trimmed, &plain); err != nil {
			return Payload{}, fmt.Errorf("decoding cookie list: %w", err)
		}
		return Payload{Plain: plain}, nil
	}
	var p Payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return Payload{}, fmt.Errorf("decoding payload: %w", err)
	}
	return p, nil
}

// OriginCookies is the set of cookies to apply under one origin grant.
type OriginCookies struct {
	Origin  string           `json:"origin"`
	Cookies []cookies.Cookie `json:"cookies"`
}

// group assigns each cookie to the first origin covering its domain.
// Cookies outside every origin get an origin derived from their domain.
func group(origins []string, list []cookies.Cookie) []OriginCookies {
	var groups []OriginCookies
	index := make(map[string]int)
	add := func(origin string, c *cookies.Cookie) {
		i, ok := index[origin]
		if !ok {
			i = len(groups)
			index[origin] = i
			groups = append(groups, OriginCookies{Origin: origin, Cookies: []cookies.Cookie{}})
		}
		if c != nil {
			groups[i].Cookies = append(groups[i].Cookies, *c)
		}
	}

	type compiled struct {
		origin string
		p      pattern.Pattern
	}
	var patterns []compiled
	for _, o := range origins {
		for _, p := range pattern.Compile([]string{o}) {
			patterns = append(patterns, compiled{origin: o, p: p})
		}
		add(o, nil)
	}

	for i := range list {
		c := &list[i]
		idx := slices.IndexFunc(patterns, func(cp compiled) bool { return cp.p.Covers(c.Domain) })
		if idx >= 0 {
			add(patterns[idx].origin, c)
			continue
		}
		add(pattern.OriginForDomain(c.Domain), c)
	}
	return groups
}
