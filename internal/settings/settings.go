// Package settings owns the persisted sync configuration.
package settings

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// StorageKey is the key of the settings document in the local store.
const StorageKey = "cookiejar_settings"

const DefaultSyncIntervalMinutes = 15

// ErrInvalid marks a patch that fails validation.
var ErrInvalid = errors.New("invalid settings")

// Settings is the sync configuration. SyncOnChange only takes effect
// while AutoSyncEnabled is set.
type Settings struct {
	RemoteDocumentID    string   `json:"gistId,omitempty"`
	AutoSyncEnabled     bool     `json:"autoSyncEnabled"`
	SyncIntervalMinutes int      `json:"syncIntervalInMinutes"`
	SyncOnChange        bool     `json:"syncOnChange"`
	SyncURLs            []string `json:"syncUrls"`
	// LastSyncTimestamp is in Unix milliseconds; zero when never synced.
	LastSyncTimestamp int64 `json:"lastSyncTimestamp,omitempty"`
}

// Defaults returns the settings used for every field never set.
func Defaults() Settings {
	return Settings{
		AutoSyncEnabled:     true,
		SyncIntervalMinutes: DefaultSyncIntervalMinutes,
		SyncOnChange:        true,
		SyncURLs:            []string{},
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	s.SyncURLs = slices.Clone(s.SyncURLs)
	if s.SyncURLs == nil {
		s.SyncURLs = []string{}
	}
	return s
}

// LastSync returns LastSyncTimestamp as a time, zero when unset.
func (s Settings) LastSync() time.Time {
	if s.LastSyncTimestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastSyncTimestamp)
}

// SyncInterval returns the interval trigger period.
func (s Settings) SyncInterval() time.Duration {
	return time.Duration(s.SyncIntervalMinutes) * time.Minute
}

// ChangeTriggerActive reports whether cookie changes should arm the
// debounce timer.
func (s Settings) ChangeTriggerActive() bool {
	return s.AutoSyncEnabled && s.SyncOnChange
}

// Patch is a partial update. Nil fields keep their current value.
type Patch struct {
	RemoteDocumentID    *string   `json:"gistId,omitempty"`
	AutoSyncEnabled     *bool     `json:"autoSyncEnabled,omitempty"`
	SyncIntervalMinutes *int      `json:"syncIntervalInMinutes,omitempty"`
	SyncOnChange        *bool     `json:"syncOnChange,omitempty"`
	SyncURLs            *[]string `json:"syncUrls,omitempty"`
	LastSyncTimestamp   *int64    `json:"lastSyncTimestamp,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

func (p Patch) validate() error {
	if p.SyncIntervalMinutes != nil && *p.SyncIntervalMinutes < 1 {
		return fmt.Errorf("%w: sync interval must be at least 1 minute, got %d", ErrInvalid, *p.SyncIntervalMinutes)
	}
	return nil
}

// apply fills every field of base the patch sets.
func (p Patch) apply(base Settings) Settings {
	out := base.Clone()
	if p.RemoteDocumentID != nil {
		out.RemoteDocumentID = *p.RemoteDocumentID
	}
	if p.AutoSyncEnabled != nil {
		out.AutoSyncEnabled = *p.AutoSyncEnabled
	}
	if p.SyncIntervalMinutes != nil {
		out.SyncIntervalMinutes = *p.SyncIntervalMinutes
	}
	if p.SyncOnChange != nil {
		out.SyncOnChange = *p.SyncOnChange
	}
	if p.SyncURLs != nil {
		out.SyncURLs = dedupe(*p.SyncURLs)
	}
	if p.LastSyncTimestamp != nil {
		out.LastSyncTimestamp = *p.LastSyncTimestamp
	}
	return out
}

// dedupe keeps the first occurrence of each entry, preserving order.
func dedupe(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u != "" && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}
