// Package permission decides whether pulled cookies may be written for an
// origin.
package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/btouchard/cookiejar/internal/pattern"
)

// ErrDenied is returned when access to an origin was refused.
var ErrDenied = errors.New("permission denied")

// GrantsKey is the storage key of the persisted grant list.
const GrantsKey = "cookiejar_permissions"

// KV is the durable key-value slice the manager needs.
type KV interface {
	GetItem(ctx context.Context, key string) (json.RawMessage, error)
	SetItem(ctx context.Context, key string, value any) error
}

// Prompter asks the user to allow an origin.
type Prompter interface {
	Confirm(ctx context.Context, origin string) (bool, error)
}

// Policy configures automatic decisions.
type Policy struct {
	// AutoGrant allows every origin without asking.
	AutoGrant bool
	// Allowed lists origin patterns granted without asking.
	Allowed []string
}

// Manager answers access requests from the policy, the persisted grants
// and, when configured, an interactive prompter. Grants are remembered.
type Manager struct {
	kv       KV
	auto     bool
	allowed  []pattern.Pattern
	prompter Prompter

	mu sync.Mutex
}

// NewManager creates a Manager. prompter may be nil.
func NewManager(kv KV, policy Policy, prompter Prompter) *Manager {
	return &Manager{
		kv:       kv,
		auto:     policy.AutoGrant,
		allowed:  pattern.Compile(policy.Allowed),
		prompter: prompter,
	}
}

// RequestAccess reports whether cookies may be written for originPattern.
func (m *Manager) RequestAccess(ctx context.Context, originPattern string) (bool, error) {
	origin, err := pattern.Normalize(originPattern)
	if err != nil {
		return false, fmt.Errorf("requesting access: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	grants, err := m.load(ctx)
	if err != nil {
		return false, err
	}
	if slices.Contains(grants, origin) {
		return true, nil
	}

	granted := m.auto || m.allowedByPolicy(origin)
	if !granted && m.prompter != nil {
		granted, err = m.prompter.Confirm(ctx, origin)
		if err != nil {
			return false, fmt.Errorf("asking for access to %s: %w", origin, err)
		}
	}
	if !granted {
		slog.Info("cookie access denied", "origin", origin)
		return false, nil
	}

	if err := m.save(ctx, append(grants, origin)); err != nil {
		return false, err
	}
	slog.Info("cookie access granted", "origin", origin)
	return true, nil
}

// Granted lists remembered grants.
func (m *Manager) Granted(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx)
}

// Revoke forgets a grant.
func (m *Manager) Revoke(ctx context.Context, originPattern string) error {
	origin, err := pattern.Normalize(originPattern)
	if err != nil {
		return fmt.Errorf("revoking access: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	grants, err := m.load(ctx)
	if err != nil {
		return err
	}
	return m.save(ctx, slices.DeleteFunc(grants, func(g string) bool { return g == origin }))
}

func (m *Manager) allowedByPolicy(origin string) bool {
	host := pattern.Compile([]string{origin})
	if len(host) == 0 {
		return false
	}
	for _, p := range m.allowed {
		if p.Covers(host[0].Host) {
			return true
		}
	}
	return false
}

func (m *Manager) load(ctx context.Context) ([]string, error) {
	raw, err := m.kv.GetItem(ctx, GrantsKey)
	if err != nil {
		return nil, fmt.Errorf("loading permission grants: %w", err)
	}
	var grants []string
	if raw != nil {
		if err := json.Unmarshal(raw, &grants); err != nil {
			slog.Warn("ignoring unreadable permission grants", "error", err)
			return nil, nil
		}
	}
	return grants, nil
}

func (m *Manager) save(ctx context.Context, grants []string) error {
	if grants == nil {
		grants = []string{}
	}
	if err := m.kv.SetItem(ctx, GrantsKey, grants); err != nil {
		return fmt.Errorf("saving permission grants: %w", err)
	}
	return nil
}
