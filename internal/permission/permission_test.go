package permission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKV struct {
	mu    sync.Mutex
	items map[string]json.RawMessage
}

func newMemKV() *memKV {
	return &memKV{items: make(map[string]json.RawMessage)}
}

func (m *memKV) GetItem(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key], nil
}

func (m *memKV) SetItem(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = data
	return nil
}

type scriptedPrompter struct {
	answer bool
	err    error
	asked  []string
}

func (p *scriptedPrompter) Confirm(_ context.Context, origin string) (bool, error) {
	p.asked = append(p.asked, origin)
	return p.answer, p.err
}

func TestManager_RequestAccess_WhenNoPolicy_Denies(t *testing.T) {
	t.Parallel()
	m := NewManager(newMemKV(), Policy{}, nil)

	ok, err := m.RequestAccess(context.Background(), "https://example.com/*")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_RequestAccess_AutoGrantRemembers(t *testing.T) {
	t.Parallel()
	kv := newMemKV()
	m := NewManager(kv, Policy{AutoGrant: true}, nil)
	ctx := context.Background()

	ok, err := m.RequestAccess(ctx, "example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	granted, err := m.Granted(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/*"}, granted)

	strict := NewManager(kv, Policy{}, nil)
	ok, err = strict.RequestAccess(ctx, "https://example.com/*")
	require.NoError(t, err)
	assert.True(t, ok, "persisted grant survives policy change")
}

func TestManager_RequestAccess_AllowlistCoversSubdomains(t *testing.T) {
	t.Parallel()
	m := NewManager(newMemKV(), Policy{Allowed: []string{"https://example.com"}}, nil)
	ctx := context.Background()

	ok, err := m.RequestAccess(ctx, "https://app.example.com/*")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.RequestAccess(ctx, "https://example.org/*")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_RequestAccess_PromptsAndRemembersYes(t *testing.T) {
	t.Parallel()
	p := &scriptedPrompter{answer: true}
	m := NewManager(newMemKV(), Policy{}, p)
	ctx := context.Background()

	for range 2 {
		ok, err := m.RequestAccess(ctx, "example.com")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, []string{"https://example.com/*"}, p.asked, "asked only once")
}

func TestManager_RequestAccess_WhenPromptFails_ReturnsError(t *testing.T) {
	t.Parallel()
	m := NewManager(newMemKV(), Policy{}, &scriptedPrompter{err: errors.New("closed")})

	_, err := m.RequestAccess(context.Background(), "example.com")
	assert.ErrorContains(t, err, "closed")
}

func TestManager_RequestAccess_RejectsInvalidOrigin(t *testing.T) {
	t.Parallel()
	m := NewManager(newMemKV(), Policy{AutoGrant: true}, nil)

	_, err := m.RequestAccess(context.Background(), "   ")
	assert.Error(t, err)
}

func TestManager_Revoke(t *testing.T) {
	t.Parallel()
	kv := newMemKV()
	ctx := context.Background()
	m := NewManager(kv, Policy{AutoGrant: true}, nil)
	_, err := m.RequestAccess(ctx, "example.com")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, "https://example.com/*"))

	granted, err := m.Granted(ctx)
	require.NoError(t, err)
	assert.Empty(t, granted)
}

func TestTerminalPrompter_Confirm(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		p := &TerminalPrompter{in: strings.NewReader(tt.input), out: &out}

		got, err := p.Confirm(context.Background(), "https://example.com/*")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Contains(t, out.String(), "https://example.com/*")
	}
}

func TestTerminalPrompter_WhenNotInteractive_Refuses(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	p := &TerminalPrompter{in: strings.NewReader("y\n"), out: &out, tty: func() bool { return false }}

	got, err := p.Confirm(context.Background(), "https://example.com/*")
	require.NoError(t, err)
	assert.False(t, got)
	assert.Empty(t, out.String())
}
