package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock_WhenHeld_ReturnsErrLocked(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Release() })

	_, err = AcquireLock(dir)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestAcquireLock_AfterRelease_Succeeds(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := AcquireLock(dir)
	require.NoError(t, err)
	assert.FileExists(t, second.Path())
	require.NoError(t, second.Release())
}
