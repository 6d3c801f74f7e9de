package bpfobj

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLink(t *testing.T, raw *fakeRawLink) *Link {
	t.Helper()
	return newLink("count_syscalls", AttachKprobe, "sys_clone", raw, testLogger(t))
}

func TestLink_CloseDetaches(t *testing.T) {
	raw := &fakeRawLink{}
	l := newTestLink(t, raw)

	require.NoError(t, l.Close())
	assert.Equal(t, 1, raw.closeCalls)

	require.NoError(t, l.Close(), "close is idempotent")
	assert.Equal(t, 1, raw.closeCalls)
}

func TestLink_UseAfterClose(t *testing.T) {
	raw := &fakeRawLink{}
	l := newTestLink(t, raw)
	require.NoError(t, l.Close())

	var closed *UseAfterCloseError
	require.ErrorAs(t, l.Pin(t.TempDir()+"/links/x"), &closed)
	require.ErrorAs(t, l.Unpin(), &closed)
	assert.Empty(t, raw.pinnedAt)
}

func TestLink_PinUnpin(t *testing.T) {
	raw := &fakeRawLink{}
	l := newTestLink(t, raw)

	path := t.TempDir() + "/links/count_syscalls"
	require.NoError(t, l.Pin(path))
	assert.True(t, l.Pinned())
	assert.Equal(t, path, l.PinPath())
	assert.Equal(t, path, raw.pinnedAt)

	require.NoError(t, l.Unpin())
	assert.False(t, l.Pinned())
	assert.Empty(t, raw.pinnedAt)
}

func TestLink_ClosePinnedKeepsPin(t *testing.T) {
	raw := &fakeRawLink{}
	l := newTestLink(t, raw)

	path := t.TempDir() + "/links/count_syscalls"
	require.NoError(t, l.Pin(path))

	// Close releases the in-process handle only; the pin keeps the
	// attachment alive, so Unpin must not run.
	require.NoError(t, l.Close())
	assert.Equal(t, 1, raw.closeCalls)
	assert.Equal(t, path, raw.pinnedAt)
}

func TestLink_PinExistingPath(t *testing.T) {
	raw := &fakeRawLink{}
	l := newTestLink(t, raw)

	path := t.TempDir() + "/count_syscalls"
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	var exists *AlreadyExistsError
	require.ErrorAs(t, l.Pin(path), &exists)
	assert.False(t, l.Pinned())

	require.NoError(t, l.Pin(path, WithPinOverwrite()))
	assert.True(t, l.Pinned())
}

func TestLink_Accessors(t *testing.T) {
	l := newTestLink(t, &fakeRawLink{})
	assert.Equal(t, AttachKprobe, l.Kind())
	assert.Equal(t, "sys_clone", l.Target())
	assert.Empty(t, l.PinPath())
}
