package bpffs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bpfobj/bpffs"
)

func writeMountInfo(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mountinfo")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return path
}

func TestIsMountedFindsBpffsEntry(t *testing.T) {
	mountInfo := writeMountInfo(t,
		"25 30 0:23 / /sys rw,nosuid shared:7 - sysfs sysfs rw\n"+
			"30 22 0:27 / /sys/fs/bpf rw,nosuid shared:9 - bpf bpf rw,mode=700\n")

	mounted, err := bpffs.IsMounted(mountInfo, "/sys/fs/bpf")
	require.NoError(t, err)
	assert.True(t, mounted)

	mounted, err = bpffs.IsMounted(mountInfo, "/run/other/fs")
	require.NoError(t, err)
	assert.False(t, mounted)
}

func TestIsMountedRequiresBpfFstype(t *testing.T) {
	// Same mount point, wrong filesystem type.
	mountInfo := writeMountInfo(t,
		"30 22 0:27 / /sys/fs/bpf rw,nosuid shared:9 - tmpfs tmpfs rw\n")

	mounted, err := bpffs.IsMounted(mountInfo, "/sys/fs/bpf")
	require.NoError(t, err)
	assert.False(t, mounted)
}

func TestIsMountedHandlesOptionalFields(t *testing.T) {
	// No optional fields before the " - " separator.
	mountInfo := writeMountInfo(t,
		"30 22 0:27 / /sys/fs/bpf rw - bpf bpf rw\n")

	mounted, err := bpffs.IsMounted(mountInfo, "/sys/fs/bpf")
	require.NoError(t, err)
	assert.True(t, mounted)
}

func TestPreparePinRejectsRelativeAndEmptyPaths(t *testing.T) {
	assert.Error(t, bpffs.PreparePin("", false))
	assert.Error(t, bpffs.PreparePin("relative/pin", false))
}

func TestPreparePinCreatesParentDirectory(t *testing.T) {
	pin := filepath.Join(t.TempDir(), "maps", "42", "events")
	require.NoError(t, bpffs.PreparePin(pin, false))

	info, err := os.Stat(filepath.Dir(pin))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPreparePinExistingPath(t *testing.T) {
	pin := filepath.Join(t.TempDir(), "prog_1")
	require.NoError(t, os.WriteFile(pin, nil, 0o644))

	err := bpffs.PreparePin(pin, false)
	require.Error(t, err)
	assert.True(t, bpffs.IsExist(err))

	// Overwrite removes the existing entry.
	require.NoError(t, bpffs.PreparePin(pin, true))
	_, err = os.Lstat(pin)
	assert.True(t, os.IsNotExist(err))
}

func TestRemovePinMissingIsNil(t *testing.T) {
	assert.NoError(t, bpffs.RemovePin(filepath.Join(t.TempDir(), "gone")))
}
