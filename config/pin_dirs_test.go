package config_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-bpfobj/bpffs"
	"github.com/frobware/go-bpfobj/config"
)

func TestNewPinDirs(t *testing.T) {
	dirs, err := config.NewPinDirs("/sys/fs/bpf/myapp")
	require.NoError(t, err)

	assert.Equal(t, "/sys/fs/bpf/myapp", dirs.Root())
	assert.Equal(t, "/sys/fs/bpf/myapp/maps", dirs.Maps())
	assert.Equal(t, "/sys/fs/bpf/myapp/progs", dirs.Progs())
	assert.Equal(t, "/sys/fs/bpf/myapp/links", dirs.Links())
}

func TestNewPinDirs_Validation(t *testing.T) {
	tests := []struct {
		name       string
		root       string
		errContain string
	}{
		{name: "empty", root: "", errContain: "cannot be empty"},
		{name: "relative", root: "bpf/myapp", errContain: "must be absolute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.NewPinDirs(tt.root)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.errContain),
				"error %q should contain %q", err, tt.errContain)
		})
	}
}

func TestPinDirs_PinPaths(t *testing.T) {
	dirs, err := config.NewPinDirs("/sys/fs/bpf/myapp")
	require.NoError(t, err)

	assert.Equal(t, "/sys/fs/bpf/myapp/maps/events", dirs.MapPinPath("events"))
	assert.Equal(t, "/sys/fs/bpf/myapp/progs/count_syscalls", dirs.ProgPinPath("count_syscalls"))
	assert.Equal(t, "/sys/fs/bpf/myapp/links/count_syscalls", dirs.LinkPinPath("count_syscalls"))
}

func TestDefaultPinDirs(t *testing.T) {
	dirs := config.DefaultPinDirs()
	assert.Equal(t, "/sys/fs/bpf/bpfobj", dirs.Root())
	assert.Equal(t, "/sys/fs/bpf/bpfobj/maps/counts", dirs.MapPinPath("counts"))
}

func TestPinDirs_EnsureDirectoriesNotBpffs(t *testing.T) {
	dirs, err := config.NewPinDirs(t.TempDir() + "/pins")
	require.NoError(t, err)

	require.ErrorIs(t, dirs.EnsureDirectories(), bpffs.ErrNotBpffs)
}
