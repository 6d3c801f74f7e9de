// Package bpffs validates and prepares pin paths on a BPF filesystem.
//
// The library does not assume a fixed bpffs root: callers choose pin
// paths, and this package checks that the chosen mount really is a
// bpffs and that pin targets respect the pre-existence contract.
package bpffs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// DefaultMountInfoPath is the path to the mountinfo file.
	DefaultMountInfoPath = "/proc/self/mountinfo"

	// defaultScanMaxLineLen is the maximum line length for scanning
	// mountinfo. Some nodes/runtimes can produce long lines; this
	// prevents ErrTooLong.
	defaultScanMaxLineLen = 1024 * 1024

	// magic is the bpffs superblock magic (BPF_FS_MAGIC).
	magic = unix.BPF_FS_MAGIC
)

// ErrPinExists is returned by PreparePin when the target path already
// exists and overwrite was not requested.
var ErrPinExists = errors.New("pin path already exists")

// ErrNotBpffs is returned by CheckMount when the path is not backed by
// a BPF filesystem.
var ErrNotBpffs = errors.New("not a bpf filesystem")

// IsExist reports whether err is the pin pre-existence failure.
func IsExist(err error) bool { return errors.Is(err, ErrPinExists) }

// CheckMount verifies that path lives on a mounted bpffs by checking
// the superblock magic.
func CheckMount(path string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", path, err)
	}
	if st.Type != magic {
		return fmt.Errorf("%s: %w", path, ErrNotBpffs)
	}
	return nil
}

// IsMounted reports whether a bpffs is mounted at mountPoint by
// parsing mountInfoPath (e.g. /proc/self/mountinfo).
//
// The mountinfo format is documented in proc(5):
//
//	mount_id parent_id major:minor root mount_point options [optional_fields...] - fstype source super_options
//
// The separator " - " must be located by string search rather than a
// fixed field position, because optional fields (mount propagation
// markers like "shared:N") may precede it.
func IsMounted(mountInfoPath, mountPoint string) (bool, error) {
	file, err := os.Open(mountInfoPath)
	if err != nil {
		return false, fmt.Errorf("opening mountinfo: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), defaultScanMaxLineLen)

	for scanner.Scan() {
		line := scanner.Text()

		sepIdx := strings.Index(line, " - ")
		if sepIdx == -1 {
			continue
		}

		fields := strings.Fields(line[:sepIdx])
		if len(fields) < 5 {
			continue
		}
		mntPoint := fields[4]

		suffixFields := strings.Fields(line[sepIdx+3:])
		if len(suffixFields) < 1 {
			continue
		}
		fstype := suffixFields[0]

		if mntPoint == mountPoint && fstype == "bpf" {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scanning mountinfo: %w", err)
	}
	return false, nil
}

// PreparePin makes path usable as a pin target: the parent directory
// is created if missing, and an existing entry at path either fails
// with ErrPinExists or, when overwrite is set, is removed first.
func PreparePin(path string, overwrite bool) error {
	if path == "" {
		return errors.New("pin path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("pin path must be absolute, got %q", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pin directory: %w", err)
	}

	if _, err := os.Lstat(path); err == nil {
		if !overwrite {
			return fmt.Errorf("%s: %w", path, ErrPinExists)
		}
		if err := RemovePin(path); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat pin path: %w", err)
	}
	return nil
}

// RemovePin removes a pin from bpffs. Returns nil if the path does not
// exist.
func RemovePin(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pin %s: %w", path, err)
	}
	return nil
}
