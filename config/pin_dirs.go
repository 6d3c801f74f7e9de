// Package config derives the on-disk layout for pinned BPF resources.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/frobware/go-bpfobj/bpffs"
)

// PinDirs holds the pin directory layout under a bpffs root:
//
//	{root}/           - pin root on a bpffs mount
//	{root}/maps/      - map pins
//	{root}/progs/     - program pins
//	{root}/links/     - link pins
//
// PinDirs is immutable after construction. Use NewPinDirs to create;
// fields are unexported to prevent construction of invalid instances.
type PinDirs struct {
	root  string
	maps  string
	progs string
	links string
}

// DefaultPinDirs returns PinDirs rooted at the conventional bpffs
// mount. Panics if the default path is somehow invalid (should never
// happen).
func DefaultPinDirs() PinDirs {
	dirs, err := NewPinDirs("/sys/fs/bpf/bpfobj")
	if err != nil {
		panic(fmt.Sprintf("DefaultPinDirs: %v", err))
	}
	return dirs
}

// NewPinDirs creates PinDirs rooted at the given base path. All
// subdirectories are derived from the root. Returns an error if root
// is empty or not an absolute path.
func NewPinDirs(root string) (PinDirs, error) {
	if root == "" {
		return PinDirs{}, fmt.Errorf("pin root cannot be empty")
	}
	if !filepath.IsAbs(root) {
		return PinDirs{}, fmt.Errorf("pin root must be absolute, got %q", root)
	}

	return PinDirs{
		root:  root,
		maps:  filepath.Join(root, "maps"),
		progs: filepath.Join(root, "progs"),
		links: filepath.Join(root, "links"),
	}, nil
}

// Root returns the pin root path.
func (d PinDirs) Root() string { return d.root }

// Maps returns the map pins directory.
func (d PinDirs) Maps() string { return d.maps }

// Progs returns the program pins directory.
func (d PinDirs) Progs() string { return d.progs }

// Links returns the link pins directory.
func (d PinDirs) Links() string { return d.links }

// MapPinPath returns the pin path for a map by name.
func (d PinDirs) MapPinPath(name string) string {
	return filepath.Join(d.maps, name)
}

// ProgPinPath returns the pin path for a program by name.
func (d PinDirs) ProgPinPath(name string) string {
	return filepath.Join(d.progs, name)
}

// LinkPinPath returns the pin path for a link by name.
func (d PinDirs) LinkPinPath(name string) string {
	return filepath.Join(d.links, name)
}

// EnsureDirectories verifies the root lives on a mounted bpffs and
// creates the pin subdirectories. Call this at startup to fail fast on
// permission or mount problems; mounting bpffs itself is left to the
// system (container runtime or systemd unit).
func (d PinDirs) EnsureDirectories() error {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", d.root, err)
	}
	// The root is usually a subdirectory of the bpffs mount rather
	// than the mount point itself, so a mountinfo hit is sufficient
	// but a miss is not: fall back to the superblock magic.
	mounted, err := bpffs.IsMounted(bpffs.DefaultMountInfoPath, d.root)
	if err != nil {
		return err
	}
	if !mounted {
		if err := bpffs.CheckMount(d.root); err != nil {
			return err
		}
	}
	for _, dir := range []string{d.maps, d.progs, d.links} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
