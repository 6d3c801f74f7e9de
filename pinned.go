package bpfobj

import (
	"errors"
	"io/fs"

	"github.com/cilium/ebpf"
)

// OpenPinnedMap adopts an existing bpffs map pin as a standalone Map.
// The returned Map owns its own handle; closing it does not remove the
// pin.
func OpenPinnedMap(path string, opts ...Option) (*Map, error) {
	o := newOptions(opts)

	nm, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Resource: "pin", Name: path}
		}
		return nil, &IOError{Op: "load pinned map", Path: path, Err: err}
	}

	info, err := nm.Info()
	if err != nil {
		nm.Close()
		return nil, &IOError{Op: "load pinned map", Path: path, Err: err}
	}

	m, err := newMap(nil, info.Name, mapTypeFromNative(info.Type), info.KeySize, info.ValueSize, info.MaxEntries, nm, o.logger)
	if err != nil {
		nm.Close()
		return nil, err
	}
	m.pinPath = path
	return m, nil
}

// OpenPinnedProgram adopts an existing bpffs program pin as a
// standalone Program. The returned Program owns its own handle;
// closing it does not remove the pin.
func OpenPinnedProgram(path string, opts ...Option) (*Program, error) {
	o := newOptions(opts)

	np, err := ebpf.LoadPinnedProgram(path, nil)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Resource: "pin", Name: path}
		}
		return nil, &IOError{Op: "load pinned program", Path: path, Err: err}
	}

	info, err := np.Info()
	if err != nil {
		np.Close()
		return nil, &IOError{Op: "load pinned program", Path: path, Err: err}
	}

	p := newProgram(nil, info.Name, ProgramTypeUnspecified, "", np, o.logger)
	p.pinPath = path
	return p, nil
}
