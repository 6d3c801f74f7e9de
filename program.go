package bpfobj

import (
	"fmt"
	"log/slog"

	"github.com/cilium/ebpf"

	"github.com/frobware/go-bpfobj/internal/handles"
)

// Program is one loadable code unit owned by an Object (or standing
// alone when adopted from a bpffs pin). It may produce any number of
// Links via Attach.
//
// A Program must not be used after it or its owning Object is closed.
type Program struct {
	name     string
	progType ProgramType
	section  string

	h      *handles.Handle
	ops    programOps
	attach attachFunc
	logger *slog.Logger

	pinPath string
}

func newProgram(parent *handles.Handle, name string, progType ProgramType, section string, ops programOps, logger *slog.Logger) *Program {
	p := &Program{
		name:     name,
		progType: progType,
		section:  section,
		ops:      ops,
		attach:   attachNative,
		logger:   logger,
	}
	if parent != nil {
		p.h = parent.Child("program", name, ops.Close)
	} else {
		p.h = handles.New("program", name, ops.Close)
	}
	return p
}

// Name returns the program's section name.
func (p *Program) Name() string { return p.name }

// Type returns the program-type tag, either user-specified at open
// time or inferred from the ELF section name.
func (p *Program) Type() ProgramType { return p.progType }

// SectionName returns the ELF section the program came from, or "" for
// adopted pinned programs.
func (p *Program) SectionName() string { return p.section }

// PinPath returns the bpffs path this handle pinned the program to, or
// "" if it did not pin it.
func (p *Program) PinPath() string { return p.pinPath }

func (p *Program) guard() error {
	if !p.h.Alive() {
		return &UseAfterCloseError{Resource: "program", Name: p.name}
	}
	return nil
}

// Attach attaches the program to the kernel hook spec describes and
// returns the resulting Link. The Link's lifetime is independent of
// the Program: once created, the kernel attachment stays active even
// if the Program (or its Object) is closed, until the Link itself is
// closed or its pin removed.
//
// Attach failures carry the OS error and are never retried internally:
// attaching is not idempotent and a blind retry risks duplicate hooks.
func (p *Program) Attach(spec AttachSpec) (*Link, error) {
	if err := p.guard(); err != nil {
		return nil, err
	}

	raw, _ := p.ops.(*ebpf.Program)
	l, err := p.attach(raw, spec)
	if err != nil {
		return nil, &AttachError{Program: p.name, Kind: spec.Kind(), Target: spec.target(), Err: err}
	}

	p.logger.Debug("attached program",
		"program", p.name,
		"kind", spec.Kind(),
		"target", spec.target())
	return newLink(p.name, spec.Kind(), spec.target(), l, p.logger), nil
}

// Pin persists the program's kernel handle at path so it survives
// process exit. The path must not already exist unless
// WithPinOverwrite is given.
func (p *Program) Pin(path string, opts ...PinOption) error {
	if err := p.guard(); err != nil {
		return err
	}
	if err := preparePin(path, opts); err != nil {
		return err
	}
	if err := p.ops.Pin(path); err != nil {
		return &IOError{Op: "pin program", Path: path, Err: err}
	}
	p.pinPath = path
	p.logger.Debug("pinned program", "name", p.name, "path", path)
	return nil
}

// Unpin removes the program's bpffs pin. The in-process handle stays
// valid.
func (p *Program) Unpin() error {
	if err := p.guard(); err != nil {
		return err
	}
	if err := p.ops.Unpin(); err != nil {
		return &IOError{Op: "unpin program", Path: p.pinPath, Err: err}
	}
	p.pinPath = ""
	return nil
}

// Info returns a snapshot of the kernel's view of the program.
func (p *Program) Info() (*ProgramInfo, error) {
	if err := p.guard(); err != nil {
		return nil, err
	}
	info, err := p.ops.Info()
	if err != nil {
		return nil, fmt.Errorf("program %q: info: %w", p.name, err)
	}
	id, _ := info.ID()
	return &ProgramInfo{
		ID:   uint32(id),
		Name: info.Name,
		Tag:  info.Tag,
		Type: p.progType,
	}, nil
}

// Close releases the in-process program handle. Links already created
// remain attached. Safe to call more than once.
func (p *Program) Close() error {
	return p.h.Close()
}
