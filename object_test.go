package bpfobj

import (
	"errors"
	"os"
	"testing"

	"github.com/cilium/ebpf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestOpenObject builds an OpenObject around a handcrafted spec with
// the kernel loader replaced by a fake that hands back fake handles.
func newTestOpenObject(t *testing.T) (*OpenObject, map[string]*fakeMapOps, map[string]*fakeProgramOps) {
	t.Helper()

	spec := &ebpf.CollectionSpec{
		Maps: map[string]*ebpf.MapSpec{
			"counts": {
				Name:       "counts",
				Type:       ebpf.Hash,
				KeySize:    4,
				ValueSize:  8,
				MaxEntries: 128,
			},
			"events": {
				Name:       "events",
				Type:       ebpf.RingBuf,
				MaxEntries: 4096,
				Pinning:    ebpf.PinByName,
			},
		},
		Programs: map[string]*ebpf.ProgramSpec{
			"count_syscalls": {
				Name:        "count_syscalls",
				Type:        ebpf.Kprobe,
				SectionName: "kprobe/sys_clone",
			},
		},
	}

	mapFakes := map[string]*fakeMapOps{
		"counts": newFakeMapOps(),
		"events": newFakeMapOps(),
	}
	progFakes := map[string]*fakeProgramOps{
		"count_syscalls": {},
	}

	o := newOpenObject("demo", spec, testLogger(t))
	o.load = func(spec *ebpf.CollectionSpec, opts ebpf.CollectionOptions) (loadedHandles, error) {
		for name, ms := range spec.Maps {
			require.Equal(t, ebpf.PinNone, ms.Pinning, "map %q: load must not pin by name", name)
		}
		lh := loadedHandles{
			maps:     make(map[string]mapOps),
			programs: make(map[string]programOps),
		}
		for name, f := range mapFakes {
			lh.maps[name] = f
		}
		for name, f := range progFakes {
			lh.programs[name] = f
		}
		return lh, nil
	}
	return o, mapFakes, progFakes
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open("/nonexistent/path/demo.o")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "file", notFound.Resource)
}

func TestOpenBytes_Malformed(t *testing.T) {
	_, err := OpenBytes("garbage", []byte("not an object file"))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "garbage", parseErr.Source)
}

func TestOpenObject_Names(t *testing.T) {
	o, _, _ := newTestOpenObject(t)

	assert.Equal(t, "demo", o.Name())
	assert.Equal(t, []string{"counts", "events"}, o.MapNames())
	assert.Equal(t, []string{"count_syscalls"}, o.ProgramNames())
}

func TestOpenObject_Configuration(t *testing.T) {
	o, _, _ := newTestOpenObject(t)

	require.NoError(t, o.SetMaxEntries("counts", 1024))

	var notFound *NotFoundError
	require.ErrorAs(t, o.SetMaxEntries("nope", 1), &notFound)
	require.ErrorAs(t, o.SetMapPinPath("nope", "/sys/fs/bpf/x"), &notFound)
	require.ErrorAs(t, o.SetProgramType("nope", ProgramTypeKprobe), &notFound)
	require.ErrorAs(t, o.SetVariable("nope", []byte{1}), &notFound)

	obj, err := o.Load()
	require.NoError(t, err)
	defer obj.Close()

	m, err := obj.Map("counts")
	require.NoError(t, err)
	assert.Equal(t, uint32(1024), m.MaxEntries())
}

func TestOpenObject_LoadIsIrreversible(t *testing.T) {
	o, _, _ := newTestOpenObject(t)

	obj, err := o.Load()
	require.NoError(t, err)
	defer obj.Close()

	var stateErr *InvalidStateError
	require.ErrorAs(t, o.SetMaxEntries("counts", 1), &stateErr)
	assert.Equal(t, "loaded", stateErr.State)
	require.ErrorAs(t, o.SetMapPinPath("counts", "/sys/fs/bpf/x"), &stateErr)
	require.ErrorAs(t, o.SetProgramType("count_syscalls", ProgramTypeKretprobe), &stateErr)

	_, err = o.Load()
	require.ErrorAs(t, err, &stateErr)
}

func TestOpenObject_LoadFailureConsumesObject(t *testing.T) {
	o, _, _ := newTestOpenObject(t)
	o.load = func(*ebpf.CollectionSpec, ebpf.CollectionOptions) (loadedHandles, error) {
		return loadedHandles{}, errors.New("EPERM")
	}

	_, err := o.Load()
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "demo", loadErr.Object)

	// The transition is irreversible even on failure.
	var stateErr *InvalidStateError
	_, err = o.Load()
	require.ErrorAs(t, err, &stateErr)
}

func TestOpenObject_VerifierRejection(t *testing.T) {
	o, _, _ := newTestOpenObject(t)
	o.load = func(*ebpf.CollectionSpec, ebpf.CollectionOptions) (loadedHandles, error) {
		return loadedHandles{}, &ebpf.VerifierError{
			Cause: errors.New("invalid memory access"),
			Log:   []string{"0: (b7) r0 = 0", "R1 invalid mem access"},
		}
	}

	_, err := o.Load()
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "demo", verr.Object)
	assert.Contains(t, verr.Log, "invalid memory access")
}

func TestObject_Lookup(t *testing.T) {
	o, _, _ := newTestOpenObject(t)

	obj, err := o.Load()
	require.NoError(t, err)
	defer obj.Close()

	m, err := obj.Map("counts")
	require.NoError(t, err)
	assert.Equal(t, MapTypeHash, m.Type())
	assert.Equal(t, uint32(4), m.KeySize())
	assert.Equal(t, uint32(8), m.ValueSize())

	p, err := obj.Program("count_syscalls")
	require.NoError(t, err)
	assert.Equal(t, ProgramTypeKprobe, p.Type(), "type inferred from section name")
	assert.Equal(t, "kprobe/sys_clone", p.SectionName())

	var notFound *NotFoundError
	_, err = obj.Map("nope")
	require.ErrorAs(t, err, &notFound)
	_, err = obj.Program("nope")
	require.ErrorAs(t, err, &notFound)

	var maps []string
	for m := range obj.Maps() {
		maps = append(maps, m.Name())
	}
	assert.Equal(t, []string{"counts", "events"}, maps)

	var progs []string
	for p := range obj.Programs() {
		progs = append(progs, p.Name())
	}
	assert.Equal(t, []string{"count_syscalls"}, progs)
}

func TestObject_ProgramTypeOverride(t *testing.T) {
	o, _, _ := newTestOpenObject(t)
	require.NoError(t, o.SetProgramType("count_syscalls", ProgramTypeKretprobe))

	obj, err := o.Load()
	require.NoError(t, err)
	defer obj.Close()

	p, err := obj.Program("count_syscalls")
	require.NoError(t, err)
	assert.Equal(t, ProgramTypeKretprobe, p.Type(), "override beats section inference")
}

func TestObject_CloseInvalidatesChildren(t *testing.T) {
	o, mapFakes, progFakes := newTestOpenObject(t)

	obj, err := o.Load()
	require.NoError(t, err)

	m, err := obj.Map("counts")
	require.NoError(t, err)
	p, err := obj.Program("count_syscalls")
	require.NoError(t, err)

	require.NoError(t, obj.Close())
	require.NoError(t, obj.Close(), "close is idempotent")

	for name, f := range mapFakes {
		assert.Equal(t, 1, f.closeCalls, "map %q closed exactly once", name)
	}
	for name, f := range progFakes {
		assert.Equal(t, 1, f.closeCalls, "program %q closed exactly once", name)
	}

	var closed *UseAfterCloseError
	_, _, err = m.Lookup(make([]byte, 4))
	require.ErrorAs(t, err, &closed)
	_, err = p.Attach(KprobeAttachSpec{fnName: "sys_clone"})
	require.ErrorAs(t, err, &closed)
	_, err = obj.Map("counts")
	require.ErrorAs(t, err, &closed)
}

func TestObject_IndependentlyClosedChild(t *testing.T) {
	o, mapFakes, _ := newTestOpenObject(t)

	obj, err := o.Load()
	require.NoError(t, err)

	m, err := obj.Map("counts")
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.Equal(t, 1, mapFakes["counts"].closeCalls)

	require.NoError(t, obj.Close())
	assert.Equal(t, 1, mapFakes["counts"].closeCalls, "already-closed child is skipped")
	assert.Equal(t, 1, mapFakes["events"].closeCalls)
}

func TestObject_MapPinDirective(t *testing.T) {
	o, mapFakes, _ := newTestOpenObject(t)

	path := t.TempDir() + "/maps/counts"
	require.NoError(t, o.SetMapPinPath("counts", path))

	obj, err := o.Load()
	require.NoError(t, err)
	defer obj.Close()

	assert.Equal(t, path, mapFakes["counts"].pinnedAt)
	m, err := obj.Map("counts")
	require.NoError(t, err)
	assert.Equal(t, path, m.PinPath())
}

func TestObject_MapPinFailureRollsBackLoad(t *testing.T) {
	o, mapFakes, progFakes := newTestOpenObject(t)
	mapFakes["counts"].pinErr = errors.New("EACCES")

	path := t.TempDir() + "/maps/counts"
	require.NoError(t, o.SetMapPinPath("counts", path))

	_, err := o.Load()
	require.Error(t, err)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)

	// Rollback releases every handle materialized by the load.
	for name, f := range mapFakes {
		assert.Equal(t, 1, f.closeCalls, "map %q", name)
	}
	for name, f := range progFakes {
		assert.Equal(t, 1, f.closeCalls, "program %q", name)
	}
}

func TestObject_MapPinPreExistenceRollsBackLoad(t *testing.T) {
	o, mapFakes, _ := newTestOpenObject(t)

	path := t.TempDir() + "/counts"
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	require.NoError(t, o.SetMapPinPath("counts", path))

	_, err := o.Load()
	var exists *AlreadyExistsError
	require.ErrorAs(t, err, &exists)

	for name, f := range mapFakes {
		assert.Equal(t, 1, f.closeCalls, "map %q", name)
	}
}
