package bpfobj

import (
	"strings"

	"github.com/cilium/ebpf"
)

// MapType tags the kind of kernel key/value store a Map represents.
type MapType uint32

const (
	MapTypeUnspecified MapType = iota
	MapTypeHash
	MapTypeArray
	MapTypePerCPUHash
	MapTypePerCPUArray
	MapTypeLRUHash
	MapTypeLRUPerCPUHash
	MapTypeLPMTrie
	MapTypeRingBuf
	MapTypePerfEventArray
)

// String returns the string representation of the map type.
func (t MapType) String() string {
	switch t {
	case MapTypeHash:
		return "hash"
	case MapTypeArray:
		return "array"
	case MapTypePerCPUHash:
		return "percpu_hash"
	case MapTypePerCPUArray:
		return "percpu_array"
	case MapTypeLRUHash:
		return "lru_hash"
	case MapTypeLRUPerCPUHash:
		return "lru_percpu_hash"
	case MapTypeLPMTrie:
		return "lpm_trie"
	case MapTypeRingBuf:
		return "ringbuf"
	case MapTypePerfEventArray:
		return "perf_event_array"
	default:
		return "unspecified"
	}
}

// PerCPU reports whether values of this map type are stored once per
// possible CPU.
func (t MapType) PerCPU() bool {
	switch t {
	case MapTypePerCPUHash, MapTypePerCPUArray, MapTypeLRUPerCPUHash:
		return true
	default:
		return false
	}
}

func mapTypeFromNative(t ebpf.MapType) MapType {
	switch t {
	case ebpf.Hash:
		return MapTypeHash
	case ebpf.Array:
		return MapTypeArray
	case ebpf.PerCPUHash:
		return MapTypePerCPUHash
	case ebpf.PerCPUArray:
		return MapTypePerCPUArray
	case ebpf.LRUHash:
		return MapTypeLRUHash
	case ebpf.LRUCPUHash:
		return MapTypeLRUPerCPUHash
	case ebpf.LPMTrie:
		return MapTypeLPMTrie
	case ebpf.RingBuf:
		return MapTypeRingBuf
	case ebpf.PerfEventArray:
		return MapTypePerfEventArray
	default:
		return MapTypeUnspecified
	}
}

// ProgramType represents the type of BPF program.
type ProgramType uint32

const (
	ProgramTypeUnspecified ProgramType = iota
	ProgramTypeXDP
	ProgramTypeTCX
	ProgramTypeTracepoint
	ProgramTypeRawTracepoint
	ProgramTypeKprobe
	ProgramTypeKretprobe
	ProgramTypeUprobe
	ProgramTypeUretprobe
	ProgramTypeFentry
	ProgramTypeFexit
	ProgramTypeCgroupSKB
	ProgramTypeCgroupSock
)

// String returns the string representation of the program type.
func (t ProgramType) String() string {
	switch t {
	case ProgramTypeXDP:
		return "xdp"
	case ProgramTypeTCX:
		return "tcx"
	case ProgramTypeTracepoint:
		return "tracepoint"
	case ProgramTypeRawTracepoint:
		return "raw_tracepoint"
	case ProgramTypeKprobe:
		return "kprobe"
	case ProgramTypeKretprobe:
		return "kretprobe"
	case ProgramTypeUprobe:
		return "uprobe"
	case ProgramTypeUretprobe:
		return "uretprobe"
	case ProgramTypeFentry:
		return "fentry"
	case ProgramTypeFexit:
		return "fexit"
	case ProgramTypeCgroupSKB:
		return "cgroup_skb"
	case ProgramTypeCgroupSock:
		return "cgroup_sock"
	default:
		return "unspecified"
	}
}

// ParseProgramType parses a string into a ProgramType.
// Returns the ProgramType and true if valid, or Unspecified and false.
func ParseProgramType(s string) (ProgramType, bool) {
	switch s {
	case "xdp":
		return ProgramTypeXDP, true
	case "tcx":
		return ProgramTypeTCX, true
	case "tracepoint":
		return ProgramTypeTracepoint, true
	case "raw_tracepoint":
		return ProgramTypeRawTracepoint, true
	case "kprobe":
		return ProgramTypeKprobe, true
	case "kretprobe":
		return ProgramTypeKretprobe, true
	case "uprobe":
		return ProgramTypeUprobe, true
	case "uretprobe":
		return ProgramTypeUretprobe, true
	case "fentry":
		return ProgramTypeFentry, true
	case "fexit":
		return ProgramTypeFexit, true
	case "cgroup_skb":
		return ProgramTypeCgroupSKB, true
	case "cgroup_sock":
		return ProgramTypeCgroupSock, true
	default:
		return ProgramTypeUnspecified, false
	}
}

// toNative maps a ProgramType onto the native program type used at
// load time. Several of our types share one native type; the finer
// distinction (e.g. kprobe vs kretprobe) only matters at attach time.
func (t ProgramType) toNative() ebpf.ProgramType {
	switch t {
	case ProgramTypeXDP:
		return ebpf.XDP
	case ProgramTypeTCX:
		return ebpf.SchedCLS
	case ProgramTypeTracepoint:
		return ebpf.TracePoint
	case ProgramTypeRawTracepoint:
		return ebpf.RawTracepoint
	case ProgramTypeKprobe, ProgramTypeKretprobe, ProgramTypeUprobe, ProgramTypeUretprobe:
		return ebpf.Kprobe
	case ProgramTypeFentry, ProgramTypeFexit:
		return ebpf.Tracing
	case ProgramTypeCgroupSKB:
		return ebpf.CGroupSKB
	case ProgramTypeCgroupSock:
		return ebpf.CGroupSock
	default:
		return ebpf.UnspecifiedProgram
	}
}

// inferProgramType derives a ProgramType from an ELF section name.
// A user-specified type always takes precedence; this is the fallback
// for sections following the conventional naming.
func inferProgramType(sectionName string) ProgramType {
	sectionName = strings.TrimPrefix(sectionName, "?")

	switch {
	case strings.HasPrefix(sectionName, "kretprobe"):
		return ProgramTypeKretprobe
	case strings.HasPrefix(sectionName, "kprobe"):
		return ProgramTypeKprobe
	case strings.HasPrefix(sectionName, "uretprobe"):
		return ProgramTypeUretprobe
	case strings.HasPrefix(sectionName, "uprobe"):
		return ProgramTypeUprobe
	case strings.HasPrefix(sectionName, "tracepoint"):
		return ProgramTypeTracepoint
	case strings.HasPrefix(sectionName, "raw_tracepoint"), strings.HasPrefix(sectionName, "raw_tp"):
		return ProgramTypeRawTracepoint
	case strings.HasPrefix(sectionName, "fentry"):
		return ProgramTypeFentry
	case strings.HasPrefix(sectionName, "fexit"):
		return ProgramTypeFexit
	case strings.HasPrefix(sectionName, "xdp"):
		return ProgramTypeXDP
	case strings.HasPrefix(sectionName, "tcx"), strings.HasPrefix(sectionName, "tc"), strings.HasPrefix(sectionName, "classifier"):
		return ProgramTypeTCX
	case strings.HasPrefix(sectionName, "cgroup_skb"), strings.HasPrefix(sectionName, "cgroup/skb"):
		return ProgramTypeCgroupSKB
	case strings.HasPrefix(sectionName, "cgroup/sock"):
		return ProgramTypeCgroupSock
	default:
		return ProgramTypeUnspecified
	}
}

// AttachType identifies the hook-kind family a Link belongs to.
type AttachType string

const (
	AttachKprobe        AttachType = "kprobe"
	AttachKretprobe     AttachType = "kretprobe"
	AttachUprobe        AttachType = "uprobe"
	AttachUretprobe     AttachType = "uretprobe"
	AttachTracepoint    AttachType = "tracepoint"
	AttachRawTracepoint AttachType = "raw_tracepoint"
	AttachFentry        AttachType = "fentry"
	AttachFexit         AttachType = "fexit"
	AttachXDP           AttachType = "xdp"
	AttachTCX           AttachType = "tcx"
	AttachCgroup        AttachType = "cgroup"
)

// UpdateFlag controls the key-presence semantics of Map.Update,
// mirroring the kernel's update flags.
type UpdateFlag uint64

const (
	// UpdateAny creates the key if absent or overwrites it if present.
	UpdateAny UpdateFlag = iota
	// UpdateNoExist creates the key; fails with AlreadyExistsError if
	// it is present.
	UpdateNoExist
	// UpdateExist overwrites the key; fails with NotFoundError if it
	// is absent.
	UpdateExist
)

func (f UpdateFlag) toNative() ebpf.MapUpdateFlags {
	switch f {
	case UpdateNoExist:
		return ebpf.UpdateNoExist
	case UpdateExist:
		return ebpf.UpdateExist
	default:
		return ebpf.UpdateAny
	}
}

// String returns the string representation of the update flag.
func (f UpdateFlag) String() string {
	switch f {
	case UpdateNoExist:
		return "noexist"
	case UpdateExist:
		return "exist"
	default:
		return "any"
	}
}
