package bpfobj

// MapInfo is a snapshot of the kernel's view of a map.
type MapInfo struct {
	ID         uint32
	Name       string
	Type       MapType
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
	Flags      uint32
}

// ProgramInfo is a snapshot of the kernel's view of a program.
type ProgramInfo struct {
	ID   uint32
	Name string
	Tag  string
	Type ProgramType
}
