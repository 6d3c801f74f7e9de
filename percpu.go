package bpfobj

// PerCPUValues is the indexed view of one per-CPU map value: one
// segment per possible CPU, in CPU order. All segments alias a single
// buffer allocated at lookup time; mutating one never affects kernel
// state.
type PerCPUValues struct {
	data      []byte
	valueSize int
}

// Len returns the number of per-CPU segments.
func (v *PerCPUValues) Len() int { return len(v.data) / v.valueSize }

// Value returns CPU i's segment. It panics if i is not in the range
// [0, Len()). The slice aliases the backing buffer; copy it if it must
// outlive the PerCPUValues.
func (v *PerCPUValues) Value(i int) []byte {
	return v.data[i*v.valueSize : (i+1)*v.valueSize]
}

// Joined returns all segments as one concatenated buffer, aliasing the
// same backing storage as Value.
func (v *PerCPUValues) Joined() []byte { return v.data }

// align8 rounds n up to the next multiple of 8, the per-CPU segment
// stride the kernel uses in lookup buffers.
func align8(n int) int { return (n + 7) &^ 7 }

// packPerCPU strips the 8-byte stride padding from a raw per-CPU
// lookup buffer, producing valueSize*cpus contiguous bytes. When the
// value size is already 8-byte aligned the raw buffer is returned
// unchanged.
func packPerCPU(raw []byte, valueSize, cpus int) []byte {
	stride := align8(valueSize)
	if stride == valueSize {
		if len(raw) > valueSize*cpus {
			return raw[:valueSize*cpus]
		}
		return raw
	}
	packed := make([]byte, 0, valueSize*cpus)
	for i := 0; i < cpus; i++ {
		off := i * stride
		packed = append(packed, raw[off:off+valueSize]...)
	}
	return packed
}

// splitPerCPU cuts a joined buffer of valueSize*cpus bytes into one
// segment per CPU. Segments alias the input.
func splitPerCPU(joined []byte, valueSize, cpus int) [][]byte {
	segs := make([][]byte, cpus)
	for i := range segs {
		segs[i] = joined[i*valueSize : (i+1)*valueSize]
	}
	return segs
}
