// Package bpfobj provides a memory-safe, ownership-checked layer over
// loading and operating BPF objects.
//
// An object moves through two phases. Open and OpenBytes parse an ELF
// object entirely in userspace, producing an OpenObject whose map
// sizes, pin paths, program types and global variables can still be
// changed. Load submits the object to the kernel exactly once and
// returns a loaded Object exposing its maps and programs by name.
//
// Every kernel resource returned by this package is wrapped in a
// handle that tracks liveness. Closing an Object invalidates the Maps
// and Programs obtained from it; any later operation on them fails
// with UseAfterCloseError instead of touching a stale descriptor.
// Links are the one exception: an attachment deliberately outlives the
// Program value it was created from and is released only by its own
// Close or by unpinning.
//
// Map values expose typed byte-level access with strict size checking,
// per-CPU fan-out for per-CPU map types, key iteration, and pinning.
// RingBuffer and PerfBuffer drain event maps with a bounded Poll that
// invokes caller callbacks synchronously.
//
// Values returned by this package are not safe for concurrent use
// unless documented otherwise.
package bpfobj
