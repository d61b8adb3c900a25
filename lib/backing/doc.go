// Package backing places a ringbuf.RingBuffer into a memory-mapped file so that records
// survive a crash of the writing process.
//
// Attach opens (or creates) the backing file, resizes it to the effective size, maps it
// shared and read-write, and initializes the ring buffer at offset 0 of the mapping.
// Because the mapping is shared, every record written to the buffer is part of the
// page cache as soon as Write returns; the kernel writes it back even if the process is
// killed. Flush forces the write back (msync) and Detach flushes, unmaps and closes.
//
// Sizing:
//
//	EffectiveSize(requested, S) == requested     if requested > HeaderSize+S and
//	                                              (requested-HeaderSize) % S == 0
//	EffectiveSize(requested, S) == HeaderSize + DefaultCapacity   otherwise
//
// Mismatch handling:
//
// A file whose header does not identify a compatible ring buffer is either reinitialized
// (PolicyReinitialize, the default, prior content is lost) or rejected with an error
// wrapping ringbuf.ErrIncompatible (PolicyRefuse). With PolicyRefuse no byte of the file is
// changed before the check, this is what the inspection tooling relies on.
//
// Only Unix-like systems are supported; elsewhere Attach returns ErrUnsupportedPlatform.
package backing
