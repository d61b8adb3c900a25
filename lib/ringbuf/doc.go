// Package ringbuf implements a slotted, bounded ring buffer that lives inside a caller
// supplied byte region (typically a memory-mapped file, see the backing package).
//
// The region is laid out as a fixed 64 byte header followed by the data area:
//
//	offset  size  field
//	0       4     magic ('LOGB', 0x4C4F4742)
//	4       4     layout version
//	8       4     slot size S
//	12      4     reserved
//	16      8     capacity C of the data area (multiple of S)
//	24      8     write index (atomic)
//	32      8     read index (atomic)
//	40      24    reserved
//	64      C     data area, C/S slots of S bytes
//
// All fields use the native byte order, a backing file is only meant to be reattached
// on the machine that wrote it.
//
// Only the durable state (identification, indices and slot bytes) lives in the region.
// The mutex and the two condition variables ("space available" and "data available")
// are ordinary process memory owned by the RingBuffer value, so a region recovered after
// a crash never depends on stale lock state.
//
// Features and Guarantees:
//
//   - Multi-Producer: any number of goroutines may call Write concurrently
//   - Single Consumer: one goroutine drains with ReadBatch
//   - Backpressure: Write blocks while the buffer is full, ReadBatch blocks while it is empty
//   - Crash Recovery: Initialize keeps every queued record of a region that is already valid
//   - Full/Empty Disambiguation: one slot is always left unused, the buffer is full when
//     advancing the write index by one slot would make it equal to the read index
//
// Record format (exactly S bytes per slot):
//
//	"[" + decimal sequence number + "] " + message (truncated) + "\n" + zero padding
//
// Usage:
//
//	rb, result, err := ringbuf.Initialize(region, ringbuf.DefaultSlotSize)
//	if err != nil {
//		return err
//	}
//	if result == ringbuf.AlreadyValid {
//		// queued records from a previous run are still there
//	}
//
//	// producer side
//	_ = rb.Write("hello")
//
//	// consumer side
//	batch := make([]byte, rb.Capacity())
//	n, err := rb.ReadBatch(ctx, batch)
package ringbuf
