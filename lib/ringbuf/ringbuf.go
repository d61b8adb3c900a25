package ringbuf

import (
	"context"
	"errors"
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
	"sync/atomic"
	"unsafe"
)

var Logger = logger.GetLogger("ringbuf")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// Magic identifies a region that holds a ring buffer ('LOGB')
	Magic uint32 = 0x4C4F4742
	// Version is the layout version of the region header
	Version uint32 = 2

	// HeaderSize is the number of bytes in front of the data area
	HeaderSize = 64
	// DefaultSlotSize is the size of one record slot
	DefaultSlotSize = 256
	// DefaultCapacity is the size of the data area used when no valid size is requested
	DefaultCapacity = 8 * 1024
	// MinSlotSize leaves room for the largest sequence prefix, the newline and one zero byte
	MinSlotSize = 32
)

// header is the durable part of the ring buffer, overlaid on the first bytes of the region
type header struct {
	magic    uint32
	version  uint32
	slotSize uint32
	_        uint32
	capacity uint64
	writeIdx atomic.Uint64
	readIdx  atomic.Uint64
}

// compile time check: header must fit into HeaderSize
var _ [HeaderSize - unsafe.Sizeof(header{})]byte

// --------------------------------------------------------------------------
// Errors and result codes
// --------------------------------------------------------------------------

var (
	// ErrInvalidRegion is returned when the region cannot hold a ring buffer or lost its identification
	ErrInvalidRegion = errors.New("invalid ring buffer region")
	// ErrUninitialized is returned by Validate for a region that was never initialized
	ErrUninitialized = errors.New("ring buffer region is not initialized")
	// ErrIncompatible is returned by Validate for a region that holds foreign or corrupt data
	ErrIncompatible = errors.New("ring buffer region is incompatible")
	// ErrClosed is returned after Destroy
	ErrClosed = errors.New("ring buffer is closed")
	// ErrShortBuffer is returned by ReadBatch when dst cannot hold a single slot
	ErrShortBuffer = errors.New("destination buffer is smaller than one slot")
)

// InitResult is the outcome of Initialize
type InitResult int

const (
	InitFailed   InitResult = iota // the region could not be used
	AlreadyValid                   // the region was valid, queued records are preserved
	Initialized                    // the region was (re)initialized and is empty
)

func (r InitResult) String() string {
	switch r {
	case AlreadyValid:
		return "already valid"
	case Initialized:
		return "initialized"
	default:
		return "failed"
	}
}

// Stats is a point in time snapshot of a ring buffer
type Stats struct {
	Capacity      uint64 `json:"capacity"`
	SlotSize      uint64 `json:"slot_size"`
	Slots         uint64 `json:"slots"`
	Pending       uint64 `json:"pending"`
	WriteIndex    uint64 `json:"write_index"`
	ReadIndex     uint64 `json:"read_index"`
	NextSequence  uint64 `json:"next_sequence"`
	WriteFailures uint64 `json:"write_failures"`
}

// --------------------------------------------------------------------------
// RingBuffer
// --------------------------------------------------------------------------

// RingBuffer is a bounded multi-producer single-consumer queue of fixed size records
// stored in a byte region. All mutation of the indices and the data area is serialized
// by mu; the indices are additionally stored atomically so IsEmpty and IsFull can be
// called without holding the lock.
type RingBuffer struct {
	hdr      *header
	data     []byte
	slotSize uint64
	capacity uint64

	seq           atomic.Uint64 // last assigned sequence number
	writeFailures atomic.Uint64

	mu             sync.Mutex
	spaceAvailable *sync.Cond
	dataAvailable  *sync.Cond
	staging        []byte // guarded by mu
	closed         bool   // guarded by mu
}

// Initialize attaches a RingBuffer to region.
//
// If the region already holds a valid ring buffer with the same slot size, the queued
// records are preserved and AlreadyValid is returned (crash recovery). Otherwise the
// whole region is zeroed, the identification fields are written, the indices are reset
// and Initialized is returned. The synchronization primitives are always created fresh.
//
// The region must be 8 byte aligned and its data area (len(region)-HeaderSize) must be a
// multiple of slotSize holding at least two slots.
func Initialize(region []byte, slotSize int) (*RingBuffer, InitResult, error) {
	if err := checkGeometry(region, slotSize); err != nil {
		return nil, InitFailed, err
	}

	result := AlreadyValid
	if err := Validate(region, slotSize); err != nil {
		Logger.Debugf("initializing region (%d bytes): %v", len(region), err)
		clear(region)

		hdr := overlay(region)
		hdr.magic = Magic
		hdr.version = Version
		hdr.slotSize = uint32(slotSize)
		hdr.capacity = uint64(len(region) - HeaderSize)
		hdr.writeIdx.Store(0)
		hdr.readIdx.Store(0)
		result = Initialized
	}

	rb := &RingBuffer{
		hdr:      overlay(region),
		data:     region[HeaderSize:],
		slotSize: uint64(slotSize),
		capacity: uint64(len(region) - HeaderSize),
		staging:  make([]byte, slotSize),
	}
	rb.spaceAvailable = sync.NewCond(&rb.mu)
	rb.dataAvailable = sync.NewCond(&rb.mu)

	if result == AlreadyValid {
		rb.seedSequence()
		Logger.Debugf("reattached region with %d pending records (next sequence %d)", rb.Pending(), rb.seq.Load()+1)
	}

	return rb, result, nil
}

// Validate reports whether region holds a valid ring buffer for slotSize.
// It returns nil for a valid region, ErrUninitialized for a region without identification
// and an error wrapping ErrIncompatible for anything else.
func Validate(region []byte, slotSize int) error {
	if err := checkGeometry(region, slotSize); err != nil {
		return err
	}

	hdr := overlay(region)
	capacity := uint64(len(region) - HeaderSize)
	slot := uint64(slotSize)

	switch {
	case hdr.magic == 0 && hdr.version == 0:
		return ErrUninitialized
	case hdr.magic != Magic:
		return fmt.Errorf("%w: magic %#x", ErrIncompatible, hdr.magic)
	case hdr.version != Version:
		return fmt.Errorf("%w: version %d, expected %d", ErrIncompatible, hdr.version, Version)
	case uint64(hdr.slotSize) != slot:
		return fmt.Errorf("%w: slot size %d, expected %d", ErrIncompatible, hdr.slotSize, slot)
	case hdr.capacity != capacity:
		return fmt.Errorf("%w: capacity %d, expected %d", ErrIncompatible, hdr.capacity, capacity)
	}

	w, r := hdr.writeIdx.Load(), hdr.readIdx.Load()
	if w >= capacity || r >= capacity || w%slot != 0 || r%slot != 0 {
		return fmt.Errorf("%w: indices out of range (write=%d read=%d)", ErrIncompatible, w, r)
	}
	return nil
}

// --------------------------------------------------------------------------
// Producer side
// --------------------------------------------------------------------------

// Write appends msg as one record. It blocks while the buffer is full and only
// fails if the region lost its identification or the buffer was destroyed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (r *RingBuffer) Write(msg string) error {
	return r.WriteContext(context.Background(), msg)
}

// WriteContext is like Write but gives up waiting for free space when ctx is done.
// Every failed call is counted, see WriteFailures.
func (r *RingBuffer) WriteContext(ctx context.Context, msg string) error {
	if r == nil {
		return ErrInvalidRegion
	}
	if !r.valid() {
		r.writeFailures.Add(1)
		return ErrInvalidRegion
	}

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			r.mu.Lock()
			r.spaceAvailable.Broadcast()
			r.mu.Unlock()
		})
		defer stop()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// wait for space, re-check after every wakeup
	for !r.closed && r.IsFull() && ctx.Err() == nil {
		r.spaceAvailable.Wait()
	}

	if r.closed {
		r.writeFailures.Add(1)
		return ErrClosed
	}
	if r.IsFull() {
		r.writeFailures.Add(1)
		return ctx.Err()
	}

	// the sequence number is taken under the lock, so ring order equals sequence order
	EncodeRecord(r.staging, r.seq.Add(1), msg)

	write := r.hdr.writeIdx.Load()
	r.copyIn(write, r.staging)
	r.hdr.writeIdx.Store((write + r.slotSize) % r.capacity)

	r.dataAvailable.Signal()
	return nil
}

// --------------------------------------------------------------------------
// Consumer side
// --------------------------------------------------------------------------

// ReadBatch blocks until at least one record is queued and then moves as many whole
// slots as fit into dst. It returns the number of bytes copied, always a multiple of
// the slot size.
//
// A cancelled ctx wakes a waiting call, which then returns 0 and ctx.Err().
// After Destroy an empty buffer returns ErrClosed.
//
// Thread-safety: Only one goroutine should consume at a time.
func (r *RingBuffer) ReadBatch(ctx context.Context, dst []byte) (int, error) {
	if err := r.checkRead(dst); err != nil {
		return 0, err
	}

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			r.mu.Lock()
			r.dataAvailable.Broadcast()
			r.mu.Unlock()
		})
		defer stop()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for !r.closed && r.IsEmpty() && ctx.Err() == nil {
		r.dataAvailable.Wait()
	}

	if r.IsEmpty() {
		if r.closed {
			return 0, ErrClosed
		}
		return 0, ctx.Err()
	}

	return r.drainLocked(dst), nil
}

// TryReadBatch is the non-blocking variant of ReadBatch, it returns 0 if nothing is queued.
func (r *RingBuffer) TryReadBatch(dst []byte) (int, error) {
	if err := r.checkRead(dst); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.IsEmpty() {
		return 0, nil
	}
	return r.drainLocked(dst), nil
}

// Peek calls fn for every queued record in ring order without consuming it.
// The slice passed to fn is only valid during the call. Iteration stops when fn returns false.
func (r *RingBuffer) Peek(fn func(record []byte) bool) {
	if !r.valid() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	slot := make([]byte, r.slotSize)
	read, write := r.hdr.readIdx.Load(), r.hdr.writeIdx.Load()
	for read != write {
		r.copyOut(slot, read)
		if !fn(slot) {
			return
		}
		read = (read + r.slotSize) % r.capacity
	}
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// IsEmpty returns true if no record is queued. Safe to call without holding the lock.
func (r *RingBuffer) IsEmpty() bool {
	return r.hdr.writeIdx.Load() == r.hdr.readIdx.Load()
}

// IsFull returns true if the next write would have to wait. Safe to call without holding the lock.
func (r *RingBuffer) IsFull() bool {
	return (r.hdr.writeIdx.Load()+r.slotSize)%r.capacity == r.hdr.readIdx.Load()
}

// Pending returns the number of queued records
func (r *RingBuffer) Pending() uint64 {
	w, rd := r.hdr.writeIdx.Load(), r.hdr.readIdx.Load()
	return ((w + r.capacity - rd) % r.capacity) / r.slotSize
}

// Capacity returns the size of the data area in bytes
func (r *RingBuffer) Capacity() int {
	return int(r.capacity)
}

// SlotSize returns the size of one record slot in bytes
func (r *RingBuffer) SlotSize() int {
	return int(r.slotSize)
}

// WriteFailures returns how many writes failed since the buffer was attached
func (r *RingBuffer) WriteFailures() uint64 {
	return r.writeFailures.Load()
}

// Stats returns a snapshot of the buffer state
func (r *RingBuffer) Stats() Stats {
	return Stats{
		Capacity:      r.capacity,
		SlotSize:      r.slotSize,
		Slots:         r.capacity / r.slotSize,
		Pending:       r.Pending(),
		WriteIndex:    r.hdr.writeIdx.Load(),
		ReadIndex:     r.hdr.readIdx.Load(),
		NextSequence:  r.seq.Load() + 1,
		WriteFailures: r.writeFailures.Load(),
	}
}

// Destroy closes the buffer: blocked and future writers fail with ErrClosed and a
// waiting reader returns. The region itself is left untouched, queued records stay
// in it. The caller must not release the region while another goroutine is still
// inside a method of the buffer.
func (r *RingBuffer) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.spaceAvailable.Broadcast()
	r.dataAvailable.Broadcast()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// checkGeometry verifies that region can hold a ring buffer with the given slot size
func checkGeometry(region []byte, slotSize int) error {
	switch {
	case slotSize < MinSlotSize:
		return fmt.Errorf("%w: slot size %d is smaller than %d", ErrInvalidRegion, slotSize, MinSlotSize)
	case len(region) < HeaderSize+2*slotSize:
		return fmt.Errorf("%w: %d bytes cannot hold two slots of %d bytes", ErrInvalidRegion, len(region), slotSize)
	case (len(region)-HeaderSize)%slotSize != 0:
		return fmt.Errorf("%w: data area of %d bytes is not a multiple of the slot size %d", ErrInvalidRegion, len(region)-HeaderSize, slotSize)
	case uintptr(unsafe.Pointer(&region[0]))%8 != 0:
		return fmt.Errorf("%w: region is not 8 byte aligned", ErrInvalidRegion)
	}
	return nil
}

// overlay interprets the first bytes of region as the header
func overlay(region []byte) *header {
	return (*header)(unsafe.Pointer(&region[0]))
}

// valid checks the identification fields
func (r *RingBuffer) valid() bool {
	return r != nil && r.hdr.magic == Magic && r.hdr.version == Version
}

// checkRead validates the arguments of the read methods
func (r *RingBuffer) checkRead(dst []byte) error {
	if !r.valid() {
		return ErrInvalidRegion
	}
	if uint64(len(dst)) < r.slotSize {
		return ErrShortBuffer
	}
	return nil
}

// drainLocked moves whole slots into dst and wakes all waiting producers.
// Must be called with mu held.
func (r *RingBuffer) drainLocked(dst []byte) int {
	read, write := r.hdr.readIdx.Load(), r.hdr.writeIdx.Load()

	n := uint64(0)
	for read != write && n+r.slotSize <= uint64(len(dst)) {
		r.copyOut(dst[n:n+r.slotSize], read)
		read = (read + r.slotSize) % r.capacity
		n += r.slotSize
	}

	r.hdr.readIdx.Store(read)
	r.spaceAvailable.Broadcast()
	return int(n)
}

// copyIn copies src into the data area starting at off, wrapping around the end
func (r *RingBuffer) copyIn(off uint64, src []byte) {
	part1 := copy(r.data[off:], src)
	if part1 < len(src) {
		copy(r.data, src[part1:])
	}
}

// copyOut fills dst from the data area starting at off, wrapping around the end
func (r *RingBuffer) copyOut(dst []byte, off uint64) {
	part1 := copy(dst, r.data[off:])
	if part1 < len(dst) {
		copy(dst[part1:], r.data)
	}
}

// seedSequence continues the sequence after the highest queued record
func (r *RingBuffer) seedSequence() {
	var highest uint64
	r.Peek(func(record []byte) bool {
		if seq, _, err := ParseRecord(record); err == nil && seq > highest {
			highest = seq
		}
		return true
	})
	r.seq.Store(highest)
}
