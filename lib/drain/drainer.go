package drain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/mLog/lib/ringbuf"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("drain")

// DefaultOutputPath is the output file used when no path is configured
const DefaultOutputPath = "persisted_log.txt"

var (
	// ErrNilBuffer is returned by Start without a ring buffer
	ErrNilBuffer = errors.New("drain: ring buffer is nil")
	// ErrAlreadyRunning is returned by Start if the drainer was already started
	ErrAlreadyRunning = errors.New("drain: already running")
	// ErrStopped is returned by Start after Stop
	ErrStopped = errors.New("drain: stopped")
)

// Sink is the durable destination of drained records
type Sink interface {
	io.Writer
	Sync() error
	Close() error
}

// OpenFileSink opens path for appending, creating it if needed
func OpenFileSink(path string) (Sink, error) {
	if path == "" {
		path = DefaultOutputPath
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("drain: open output file: %w", err)
	}
	return f, nil
}

// IObserver receives a callback for every persisted batch and every failure
type IObserver interface {
	ObserveBatch(records, bytes int, duration time.Duration)
	ObserveError(err error)
}

// Stats counts the work done by a drainer
type Stats struct {
	Batches uint64 `json:"batches"`
	Records uint64 `json:"records"`
	Bytes   uint64 `json:"bytes"`
	Errors  uint64 `json:"errors"`
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Option configures a Drainer
type Option func(*Drainer)

// WithObserver installs an observer, nil disables observation
func WithObserver(o IObserver) Option {
	return func(d *Drainer) {
		d.observer = o
	}
}

// WithBatchBytes limits how many bytes are taken from the buffer per batch.
// The default is the capacity of the buffer.
func WithBatchBytes(n int) Option {
	return func(d *Drainer) {
		d.batchBytes = n
	}
}

// --------------------------------------------------------------------------
// Drainer
// --------------------------------------------------------------------------

// Drainer is the single consumer of a ring buffer. It moves records into a sink and
// makes them durable (flush and fsync) after every batch.
type Drainer struct {
	sink       Sink
	w          *bufio.Writer
	observer   IObserver
	batchBytes int

	mu      sync.Mutex // guards the lifecycle
	running atomic.Bool
	stopped bool
	buf     *ringbuf.RingBuffer
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr atomic.Pointer[error]

	batches atomic.Uint64
	records atomic.Uint64
	bytes   atomic.Uint64
	errs    atomic.Uint64
}

// New creates a drainer writing to sink. The drainer owns the sink and closes it in Stop.
func New(sink Sink, opts ...Option) *Drainer {
	d := &Drainer{sink: sink}
	for _, opt := range opts {
		opt(d)
	}
	d.w = bufio.NewWriter(sink)
	return d
}

// Start launches the drain goroutine for buf
func (d *Drainer) Start(buf *ringbuf.RingBuffer) error {
	if buf == nil {
		return ErrNilBuffer
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if d.running.Load() {
		return ErrAlreadyRunning
	}

	size := d.batchBytes
	if size < buf.SlotSize() {
		size = buf.Capacity()
	}
	batch := make([]byte, size)

	ctx, cancel := context.WithCancel(context.Background())
	d.buf = buf
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running.Store(true)

	go d.run(ctx, batch)

	Logger.Debugf("drain started (batch size %d bytes)", size)
	return nil
}

// Stop clears the running flag, wakes the drain goroutine and waits for it. Records that
// are still queued afterwards are drained without blocking, then the sink is flushed,
// synced and closed. Stop returns the last persistence error seen, if any. Calling Stop
// more than once is a no-op.
func (d *Drainer) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return nil
	}
	d.stopped = true

	if d.done != nil {
		d.running.Store(false)
		d.cancel()
		<-d.done

		// records written between the last batch and the wakeup
		batch := make([]byte, d.buf.Capacity())
		for {
			n, err := d.buf.TryReadBatch(batch)
			if err != nil {
				d.fail("final drain", err)
				break
			}
			if n == 0 {
				break
			}
			d.persist(batch[:n])
		}
	}

	if err := d.w.Flush(); err != nil {
		d.fail("flush", err)
	}
	if err := d.sink.Sync(); err != nil {
		d.fail("sync", err)
	}
	if err := d.sink.Close(); err != nil {
		d.fail("close", err)
	}

	Logger.Debugf("drain stopped (%d records in %d batches, %d errors)", d.records.Load(), d.batches.Load(), d.errs.Load())

	if p := d.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Running reports whether the drain goroutine is active
func (d *Drainer) Running() bool {
	return d.running.Load()
}

// Stats returns the counters of the drainer
func (d *Drainer) Stats() Stats {
	return Stats{
		Batches: d.batches.Load(),
		Records: d.records.Load(),
		Bytes:   d.bytes.Load(),
		Errors:  d.errs.Load(),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// run is the drain loop. The running flag is cleared whenever it returns.
func (d *Drainer) run(ctx context.Context, batch []byte) {
	defer close(d.done)
	defer d.running.Store(false)

	for d.running.Load() {
		n, err := d.buf.ReadBatch(ctx, batch)
		if n > 0 {
			d.persist(batch[:n])
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ringbuf.ErrClosed) {
				d.fail("read", err)
			}
			return
		}
	}
}

// persist writes the non-empty slots of batch to the sink and makes them durable.
// Failures are counted and reported, the records of a failed batch are lost.
func (d *Drainer) persist(batch []byte) {
	start := time.Now()
	slotSize := d.buf.SlotSize()

	records, written := 0, 0
	for off := 0; off+slotSize <= len(batch); off += slotSize {
		slot := batch[off : off+slotSize]
		n := ringbuf.ContentLen(slot)
		if n == 0 {
			continue
		}
		if _, err := d.w.Write(slot[:n]); err != nil {
			d.fail("write", err)
			// bufio keeps the error, start over with an empty buffer
			d.w.Reset(d.sink)
			return
		}
		records++
		written += n
	}

	if err := d.w.Flush(); err != nil {
		d.fail("flush", err)
		d.w.Reset(d.sink)
		return
	}
	if err := d.sink.Sync(); err != nil {
		d.fail("sync", err)
		return
	}

	d.batches.Add(1)
	d.records.Add(uint64(records))
	d.bytes.Add(uint64(written))
	if d.observer != nil {
		d.observer.ObserveBatch(records, written, time.Since(start))
	}
}

// fail logs and counts a persistence error
func (d *Drainer) fail(op string, err error) {
	err = fmt.Errorf("drain: %s: %w", op, err)
	Logger.Errorf("%v", err)
	d.errs.Add(1)
	d.lastErr.Store(&err)
	if d.observer != nil {
		d.observer.ObserveError(err)
	}
}
