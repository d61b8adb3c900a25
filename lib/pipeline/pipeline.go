package pipeline

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/mLog/lib/backing"
	"github.com/ValentinKolb/mLog/lib/drain"
	"github.com/ValentinKolb/mLog/lib/ringbuf"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"sync"
)

var Logger = logger.GetLogger("pipeline")

var (
	// ErrNotInitialized is returned by the process-wide functions before Init
	ErrNotInitialized = errors.New("pipeline: not initialized")
	// ErrAlreadyAttached is returned by Open if the backing file is already used by this process
	ErrAlreadyAttached = errors.New("pipeline: backing file is already attached")
	// ErrClosed is returned after Shutdown
	ErrClosed = errors.New("pipeline: closed")
)

// Stats is a snapshot of a pipeline
type Stats struct {
	BackingPath string        `json:"backing_path"`
	BackingSize int64         `json:"backing_size"`
	InitResult  string        `json:"init_result"`
	Buffer      ringbuf.Stats `json:"buffer"`
	Drain       drain.Stats   `json:"drain"`
}

// Pipeline owns one backing store and one drainer and sequences their lifecycles
type Pipeline struct {
	conf    Config
	key     string
	store   *backing.Store
	buf     *ringbuf.RingBuffer
	drainer *drain.Drainer
	metrics *pipelineMetrics

	// writers hold the read lock, Shutdown takes the write lock before the mapping is released
	mu     sync.RWMutex
	closed bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// Open attaches the backing file and starts draining it into the output file.
// Records left in the backing file by a previous run are drained first.
func Open(conf Config) (*Pipeline, error) {
	if conf.BackingPath == "" {
		conf.BackingPath = backing.DefaultPath
	}
	if conf.OutputPath == "" {
		conf.OutputPath = drain.DefaultOutputPath
	}
	if conf.SlotSize == 0 {
		conf.SlotSize = ringbuf.DefaultSlotSize
	}

	p := &Pipeline{conf: conf}
	key, err := register(conf.BackingPath, p)
	if err != nil {
		return nil, err
	}
	p.key = key

	store, err := backing.Attach(conf.BackingPath, conf.BackingSize, backing.Options{
		SlotSize: conf.SlotSize,
		Policy:   conf.Policy,
	})
	if err != nil {
		unregister(key, p)
		return nil, err
	}
	p.store = store
	p.buf = store.Buffer()
	p.metrics = newPipelineMetrics(p.pending)

	sink, err := drain.OpenFileSink(conf.OutputPath)
	if err != nil {
		_ = store.Detach()
		unregister(key, p)
		return nil, err
	}

	p.drainer = drain.New(sink, drain.WithObserver(p.metrics))
	if err := p.drainer.Start(p.buf); err != nil {
		_ = p.drainer.Stop()
		_ = store.Detach()
		unregister(key, p)
		return nil, fmt.Errorf("pipeline: start drain: %w", err)
	}

	Logger.Infof("pipeline open: %s -> %s (%s)", store.Path(), conf.OutputPath, store.InitResult())
	return p, nil
}

// Write appends msg to the log. It blocks while the ring buffer is full.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *Pipeline) Write(msg string) error {
	return p.WriteContext(context.Background(), msg)
}

// WriteContext is like Write but gives up waiting for free space when ctx is done
func (p *Pipeline) WriteContext(ctx context.Context, msg string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.metrics.observeWrite(ErrClosed)
		return ErrClosed
	}

	err := p.buf.WriteContext(ctx, msg)
	p.metrics.observeWrite(err)
	if errors.Is(err, ringbuf.ErrClosed) {
		return ErrClosed
	}
	return err
}

// Flush forces the mapped ring buffer out to the backing file
func (p *Pipeline) Flush() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	return p.store.Flush()
}

// Shutdown stops the drainer, releases blocked writers, waits for in-flight writes
// and detaches the backing file. Records written after the final drain stay in the
// backing file and are recovered by the next Open. Calling Shutdown more than once
// returns the result of the first call.
func (p *Pipeline) Shutdown() error {
	p.shutdownOnce.Do(func() {
		var errs []error

		// the drainer must be gone before the buffer is closed and unmapped
		if err := p.drainer.Stop(); err != nil {
			errs = append(errs, err)
		}

		// wakes writers blocked on a full buffer, they fail with ErrClosed
		p.buf.Destroy()

		p.mu.Lock()
		p.closed = true
		if err := p.store.Detach(); err != nil {
			errs = append(errs, err)
		}
		p.mu.Unlock()

		unregister(p.key, p)

		p.shutdownErr = errors.Join(errs...)
		if p.shutdownErr != nil {
			Logger.Warningf("pipeline shutdown for %s finished with errors: %v", p.key, p.shutdownErr)
		} else {
			Logger.Infof("pipeline shutdown for %s complete", p.key)
		}
	})
	return p.shutdownErr
}

// Config returns the configuration the pipeline was opened with
func (p *Pipeline) Config() Config {
	return p.conf
}

// Stats returns a snapshot of the buffer and drain counters
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Stats{
		BackingPath: p.store.Path(),
		BackingSize: p.store.Size(),
		InitResult:  p.store.InitResult().String(),
		Drain:       p.drainer.Stats(),
	}
	if !p.closed {
		s.Buffer = p.buf.Stats()
	}
	return s
}

// WriteMetrics writes the metrics of the pipeline in Prometheus text format
func (p *Pipeline) WriteMetrics(w io.Writer) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	p.metrics.set.WritePrometheus(w)
}

// pending is the gauge callback of the metric set, it runs under the read lock of WriteMetrics
func (p *Pipeline) pending() float64 {
	if p.closed {
		return 0
	}
	return float64(p.buf.Pending())
}
