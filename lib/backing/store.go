package backing

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/mLog/lib/ringbuf"
	"github.com/lni/dragonboat/v4/logger"
	"math"
	"os"
	"slices"
	"strings"
	"sync"
)

var Logger = logger.GetLogger("backing")

// DefaultPath is the backing file used when no path is configured
const DefaultPath = "log_buffer.mmap"

var (
	// ErrDetached is returned by Flush after Detach
	ErrDetached = errors.New("backing store is detached")
	// ErrUnsupportedPlatform is returned on systems without shared file mappings
	ErrUnsupportedPlatform = errors.New("memory-mapped backing files are not supported on this platform")
)

// Error describes a failed operation on the backing file
type Error struct {
	Op   string // attach, truncate, mmap, msync, detach ...
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backing: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// MismatchPolicy decides what Attach does with a file that holds foreign or corrupt data
type MismatchPolicy int

const (
	PolicyReinitialize MismatchPolicy = iota // wipe the file and start empty
	PolicyRefuse                             // fail with an error wrapping ringbuf.ErrIncompatible
)

func (p MismatchPolicy) String() string {
	if p == PolicyRefuse {
		return "refuse"
	}
	return "reinit"
}

// ParsePolicy converts the textual form used in flags and env vars
func ParsePolicy(s string) (MismatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reinit", "reinitialize":
		return PolicyReinitialize, nil
	case "refuse":
		return PolicyRefuse, nil
	default:
		return PolicyReinitialize, fmt.Errorf("invalid mismatch policy %q, must be one of reinit, refuse", s)
	}
}

// Options configures Attach
type Options struct {
	SlotSize int
	Policy   MismatchPolicy
}

// DefaultOptions returns the options used by the process-wide logger
func DefaultOptions() Options {
	return Options{
		SlotSize: ringbuf.DefaultSlotSize,
		Policy:   PolicyReinitialize,
	}
}

// EffectiveSize returns the file size Attach uses for a requested size. The request is
// honored if it leaves room for more than one slot and its data area is a whole number
// of slots, otherwise the default size is used.
func EffectiveSize(requested int64, slotSize int) int64 {
	s := int64(slotSize)
	if s > 0 && requested > ringbuf.HeaderSize+s && (requested-ringbuf.HeaderSize)%s == 0 {
		return requested
	}
	return ringbuf.HeaderSize + ringbuf.DefaultCapacity
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Store owns the backing file, its mapping and the ring buffer placed at offset 0
type Store struct {
	mu     sync.Mutex
	path   string
	size   int64
	file   *os.File
	region []byte
	buf    *ringbuf.RingBuffer
	result ringbuf.InitResult
	closed bool
}

// Attach opens or creates the backing file at path, sizes it to EffectiveSize(size),
// maps it and initializes the ring buffer inside the mapping. A file that already holds
// a compatible ring buffer keeps all queued records (InitResult reports AlreadyValid).
func Attach(path string, size int64, opts Options) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if opts.SlotSize == 0 {
		opts.SlotSize = ringbuf.DefaultSlotSize
	}
	if opts.SlotSize < ringbuf.MinSlotSize {
		return nil, &Error{Op: "attach", Path: path, Err: fmt.Errorf("%w: slot size %d is smaller than %d", ringbuf.ErrInvalidRegion, opts.SlotSize, ringbuf.MinSlotSize)}
	}

	effective := EffectiveSize(size, opts.SlotSize)
	if effective > math.MaxInt {
		return nil, &Error{Op: "attach", Path: path, Err: fmt.Errorf("size %d exceeds the address space", effective)}
	}
	if effective != size {
		Logger.Debugf("requested size %d for %s is not usable with slot size %d, using %d", size, path, opts.SlotSize, effective)
	}

	// under the refuse policy a file of another size must not be resized
	if opts.Policy == PolicyRefuse {
		if info, err := os.Stat(path); err == nil && info.Size() != 0 && info.Size() != effective {
			return nil, &Error{Op: "attach", Path: path, Err: fmt.Errorf("%w: file size %d, expected %d", ringbuf.ErrIncompatible, info.Size(), effective)}
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &Error{Op: "stat", Path: path, Err: err}
	}
	if info.Size() != effective {
		if err := f.Truncate(effective); err != nil {
			_ = f.Close()
			return nil, &Error{Op: "truncate", Path: path, Err: err}
		}
	}

	region, err := mapFile(f, int(effective))
	if err != nil {
		_ = f.Close()
		return nil, &Error{Op: "mmap", Path: path, Err: err}
	}

	s := &Store{
		path:   path,
		size:   effective,
		file:   f,
		region: region,
	}

	if err := ringbuf.Validate(region, opts.SlotSize); err != nil {
		// a region without identification is only new if nothing was ever written to it
		if errors.Is(err, ringbuf.ErrUninitialized) && slices.ContainsFunc(region, func(b byte) bool { return b != 0 }) {
			err = fmt.Errorf("%w: no identification but non-zero content", ringbuf.ErrIncompatible)
		}
		if errors.Is(err, ringbuf.ErrIncompatible) && opts.Policy == PolicyRefuse {
			s.release()
			return nil, &Error{Op: "attach", Path: path, Err: err}
		}
		if errors.Is(err, ringbuf.ErrIncompatible) {
			Logger.Warningf("discarding incompatible content of %s: %v", path, err)
		}
	}

	buf, result, err := ringbuf.Initialize(region, opts.SlotSize)
	if err != nil {
		s.release()
		return nil, &Error{Op: "initialize", Path: path, Err: err}
	}
	s.buf = buf
	s.result = result

	if result == ringbuf.Initialized {
		// persist the fresh header before anyone relies on it
		if err := syncRegion(region); err != nil {
			s.release()
			return nil, &Error{Op: "msync", Path: path, Err: err}
		}
		Logger.Infof("initialized backing file %s (%d bytes, %d slots of %d bytes)", path, effective, buf.Capacity()/buf.SlotSize(), buf.SlotSize())
	} else {
		Logger.Infof("reattached backing file %s with %d pending records", path, buf.Pending())
	}

	return s, nil
}

// Buffer returns the ring buffer living in the mapping. It must not be used after Detach.
func (s *Store) Buffer() *ringbuf.RingBuffer {
	return s.buf
}

// InitResult reports whether Attach found a valid buffer or initialized a new one
func (s *Store) InitResult() ringbuf.InitResult {
	return s.result
}

// Path returns the path of the backing file
func (s *Store) Path() string {
	return s.path
}

// Size returns the size of the backing file and the mapping
func (s *Store) Size() int64 {
	return s.size
}

// Flush writes all dirty pages of the mapping back to the file
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &Error{Op: "msync", Path: s.path, Err: ErrDetached}
	}
	if err := syncRegion(s.region); err != nil {
		return &Error{Op: "msync", Path: s.path, Err: err}
	}
	return nil
}

// Detach flushes, unmaps and closes the backing file. Queued records stay in the file.
// Calling Detach more than once is a no-op. The caller must make sure no goroutine
// still uses the ring buffer.
func (s *Store) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := syncRegion(s.region); err != nil {
		errs = append(errs, &Error{Op: "msync", Path: s.path, Err: err})
	}
	if err := s.release(); err != nil {
		errs = append(errs, err)
	}
	s.buf = nil

	Logger.Debugf("detached backing file %s", s.path)
	return errors.Join(errs...)
}

// release unmaps the region and closes the file
func (s *Store) release() error {
	var errs []error
	if s.region != nil {
		if err := unmapRegion(s.region); err != nil {
			errs = append(errs, &Error{Op: "munmap", Path: s.path, Err: err})
		}
		s.region = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			errs = append(errs, &Error{Op: "close", Path: s.path, Err: err})
		}
		s.file = nil
	}
	return errors.Join(errs...)
}
