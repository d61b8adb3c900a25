package pipeline

import (
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Process-wide logger
// --------------------------------------------------------------------------

var (
	defaultMu       sync.Mutex // serializes Init and Shutdown
	defaultPipeline atomic.Pointer[Pipeline]
	facadeFailures  atomic.Uint64
)

// Init opens the process-wide pipeline with the default configuration for the given
// backing file and size. Once it succeeded, further calls return true without side effects
// until Shutdown.
func Init(path string, size int64) bool {
	conf := DefaultConfig()
	conf.BackingPath = path
	conf.BackingSize = size
	return InitWithConfig(conf)
}

// InitWithConfig is like Init with a complete configuration
func InitWithConfig(conf Config) bool {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultPipeline.Load() != nil {
		return true
	}

	p, err := Open(conf)
	if err != nil {
		Logger.Errorf("init failed: %v", err)
		return false
	}
	defaultPipeline.Store(p)
	return true
}

// Write appends msg to the process-wide log, it returns false if the logger is not
// initialized or the write failed
func Write(msg string) bool {
	p := defaultPipeline.Load()
	if p == nil {
		facadeFailures.Add(1)
		return false
	}
	if err := p.Write(msg); err != nil {
		facadeFailures.Add(1)
		Logger.Debugf("write failed: %v", err)
		return false
	}
	return true
}

// Flush forces the process-wide ring buffer out to its backing file
func Flush() bool {
	p := defaultPipeline.Load()
	if p == nil {
		return false
	}
	if err := p.Flush(); err != nil {
		Logger.Errorf("flush failed: %v", err)
		return false
	}
	return true
}

// Shutdown tears down the process-wide pipeline. Errors are only logged.
func Shutdown() {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	p := defaultPipeline.Swap(nil)
	if p == nil {
		return
	}
	_ = p.Shutdown()
}

// Default returns the process-wide pipeline or ErrNotInitialized
func Default() (*Pipeline, error) {
	if p := defaultPipeline.Load(); p != nil {
		return p, nil
	}
	return nil, ErrNotInitialized
}

// WriteFailureCount returns how many process-wide writes failed
func WriteFailureCount() uint64 {
	return facadeFailures.Load()
}
