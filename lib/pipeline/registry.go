package pipeline

import (
	"fmt"
	"github.com/puzpuzpuz/xsync/v3"
	"path/filepath"
	"sort"
)

// attached maps the absolute backing path to the pipeline using it
var attached = xsync.NewMapOf[string, *Pipeline]()

// register claims path for p, it fails if another pipeline of this process uses the file
func register(path string, p *Pipeline) (string, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("pipeline: resolve backing path: %w", err)
	}
	if _, loaded := attached.LoadOrStore(key, p); loaded {
		return "", fmt.Errorf("%w: %s", ErrAlreadyAttached, key)
	}
	return key, nil
}

// unregister releases the claim of p on key
func unregister(key string, p *Pipeline) {
	attached.Compute(key, func(old *Pipeline, loaded bool) (*Pipeline, bool) {
		// only remove our own entry
		return old, !loaded || old == p
	})
}

// Attached returns the backing paths currently in use by pipelines of this process
func Attached() []string {
	var paths []string
	attached.Range(func(key string, _ *Pipeline) bool {
		paths = append(paths, key)
		return true
	})
	sort.Strings(paths)
	return paths
}
