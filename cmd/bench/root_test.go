package bench

import (
	"github.com/ValentinKolb/mLog/lib/pipeline"
	"path/filepath"
	"testing"
)

func TestMessage(t *testing.T) {
	benchMessageSize = 0
	if got := message(1, 2); got != "Thread 1: Log message 2" {
		t.Errorf("Unexpected message %q", got)
	}

	benchMessageSize = 64
	t.Cleanup(func() { benchMessageSize = 0 })
	if got := message(1, 2); len(got) != 64 {
		t.Errorf("Expected padded message of 64 bytes, got %d", len(got))
	}
}

func TestRunFixed(t *testing.T) {
	dir := t.TempDir()
	conf := pipeline.DefaultConfig()
	conf.BackingPath = filepath.Join(dir, "buffer.mmap")
	conf.OutputPath = filepath.Join(dir, "out.log")

	p, err := pipeline.Open(conf)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Shutdown()

	benchThreads, benchMessages = 3, 20
	res := runFixed(p)
	if res.ops != 60 || res.failures != 0 {
		t.Errorf("Expected 60 writes without failures, got %d (%d failures)", res.ops, res.failures)
	}

	csvPath := filepath.Join(dir, "results.csv")
	if err := writeResultsToCSV(csvPath, []result{res}, conf); err != nil {
		t.Fatalf("writeResultsToCSV failed: %v", err)
	}
}
