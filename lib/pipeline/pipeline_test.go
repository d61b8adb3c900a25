package pipeline

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"github.com/ValentinKolb/mLog/lib/backing"
	"github.com/ValentinKolb/mLog/lib/ringbuf"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// testConfig returns a config with all files in a temporary directory
func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	conf := DefaultConfig()
	conf.BackingPath = filepath.Join(dir, "buffer.mmap")
	conf.BackingSize = ringbuf.HeaderSize + 32*ringbuf.DefaultSlotSize
	conf.OutputPath = filepath.Join(dir, "out.log")
	return conf
}

// readOutput parses every line of the output file
func readOutput(t *testing.T, path string) (seqs []uint64, msgs []string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open output failed: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		seq, msg, err := ringbuf.ParseRecord(scanner.Bytes())
		if err != nil {
			t.Fatalf("Invalid output line %q: %v", scanner.Text(), err)
		}
		seqs = append(seqs, seq)
		msgs = append(msgs, string(msg))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return seqs, msgs
}

// TestConcurrentProducers writes from several goroutines and checks the output file
func TestConcurrentProducers(t *testing.T) {
	const numProducers = 5
	const itemsPerProducer = 100

	conf := testConfig(t)
	p, err := Open(conf)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for id := 0; id < numProducers; id++ {
		go func(producerID int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				if err := p.Write(fmt.Sprintf("Thread %d: Log message %d", producerID, i)); err != nil {
					t.Errorf("Producer %d: write %d failed: %v", producerID, i, err)
				}
			}
		}(id)
	}
	wg.Wait()

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	seqs, msgs := readOutput(t, conf.OutputPath)
	if len(msgs) != numProducers*itemsPerProducer {
		t.Fatalf("Expected %d records, got %d", numProducers*itemsPerProducer, len(msgs))
	}

	seen := make(map[uint64]bool)
	for i, seq := range seqs {
		if seen[seq] {
			t.Fatalf("Duplicate sequence %d", seq)
		}
		seen[seq] = true
		if i > 0 && seq <= seqs[i-1] {
			t.Fatalf("Sequence not increasing at line %d: %d after %d", i, seq, seqs[i-1])
		}
	}

	next := make(map[int]int)
	for _, msg := range msgs {
		var id, i int
		if _, err := fmt.Sscanf(msg, "Thread %d: Log message %d", &id, &i); err != nil {
			t.Fatalf("Corrupt message %q", msg)
		}
		if i != next[id] {
			t.Fatalf("Producer %d: expected message %d, got %d", id, next[id], i)
		}
		next[id]++
	}
}

// TestCrashRecovery leaves records in the backing file and expects the next Open to drain them
func TestCrashRecovery(t *testing.T) {
	conf := testConfig(t)

	// a previous run that died before its records were drained
	store, err := backing.Attach(conf.BackingPath, conf.BackingSize, backing.DefaultOptions())
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	const k = 7
	for i := 0; i < k; i++ {
		if err := store.Buffer().Write(fmt.Sprintf("before crash %d", i)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := store.Detach(); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}

	p, err := Open(conf)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := p.Stats().InitResult; got != ringbuf.AlreadyValid.String() {
		t.Errorf("Expected init result %q, got %q", ringbuf.AlreadyValid, got)
	}
	if err := p.Write("after restart"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	seqs, msgs := readOutput(t, conf.OutputPath)
	if len(msgs) != k+1 {
		t.Fatalf("Expected %d records, got %d: %v", k+1, len(msgs), msgs)
	}
	for i := 0; i < k; i++ {
		if want := fmt.Sprintf("before crash %d", i); msgs[i] != want {
			t.Errorf("Record %d: expected %q, got %q", i, want, msgs[i])
		}
	}
	if msgs[k] != "after restart" || seqs[k] != k+1 {
		t.Errorf("Unexpected last record: [%d] %q", seqs[k], msgs[k])
	}
}

// TestOpenTwice checks that a backing file is only attached once per process
func TestOpenTwice(t *testing.T) {
	conf := testConfig(t)

	p, err := Open(conf)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, err := Open(conf); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("Expected ErrAlreadyAttached, got %v", err)
	}

	abs, _ := filepath.Abs(conf.BackingPath)
	found := false
	for _, path := range Attached() {
		found = found || path == abs
	}
	if !found {
		t.Errorf("Attached() does not list %s", abs)
	}

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	p, err = Open(conf)
	if err != nil {
		t.Fatalf("Open after Shutdown failed: %v", err)
	}
	_ = p.Shutdown()
}

// TestOpenFailureReleasesResources checks that a failed Open leaves nothing attached
func TestOpenFailureReleasesResources(t *testing.T) {
	conf := testConfig(t)
	conf.OutputPath = filepath.Join(t.TempDir(), "missing", "out.log")

	if _, err := Open(conf); err == nil {
		t.Fatal("Expected Open to fail for an unwritable output path")
	}

	// the backing file is free again
	conf.OutputPath = filepath.Join(t.TempDir(), "out.log")
	p, err := Open(conf)
	if err != nil {
		t.Fatalf("Open after failure failed: %v", err)
	}
	_ = p.Shutdown()
}

// TestShutdown checks the behavior of a pipeline after Shutdown
func TestShutdown(t *testing.T) {
	p, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.Shutdown()
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown of an idle pipeline did not return")
	}

	if err := p.Write("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := p.Flush(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Flush, got %v", err)
	}
	if err := p.Shutdown(); err != nil {
		t.Errorf("Second Shutdown failed: %v", err)
	}

	var out bytes.Buffer
	p.WriteMetrics(&out)
	if !strings.Contains(out.String(), "mlog_pending_records 0") {
		t.Errorf("Unexpected metrics after shutdown:\n%s", out.String())
	}
}

// TestWriteMetrics checks the exported counters
func TestWriteMetrics(t *testing.T) {
	p, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Shutdown()

	for i := 0; i < 3; i++ {
		if err := p.Write(fmt.Sprintf("metric %d", i)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for p.Stats().Drain.Records < 3 {
		select {
		case <-deadline:
			t.Fatal("Timeout waiting for the drainer")
		case <-time.After(5 * time.Millisecond):
		}
	}

	var out bytes.Buffer
	p.WriteMetrics(&out)
	for _, want := range []string{
		"mlog_writes_total 3",
		"mlog_write_failures_total 0",
		"mlog_drained_records_total 3",
		"mlog_drain_errors_total 0",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Metrics do not contain %q:\n%s", want, out.String())
		}
	}
}

// TestConfigString checks the formatted configuration
func TestConfigString(t *testing.T) {
	conf := DefaultConfig()
	s := conf.String()
	for _, want := range []string{"BACKING FILE", "RING BUFFER", "OUTPUT", backing.DefaultPath, "reinit"} {
		if !strings.Contains(s, want) {
			t.Errorf("Config string does not contain %q:\n%s", want, s)
		}
	}
}
