// Package pipeline ties the backing store and the drainer together into a crash-resilient
// logger.
//
// A Pipeline owns exactly one backing file (holding the ring buffer) and one drain goroutine
// appending to the output file:
//
//	producers --Write--> ring buffer (mmap) --drain--> output file (fsync per batch)
//
// Records are durable in the page cache of the backing file as soon as Write returns. If the
// process dies before the drainer persisted them, the next Open of the same backing file
// finds them again and drains them first.
//
// Lifecycle:
//
//   - Open: attach the backing file, open the output file, start the drainer. On any failure
//     everything acquired so far is released again.
//   - Write / WriteContext: safe for concurrent use, block while the buffer is full.
//   - Flush: msync of the backing file.
//   - Shutdown: stop the drainer (including a final drain), close the buffer so blocked
//     writers return, wait for in-flight writes, detach the backing file.
//
// A backing file can only be used by one pipeline per process; a second Open of the same
// file fails with ErrAlreadyAttached until the first pipeline is shut down.
//
// Process-wide logger:
//
// For callers that want a single global logger the package offers Init, Write, Flush and
// Shutdown functions that report success as booleans:
//
//	if !pipeline.Init("log_buffer.mmap", 0) {
//		os.Exit(1)
//	}
//	defer pipeline.Shutdown()
//	pipeline.Write("hello")
//
// Metrics of a pipeline (VictoriaMetrics format) are available with WriteMetrics.
package pipeline
