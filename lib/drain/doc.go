// Package drain implements the consumer side of the logging pipeline: a single goroutine
// that takes batches of records from a ringbuf.RingBuffer and appends them to a durable sink.
//
// For every batch the drainer writes the content of each slot (up to its first zero byte)
// to the sink, flushes its write buffer and calls Sync, so a record that left the ring
// buffer is on disk once the batch completes. Persistence errors are logged, counted and
// reported to an optional IObserver, they never stop the loop. The records of a failed
// batch are lost.
//
// Lifecycle:
//
//	sink, err := drain.OpenFileSink(drain.DefaultOutputPath)
//	if err != nil {
//		return err
//	}
//	d := drain.New(sink)
//	if err := d.Start(rb); err != nil {
//		return err
//	}
//	...
//	err = d.Stop() // wakes the goroutine, drains what is left, syncs and closes the sink
//
// Stop does not depend on new records arriving: the blocking read is woken through
// context cancellation.
package drain
