package pipeline

import (
	"github.com/VictoriaMetrics/metrics"
	"time"
)

// pipelineMetrics is the metric set of one pipeline. It also observes the drainer.
type pipelineMetrics struct {
	set *metrics.Set

	writes         *metrics.Counter
	writeFailures  *metrics.Counter
	drainedRecords *metrics.Counter
	drainedBytes   *metrics.Counter
	drainErrors    *metrics.Counter
	batchDuration  *metrics.Histogram
}

// newPipelineMetrics creates the metric set, pending is evaluated whenever the set is written
func newPipelineMetrics(pending func() float64) *pipelineMetrics {
	set := metrics.NewSet()
	set.NewGauge("mlog_pending_records", pending)

	return &pipelineMetrics{
		set:            set,
		writes:         set.NewCounter("mlog_writes_total"),
		writeFailures:  set.NewCounter("mlog_write_failures_total"),
		drainedRecords: set.NewCounter("mlog_drained_records_total"),
		drainedBytes:   set.NewCounter("mlog_drained_bytes_total"),
		drainErrors:    set.NewCounter("mlog_drain_errors_total"),
		batchDuration:  set.NewHistogram("mlog_drain_batch_duration_seconds"),
	}
}

// ObserveBatch implements drain.IObserver
func (m *pipelineMetrics) ObserveBatch(records, bytes int, duration time.Duration) {
	m.drainedRecords.Add(records)
	m.drainedBytes.Add(bytes)
	m.batchDuration.Update(duration.Seconds())
}

// ObserveError implements drain.IObserver
func (m *pipelineMetrics) ObserveError(error) {
	m.drainErrors.Inc()
}

// observeWrite counts the outcome of one write
func (m *pipelineMetrics) observeWrite(err error) {
	if err != nil {
		m.writeFailures.Inc()
		return
	}
	m.writes.Inc()
}
