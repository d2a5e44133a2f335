package embedspace

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    addCounter     prometheus.Counter
//	    queryHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordAdd(count int, duration time.Duration, err error) {
//	    p.addCounter.Add(float64(count))
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordAdd is called after each add operation.
	// count is the number of records persisted, duration is the total
	// time taken, err is nil if successful.
	RecordAdd(count int, duration time.Duration, err error)

	// RecordDelete is called after each delete operation.
	// count is the number of records removed.
	RecordDelete(count int, duration time.Duration, err error)

	// RecordQuery is called after each query operation.
	// k is the number of neighbors requested.
	RecordQuery(k int, duration time.Duration, err error)

	// RecordBuild is called after each index build.
	RecordBuild(duration time.Duration, err error)

	// RecordAnalysis is called after each analysis job attempt.
	RecordAnalysis(duration time.Duration, err error)

	// RecordSample is called after each sampling operation.
	RecordSample(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAdd(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordDelete(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordQuery(int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordBuild(time.Duration, error)       {}
func (NoopMetricsCollector) RecordAnalysis(time.Duration, error)    {}
func (NoopMetricsCollector) RecordSample(time.Duration, error)      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddCount           atomic.Int64
	AddRecords         atomic.Int64
	AddErrors          atomic.Int64
	AddTotalNanos      atomic.Int64
	DeleteCount        atomic.Int64
	DeleteRecords      atomic.Int64
	DeleteErrors       atomic.Int64
	QueryCount         atomic.Int64
	QueryErrors        atomic.Int64
	QueryTotalNanos    atomic.Int64
	BuildCount         atomic.Int64
	BuildErrors        atomic.Int64
	BuildTotalNanos    atomic.Int64
	AnalysisCount      atomic.Int64
	AnalysisErrors     atomic.Int64
	AnalysisTotalNanos atomic.Int64
	SampleCount        atomic.Int64
	SampleErrors       atomic.Int64
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(count int, duration time.Duration, err error) {
	b.AddCount.Add(1)
	b.AddRecords.Add(int64(count))
	b.AddTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AddErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(count int, duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	b.DeleteRecords.Add(int64(count))
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(k int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
	}
}

// RecordAnalysis implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAnalysis(duration time.Duration, err error) {
	b.AnalysisCount.Add(1)
	b.AnalysisTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AnalysisErrors.Add(1)
	}
}

// RecordSample implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSample(duration time.Duration, err error) {
	b.SampleCount.Add(1)
	if err != nil {
		b.SampleErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddCount:       b.AddCount.Load(),
		AddRecords:     b.AddRecords.Load(),
		AddErrors:      b.AddErrors.Load(),
		AddAvgNanos:    b.getAvgAddNanos(),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteRecords:  b.DeleteRecords.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
		QueryCount:     b.QueryCount.Load(),
		QueryErrors:    b.QueryErrors.Load(),
		QueryAvgNanos:  b.getAvgQueryNanos(),
		BuildCount:     b.BuildCount.Load(),
		BuildErrors:    b.BuildErrors.Load(),
		AnalysisCount:  b.AnalysisCount.Load(),
		AnalysisErrors: b.AnalysisErrors.Load(),
		SampleCount:    b.SampleCount.Load(),
		SampleErrors:   b.SampleErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgAddNanos() int64 {
	count := b.AddCount.Load()
	if count == 0 {
		return 0
	}
	return b.AddTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgQueryNanos() int64 {
	count := b.QueryCount.Load()
	if count == 0 {
		return 0
	}
	return b.QueryTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddCount       int64
	AddRecords     int64
	AddErrors      int64
	AddAvgNanos    int64
	DeleteCount    int64
	DeleteRecords  int64
	DeleteErrors   int64
	QueryCount     int64
	QueryErrors    int64
	QueryAvgNanos  int64
	BuildCount     int64
	BuildErrors    int64
	AnalysisCount  int64
	AnalysisErrors int64
	SampleCount    int64
	SampleErrors   int64
}
