package storage

import "time"

// Metrics receives cache operation measurements. Implementations must be
// safe for concurrent use.
type Metrics interface {
	IncrementCounter(name string, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	SetGauge(name string, value float64, tags map[string]string)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) IncrementCounter(name string, tags map[string]string)                       {}
func (NopMetrics) RecordDuration(name string, duration time.Duration, tags map[string]string) {}
func (NopMetrics) SetGauge(name string, value float64, tags map[string]string)                {}
