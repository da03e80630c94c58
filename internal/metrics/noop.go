package metrics

import "time"

// NoopMetrics is a no-operation implementation of Recorder.
type NoopMetrics struct{}

var _ Recorder = NoopMetrics{}

// NewNoop creates a recorder that discards every observation.
func NewNoop() Recorder {
	return NoopMetrics{}
}

func (NoopMetrics) RecordAuthRequest(result string, duration time.Duration) {}
func (NoopMetrics) RecordProviderResult(provider, decision string) {}
func (NoopMetrics) RecordSearch(pages int, success bool) {}
func (NoopMetrics) RecordBind(purpose string, success bool) {}
func (NoopMetrics) RecordCacheWrite() {}
func (NoopMetrics) RecordCacheEviction() {}
