package observability

import (
	"context"

	"orderline/internal/saga"
)

// Sink adapts Metrics into a saga event sink.
type Sink struct {
	metrics *Metrics
}

// NewSink constructs the sink.
func NewSink(metrics *Metrics) *Sink {
	return &Sink{metrics: metrics}
}

func (s *Sink) Publish(_ context.Context, ev saga.Event) error {
	s.metrics.ObserveEvent(ev)
	return nil
}

var _ saga.EventSink = (*Sink)(nil)
