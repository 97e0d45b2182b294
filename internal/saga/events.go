package saga

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// EventType classifies saga lifecycle events.
type EventType string

const (
	EventStarted        EventType = "saga_started"
	EventStageEntered   EventType = "stage_entered"
	EventSignalReceived EventType = "signal_received"
	EventFinished       EventType = "saga_finished"
)

// Event is one observable saga lifecycle transition, published to whatever
// sinks the supervisor is wired with (redis stream, websocket hub, metrics).
type Event struct {
	ID         string     `json:"event_id"`
	SagaID     string     `json:"saga_id"`
	Definition Definition `json:"definition"`
	Lane       string     `json:"lane,omitempty"`
	Type       EventType  `json:"type"`
	Stage      Stage      `json:"stage,omitempty"`
	Signal     SignalKind `json:"signal,omitempty"`
	Status     Status     `json:"status,omitempty"`
	At         time.Time  `json:"at"`
}

// EventSink receives saga lifecycle events.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// FanoutSink forwards each event to every sink, best effort: a failing sink
// is logged and does not stop delivery to the others.
type FanoutSink struct {
	sinks []EventSink
	logf  func(format string, args ...any)
}

// NewFanoutSink constructs a fanout over the given sinks. Nil sinks are
// skipped.
func NewFanoutSink(logf func(format string, args ...any), sinks ...EventSink) *FanoutSink {
	if logf == nil {
		logf = log.Printf
	}
	kept := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &FanoutSink{sinks: kept, logf: logf}
}

// Publish delivers the event to all sinks. It never returns an error.
func (f *FanoutSink) Publish(ctx context.Context, ev Event) error {
	for _, s := range f.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			f.logf("event sink %T: publish %s for %s: %v", s, ev.Type, ev.SagaID, err)
		}
	}
	return nil
}

// newEvent stamps an event with a fresh id and the current time.
func newEvent(in *Instance, typ EventType) Event {
	return Event{
		ID:         uuid.NewString(),
		SagaID:     in.id,
		Definition: in.definition,
		Lane:       in.lane,
		Type:       typ,
		At:         time.Now(),
	}
}
