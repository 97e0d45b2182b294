package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"orderline/internal/saga"
)

// HubSink adapts a Hub into a saga event sink. Delivery is non-blocking:
// when the broadcast buffer is full the event is dropped rather than stalling
// the saga that produced it.
type HubSink struct {
	hub *Hub
}

// NewHubSink constructs the sink.
func NewHubSink(hub *Hub) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Publish(_ context.Context, ev saga.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	select {
	case s.hub.Broadcast <- payload:
		return nil
	default:
		return fmt.Errorf("broadcast buffer full, dropped event %s", ev.ID)
	}
}

var _ saga.EventSink = (*HubSink)(nil)
