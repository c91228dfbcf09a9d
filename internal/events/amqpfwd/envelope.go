// Package amqpfwd forwards dispatch summaries to a RabbitMQ exchange as JSON
// envelopes. Only counts and IDs leave the process, never message text.
package amqpfwd

import (
	"time"

	"wasender/internal/dispatch"
	"wasender/internal/eventbus"
)

// Event types on the wire.
const (
	TypeDispatchFinished = "wasender.dispatch.finished.v1"
	TypeDispatchFailed   = "wasender.dispatch.failed.v1"
)

type Meta struct {
	// Dispatch ID, so every message about one dispatch correlates.
	CorrelationID string `json:"correlation_id,omitempty"`
	// Unique event ID
	ID       string    `json:"id"`
	Producer string    `json:"producer,omitempty"`
	Time     time.Time `json:"time"`
	Type     string    `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// DispatchSummary is the data of both event types.
type DispatchSummary struct {
	DispatchID string `json:"dispatch_id"`
	Mode       string `json:"mode"`
	Recipient  string `json:"recipient,omitempty"`
	Targets    int    `json:"targets"`
	Success    int    `json:"success"`
	Failure    int    `json:"failure"`
	TookMS     int64  `json:"took_ms"`
	Error      string `json:"error,omitempty"`
}

// BuildEnvelope converts a dispatch.finished or dispatch.failed bus event.
// Other events report false.
func BuildEnvelope(e eventbus.Event, producer string, newID func() string) (Envelope, bool) {
	var typ string
	switch e.Type {
	case eventbus.DispatchFinished:
		typ = TypeDispatchFinished
	case eventbus.DispatchFailed:
		typ = TypeDispatchFailed
	default:
		return Envelope{}, false
	}
	ev, ok := e.Data.(dispatch.Event)
	if !ok {
		return Envelope{}, false
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	id := newID()
	corr := ev.DispatchID
	if corr == "" {
		corr = id
	}
	return Envelope{
		Meta: Meta{
			CorrelationID: corr,
			ID:            id,
			Producer:      producer,
			Time:          at.UTC(),
			Type:          typ,
		},
		Data: DispatchSummary{
			DispatchID: ev.DispatchID,
			Mode:       string(ev.Mode),
			Recipient:  ev.Recipient,
			Targets:    ev.Targets,
			Success:    ev.Success,
			Failure:    ev.Failure,
			TookMS:     ev.Took.Milliseconds(),
			Error:      ev.Error,
		},
	}, true
}
