package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"wasender/internal/message"
)

var (
	// ErrNoTargets is returned before any call when a broadcast has no
	// usable device IDs.
	ErrNoTargets = errors.New("no devices selected to broadcast to")
	// ErrInProgress is returned when the engine is already dispatching.
	ErrInProgress = errors.New("a dispatch is already in progress")
)

// Sender performs one gateway call. An empty deviceID means the gateway's
// default device; otherwise the call is routed to that device session. It
// returns the gateway's confirmation text.
type Sender interface {
	Send(ctx context.Context, req message.SendRequest, deviceID string) (string, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req message.SendRequest, deviceID string) (string, error)

func (f SenderFunc) Send(ctx context.Context, req message.SendRequest, deviceID string) (string, error) {
	return f(ctx, req, deviceID)
}

type Mode string

const (
	ModeSingle    Mode = "single"
	ModeBroadcast Mode = "broadcast"
)

// Target is one device session to send through.
type Target struct {
	DeviceID string `json:"device_id"`
}

// Targets builds targets from device IDs.
func Targets(ids ...string) []Target {
	return lo.Map(ids, func(id string, _ int) Target { return Target{DeviceID: id} })
}

// NormalizeTargets trims IDs, drops blanks and keeps the first occurrence of
// each ID. Order is otherwise preserved.
func NormalizeTargets(targets []Target) []Target {
	trimmed := lo.FilterMap(targets, func(t Target, _ int) (Target, bool) {
		t.DeviceID = strings.TrimSpace(t.DeviceID)
		return t, t.DeviceID != ""
	})
	return lo.UniqBy(trimmed, func(t Target) string { return t.DeviceID })
}

type Status string

const (
	Fulfilled Status = "fulfilled"
	Rejected  Status = "rejected"
)

// Outcome is the settled result of one target's call.
type Outcome struct {
	DeviceID string `json:"device_id,omitempty"`
	Status   Status `json:"status"`
	// Message is the gateway confirmation for fulfilled calls.
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

func (o Outcome) OK() bool { return o.Status == Fulfilled }

// Error returns the failure text, or "".
func (o Outcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Result aggregates one dispatch. Outcomes follow target order and
// SuccessCount+FailureCount == len(Outcomes).
type Result struct {
	ID           string        `json:"id"`
	Mode         Mode          `json:"mode"`
	Outcomes     []Outcome     `json:"outcomes"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	StartedAt    time.Time     `json:"started_at"`
	Took         time.Duration `json:"took"`
}

// Failed returns the rejected outcomes in target order.
func (r Result) Failed() []Outcome {
	return lo.Filter(r.Outcomes, func(o Outcome, _ int) bool { return !o.OK() })
}

// SuccessLine is the success summary, or "" when nothing succeeded.
func (r Result) SuccessLine() string {
	switch {
	case r.SuccessCount == 0:
		return ""
	case r.Mode == ModeSingle && len(r.Outcomes) == 1 && r.Outcomes[0].Message != "":
		return r.Outcomes[0].Message
	case r.Mode == ModeSingle:
		return "Message sent."
	default:
		return fmt.Sprintf("Success sent to %d devices.", r.SuccessCount)
	}
}

// FailureLine is the failure summary, or "" when nothing failed.
func (r Result) FailureLine() string {
	if r.FailureCount == 0 {
		return ""
	}
	return fmt.Sprintf("Failed to send to %d devices.", r.FailureCount)
}

// Summary returns the non-empty operator lines, success first.
func (r Result) Summary() []string {
	return lo.Compact([]string{r.SuccessLine(), r.FailureLine()})
}

// Session describes the dispatch currently in flight.
type Session struct {
	ID        string
	Mode      Mode
	Targets   []Target
	StartedAt time.Time
}

// Event is the payload of dispatch.* bus events. Only counts and IDs are
// carried, never message text.
type Event struct {
	DispatchID string        `json:"dispatch_id"`
	Mode       Mode          `json:"mode"`
	Recipient  string        `json:"recipient,omitempty"`
	DeviceID   string        `json:"device_id,omitempty"`
	Status     Status        `json:"status,omitempty"`
	Targets    int           `json:"targets,omitempty"`
	Success    int           `json:"success,omitempty"`
	Failure    int           `json:"failure,omitempty"`
	Took       time.Duration `json:"took,omitempty"`
	Error      string        `json:"error,omitempty"`
}
