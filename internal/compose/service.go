// Package compose submits a draft: it builds the payload, picks single or
// broadcast mode, reports the outcome to a sink and resets the draft.
package compose

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"wasender/internal/devices"
	"wasender/internal/dispatch"
	"wasender/internal/gateway"
	"wasender/internal/message"
	"wasender/internal/storage"
	logx "wasender/pkg/logx"
)

// Sink displays submission outcomes.
type Sink interface {
	Success(ctx context.Context, text string)
	Failure(ctx context.Context, text string)
}

// Dispatcher is the part of dispatch.Engine used here.
type Dispatcher interface {
	Send(ctx context.Context, req message.SendRequest) (dispatch.Result, error)
	Broadcast(ctx context.Context, req message.SendRequest, targets []dispatch.Target) (dispatch.Result, error)
}

// Resolver maps a device selection to targets.
type Resolver interface {
	Resolve(ctx context.Context, sel devices.Selection) ([]dispatch.Target, error)
}

// Recorder appends audit records.
type Recorder interface {
	RecordDispatch(ctx context.Context, r storage.DispatchRecord) error
}

type Option func(*Service)

func WithRecorder(r Recorder) Option { return func(s *Service) { s.audit = r } }

func WithLogger(l logx.Logger) Option { return func(s *Service) { s.log = l } }

// WithSource tags audit records, e.g. "bot" or "schedule".
func WithSource(src string) Option { return func(s *Service) { s.source = src } }

type Service struct {
	engine   Dispatcher
	registry Resolver
	audit    Recorder
	log      logx.Logger
	source   string
}

func NewService(engine Dispatcher, registry Resolver, opts ...Option) *Service {
	s := &Service{engine: engine, registry: registry, log: logx.Nop(), source: "bot"}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Actor identifies who submitted, for the audit trail.
type Actor struct {
	ID int64
}

// Submit sends the form's draft.
//
// A *message.ValidationError is returned before any network activity and
// the sink is not called. Otherwise every path reports to sink. When a
// Result is produced, partial failures included, the form is reset once;
// on an error the draft is kept for another attempt.
func (s *Service) Submit(ctx context.Context, form *Form, actor Actor, sink Sink) (dispatch.Result, error) {
	fields, sel := form.Snapshot()
	req, err := message.Build(fields)
	if err != nil {
		return dispatch.Result{}, err
	}

	var res dispatch.Result
	if req.IsStatus() && !sel.Empty() {
		res, err = s.broadcast(ctx, req, sel)
	} else {
		res, err = s.engine.Send(ctx, req)
	}
	if err != nil {
		sink.Failure(ctx, failureText(err))
		s.record(ctx, req, actor, dispatch.Result{Mode: modeFor(req, sel)}, err)
		return dispatch.Result{}, err
	}

	if line := res.SuccessLine(); line != "" {
		sink.Success(ctx, line)
	}
	if line := res.FailureLine(); line != "" {
		sink.Failure(ctx, line)
		for _, o := range res.Failed() {
			s.log.Warn("broadcast target failed",
				logx.String("dispatch", res.ID),
				logx.String("device", o.DeviceID),
				logx.String("err", o.Error()),
			)
		}
	}
	s.record(ctx, req, actor, res, nil)
	form.Reset()
	return res, nil
}

func (s *Service) broadcast(ctx context.Context, req message.SendRequest, sel devices.Selection) (dispatch.Result, error) {
	targets, err := s.registry.Resolve(ctx, sel)
	if err != nil {
		return dispatch.Result{}, err
	}
	return s.engine.Broadcast(ctx, req, targets)
}

func (s *Service) record(ctx context.Context, req message.SendRequest, actor Actor, res dispatch.Result, cause error) {
	if s.audit == nil {
		return
	}
	// ErrInProgress refusals never reached the engine's session
	if errors.Is(cause, dispatch.ErrInProgress) {
		return
	}
	r := storage.DispatchRecord{
		ID:            res.ID,
		At:            res.StartedAt,
		Source:        s.source,
		ActorID:       actor.ID,
		Mode:          string(res.Mode),
		RecipientType: string(req.Type),
		Recipient:     req.RecipientID,
		Targets:       len(res.Outcomes),
		Success:       res.SuccessCount,
		Failure:       res.FailureCount,
		TookMS:        res.Took.Milliseconds(),
	}
	if cause != nil {
		r.Error = cause.Error()
		if r.Mode == string(dispatch.ModeSingle) {
			r.Targets, r.Failure = 1, 1
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := s.audit.RecordDispatch(context.WithoutCancel(ctx), r); err != nil {
		s.log.Warn("audit append failed", logx.Err(err))
	}
}

func modeFor(req message.SendRequest, sel devices.Selection) dispatch.Mode {
	if req.IsStatus() && !sel.Empty() {
		return dispatch.ModeBroadcast
	}
	return dispatch.ModeSingle
}

// failureText is what the operator sees for a call that produced no Result.
func failureText(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrNoTargets), errors.Is(err, dispatch.ErrInProgress):
		return err.Error()
	default:
		return gateway.ErrorMessage(err)
	}
}
