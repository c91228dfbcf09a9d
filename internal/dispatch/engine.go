// Package dispatch sends one message either through the default device or
// concurrently through several device sessions, and aggregates per-device
// outcomes.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"wasender/internal/eventbus"
	"wasender/internal/message"
	logx "wasender/pkg/logx"
)

type Option func(*Engine)

func WithBus(b eventbus.Bus) Option { return func(e *Engine) { e.bus = b } }

func WithLogger(l logx.Logger) Option { return func(e *Engine) { e.log = l } }

// WithIDFunc overrides dispatch ID generation.
func WithIDFunc(fn func() string) Option { return func(e *Engine) { e.newID = fn } }

// Engine runs at most one dispatch at a time. The in-flight session is owned
// by the engine and visible through Session and InProgress.
type Engine struct {
	sender Sender
	bus    eventbus.Bus
	log    logx.Logger
	newID  func() string
	now    func() time.Time

	mu      sync.Mutex
	session *Session
}

func New(sender Sender, opts ...Option) *Engine {
	e := &Engine{
		sender: sender,
		bus:    eventbus.Nop{},
		log:    logx.Nop(),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// InProgress reports whether a dispatch is in flight.
func (e *Engine) InProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil
}

// Session returns a copy of the in-flight session.
func (e *Engine) Session() (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return Session{}, false
	}
	s := *e.session
	s.Targets = append([]Target(nil), s.Targets...)
	return s, true
}

func (e *Engine) begin(mode Mode, targets []Target) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return nil, ErrInProgress
	}
	e.session = &Session{ID: e.newID(), Mode: mode, Targets: targets, StartedAt: e.now()}
	return e.session, nil
}

func (e *Engine) end() {
	e.mu.Lock()
	e.session = nil
	e.mu.Unlock()
}

// Dispatch picks the mode: a status request with at least one target is
// broadcast, anything else is a single send through the default device.
func (e *Engine) Dispatch(ctx context.Context, req message.SendRequest, targets []Target) (Result, error) {
	if req.IsStatus() && len(targets) > 0 {
		return e.Broadcast(ctx, req, targets)
	}
	return e.Send(ctx, req)
}

// Send issues one call through the default device. A failure is returned as
// the error and no Result is produced.
func (e *Engine) Send(ctx context.Context, req message.SendRequest) (Result, error) {
	s, err := e.begin(ModeSingle, nil)
	if err != nil {
		return Result{}, err
	}
	defer e.end()

	e.publish(eventbus.DispatchStarted, Event{DispatchID: s.ID, Mode: ModeSingle, Recipient: req.RecipientID, Targets: 1})

	out := e.call(context.WithoutCancel(ctx), req, "")
	took := e.now().Sub(s.StartedAt)
	if !out.OK() {
		e.log.Debug("single send failed", logx.String("dispatch", s.ID), logx.Err(out.Err))
		e.publish(eventbus.DispatchFailed, Event{DispatchID: s.ID, Mode: ModeSingle, Recipient: req.RecipientID, Took: took, Error: out.Error()})
		return Result{}, out.Err
	}

	res := Result{
		ID:           s.ID,
		Mode:         ModeSingle,
		Outcomes:     []Outcome{out},
		SuccessCount: 1,
		StartedAt:    s.StartedAt,
		Took:         took,
	}
	e.publish(eventbus.DispatchFinished, finishedEvent(res, req))
	return res, nil
}

// Broadcast sends req through every target concurrently. All calls are
// issued before any is awaited and each settles into exactly one Outcome; a
// failing or panicking target never affects its siblings. Calls are detached
// from ctx cancellation once issued.
func (e *Engine) Broadcast(ctx context.Context, req message.SendRequest, targets []Target) (Result, error) {
	targets = NormalizeTargets(targets)

	s, err := e.begin(ModeBroadcast, targets)
	if err != nil {
		return Result{}, err
	}
	defer e.end()

	// every started event is paired with finished or failed
	e.publish(eventbus.DispatchStarted, Event{DispatchID: s.ID, Mode: ModeBroadcast, Recipient: req.RecipientID, Targets: len(targets)})
	if len(targets) == 0 {
		e.publish(eventbus.DispatchFailed, Event{DispatchID: s.ID, Mode: ModeBroadcast, Recipient: req.RecipientID, Error: ErrNoTargets.Error()})
		return Result{}, ErrNoTargets
	}
	e.log.Debug("broadcast started", logx.String("dispatch", s.ID), logx.Int("targets", len(targets)))

	callCtx := context.WithoutCancel(ctx)
	outcomes := make([]Outcome, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			outcomes[i] = e.call(callCtx, req, t.DeviceID)
			e.publish(eventbus.DispatchTarget, Event{
				DispatchID: s.ID,
				Mode:       ModeBroadcast,
				DeviceID:   t.DeviceID,
				Status:     outcomes[i].Status,
				Error:      outcomes[i].Error(),
			})
			return nil
		})
	}
	_ = g.Wait()

	res := Result{ID: s.ID, Mode: ModeBroadcast, Outcomes: outcomes, StartedAt: s.StartedAt, Took: e.now().Sub(s.StartedAt)}
	for _, o := range outcomes {
		if o.OK() {
			res.SuccessCount++
		} else {
			res.FailureCount++
		}
	}
	e.publish(eventbus.DispatchFinished, finishedEvent(res, req))
	return res, nil
}

// call runs one Sender call, converting errors and panics into a rejected
// outcome.
func (e *Engine) call(ctx context.Context, req message.SendRequest, deviceID string) (out Outcome) {
	out.DeviceID = deviceID
	defer func() {
		if r := recover(); r != nil {
			out.Status = Rejected
			out.Message = ""
			out.Err = fmt.Errorf("send panicked: %v", r)
			e.log.Error("send panicked", logx.String("device", deviceID), logx.Any("panic", r))
		}
	}()
	msg, err := e.sender.Send(ctx, req, deviceID)
	if err != nil {
		out.Status = Rejected
		out.Err = err
		return out
	}
	out.Status = Fulfilled
	out.Message = msg
	return out
}

func (e *Engine) publish(typ string, ev Event) {
	e.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func finishedEvent(res Result, req message.SendRequest) Event {
	return Event{
		DispatchID: res.ID,
		Mode:       res.Mode,
		Recipient:  req.RecipientID,
		Targets:    len(res.Outcomes),
		Success:    res.SuccessCount,
		Failure:    res.FailureCount,
		Took:       res.Took,
	}
}
