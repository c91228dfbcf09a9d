package amqpfwd

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasender/internal/dispatch"
	"wasender/internal/eventbus"
	"wasender/internal/message"
)

type delivery struct {
	key  string
	env  Envelope
	body []byte
}

type fakePublisher struct {
	mu     sync.Mutex
	got    []delivery
	fail   error
	closed chan struct{}
}

func newFakePublisher() *fakePublisher { return &fakePublisher{closed: make(chan struct{})} }

func (p *fakePublisher) Publish(_ context.Context, key string, env Envelope, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.got = append(p.got, delivery{key: key, env: env, body: body})
	return nil
}

func (p *fakePublisher) Closed() <-chan struct{} { return p.closed }
func (p *fakePublisher) Close() error            { return nil }

func (p *fakePublisher) sent() []delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]delivery(nil), p.got...)
}

func TestBuildEnvelope(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	env, ok := BuildEnvelope(eventbus.Event{
		Type: eventbus.DispatchFinished,
		Time: at,
		Data: dispatch.Event{DispatchID: "d1", Mode: dispatch.ModeBroadcast, Targets: 2, Success: 1, Failure: 1, Took: 1500 * time.Millisecond},
	}, "wasender", func() string { return "e1" })
	require.True(t, ok)
	assert.Equal(t, TypeDispatchFinished, env.Meta.Type)
	assert.Equal(t, "e1", env.Meta.ID)
	assert.Equal(t, "d1", env.Meta.CorrelationID)
	assert.Equal(t, at.UTC(), env.Meta.Time)

	sum := env.Data.(DispatchSummary)
	assert.Equal(t, int64(1500), sum.TookMS)
	assert.Equal(t, "broadcast", sum.Mode)

	_, ok = BuildEnvelope(eventbus.Event{Type: eventbus.DispatchTarget, Data: dispatch.Event{}}, "p", func() string { return "x" })
	assert.False(t, ok)
	_, ok = BuildEnvelope(eventbus.Event{Type: eventbus.DispatchFailed, Data: "junk"}, "p", func() string { return "x" })
	assert.False(t, ok)
}

func TestEnvelopeJSONShape(t *testing.T) {
	env, _ := BuildEnvelope(eventbus.Event{
		Type: eventbus.DispatchFailed,
		Data: dispatch.Event{DispatchID: "d2", Mode: dispatch.ModeSingle, Error: "boom"},
	}, "wasender", func() string { return "e2" })
	b, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "e2", raw["meta"]["id"])
	assert.Equal(t, TypeDispatchFailed, raw["meta"]["type"])
	assert.Equal(t, "boom", raw["data"]["error"])
}

func runForwarder(t *testing.T, f *Forwarder, bus eventbus.Bus) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, bus) }()
	return cancel, done
}

func TestRunForwardsDispatchOutcomes(t *testing.T) {
	bus := eventbus.New()
	pub := newFakePublisher()
	f := New(Config{Exchange: "wa"}, WithDialer(func(context.Context, Config) (Publisher, error) { return pub, nil }))
	cancel, done := runForwarder(t, f, bus)

	e := dispatch.New(dispatch.SenderFunc(func(_ context.Context, _ message.SendRequest, id string) (string, error) {
		if id == "B" {
			return "", errors.New("down")
		}
		return "ok", nil
	}), dispatch.WithBus(bus))
	req, err := message.Build(message.Fields{Type: message.Status, Text: "private words"})
	require.NoError(t, err)

	// retry until the subscription is live
	require.Eventually(t, func() bool {
		_, err := e.Broadcast(context.Background(), req, dispatch.Targets("A", "B"))
		require.NoError(t, err)
		return len(pub.sent()) > 0
	}, time.Second, 10*time.Millisecond)

	got := pub.sent()[0]
	assert.Equal(t, TypeDispatchFinished, got.key)
	assert.Contains(t, string(got.body), `"success":1`)
	assert.NotContains(t, string(got.body), "private words")

	cancel()
	assert.NoError(t, <-done)
}

func TestRunUsesFixedRoutingKeyAndCountsFailures(t *testing.T) {
	bus := eventbus.New()
	pub := newFakePublisher()
	f := New(Config{Exchange: "wa", RoutingKey: "ops.wa"}, WithDialer(func(context.Context, Config) (Publisher, error) { return pub, nil }))
	cancel, done := runForwarder(t, f, bus)
	defer func() { cancel(); <-done }()

	ev := eventbus.Event{Type: eventbus.DispatchFailed, Data: dispatch.Event{DispatchID: "d"}}
	require.Eventually(t, func() bool {
		bus.Publish(ev)
		return len(pub.sent()) > 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "ops.wa", pub.sent()[0].key)

	pub.mu.Lock()
	pub.fail = errors.New("nack")
	pub.mu.Unlock()
	bus.Publish(ev)
	assert.Eventually(t, func() bool {
		_, failed := f.Stats()
		return failed >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestRunReturnsWhenConnectionCloses(t *testing.T) {
	pub := newFakePublisher()
	f := New(Config{}, WithDialer(func(context.Context, Config) (Publisher, error) { return pub, nil }))
	_, done := runForwarder(t, f, eventbus.New())
	close(pub.closed)
	assert.ErrorIs(t, <-done, ErrConnectionClosed)
}

func TestRunReturnsDialError(t *testing.T) {
	f := New(Config{}, WithDialer(func(context.Context, Config) (Publisher, error) { return nil, errors.New("refused") }))
	assert.EqualError(t, f.Run(context.Background(), eventbus.New()), "refused")
}

func TestDialWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := DialWithRetry(ctx, Config{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
