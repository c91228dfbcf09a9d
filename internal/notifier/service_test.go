package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasender/internal/eventbus"
	kit "wasender/internal/transport"
	logx "wasender/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestNotifyDeliversAndPublishes(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	sender := &fakeSender{}
	s := New(Config{Workers: 1, RatePerSec: 100}, sender, logx.Nop(), bus)
	s.Start(context.Background())

	require.NoError(t, s.Notify(context.Background(), kit.Notification{Priority: PriorityWarning, Target: kit.ChatTarget{ChatID: 1}, Text: "careful"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	assert.Equal(t, []string{"⚠️ careful"}, sender.texts())
	ev := <-events
	assert.Equal(t, eventbus.NotifierSent, ev.Type)
	assert.Len(t, s.History(), 1)
}

func TestNotifyAfterStop(t *testing.T) {
	s := New(Config{}, &fakeSender{}, logx.Nop(), nil)
	assert.ErrorIs(t, s.Notify(context.Background(), kit.Notification{Text: "x"}), ErrStopped)

	s.Start(context.Background())
	s.Stop(context.Background())
	assert.ErrorIs(t, s.Notify(context.Background(), kit.Notification{Text: "x"}), ErrStopped)
}

func TestSendFailurePublishesFailed(t *testing.T) {
	bus := eventbus.New()
	events, unsub := eventbus.SubscribePrefix(bus, 8, "notifier.")
	defer unsub()

	s := New(Config{Workers: 1, RatePerSec: 100}, &fakeSender{err: errors.New("chat not found")}, logx.Nop(), bus)
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), kit.Notification{Text: "x"}))
	s.Stop(context.Background())

	ev := <-events
	assert.Equal(t, eventbus.NotifierFailed, ev.Type)
	assert.Equal(t, "chat not found", ev.Data.(NotificationEvent).Error)
	assert.Empty(t, s.History())
}

type captureNotifier struct{ got []kit.Notification }

func (c *captureNotifier) Notify(_ context.Context, n kit.Notification) error {
	c.got = append(c.got, n)
	return nil
}

func TestChatSinkFlushesOneMessage(t *testing.T) {
	c := &captureNotifier{}
	sink := NewChatSink(c, kit.ChatTarget{ChatID: 5, ThreadID: 2})

	sink.Success(context.Background(), "Success sent to 2 devices.")
	sink.Failure(context.Background(), "Failed to send to 1 devices.")
	require.NoError(t, sink.Flush(context.Background()))
	require.NoError(t, sink.Flush(context.Background()))

	require.Len(t, c.got, 1)
	assert.Equal(t, "✅ Success sent to 2 devices.\n❌ Failed to send to 1 devices.", c.got[0].Text)
	assert.Equal(t, PriorityInfo, c.got[0].Priority)
	assert.Equal(t, int64(5), c.got[0].Target.ChatID)
}
