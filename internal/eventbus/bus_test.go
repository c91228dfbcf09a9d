package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: DispatchStarted, Data: 1})

	ea := <-a
	ec := <-c
	assert.Equal(t, DispatchStarted, ea.Type)
	assert.False(t, ea.Time.IsZero())
	assert.Equal(t, 1, ec.Data)
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	assert.Equal(t, "a", (<-ch).Type)
	assert.Equal(t, uint64(1), Dropped(b))
}

func TestSubscribePrefix(t *testing.T) {
	b := New()
	ch, unsub := SubscribePrefix(b, 4, "dispatch.")
	defer unsub()

	b.Publish(Event{Type: NotifierSent})
	b.Publish(Event{Type: DispatchFinished})

	e := <-ch
	assert.Equal(t, DispatchFinished, e.Type)
	assert.Len(t, ch, 0)
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "after"})
}
