package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_ReceivesPublishedEvents(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish("hello")

	select {
	case got := <-ch:
		assert.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestSubscribe_IndependentViewsPerSubscriber(t *testing.T) {
	b := New()
	before, unsubBefore := b.Subscribe()
	defer unsubBefore()

	b.Publish("early")

	after, unsubAfter := b.Subscribe()
	defer unsubAfter()

	b.Publish("late")

	require.Len(t, drain(before), 2)
	require.Len(t, drain(after), 1)
}

func TestPublish_DropsWhenSubscriberBufferFull(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for i := 0; i < capacity+10; i++ {
		b.Publish(i)
	}

	assert.LessOrEqual(t, len(ch), capacity)
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestDefault_ReturnsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func drain(ch <-chan any) []any {
	var out []any
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}
