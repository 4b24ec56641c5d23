package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherMulticastInOrder(t *testing.T) {
	p := NewPublisher[int]()
	var a, b []int
	p.Subscribe(Observer[int]{Next: func(v int) { a = append(a, v) }})
	p.Subscribe(Observer[int]{Next: func(v int) { b = append(b, v) }})

	p.Publish(1)
	p.Publish(2)

	assert.Equal(t, []int{1, 2}, a)
	assert.Equal(t, []int{1, 2}, b)
}

func TestPublisherNoReplayForLateSubscriber(t *testing.T) {
	p := NewPublisher[string]()
	p.Publish("early")

	var got []string
	p.Subscribe(Observer[string]{Next: func(v string) { got = append(got, v) }})
	p.Publish("late")

	assert.Equal(t, []string{"late"}, got)
}

func TestPublisherUnsubscribe(t *testing.T) {
	p := NewPublisher[int]()
	var got []int
	sub := p.Subscribe(Observer[int]{Next: func(v int) { got = append(got, v) }})
	p.Publish(1)
	sub.Unsubscribe()
	sub.Unsubscribe()
	p.Publish(2)

	assert.Equal(t, []int{1}, got)
	assert.Equal(t, 0, p.Len())
}

func TestPublisherComplete(t *testing.T) {
	p := NewPublisher[int]()
	completed := 0
	var got []int
	p.Subscribe(Observer[int]{
		Next:     func(v int) { got = append(got, v) },
		Complete: func() { completed++ },
	})

	p.Complete()
	p.Complete()
	p.Publish(1)

	require.True(t, p.Completed())
	assert.Equal(t, 1, completed)
	assert.Empty(t, got)

	lateCompleted := false
	p.Subscribe(Observer[int]{Complete: func() { lateCompleted = true }})
	assert.True(t, lateCompleted)
}

func TestPublisherUnsubscribeFromCallback(t *testing.T) {
	p := NewPublisher[int]()
	var sub *Subscription
	calls := 0
	sub = p.Subscribe(Observer[int]{Next: func(int) {
		calls++
		sub.Unsubscribe()
	}})

	p.Publish(1)
	p.Publish(2)

	assert.Equal(t, 1, calls)
}
