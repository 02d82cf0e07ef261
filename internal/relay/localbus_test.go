// ABOUTME: Tests for the in-process relay bus
// ABOUTME: Covers fan-out, unsubscribe, slow subscribers and close semantics

package relay

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfattire/inbox/internal/realtime"
)

func envelope(receiver, text string) Envelope {
	return Envelope{Origin: "test", ReceiverID: receiver, Message: realtime.GetMessage{SenderID: "s", Text: text}}
}

func TestLocalBus_FansOutToAllSubscribers(t *testing.T) {
	b := NewLocalBus(nil)
	defer b.Close()

	got := make(chan string, 4)
	for range 2 {
		_, err := b.Subscribe(func(env Envelope) { got <- env.Message.Text })
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(envelope("r1", "hello")))

	for i := range 2 {
		select {
		case text := <-got:
			assert.Equal(t, "hello", text)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestLocalBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewLocalBus(nil)
	defer b.Close()

	var count atomic.Int32
	unsub, err := b.Subscribe(func(Envelope) { count.Add(1) })
	require.NoError(t, err)

	require.NoError(t, b.Publish(envelope("r1", "one")))
	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

	unsub()
	unsub()
	require.NoError(t, b.Publish(envelope("r1", "two")))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestLocalBus_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := NewLocalBus(nil)

	release := make(chan struct{})
	_, err := b.Subscribe(func(Envelope) { <-release })
	require.NoError(t, err)

	var mu sync.Mutex
	fast := 0
	_, err = b.Subscribe(func(Envelope) {
		mu.Lock()
		fast++
		mu.Unlock()
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for range subscriberBufferSize * 3 {
			_ = b.Publish(envelope("r1", "flood"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fast > 0
	}, time.Second, 5*time.Millisecond)

	close(release)
	b.Close()
}

func TestLocalBus_Closed(t *testing.T) {
	b := NewLocalBus(nil)
	b.Close()
	b.Close()

	assert.ErrorIs(t, b.Publish(envelope("r1", "x")), ErrBusClosed)
	_, err := b.Subscribe(func(Envelope) {})
	assert.ErrorIs(t, err, ErrBusClosed)
}
