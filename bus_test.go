package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvWithin(t *testing.T, sub *Subscription) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	event, err := sub.Recv(ctx)
	require.NoError(t, err)
	return event
}

func TestBus_PublishReceive(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("a")

	e := NewMessage("ServerA", "Alice", "hello")
	bus.Publish(e)
	assert.Equal(t, e, recvWithin(t, sub))
}

func TestBus_EverySubscriberGetsEveryEventInOrder(t *testing.T) {
	bus := NewBus(8)
	a := bus.Subscribe("a")
	b := bus.Subscribe("b")

	events := []Event{
		NewJoin("ServerA", "Alice"),
		NewMessage("Discord", "bob", "hi"),
		NewPart("ServerB", "Carol"),
	}
	for _, e := range events {
		bus.Publish(e)
	}

	for _, sub := range []*Subscription{a, b} {
		for _, want := range events {
			assert.Equal(t, want, recvWithin(t, sub), sub.Name())
		}
	}
}

func TestBus_SubscribeStartsAtHead(t *testing.T) {
	bus := NewBus(8)
	bus.Publish(NewJoin("S", "early"))

	sub := bus.Subscribe("late")
	bus.Publish(NewJoin("S", "late"))
	assert.Equal(t, "late", recvWithin(t, sub).Actor)
}

func TestBus_RecvBlocksUntilPublish(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("a")

	got := make(chan Event, 1)
	go func() {
		e, err := sub.Recv(t.Context())
		if err == nil {
			got <- e
		}
	}()

	select {
	case e := <-got:
		t.Fatalf("received %+v before publish", e)
	case <-time.After(20 * time.Millisecond):
	}

	bus.Publish(NewJoin("S", "Alice"))
	select {
	case e := <-got:
		assert.Equal(t, "Alice", e.Actor)
	case <-time.After(time.Second):
		t.Fatal("receiver was not woken")
	}
}

func TestBus_LaggingSubscriberSkipsToOldest(t *testing.T) {
	bus := NewBus(3)
	var (
		lagged  string
		skipped uint64
	)
	bus.OnLag = func(sub *Subscription, n uint64) {
		lagged, skipped = sub.Name(), n
	}
	slow := bus.Subscribe("slow")

	for _, actor := range []string{"a", "b", "c", "d", "e"} {
		bus.Publish(NewJoin("S", actor))
	}

	assert.Equal(t, "c", recvWithin(t, slow).Actor)
	assert.Equal(t, "slow", lagged)
	assert.Equal(t, uint64(2), skipped)
	assert.Equal(t, "d", recvWithin(t, slow).Actor)
	assert.Equal(t, "e", recvWithin(t, slow).Actor)
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus(2)
	_ = bus.Subscribe("never-reads")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(NewJoin("S", "x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on an idle subscriber")
	}
}

func TestBus_RecvCancelled(t *testing.T) {
	bus := NewBus(2)
	sub := bus.Subscribe("a")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := sub.Recv(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(2)
	sub := bus.Subscribe("a")

	errs := make(chan error, 1)
	go func() {
		_, err := sub.Recv(t.Context())
		errs <- err
	}()
	bus.Close()
	bus.Close()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrBusClosed)
	case <-time.After(time.Second):
		t.Fatal("receiver was not woken by Close")
	}
	bus.Publish(NewJoin("S", "ignored"))
}

func TestBus_SubscriptionClose(t *testing.T) {
	bus := NewBus(2)
	a := bus.Subscribe("a")
	_ = bus.Subscribe("b")
	require.Equal(t, 2, bus.Subscribers())

	a.Close()
	a.Close()
	assert.Equal(t, 1, bus.Subscribers())
}

func TestBus_ConcurrentPublishersKeepPerSourceOrder(t *testing.T) {
	const perSource = 200
	bus := NewBus(4 * perSource)
	sub := bus.Subscribe("reader")

	var wg sync.WaitGroup
	for _, source := range []string{"A", "B", "C"} {
		wg.Go(func() {
			for i := 0; i < perSource; i++ {
				bus.Publish(NewMessage(source, "p", string(rune('0'+i%10))))
			}
		})
	}
	wg.Wait()

	counts := map[string]int{}
	for i := 0; i < 3*perSource; i++ {
		e := recvWithin(t, sub)
		want := string(rune('0' + counts[e.Source]%10))
		require.Equal(t, want, e.Body, "source %s out of order", e.Source)
		counts[e.Source]++
	}
	assert.Equal(t, map[string]int{"A": perSource, "B": perSource, "C": perSource}, counts)
}
