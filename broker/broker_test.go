package broker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duocall/broker"
)

func receive(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestBroker(t *testing.T) {
	t.Run("given two subscribers when published then both receive in order", func(t *testing.T) {
		b := broker.New()
		first := b.Subscribe(broker.Signal, "s1bob")
		second := b.Subscribe(broker.Signal, "s1bob")

		require.NoError(t, b.Publish(broker.Signal, "s1bob", 1))
		require.NoError(t, b.Publish(broker.Signal, "s1bob", 2))

		assert.Equal(t, 1, receive(t, first.Receive()))
		assert.Equal(t, 2, receive(t, first.Receive()))
		assert.Equal(t, 1, receive(t, second.Receive()))
		assert.Equal(t, 2, receive(t, second.Receive()))
	})

	t.Run("given other detail when published then subscriber receives nothing", func(t *testing.T) {
		b := broker.New()
		sub := b.Subscribe(broker.Signal, "s1bob")

		require.NoError(t, b.Publish(broker.Signal, "s1alice", "x"))
		require.NoError(t, b.Publish(broker.Session, "s1bob", "y"))

		select {
		case msg := <-sub.Receive():
			t.Fatalf("unexpected message %v", msg)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("given unsubscribed when published then send does not block", func(t *testing.T) {
		b := broker.New()
		sub := b.Subscribe(broker.Session, "s1")
		require.NoError(t, b.Unsubscribe(broker.Session, "s1", sub))

		<-sub.Done()
		sub.Send("late")
		assert.NoError(t, b.Publish(broker.Session, "s1", "late"))
		assert.ErrorIs(t, b.Unsubscribe(broker.Session, "s1", sub), broker.ErrSubscriptionNotFound)
	})
}
