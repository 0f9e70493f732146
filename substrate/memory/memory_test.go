package memory_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/substrate"
	"github.com/flowforge/orchestrator/substrate/memory"
)

func TestSubscribe_AcksOnlyAfterHandlerSuccess(t *testing.T) {
	t.Parallel()
	bus := memory.New()
	require.NoError(t, bus.Publish(context.Background(), "ch", []byte("msg-1"), substrate.PublishOptions{}))

	var attempts atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = bus.Subscribe(ctx, "ch", substrate.SubscribeOptions{ConsumerGroup: "g", FromBeginning: true}, func(_ context.Context, payload []byte) error {
			n := attempts.Add(1)
			if n == 1 {
				return errors.New("boom")
			}
			close(done)
			cancel()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never succeeded")
	}
	require.Equal(t, int32(2), attempts.Load(), "failing handler must be retried with the same message")
}

func TestSubscribe_NewGroupSkipsPreExistingMessages(t *testing.T) {
	t.Parallel()
	bus := memory.New()
	require.NoError(t, bus.Publish(context.Background(), "ch", []byte("old"), substrate.PublishOptions{}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var received []string
	_ = bus.Subscribe(ctx, "ch", substrate.SubscribeOptions{ConsumerGroup: "fresh-group"}, func(_ context.Context, payload []byte) error {
		received = append(received, string(payload))
		return nil
	})

	require.Empty(t, received, "a group created on a non-empty channel must not see pre-existing messages")
}

func TestSubscribe_DeliversMessagesPublishedAfterGroupCreation(t *testing.T) {
	t.Parallel()
	bus := memory.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 1)
	go func() {
		_ = bus.Subscribe(ctx, "ch", substrate.SubscribeOptions{ConsumerGroup: "g"}, func(_ context.Context, payload []byte) error {
			received <- string(payload)
			return nil
		})
	}()

	// Give the subscriber a chance to register its group at the tail before
	// the first publish.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), "ch", []byte("new"), substrate.PublishOptions{}))

	select {
	case msg := <-received:
		require.Equal(t, "new", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message published after subscribe was never delivered")
	}
}
