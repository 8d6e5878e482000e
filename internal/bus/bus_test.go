// ABOUTME: Tests for the agent bus including registration, ordering, and request/reply.
// ABOUTME: Validates timeouts, stale replies, handler failure recovery, and shutdown.

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marksk1/chatmarket-mvp/internal/message"
)

// setupBusTest creates a bus that is closed when the test ends.
func setupBusTest(t *testing.T) *Bus {
	t.Helper()
	b := New(Config{
		Logger:         slog.Default(),
		RequestTimeout: time.Second,
	})
	t.Cleanup(b.Close)
	return b
}

// echoHandler replies to every request with a ChatReply carrying the query text.
func echoHandler(b *Bus) Handler {
	return b.Respond(func(_ context.Context, env message.Envelope) (message.Payload, error) {
		q, ok := env.Payload.(message.BuyerQuery)
		if !ok {
			return nil, fmt.Errorf("unexpected payload %s", env.Payload.Kind())
		}
		return message.ChatReply{UserID: q.UserID, Text: "echo: " + q.Message}, nil
	})
}

func TestRegister(t *testing.T) {
	t.Run("rejects duplicate address", func(t *testing.T) {
		b := setupBusTest(t)
		noop := func(context.Context, message.Envelope) error { return nil }

		require.NoError(t, b.Register("agent", noop))
		err := b.Register("agent", noop)
		assert.ErrorIs(t, err, ErrDuplicateAddress)
	})

	t.Run("lists addresses sorted", func(t *testing.T) {
		b := setupBusTest(t)
		noop := func(context.Context, message.Envelope) error { return nil }

		require.NoError(t, b.Register("pricing", noop))
		require.NoError(t, b.Register("listing", noop))

		assert.Equal(t, []string{"listing", "pricing"}, b.Addresses())
	})

	t.Run("unregister frees the name", func(t *testing.T) {
		b := setupBusTest(t)
		noop := func(context.Context, message.Envelope) error { return nil }

		require.NoError(t, b.Register("agent", noop))
		b.Unregister("agent")
		assert.NoError(t, b.Register("agent", noop))
	})

	t.Run("fails after close", func(t *testing.T) {
		b := New(Config{})
		b.Close()
		err := b.Register("agent", func(context.Context, message.Envelope) error { return nil })
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestSend(t *testing.T) {
	t.Run("unknown address", func(t *testing.T) {
		b := setupBusTest(t)
		err := b.Send("user:1", "nobody", message.BuyerQuery{UserID: "1"})
		assert.ErrorIs(t, err, ErrUnknownAddress)
	})

	t.Run("preserves order per sender", func(t *testing.T) {
		b := setupBusTest(t)

		const n = 200
		var mu sync.Mutex
		got := make(map[string][]string)
		var wg sync.WaitGroup
		wg.Add(2 * n)

		require.NoError(t, b.Register("sink", func(_ context.Context, env message.Envelope) error {
			defer wg.Done()
			q := env.Payload.(message.BuyerQuery)
			mu.Lock()
			got[env.From] = append(got[env.From], q.Message)
			mu.Unlock()
			return nil
		}))

		for i := 0; i < n; i++ {
			require.NoError(t, b.Send("alice", "sink", message.BuyerQuery{Message: fmt.Sprint(i)}))
			require.NoError(t, b.Send("bob", "sink", message.BuyerQuery{Message: fmt.Sprint(i)}))
		}
		wg.Wait()

		for _, sender := range []string{"alice", "bob"} {
			require.Len(t, got[sender], n)
			for i, m := range got[sender] {
				assert.Equal(t, fmt.Sprint(i), m, "sender %s out of order", sender)
			}
		}
	})

	t.Run("different senders run concurrently", func(t *testing.T) {
		b := setupBusTest(t)

		release := make(chan struct{})
		entered := make(chan string, 2)
		require.NoError(t, b.Register("sink", func(_ context.Context, env message.Envelope) error {
			entered <- env.From
			<-release
			return nil
		}))

		require.NoError(t, b.Send("alice", "sink", message.BuyerQuery{}))
		require.NoError(t, b.Send("bob", "sink", message.BuyerQuery{}))

		// Both handlers must be inside at once; a serial mailbox would block here.
		for i := 0; i < 2; i++ {
			select {
			case <-entered:
			case <-time.After(time.Second):
				t.Fatal("handlers for different senders did not run concurrently")
			}
		}
		close(release)
	})
}

func TestRequest(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		b := setupBusTest(t)
		require.NoError(t, b.Register("echo", echoHandler(b)))

		reply, err := b.Request(context.Background(), "user:1", "echo", message.BuyerQuery{UserID: "1", Message: "hi"}, time.Second)
		require.NoError(t, err)

		chat, ok := reply.(message.ChatReply)
		require.True(t, ok)
		assert.Equal(t, "echo: hi", chat.Text)
		assert.Equal(t, 0, b.PendingCount())
	})

	t.Run("unregistered address times out", func(t *testing.T) {
		b := setupBusTest(t)

		start := time.Now()
		reply, err := b.Request(context.Background(), "user:1", "X", message.BuyerQuery{}, 200*time.Millisecond)
		elapsed := time.Since(start)

		assert.Nil(t, reply)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
		assert.Less(t, elapsed, 250*time.Millisecond)
	})

	t.Run("silent handler times out and late reply is stale", func(t *testing.T) {
		b := setupBusTest(t)

		captured := make(chan message.Envelope, 1)
		require.NoError(t, b.Register("slow", func(_ context.Context, env message.Envelope) error {
			captured <- env
			return nil
		}))

		_, err := b.Request(context.Background(), "user:1", "slow", message.BuyerQuery{}, 50*time.Millisecond)
		require.ErrorIs(t, err, ErrTimeout)

		env := <-captured
		err = b.Reply(env.CorrelationID, env.From, message.ChatReply{Text: "too late"})
		assert.ErrorIs(t, err, ErrStaleCorrelation)
	})

	t.Run("second reply is stale", func(t *testing.T) {
		b := setupBusTest(t)

		secondErr := make(chan error, 1)
		require.NoError(t, b.Register("twice", func(_ context.Context, env message.Envelope) error {
			first := b.Reply(env.CorrelationID, env.From, message.ChatReply{Text: "first"})
			if first != nil {
				return first
			}
			secondErr <- b.Reply(env.CorrelationID, env.From, message.ChatReply{Text: "second"})
			return nil
		}))

		reply, err := b.Request(context.Background(), "user:1", "twice", message.BuyerQuery{}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "first", reply.(message.ChatReply).Text)
		assert.ErrorIs(t, <-secondErr, ErrStaleCorrelation)
	})

	t.Run("reply to unknown id is stale", func(t *testing.T) {
		b := setupBusTest(t)
		err := b.Reply("does-not-exist", "user:1", message.ChatReply{})
		assert.ErrorIs(t, err, ErrStaleCorrelation)
	})

	t.Run("misaddressed reply is rejected and request still answerable", func(t *testing.T) {
		b := setupBusTest(t)

		misaddressed := make(chan error, 1)
		require.NoError(t, b.Register("confused", func(_ context.Context, env message.Envelope) error {
			misaddressed <- b.Reply(env.CorrelationID, "someone-else", message.ChatReply{Text: "wrong"})
			return b.Reply(env.CorrelationID, env.From, message.ChatReply{Text: "right"})
		}))

		reply, err := b.Request(context.Background(), "user:1", "confused", message.BuyerQuery{}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "right", reply.(message.ChatReply).Text)
		assert.ErrorIs(t, <-misaddressed, ErrStaleCorrelation)
	})

	t.Run("handler error becomes failure", func(t *testing.T) {
		b := setupBusTest(t)
		require.NoError(t, b.Register("broken", func(context.Context, message.Envelope) error {
			return errors.New("catalog unavailable")
		}))

		_, err := b.Request(context.Background(), "user:1", "broken", message.BuyerQuery{}, time.Second)

		var herr *HandlerError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, "broken", herr.Agent)
		assert.Contains(t, herr.Reason, "catalog unavailable")
	})

	t.Run("handler panic becomes failure and bus keeps working", func(t *testing.T) {
		b := setupBusTest(t)
		require.NoError(t, b.Register("panicky", func(context.Context, message.Envelope) error {
			panic("boom")
		}))
		require.NoError(t, b.Register("echo", echoHandler(b)))

		_, err := b.Request(context.Background(), "user:1", "panicky", message.BuyerQuery{}, time.Second)
		var herr *HandlerError
		require.ErrorAs(t, err, &herr)
		assert.Contains(t, herr.Reason, "boom")

		reply, err := b.Request(context.Background(), "user:1", "echo", message.BuyerQuery{Message: "still here"}, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "echo: still here", reply.(message.ChatReply).Text)
	})

	t.Run("caller cancellation is not a timeout", func(t *testing.T) {
		b := setupBusTest(t)
		require.NoError(t, b.Register("silent", func(context.Context, message.Envelope) error { return nil }))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		_, err := b.Request(ctx, "user:1", "silent", message.BuyerQuery{}, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTimeout)
	})

	t.Run("concurrent requests are correlated", func(t *testing.T) {
		b := setupBusTest(t)
		require.NoError(t, b.Register("echo", echoHandler(b)))

		const n = 50
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				msg := fmt.Sprintf("m%d", i)
				reply, err := b.Request(context.Background(), fmt.Sprintf("user:%d", i), "echo", message.BuyerQuery{Message: msg}, time.Second)
				if err != nil {
					errs <- err
					return
				}
				if got := reply.(message.ChatReply).Text; got != "echo: "+msg {
					errs <- fmt.Errorf("request %d got %q", i, got)
				}
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Error(err)
		}
		assert.Equal(t, 0, b.PendingCount())
	})
}

func TestClose(t *testing.T) {
	t.Run("releases waiting requesters", func(t *testing.T) {
		b := New(Config{Logger: slog.Default()})

		entered := make(chan struct{})
		require.NoError(t, b.Register("blocker", func(ctx context.Context, _ message.Envelope) error {
			close(entered)
			<-ctx.Done()
			return ctx.Err()
		}))

		done := make(chan error, 1)
		go func() {
			_, err := b.Request(context.Background(), "user:1", "blocker", message.BuyerQuery{}, 5*time.Second)
			done <- err
		}()

		<-entered
		b.Close()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("request was not released by Close")
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		b := New(Config{})
		b.Close()
		assert.NotPanics(t, b.Close)
	})

	t.Run("send after close", func(t *testing.T) {
		b := New(Config{})
		b.Close()
		assert.ErrorIs(t, b.Send("a", "b", message.BuyerQuery{}), ErrClosed)
	})
}
