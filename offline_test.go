package huntingcorner

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueEnqueue(t *testing.T) {
	ctx := context.Background()
	srv := newBackend(t)
	st := NewMemoryStore()
	c, _ := newTestClient(t, srv, testClientOptions{store: st})
	q := c.Queue()

	var events []string
	q.On(QueueEventEnqueued, func(event string, payload any) { events = append(events, event) })

	first, err := q.Enqueue(ctx, &Request{Method: http.MethodPost, Path: "/posts", Body: map[string]string{"content": "one"}})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, &Request{Method: http.MethodPost, Path: "/posts/1/like"})
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
	require.Greater(t, second.Seq, first.Seq)
	require.Equal(t, first.ID, first.Config.Headers["Idempotency-Key"])
	require.JSONEq(t, `{"content":"one"}`, string(first.Payload))
	require.Len(t, events, 2)

	pending := q.Pending(ctx)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)

	raw, ok, _ := st.Get(ctx, KeyOfflineQueue)
	require.True(t, ok)
	var persisted []QueuedRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	require.Len(t, persisted, 2)

	t.Run("seq continues after reload", func(t *testing.T) {
		reloaded, _ := newTestClient(t, srv, testClientOptions{store: st})
		third, err := reloaded.Queue().Enqueue(ctx, &Request{Method: http.MethodDelete, Path: "/posts/1/like"})
		require.NoError(t, err)
		require.Greater(t, third.Seq, second.Seq)
	})

	t.Run("clear", func(t *testing.T) {
		q.Clear(ctx)
		require.Empty(t, q.Pending(ctx))
		_, ok, _ := st.Get(ctx, KeyOfflineQueue)
		require.False(t, ok)
	})
}

func TestQueueDrain(t *testing.T) {
	ctx := context.Background()

	t.Run("replays in order and removes successes", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		q := c.Queue()
		srv.AddPost("hello")

		_, err := q.Enqueue(ctx, &Request{Method: http.MethodPost, Path: "/posts", Body: map[string]string{"content": "queued"}})
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, &Request{Method: http.MethodPost, Path: "/posts/999/like"})
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, &Request{Method: http.MethodPost, Path: "/notifications/read-all"})
		require.NoError(t, err)

		res := q.Drain(ctx)
		require.Equal(t, DrainResult{Processed: 2, Failed: 1}, res)

		pending := q.Pending(ctx)
		require.Len(t, pending, 1)
		require.Equal(t, "/posts/999/like", pending[0].URL)

		var order []string
		for _, r := range srv.Requests() {
			if r.Method == http.MethodPost && r.Path != "/auth/login" {
				order = append(order, r.Path)
			}
		}
		require.Equal(t, []string{"/posts", "/posts/999/like", "/notifications/read-all"}, order)

		posts := srv.Posts()
		require.Equal(t, "queued", posts[0]["content"])
	})

	t.Run("replay carries the idempotency key", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		qr, err := c.Queue().Enqueue(ctx, &Request{Method: http.MethodPost, Path: "/notifications/read-all"})
		require.NoError(t, err)

		var seen string
		c.Queue().On(QueueEventReplayed, func(_ string, payload any) {
			seen = payload.(map[string]any)["id"].(string)
		})
		c.Queue().Drain(ctx)
		require.Equal(t, qr.ID, seen)
	})

	t.Run("offline drain is skipped", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := newTestClient(t, srv, testClientOptions{})
		c.Queue().SetOnline(false)
		_, _ = c.Queue().Enqueue(ctx, &Request{Method: http.MethodPost, Path: "/posts"})

		require.True(t, c.Queue().Drain(ctx).Skipped)
		require.Len(t, c.Queue().Pending(ctx), 1)
	})

	t.Run("concurrent drain is skipped", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := newTestClient(t, srv, testClientOptions{})
		q := c.Queue()
		q.mu.Lock()
		q.draining = true
		q.mu.Unlock()

		require.True(t, q.Drain(ctx).Skipped)

		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	})

	t.Run("requests enqueued mid-drain survive", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		q := c.Queue()
		_, _ = q.Enqueue(ctx, &Request{Method: http.MethodPost, Path: "/notifications/read-all"})

		var once sync.Once
		q.On(QueueEventReplayed, func(string, any) {
			once.Do(func() {
				_, _ = q.Enqueue(ctx, &Request{Method: http.MethodPost, Path: "/posts", Body: map[string]string{"content": "late"}})
			})
		})

		res := q.Drain(ctx)
		require.Equal(t, 1, res.Processed)
		pending := q.Pending(ctx)
		require.Len(t, pending, 1)
		require.Equal(t, "/posts", pending[0].URL)
	})

	t.Run("coming online drains in the background", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		q := c.Queue()
		q.SetOnline(false)
		_, _ = q.Enqueue(ctx, &Request{Method: http.MethodPost, Path: "/notifications/read-all"})

		q.SetOnline(true)
		eventually(t, func() bool { return len(q.Pending(ctx)) == 0 }, "queue never drained")
		require.Len(t, srv.RequestsTo(http.MethodPost, "/notifications/read-all"), 1)
	})
}

func TestQueueDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("online passes through", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		var post Post
		err := c.Queue().Dispatch(ctx, &Request{Method: http.MethodPost, Path: "/posts", Body: CreatePostOptions{Content: "hi"}}, &post)
		require.NoError(t, err)
		require.Equal(t, "hi", post.Content)
		require.Empty(t, c.Queue().Pending(ctx))
	})

	t.Run("offline queues", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		c.Queue().SetOnline(false)
		err := c.Queue().Dispatch(ctx, &Request{Method: http.MethodPost, Path: "/posts"}, nil)
		require.ErrorIs(t, err, ErrQueued)
		require.Len(t, c.Queue().Pending(ctx), 1)
		require.Empty(t, srv.RequestsTo(http.MethodPost, "/posts"))
	})

	t.Run("network error queues", func(t *testing.T) {
		srv := newBackend(t)
		c, tr := loginClient(t, srv, testClientOptions{})
		tr.down.Store(true)
		err := c.Queue().Dispatch(ctx, &Request{Method: http.MethodPost, Path: "/posts"}, nil)
		require.ErrorIs(t, err, ErrQueued)
		require.Len(t, c.Queue().Pending(ctx), 1)
	})

	t.Run("api errors are returned, not queued", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		err := c.Queue().Dispatch(ctx, &Request{Method: http.MethodPost, Path: "/posts/42/comments", Body: map[string]string{"content": "x"}}, nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusNotFound, apiErr.Status)
		require.Empty(t, c.Queue().Pending(ctx))
	})
}
