package huntingcorner

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPosts(t *testing.T) {
	ctx := context.Background()

	t.Run("list caches the first page", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		srv.AddPost("first")
		srv.AddPost("second")

		page, err := c.Posts().List(ctx, 1)
		require.NoError(t, err)
		require.False(t, page.FromCache)
		require.Len(t, page.Data, 2)
		require.Equal(t, "second", page.Data[0].Content)
		require.Equal(t, 1, page.Meta.CurrentPage)

		var cached Page[Post]
		require.True(t, c.Cache().Get(ctx, CacheTimelinePosts, &cached))
		require.Len(t, cached.Data, 2)
	})

	t.Run("later pages are not cached", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		_, err := c.Posts().List(ctx, 2)
		require.NoError(t, err)
		var cached Page[Post]
		require.False(t, c.Cache().Get(ctx, CacheTimelinePosts, &cached))
	})

	t.Run("network failure serves the cache", func(t *testing.T) {
		srv := newBackend(t)
		c, tr := loginClient(t, srv, testClientOptions{})
		srv.AddPost("kept")
		_, err := c.Posts().List(ctx, 1)
		require.NoError(t, err)

		tr.down.Store(true)
		page, err := c.Posts().List(ctx, 1)
		require.NoError(t, err)
		require.True(t, page.FromCache)
		require.Equal(t, "kept", page.Data[0].Content)
	})

	t.Run("offline without cache fails", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		c.Queue().SetOnline(false)
		_, err := c.Posts().List(ctx, 1)
		require.ErrorIs(t, err, ErrOffline)
		require.True(t, IsNetwork(err))
	})

	t.Run("api errors bypass the cache", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		_, err := c.Posts().List(ctx, 1)
		require.NoError(t, err)

		srv.Fail(http.MethodGet, "/posts", http.StatusInternalServerError, 1, "boom")
		_, err = c.Posts().List(ctx, 1)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, "boom", apiErr.Message)
	})

	t.Run("create like comment", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})

		post, err := c.Posts().Create(ctx, CreatePostOptions{Content: "buck", Tags: []string{"deer"}})
		require.NoError(t, err)
		require.Equal(t, "buck", post.Content)
		require.Equal(t, "T", post.User.Name)

		require.NoError(t, c.Posts().Like(ctx, post.ID))
		got, err := c.Posts().Get(ctx, post.ID)
		require.NoError(t, err)
		require.True(t, got.Liked)
		require.Equal(t, 1, got.LikesCount)

		require.NoError(t, c.Posts().Unlike(ctx, post.ID))
		got, err = c.Posts().Get(ctx, post.ID)
		require.NoError(t, err)
		require.False(t, got.Liked)

		comment, err := c.Posts().Comment(ctx, post.ID, "nice")
		require.NoError(t, err)
		require.Equal(t, "nice", comment.Content)
		require.Equal(t, post.ID, comment.PostID)
	})

	t.Run("offline create is queued", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		c.Queue().SetOnline(false)

		post, err := c.Posts().Create(ctx, CreatePostOptions{Content: "later"})
		require.ErrorIs(t, err, ErrQueued)
		require.Nil(t, post)
		require.Len(t, c.Queue().Pending(ctx), 1)

		c.Queue().SetOnline(true)
		eventually(t, func() bool { return len(srv.Posts()) == 1 }, "queued post never replayed")
		require.Equal(t, "later", srv.Posts()[0]["content"])
	})
}

func TestAds(t *testing.T) {
	ctx := context.Background()

	t.Run("filters go on the query string", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		srv.AddAd("Rifle", "weapons")
		srv.AddAd("Boots", "clothing")

		page, err := c.Ads().List(ctx, 1, AdFilter{Category: "weapons", PriceMin: 10.5})
		require.NoError(t, err)
		require.Len(t, page.Data, 1)
		require.Equal(t, "Rifle", page.Data[0].Title)

		var cached Page[Ad]
		require.False(t, c.Cache().Get(ctx, CacheAds, &cached), "filtered pages are not cached")

		all, err := c.Ads().List(ctx, 1, AdFilter{})
		require.NoError(t, err)
		require.Len(t, all.Data, 2)
		require.True(t, c.Cache().Get(ctx, CacheAds, &cached))
	})

	t.Run("create get favorite", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})

		ad, err := c.Ads().Create(ctx, CreateAdOptions{Title: "Decoys", Price: 40, Category: "gear"})
		require.NoError(t, err)
		require.NotZero(t, ad.ID)

		require.NoError(t, c.Ads().Favorite(ctx, ad.ID))
		got, err := c.Ads().Get(ctx, ad.ID)
		require.NoError(t, err)
		require.True(t, got.Favorited)

		require.NoError(t, c.Ads().Unfavorite(ctx, ad.ID))
		got, err = c.Ads().Get(ctx, ad.ID)
		require.NoError(t, err)
		require.False(t, got.Favorited)
	})

	t.Run("missing ad", func(t *testing.T) {
		srv := newBackend(t)
		c, _ := loginClient(t, srv, testClientOptions{})
		_, err := c.Ads().Get(ctx, 404)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusNotFound, apiErr.Status)
	})
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	srv := newBackend(t)
	c, _ := loginClient(t, srv, testClientOptions{})
	srv.AddNotification("n1", "like", false)
	srv.AddNotification("n2", "comment", false)
	srv.AddNotification("n3", "follow", true)

	ns, err := c.Notifications().List(ctx)
	require.NoError(t, err)
	require.Len(t, ns, 3)
	require.Equal(t, 2, UnreadCount(ns))

	require.NoError(t, c.Notifications().MarkRead(ctx, "n1"))
	ns, err = c.Notifications().List(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, UnreadCount(ns))

	require.NoError(t, c.Notifications().MarkAllRead(ctx))
	ns, err = c.Notifications().List(ctx)
	require.NoError(t, err)
	require.Zero(t, UnreadCount(ns))

	c.Queue().SetOnline(false)
	cached, err := c.Notifications().List(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 3)
}

func TestFeedEvents(t *testing.T) {
	ctx := context.Background()
	srv := newBackend(t)
	c := connectedClient(t, srv, testClientOptions{})

	ads := make(chan *Ad, 4)
	notes := make(chan *Notification, 4)
	require.NoError(t, c.Ads().OnCreated(ctx, func(a *Ad) { ads <- a }))
	require.NoError(t, c.Notifications().OnCreated(ctx, func(n *Notification) { notes <- n }))
	require.True(t, srv.WaitSubscribed("ads", 3*time.Second))

	_, err := c.Ads().Create(ctx, CreateAdOptions{Title: "Blind"})
	require.NoError(t, err)
	select {
	case a := <-ads:
		require.Equal(t, "Blind", a.Title)
	case <-time.After(3 * time.Second):
		t.Fatal("ad.created not delivered")
	}

	srv.Broadcast(userChannel, EventNotificationCreated, map[string]any{"notification": map[string]any{"id": "n9", "type": "like"}})
	select {
	case n := <-notes:
		require.Equal(t, "n9", n.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("notification.created not delivered")
	}

	c.Ads().StopUpdates()
	c.Notifications().StopUpdates()
	c.Posts().StopUpdates()
	require.Zero(t, c.Realtime().Handlers())
}
