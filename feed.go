package huntingcorner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ============================================================================
// Shared helpers
// ============================================================================

// listCached GETs a page and caches it under key. When the queue is offline,
// or the backend cannot be reached, the cached copy is returned instead.
func listCached[T any](ctx context.Context, c *Client, path string, query url.Values, key string) (*Page[T], error) {
	if !c.queue.IsOnline() {
		return fromCache[T](ctx, c, key, &NetworkError{Op: "GET " + path, Err: ErrOffline})
	}

	var page Page[T]
	err := c.gateway.Get(ctx, path, query, &page)
	if err != nil {
		if IsNetwork(err) {
			return fromCache[T](ctx, c, key, err)
		}
		return nil, err
	}
	if key != "" {
		c.cache.Set(ctx, key, &page)
	}
	return &page, nil
}

func fromCache[T any](ctx context.Context, c *Client, key string, cause error) (*Page[T], error) {
	if key == "" {
		return nil, cause
	}
	var page Page[T]
	if !c.cache.Get(ctx, key, &page) {
		return nil, cause
	}
	page.FromCache = true
	return &page, nil
}

func pageQuery(page int) url.Values {
	if page < 1 {
		page = 1
	}
	return url.Values{"page": {strconv.Itoa(page)}}
}

// ============================================================================
// Posts
// ============================================================================

// PostsClient reads and writes the timeline.
type PostsClient struct{ c *Client }

// List fetches a timeline page. The first page is cached under
// CacheTimelinePosts and served from there while offline.
func (p *PostsClient) List(ctx context.Context, page int) (*Page[Post], error) {
	key := ""
	if page <= 1 {
		key = CacheTimelinePosts
	}
	return listCached[Post](ctx, p.c, "/posts", pageQuery(page), key)
}

func (p *PostsClient) Get(ctx context.Context, id int64) (*Post, error) {
	var post Post
	if err := p.c.gateway.Get(ctx, fmt.Sprintf("/posts/%d", id), nil, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// Create publishes a post. Offline it is queued and ErrQueued is returned.
func (p *PostsClient) Create(ctx context.Context, opts CreatePostOptions) (*Post, error) {
	var post Post
	err := p.c.queue.Dispatch(ctx, &Request{Method: http.MethodPost, Path: "/posts", Body: opts}, &post)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (p *PostsClient) Like(ctx context.Context, id int64) error {
	return p.c.queue.Dispatch(ctx, &Request{Method: http.MethodPost, Path: fmt.Sprintf("/posts/%d/like", id)}, nil)
}

func (p *PostsClient) Unlike(ctx context.Context, id int64) error {
	return p.c.queue.Dispatch(ctx, &Request{Method: http.MethodDelete, Path: fmt.Sprintf("/posts/%d/like", id)}, nil)
}

func (p *PostsClient) Comment(ctx context.Context, id int64, content string) (*Comment, error) {
	var comment Comment
	err := p.c.queue.Dispatch(ctx, &Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/posts/%d/comments", id),
		Body:   map[string]string{"content": content},
	}, &comment)
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// OnCreated calls fn for every post.created event on the user channel.
func (p *PostsClient) OnCreated(ctx context.Context, fn func(*Post)) error {
	return p.c.realtime.Subscribe(ctx, EventPostCreated, func(data json.RawMessage) {
		ev, err := decodeJSON[PostCreatedEvent](data)
		if err != nil || ev.Post == nil {
			p.c.logger.Debug().Err(err).Msg("ignoring malformed post.created")
			return
		}
		fn(ev.Post)
	}, ChannelUser)
}

func (p *PostsClient) StopUpdates() {
	p.c.realtime.Unsubscribe(EventPostCreated, ChannelUser)
}

// ============================================================================
// Ads
// ============================================================================

// AdsClient reads and writes classified ads.
type AdsClient struct{ c *Client }

// List fetches an ads page. The unfiltered first page is cached under CacheAds.
func (a *AdsClient) List(ctx context.Context, page int, filter AdFilter) (*Page[Ad], error) {
	q := pageQuery(page)
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	if filter.Region != "" {
		q.Set("region", filter.Region)
	}
	if filter.PriceMin > 0 {
		q.Set("price_min", strconv.FormatFloat(filter.PriceMin, 'f', -1, 64))
	}
	if filter.PriceMax > 0 {
		q.Set("price_max", strconv.FormatFloat(filter.PriceMax, 'f', -1, 64))
	}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}

	key := ""
	if page <= 1 && filter == (AdFilter{}) {
		key = CacheAds
	}
	return listCached[Ad](ctx, a.c, "/ads", q, key)
}

func (a *AdsClient) Get(ctx context.Context, id int64) (*Ad, error) {
	var ad Ad
	if err := a.c.gateway.Get(ctx, fmt.Sprintf("/ads/%d", id), nil, &ad); err != nil {
		return nil, err
	}
	return &ad, nil
}

// Create publishes an ad. Offline it is queued and ErrQueued is returned.
func (a *AdsClient) Create(ctx context.Context, opts CreateAdOptions) (*Ad, error) {
	var ad Ad
	if err := a.c.queue.Dispatch(ctx, &Request{Method: http.MethodPost, Path: "/ads", Body: opts}, &ad); err != nil {
		return nil, err
	}
	return &ad, nil
}

func (a *AdsClient) Favorite(ctx context.Context, id int64) error {
	return a.c.queue.Dispatch(ctx, &Request{Method: http.MethodPost, Path: fmt.Sprintf("/ads/%d/favorite", id)}, nil)
}

func (a *AdsClient) Unfavorite(ctx context.Context, id int64) error {
	return a.c.queue.Dispatch(ctx, &Request{Method: http.MethodDelete, Path: fmt.Sprintf("/ads/%d/favorite", id)}, nil)
}

// OnCreated calls fn for every ad.created event on the ads channel.
func (a *AdsClient) OnCreated(ctx context.Context, fn func(*Ad)) error {
	return a.c.realtime.Subscribe(ctx, EventAdCreated, func(data json.RawMessage) {
		ev, err := decodeJSON[AdCreatedEvent](data)
		if err != nil || ev.Ad == nil {
			a.c.logger.Debug().Err(err).Msg("ignoring malformed ad.created")
			return
		}
		fn(ev.Ad)
	}, ChannelAds)
}

func (a *AdsClient) StopUpdates() {
	a.c.realtime.Unsubscribe(EventAdCreated, ChannelAds)
}

// ============================================================================
// Notifications
// ============================================================================

// NotificationsClient reads the notification inbox.
type NotificationsClient struct{ c *Client }

// List fetches the inbox, cached under CacheNotifications.
func (n *NotificationsClient) List(ctx context.Context) ([]Notification, error) {
	page, err := listCached[Notification](ctx, n.c, "/notifications", nil, CacheNotifications)
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

func (n *NotificationsClient) MarkRead(ctx context.Context, id string) error {
	path := "/notifications/" + url.PathEscape(id) + "/read"
	return n.c.queue.Dispatch(ctx, &Request{Method: http.MethodPut, Path: path}, nil)
}

func (n *NotificationsClient) MarkAllRead(ctx context.Context) error {
	return n.c.queue.Dispatch(ctx, &Request{Method: http.MethodPost, Path: "/notifications/read-all"}, nil)
}

// OnCreated calls fn for every notification.created event on the user channel.
func (n *NotificationsClient) OnCreated(ctx context.Context, fn func(*Notification)) error {
	return n.c.realtime.Subscribe(ctx, EventNotificationCreated, func(data json.RawMessage) {
		ev, err := decodeJSON[NotificationCreatedEvent](data)
		if err != nil || ev.Notification == nil {
			n.c.logger.Debug().Err(err).Msg("ignoring malformed notification.created")
			return
		}
		fn(ev.Notification)
	}, ChannelUser)
}

func (n *NotificationsClient) StopUpdates() {
	n.c.realtime.Unsubscribe(EventNotificationCreated, ChannelUser)
}

// UnreadCount counts notifications without a read timestamp.
func UnreadCount(ns []Notification) int {
	count := 0
	for _, x := range ns {
		if x.ReadAt == nil {
			count++
		}
	}
	return count
}
