// Package huntingcorner is the client SDK for the Hunting Corner social
// feed: session and token lifecycle, the authenticated HTTP gateway, the
// realtime channel manager, the offline request queue and the response cache.
package huntingcorner

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Client
// ============================================================================

// Client owns every component of one app session. Build it with NewClient
// and release it with Close.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
	store      Store
	ownsStore  bool
	push       PushRegistrar

	gateway  *Gateway
	session  *Session
	cache    *Cache
	realtime *Realtime
	queue    *Queue

	posts         *PostsClient
	ads           *AdsClient
	notifications *NotificationsClient
	uploads       *UploadsClient
	tags          *TagsClient
	devices       *DeviceRegistrar
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.cfg.BaseURL = strings.TrimRight(url, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.cfg.BaseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.cfg.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithStore replaces the store OpenStore would pick. The caller keeps
// ownership; Close does not close it.
func WithStore(store Store) ClientOption {
	return func(c *Client) { c.store = store }
}

func WithPushRegistrar(p PushRegistrar) ClientOption {
	return func(c *Client) { c.push = p }
}

func WithRealtimeURL(url string) ClientOption {
	return func(c *Client) { c.cfg.RealtimeURL = url }
}

// WithNow overrides the clock used for cache ages, queue stamps and token expiry.
func WithNow(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient wires every component from cfg. Zero config fields take defaults.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg.defaults()

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.cfg.Timeout}
	}
	if c.store == nil {
		st, err := OpenStore(StoreOptions{Platform: c.cfg.Platform, Path: c.cfg.StorePath})
		if err != nil {
			return nil, err
		}
		c.store = st
		c.ownsStore = true
	}

	c.gateway = newGateway(c.cfg.BaseURL, c.httpClient, c.component("gateway"))
	c.cache = NewCache(Namespace(c.store, cacheNamespace), c.cfg.CacheTTL, c.component("cache"))
	c.cache.now = c.now

	c.devices = &DeviceRegistrar{
		gateway:  c.gateway,
		Token:    c.cfg.DeviceToken,
		Platform: string(c.cfg.Platform),
		logger:   c.component("push"),
	}
	if c.push == nil {
		c.push = c.devices
	}

	c.session = newSession(c.gateway, c.store, &c.cfg, c.push, c.component("session"))
	c.realtime = newRealtime(&c.cfg, c.session, c.gateway, c.now, c.component("realtime"))
	c.queue = newQueue(c.store, c.gateway, c.now, c.component("queue"))
	c.session.OnLogout(c.realtime.Disconnect)

	c.posts = &PostsClient{c: c}
	c.ads = &AdsClient{c: c}
	c.notifications = &NotificationsClient{c: c}
	c.uploads = &UploadsClient{c: c}
	c.tags = &TagsClient{c: c}
	return c, nil
}

func (c *Client) component(name string) zerolog.Logger {
	return c.logger.With().Str("component", name).Logger()
}

// Start restores a persisted session and, when one exists, connects realtime
// in the background. It reports whether a session was restored.
func (c *Client) Start(ctx context.Context) bool {
	if !c.session.Initialize(ctx) {
		return false
	}
	if c.cfg.PusherKey != "" || c.cfg.RealtimeURL != "" {
		go func() {
			if err := c.realtime.Initialize(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn().Err(err).Msg("realtime start failed")
			}
		}()
	}
	return true
}

// Close disconnects realtime and closes the store if the client opened it.
func (c *Client) Close() error {
	c.realtime.Close()
	if !c.ownsStore {
		return nil
	}
	if closer, ok := c.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

func (c *Client) Store() Store { return c.store }
func (c *Client) Gateway() *Gateway { return c.gateway }
func (c *Client) Session() *Session { return c.session }
func (c *Client) Cache() *Cache { return c.cache }
func (c *Client) Realtime() *Realtime { return c.realtime }
func (c *Client) Queue() *Queue { return c.queue }
func (c *Client) Posts() *PostsClient { return c.posts }
func (c *Client) Ads() *AdsClient { return c.ads }
func (c *Client) Notifications() *NotificationsClient { return c.notifications }
func (c *Client) Uploads() *UploadsClient { return c.uploads }
func (c *Client) Tags() *TagsClient { return c.tags }
func (c *Client) Devices() *DeviceRegistrar { return c.devices }
