package huntingcorner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/permalinkserbia/hunting-corner-mobile-app/internal/pusherproto"
)

// Channel aliases subscribed eagerly on every connection.
const (
	ChannelUser     = "user"
	ChannelTimeline = "timeline"
	ChannelAds      = "ads"
)

// Event names broadcast by the backend.
const (
	EventPostCreated         = "post.created"
	EventAdCreated           = "ad.created"
	EventNotificationCreated = "notification.created"
)

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
)

// EventHandler receives the decoded-from-string payload of one event.
type EventHandler func(data json.RawMessage)

type subscriptionKey struct {
	channel string
	event   string
}

const (
	defaultActivityTimeout = 120 * time.Second
	maxPongWait            = 30 * time.Second
	handshakeTimeout       = 10 * time.Second
	maxAuthRecoveries      = 1
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector() *reconnector {
	return &reconnector{
		baseDelay:   1 * time.Second,
		maxDelay:    30 * time.Second,
		maxAttempts: 10,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// Realtime
// ============================================================================

// connectAttempt is the one-shot readiness signal shared by concurrent
// Initialize callers. done is closed exactly once, after err is set.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// Realtime manages the single multiplexed Pusher connection of a session.
type Realtime struct {
	cfg     *Config
	session *Session
	gateway *Gateway
	logger  zerolog.Logger
	now     func() time.Time

	// life is cancelled by Close; background reconnects and recoveries stop.
	life context.Context
	stop context.CancelFunc

	mu          sync.Mutex
	state       RealtimeState
	conn        *websocket.Conn
	socketID    string
	cancelConn  context.CancelFunc
	generation  uint64
	attempt     *connectAttempt
	channels    map[string]string // alias -> wire name
	handlers    map[subscriptionKey]EventHandler
	pong        chan struct{}
	recovering  bool
	recoveries  int
	noReconnect bool
	recon       *reconnector
}

func newRealtime(cfg *Config, session *Session, gateway *Gateway, now func() time.Time, logger zerolog.Logger) *Realtime {
	life, stop := context.WithCancel(context.Background())
	return &Realtime{
		cfg:      cfg,
		session:  session,
		gateway:  gateway,
		logger:   logger,
		now:      now,
		life:     life,
		stop:     stop,
		state:    StateDisconnected,
		channels: map[string]string{},
		handlers: map[subscriptionKey]EventHandler{},
		recon:    newReconnector(),
	}
}

// State returns the current connection state.
func (r *Realtime) State() RealtimeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Channels lists the wire names of the joined channels, sorted.
func (r *Realtime) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.channels))
	for _, name := range r.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Handlers reports how many event handlers are bound.
func (r *Realtime) Handlers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// ============================================================================
// Connect
// ============================================================================

// Initialize connects and joins the eager channels. It returns immediately
// when already connected; concurrent callers share the in-flight attempt.
func (r *Realtime) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateConnected {
		r.mu.Unlock()
		return nil
	}
	if a := r.attempt; a != nil {
		r.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a := &connectAttempt{done: make(chan struct{})}
	r.attempt = a
	r.state = StateConnecting
	gen := r.generation
	r.mu.Unlock()

	err := r.connect(ctx, gen)

	r.mu.Lock()
	r.attempt = nil
	if err != nil && r.generation == gen {
		r.state = StateDisconnected
	}
	r.mu.Unlock()

	a.err = err
	close(a.done)
	if err != nil {
		r.logger.Debug().Err(err).Msg("realtime initialize failed")
		return err
	}
	r.joinEager(ctx)
	return nil
}

func (r *Realtime) connect(ctx context.Context, gen uint64) error {
	if !r.session.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if r.cfg.PusherKey == "" && r.cfg.RealtimeURL == "" {
		return fmt.Errorf("%w: pusher key not configured", ErrRealtimeUnavailable)
	}
	if err := r.ensureFreshToken(ctx); err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, r.cfg.socketURL(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	// First frame must be connection_established.
	_, data, err := conn.Read(dialCtx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("read handshake: %w", err)
	}
	var env pusherproto.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event != pusherproto.EventConnectionEstablished {
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("expected %s, got %q", pusherproto.EventConnectionEstablished, env.Event)
	}
	var established pusherproto.ConnectionEstablished
	if err := env.Decode(&established); err != nil || established.SocketID == "" {
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("decode handshake: %w", err)
	}

	activity := time.Duration(established.ActivityTimeout) * time.Second
	if activity <= 0 {
		activity = defaultActivityTimeout
	}

	r.mu.Lock()
	if r.generation != gen || !r.session.IsAuthenticated() {
		// Disconnected or logged out while dialing.
		r.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "session ended")
		return fmt.Errorf("%w: session ended during connect", ErrRealtimeUnavailable)
	}
	connCtx, cancelConn := context.WithCancel(r.life)
	r.conn = conn
	r.socketID = established.SocketID
	r.cancelConn = cancelConn
	r.state = StateConnected
	r.noReconnect = false
	r.pong = make(chan struct{}, 1)
	r.recon.markConnected()
	pong := r.pong
	r.mu.Unlock()

	r.logger.Debug().Str("socket_id", established.SocketID).Msg("realtime connected")

	go r.readLoop(connCtx, conn, gen)
	go r.pingLoop(connCtx, conn, activity, pong)
	return nil
}

// ensureFreshToken refreshes at most once before connecting: when the access
// token is a JWT past its expiry, or when /me rejects it.
func (r *Realtime) ensureFreshToken(ctx context.Context) error {
	refreshed := false
	if tokenExpired(r.session.Snapshot().AccessToken, r.now()) {
		if _, err := r.session.RefreshAccessToken(ctx); err != nil {
			return fmt.Errorf("refresh expired token: %w", err)
		}
		refreshed = true
	}
	if !r.cfg.RealtimeValidateToken {
		return nil
	}

	err := r.gateway.Do(ctx, &Request{Method: http.MethodGet, Path: "/me", NoRefresh: true}, nil)
	if err == nil {
		return nil
	}
	if !IsUnauthorized(err) || refreshed {
		return fmt.Errorf("validate token: %w", err)
	}
	if _, err := r.session.RefreshAccessToken(ctx); err != nil {
		return fmt.Errorf("refresh rejected token: %w", err)
	}
	return nil
}

// tokenExpired reports whether token is a JWT whose exp has passed. Opaque
// tokens are never considered expired.
func tokenExpired(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

func (r *Realtime) joinEager(ctx context.Context) {
	aliases := map[string]bool{ChannelUser: true, ChannelTimeline: true, ChannelAds: true}
	r.mu.Lock()
	for k := range r.handlers {
		aliases[k.channel] = true
	}
	r.mu.Unlock()

	for alias := range aliases {
		if err := r.join(ctx, alias); err != nil {
			r.logger.Warn().Err(err).Str("channel", alias).Msg("realtime join failed")
		}
	}
}

// join subscribes the channel behind alias on the current connection.
func (r *Realtime) join(ctx context.Context, alias string) error {
	name, err := r.wireName(alias)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.state != StateConnected {
		r.mu.Unlock()
		return ErrRealtimeUnavailable
	}
	if _, ok := r.channels[alias]; ok {
		r.mu.Unlock()
		return nil
	}
	r.channels[alias] = name
	conn, socketID, gen := r.conn, r.socketID, r.generation
	r.mu.Unlock()

	sub := pusherproto.SubscribeData{Channel: name}
	if pusherproto.IsPrivate(name) {
		auth, err := r.authorize(ctx, socketID, name)
		if err != nil {
			r.forget(alias, gen)
			var authErr *RealtimeAuthError
			if errors.As(err, &authErr) && authErr.TokenRejected() {
				go r.recoverAuth(err)
			}
			return err
		}
		sub.Auth = auth
	}

	frame, err := pusherproto.ClientFrame(pusherproto.EventSubscribe, sub)
	if err != nil {
		r.forget(alias, gen)
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		r.forget(alias, gen)
		return fmt.Errorf("subscribe %s: %w", name, err)
	}
	return nil
}

func (r *Realtime) forget(alias string, gen uint64) {
	r.mu.Lock()
	if r.generation == gen {
		delete(r.channels, alias)
	}
	r.mu.Unlock()
}

func (r *Realtime) wireName(alias string) (string, error) {
	if alias != ChannelUser {
		return alias, nil
	}
	u := r.session.User()
	if u == nil {
		return "", ErrNotAuthenticated
	}
	return "private-user." + u.ID.String(), nil
}

// authorize asks the backend to sign a private channel for this socket.
// Refresh on 401 is left to recoverAuth, so the request skips the gateway's
// own refresh cycle.
func (r *Realtime) authorize(ctx context.Context, socketID, channel string) (string, error) {
	var resp pusherproto.AuthResponse
	err := r.gateway.Do(ctx, &Request{
		Method:    http.MethodPost,
		Path:      "/broadcasting/auth",
		Form:      url.Values{"socket_id": {socketID}, "channel_name": {channel}},
		NoRefresh: true,
	}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return "", &RealtimeAuthError{Channel: channel, Status: apiErr.Status, Err: err}
		}
		return "", err
	}
	if resp.Auth == "" {
		return "", &RealtimeAuthError{Channel: channel, Status: http.StatusOK, Err: errors.New("empty auth")}
	}
	return resp.Auth, nil
}

// ============================================================================
// Subscriptions
// ============================================================================

// Subscribe binds handler to event on channel ("" means the user channel),
// connecting first if needed. A second Subscribe for the same pair replaces
// the handler.
func (r *Realtime) Subscribe(ctx context.Context, event string, handler EventHandler, channel string) error {
	if channel == "" {
		channel = ChannelUser
	}
	if err := r.waitConnected(ctx); err != nil {
		r.logger.Warn().Err(err).Str("event", event).Str("channel", channel).Msg("realtime not initialized")
		return fmt.Errorf("%w: %w", ErrRealtimeUnavailable, err)
	}

	r.mu.Lock()
	r.handlers[subscriptionKey{channel: channel, event: event}] = handler
	r.mu.Unlock()

	return r.join(ctx, channel)
}

// waitConnected retries Initialize with a short bounded backoff while the
// session finishes authenticating.
func (r *Realtime) waitConnected(ctx context.Context) error {
	if r.State() == StateConnected {
		return nil
	}
	if r.cfg.PusherKey == "" && r.cfg.RealtimeURL == "" {
		return errors.New("pusher key not configured")
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.SubscribeBackoff
	b.MaxInterval = 10 * r.cfg.SubscribeBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.Initialize(ctx)
		if err != nil && errors.Is(err, context.Canceled) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(r.cfg.SubscribeRetries)))
	return err
}

// Unsubscribe removes the handler for event on channel. Absent pairs are ignored.
func (r *Realtime) Unsubscribe(event, channel string) {
	if channel == "" {
		channel = ChannelUser
	}
	r.mu.Lock()
	delete(r.handlers, subscriptionKey{channel: channel, event: event})
	r.mu.Unlock()
}

// Disconnect closes the connection and drops every channel and handler. Safe
// to call repeatedly.
func (r *Realtime) Disconnect() {
	r.teardown(false)
	r.mu.Lock()
	r.recon.reset()
	r.recoveries = 0
	r.mu.Unlock()
	r.logger.Debug().Msg("realtime disconnected")
}

// Close disconnects and stops background reconnects for good.
func (r *Realtime) Close() {
	r.stop()
	r.Disconnect()
}

func (r *Realtime) teardown(keepHandlers bool) {
	r.mu.Lock()
	r.generation++
	if r.cancelConn != nil {
		r.cancelConn()
		r.cancelConn = nil
	}
	conn := r.conn
	r.conn = nil
	r.socketID = ""
	r.state = StateDisconnected
	r.channels = map[string]string{}
	if !keepHandlers {
		r.handlers = map[subscriptionKey]EventHandler{}
	}
	r.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// ============================================================================
// Connection loops
// ============================================================================

func (r *Realtime) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			r.connectionLost(gen, err)
			return
		}

		var env pusherproto.Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		r.dispatch(ctx, conn, env)
	}
}

func (r *Realtime) dispatch(ctx context.Context, conn *websocket.Conn, env pusherproto.Envelope) {
	switch env.Event {
	case pusherproto.EventPing:
		if frame, err := pusherproto.ClientFrame(pusherproto.EventPong, map[string]any{}); err == nil {
			conn.Write(ctx, websocket.MessageText, frame)
		}
		return
	case pusherproto.EventPong:
		r.mu.Lock()
		pong := r.pong
		r.mu.Unlock()
		select {
		case pong <- struct{}{}:
		default:
		}
		return
	case pusherproto.EventSubscriptionSucceeded:
		r.logger.Debug().Str("channel", env.Channel).Msg("subscribed")
		if pusherproto.IsPrivate(env.Channel) {
			r.mu.Lock()
			r.recoveries = 0
			r.mu.Unlock()
		}
		return
	case pusherproto.EventError:
		var e pusherproto.ErrorData
		_ = env.Decode(&e)
		r.logger.Warn().Int("code", e.Code).Str("message", e.Message).Msg("realtime error")
		if e.Code == pusherproto.CodeUnauthorized {
			go r.recoverAuth(&RealtimeAuthError{Channel: env.Channel, Status: http.StatusUnauthorized, Err: errors.New(e.Message)})
			return
		}
		if e.Code != 0 && !pusherproto.ShouldReconnect(e.Code) {
			r.mu.Lock()
			r.noReconnect = true
			r.mu.Unlock()
		}
		return
	}
	if pusherproto.IsProtocolEvent(env.Event) {
		return
	}

	r.mu.Lock()
	var h EventHandler
	for alias, name := range r.channels {
		if name == env.Channel {
			h = r.handlers[subscriptionKey{channel: alias, event: env.Event}]
			break
		}
	}
	r.mu.Unlock()
	if h != nil {
		h(env.Payload())
	}
}

// pingLoop sends pusher:ping every activity interval and closes the socket
// when no pong arrives in time.
func (r *Realtime) pingLoop(ctx context.Context, conn *websocket.Conn, activity time.Duration, pong <-chan struct{}) {
	wait := activity
	if wait > maxPongWait {
		wait = maxPongWait
	}
	ticker := time.NewTicker(activity)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, _ := pusherproto.ClientFrame(pusherproto.EventPing, map[string]any{})
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-pong:
			timer.Stop()
		case <-timer.C:
			r.logger.Warn().Dur("wait", wait).Msg("realtime pong timeout")
			conn.Close(websocket.StatusGoingAway, "pong timeout")
			return
		}
	}
}

func (r *Realtime) connectionLost(gen uint64, cause error) {
	r.mu.Lock()
	if r.generation != gen {
		// Closed on purpose.
		r.mu.Unlock()
		return
	}
	r.generation++
	if r.cancelConn != nil {
		r.cancelConn()
		r.cancelConn = nil
	}
	r.conn = nil
	r.socketID = ""
	r.state = StateDisconnected
	r.channels = map[string]string{}
	reconnect := !r.cfg.NoAutoReconnect && !r.noReconnect
	r.mu.Unlock()

	r.logger.Warn().Err(cause).Bool("reconnect", reconnect).Msg("realtime connection lost")
	if reconnect {
		r.reconnectLoop()
	}
}

func (r *Realtime) reconnectLoop() {
	for {
		r.mu.Lock()
		if !r.recon.shouldReconnect() {
			r.mu.Unlock()
			r.logger.Warn().Msg("realtime reconnect attempts exhausted")
			return
		}
		delay := r.recon.nextDelay()
		attempt := r.recon.attempt
		gen := r.generation
		r.mu.Unlock()

		r.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("realtime reconnecting")
		timer := time.NewTimer(delay)
		select {
		case <-r.life.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		r.mu.Lock()
		stale := r.generation != gen
		r.mu.Unlock()
		if stale || !r.session.IsAuthenticated() {
			return
		}
		if err := r.Initialize(r.life); err == nil {
			return
		}
	}
}

// ============================================================================
// Auth recovery
// ============================================================================

// recoverAuth handles a rejected channel authorization: drop the connection,
// refresh the token and, only if that worked, reconnect after a delay. Handlers
// survive the cycle. One recovery runs at a time, and another only after a
// private channel has been joined successfully. Logout stays with the session.
func (r *Realtime) recoverAuth(cause error) {
	r.mu.Lock()
	if r.recovering || r.life.Err() != nil {
		r.mu.Unlock()
		return
	}
	if r.recoveries >= maxAuthRecoveries {
		r.mu.Unlock()
		r.logger.Warn().Err(cause).Msg("realtime authorization still rejected, live updates off")
		return
	}
	r.recovering = true
	r.recoveries++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.recovering = false
		r.mu.Unlock()
	}()

	r.logger.Warn().Err(cause).Msg("realtime authorization rejected, refreshing token")
	r.teardown(true)

	r.mu.Lock()
	gen := r.generation
	r.mu.Unlock()

	if _, err := r.session.RefreshAccessToken(r.life); err != nil {
		r.logger.Warn().Err(err).Msg("realtime recovery gave up")
		return
	}

	timer := time.NewTimer(r.cfg.RealtimeRecoveryDelay)
	select {
	case <-r.life.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	r.mu.Lock()
	stale := r.generation != gen
	r.mu.Unlock()
	if stale {
		return
	}
	if err := r.Initialize(r.life); err != nil {
		r.logger.Warn().Err(err).Msg("realtime reinitialize failed")
	}
}
