package huntingcorner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// PushRegistrar hands the device push token to the backend.
type PushRegistrar interface {
	Register(ctx context.Context) error
}

// SessionState is an immutable snapshot of the session.
type SessionState struct {
	AccessToken   string
	RefreshToken  string
	User          *User
	LoggingOut    bool
	Authenticated bool
}

// Session owns the token pair and the current user. It restores them from
// the Store at startup and keeps the Gateway's bearer token in sync.
type Session struct {
	gateway  *Gateway
	store    Store
	logger   zerolog.Logger
	platform Platform
	grace    time.Duration
	push     PushRegistrar

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	user         *User
	loggingOut   bool
	cleaning     bool
	epoch        uint64
	graceTimer   *time.Timer
	onLogout     []func()

	refreshGroup singleflight.Group
}

func newSession(gateway *Gateway, store Store, cfg *Config, push PushRegistrar, logger zerolog.Logger) *Session {
	s := &Session{
		gateway:  gateway,
		store:    store,
		logger:   logger,
		platform: cfg.Platform,
		grace:    cfg.LogoutGrace,
		push:     push,
	}
	gateway.setRefresher(s)
	return s
}

// OnLogout registers fn to run at the start of every logout.
func (s *Session) OnLogout(fn func()) {
	s.mu.Lock()
	s.onLogout = append(s.onLogout, fn)
	s.mu.Unlock()
}

// IsAuthenticated is false while a logout is draining, even if stale tokens
// are still held in memory.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticatedLocked()
}

func (s *Session) authenticatedLocked() bool {
	return s.accessToken != "" && s.user != nil && !s.loggingOut
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var u *User
	if s.user != nil {
		cp := *s.user
		u = &cp
	}
	return SessionState{
		AccessToken:   s.accessToken,
		RefreshToken:  s.refreshToken,
		User:          u,
		LoggingOut:    s.loggingOut,
		Authenticated: s.authenticatedLocked(),
	}
}

// User returns the cached profile, or nil when signed out.
func (s *Session) User() *User {
	return s.Snapshot().User
}

// ============================================================================
// Lifecycle
// ============================================================================

// Initialize restores a persisted session. It reports whether one was
// restored and does nothing while a logout is in progress.
func (s *Session) Initialize(ctx context.Context) bool {
	s.mu.RLock()
	if s.loggingOut {
		s.mu.RUnlock()
		return false
	}
	epoch := s.epoch
	s.mu.RUnlock()

	token, okToken, err := s.store.Get(ctx, KeyAccessToken)
	if err != nil {
		s.logger.Error().Err(err).Msg("session restore failed")
		return false
	}
	rawUser, okUser, err := s.store.Get(ctx, KeyUser)
	if err != nil {
		s.logger.Error().Err(err).Msg("session restore failed")
		return false
	}
	if !okToken || token == "" || !okUser || rawUser == "" {
		return false
	}
	refresh, _, err := s.store.Get(ctx, KeyRefreshToken)
	if err != nil {
		s.logger.Warn().Err(err).Msg("refresh token restore failed")
	}

	var user User
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		s.logger.Error().Err(err).Msg("persisted user is corrupt")
		return false
	}

	s.mu.Lock()
	if s.loggingOut || s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	s.accessToken = token
	s.refreshToken = refresh
	s.user = &user
	s.gateway.SetAuthToken(token)
	s.mu.Unlock()

	s.logger.Debug().Str("user", user.ID.String()).Msg("session restored")
	s.registerPush(ctx)
	return true
}

// Login authenticates with the backend. On failure the returned *AuthError
// carries the server message.
func (s *Session) Login(ctx context.Context, creds Credentials) error {
	return s.authenticate(ctx, "/auth/login", creds, "Login failed")
}

// Register creates an account and signs it in.
func (s *Session) Register(ctx context.Context, opts RegisterOptions) error {
	return s.authenticate(ctx, "/auth/register", opts, "Registration failed")
}

func (s *Session) authenticate(ctx context.Context, path string, body any, fallback string) error {
	s.mu.RLock()
	epoch := s.epoch
	s.mu.RUnlock()

	var resp authResponse
	err := s.gateway.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body, NoRefresh: true}, &resp)
	if err != nil {
		return &AuthError{Message: serverMessage(err, fallback), Err: err}
	}
	if resp.AccessToken == "" || resp.User == nil {
		return &AuthError{Message: fallback, Err: errors.New("incomplete auth response")}
	}
	if err := s.establish(ctx, epoch, &resp); err != nil {
		return &AuthError{Message: fallback, Err: err}
	}
	s.registerPush(ctx)
	return nil
}

func (s *Session) establish(ctx context.Context, epoch uint64, resp *authResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.cleaning {
		return ErrLoggingOut
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.loggingOut = false
	s.accessToken = resp.AccessToken
	s.refreshToken = resp.RefreshToken
	s.user = resp.User
	s.gateway.SetAuthToken(resp.AccessToken)

	s.persist(ctx, KeyAccessToken, resp.AccessToken)
	s.persist(ctx, KeyRefreshToken, resp.RefreshToken)
	if raw, err := json.Marshal(resp.User); err == nil {
		s.persist(ctx, KeyUser, string(raw))
	}
	return nil
}

// Logout tears the session down. Backend failure does not stop local
// cleanup. A second call while one is running returns ErrLoggingOut.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.cleaning {
		s.mu.Unlock()
		return ErrLoggingOut
	}
	s.loggingOut = true
	s.cleaning = true
	s.epoch++
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	token := s.accessToken
	hooks := append([]func(){}, s.onLogout...)
	s.mu.Unlock()

	for _, h := range hooks {
		h()
	}

	if token != "" {
		err := s.gateway.Do(ctx, &Request{Method: http.MethodPost, Path: "/auth/logout", NoRefresh: true}, nil)
		if err != nil {
			s.logger.Warn().Err(err).Msg("backend logout failed")
		}
	}

	s.mu.Lock()
	s.accessToken = ""
	s.refreshToken = ""
	s.user = nil
	s.gateway.SetAuthToken("")
	for _, k := range []string{KeyAccessToken, KeyRefreshToken, KeyUser} {
		if err := s.store.Remove(ctx, k); err != nil {
			s.logger.Error().Err(err).Str("key", k).Msg("remove persisted key")
		}
	}
	s.sweepResidue(ctx)
	s.cleaning = false
	epoch := s.epoch
	s.graceTimer = time.AfterFunc(s.grace, func() {
		s.mu.Lock()
		if s.epoch == epoch && !s.cleaning {
			s.loggingOut = false
		}
		s.mu.Unlock()
	})
	s.mu.Unlock()

	s.logger.Debug().Msg("logged out")
	return nil
}

// sweepResidue removes persisted keys that look like auth state. Callers hold s.mu.
func (s *Session) sweepResidue(ctx context.Context) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("list persisted keys")
		return
	}
	for _, k := range keys {
		if !isAuthResidue(k) {
			continue
		}
		if err := s.store.Remove(ctx, k); err != nil {
			s.logger.Warn().Err(err).Str("key", k).Msg("remove residual key")
		}
	}
}

func isAuthResidue(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, cacheNamespace) || k == KeyOfflineQueue {
		return false
	}
	return strings.Contains(k, "token") || strings.Contains(k, "auth") || strings.Contains(k, "user")
}

// ============================================================================
// Token refresh
// ============================================================================

// RefreshAccessToken mints a new access token. Concurrent callers share one
// backend request. Any failure logs the session out before returning.
func (s *Session) RefreshAccessToken(ctx context.Context) (string, error) {
	v, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Session) refresh(ctx context.Context) (string, error) {
	s.mu.RLock()
	refreshToken := s.refreshToken
	epoch := s.epoch
	s.mu.RUnlock()

	if refreshToken == "" {
		return "", &AuthError{Message: "No refresh token available", Err: ErrNoRefreshToken}
	}

	var resp refreshResponse
	err := s.gateway.Do(ctx, &Request{
		Method:    http.MethodPost,
		Path:      "/auth/refresh",
		Body:      map[string]string{"refresh_token": refreshToken},
		NoRefresh: true,
	}, &resp)
	if err == nil && resp.AccessToken == "" {
		err = errors.New("refresh response missing access_token")
	}
	if err != nil {
		if s.staleEpoch(epoch) {
			return "", &AuthError{Message: "Session ended", Err: ErrLoggingOut}
		}
		if lerr := s.Logout(ctx); lerr != nil && !errors.Is(lerr, ErrLoggingOut) {
			s.logger.Warn().Err(lerr).Msg("logout after failed refresh")
		}
		return "", &AuthError{Message: "Token refresh failed", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.loggingOut {
		return "", &AuthError{Message: "Session ended", Err: ErrLoggingOut}
	}
	s.accessToken = resp.AccessToken
	s.persist(ctx, KeyAccessToken, resp.AccessToken)
	if resp.RefreshToken != "" {
		s.refreshToken = resp.RefreshToken
		s.persist(ctx, KeyRefreshToken, resp.RefreshToken)
	}
	s.gateway.rotateAuthToken(resp.AccessToken)
	s.logger.Debug().Msg("access token refreshed")
	return resp.AccessToken, nil
}

func (s *Session) staleEpoch(epoch uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch != epoch
}

// FetchCurrentUser reloads the profile from /me.
func (s *Session) FetchCurrentUser(ctx context.Context) (*User, error) {
	s.mu.RLock()
	epoch := s.epoch
	s.mu.RUnlock()

	var user User
	if err := s.gateway.Get(ctx, "/me", nil, &user); err != nil {
		s.logger.Debug().Err(err).Msg("fetch current user failed")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.loggingOut {
		return nil, ErrLoggingOut
	}
	s.user = &user
	if raw, err := json.Marshal(&user); err == nil {
		s.persist(ctx, KeyUser, string(raw))
	}
	cp := user
	return &cp, nil
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Session) persist(ctx context.Context, key, value string) {
	if err := s.store.Set(ctx, key, value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("persist session key")
	}
}

func (s *Session) registerPush(ctx context.Context) {
	if s.platform != PlatformNative || s.push == nil {
		return
	}
	if err := s.push.Register(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("push registration failed")
	}
}

func serverMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
