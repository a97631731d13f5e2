package huntingcorner

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/permalinkserbia/hunting-corner-mobile-app/internal/backendtest"
)

var testUser = backendtest.User{ID: 1, Name: "T", Email: "test@example.com"}

const testPassword = "password123"

// newBackend starts a fake backend with the test account.
func newBackend(t *testing.T) *backendtest.Server {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	srv.AddUser(testUser, testPassword)
	return srv
}

// switchTransport fails every request with a transport error while down is
// set, and can park one request until the test releases it.
type switchTransport struct {
	base http.RoundTripper
	down atomic.Bool
	hold atomic.Pointer[func(*http.Request)]
}

func (s *switchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if h := s.hold.Load(); h != nil {
		(*h)(req)
	}
	if s.down.Load() {
		return nil, errors.New("network is unreachable")
	}
	return s.base.RoundTrip(req)
}

// holdRequest parks the first request for method+path (path includes /api).
// entered fires once it is parked; release lets it continue.
func (s *switchTransport) holdRequest(t *testing.T, method, path string) (entered <-chan struct{}, release func()) {
	t.Helper()
	in := make(chan struct{})
	gate := make(chan struct{})
	var parked atomic.Bool
	h := func(req *http.Request) {
		if req.Method != method || req.URL.Path != path || !parked.CompareAndSwap(false, true) {
			return
		}
		close(in)
		<-gate
	}
	s.hold.Store(&h)

	var once sync.Once
	release = func() {
		once.Do(func() {
			s.hold.Store(nil)
			close(gate)
		})
	}
	t.Cleanup(release)
	return in, release
}

// waitFor fails the test if ch does not fire in time.
func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

type testClientOptions struct {
	cfg   func(*Config)
	store Store
	opts  []ClientOption
}

// newTestClient builds a Client wired to srv with short realtime timings.
// The returned transport can take the network down.
func newTestClient(t *testing.T, srv *backendtest.Server, o testClientOptions) (*Client, *switchTransport) {
	t.Helper()
	cfg := Config{
		BaseURL:               srv.APIURL,
		PusherKey:             backendtest.AppKey,
		RealtimeURL:           srv.SocketURL,
		RealtimeRecoveryDelay: 20 * time.Millisecond,
		SubscribeBackoff:      10 * time.Millisecond,
		LogoutGrace:           50 * time.Millisecond,
	}
	if o.cfg != nil {
		o.cfg(&cfg)
	}
	st := o.store
	if st == nil {
		st = NewMemoryStore()
	}
	transport := &switchTransport{base: http.DefaultTransport}
	opts := append([]ClientOption{
		WithStore(st),
		WithHTTPClient(&http.Client{Transport: transport, Timeout: 5 * time.Second}),
		WithLogger(zerolog.Nop()),
	}, o.opts...)

	c, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, transport
}

// loginClient builds a client and signs in as the test user with tokens A/R.
func loginClient(t *testing.T, srv *backendtest.Server, o testClientOptions) (*Client, *switchTransport) {
	t.Helper()
	srv.QueueTokens([]string{"A"}, []string{"R"})
	c, tr := newTestClient(t, srv, o)
	require.NoError(t, c.Session().Login(context.Background(), Credentials{Email: testUser.Email, Password: testPassword}))
	return c, tr
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msg)
}
