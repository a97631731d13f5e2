package huntingcorner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Refresher is what the Gateway needs from the session to recover from a 401.
type Refresher interface {
	RefreshAccessToken(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

// Request describes one outbound call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	// Body is sent as JSON. Form takes precedence when set.
	Body any
	Form url.Values

	// NoRefresh disables the 401 refresh-and-retry cycle. Auth endpoints use it.
	NoRefresh bool

	retried bool
}

// Gateway is the single configured HTTP client. It injects the current
// access token and retries once after a token refresh on 401.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger

	mu        sync.RWMutex
	token     string
	refresher Refresher
	// generation changes whenever the token is replaced by a different
	// session (login, restore, logout). A refresh keeps it.
	generation uint64
}

func newGateway(baseURL string, httpClient *http.Client, logger zerolog.Logger) *Gateway {
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// SetAuthToken sets or clears the bearer token for a new session. Requests
// still in flight under the previous token are not retried with this one.
func (g *Gateway) SetAuthToken(token string) {
	g.mu.Lock()
	g.token = token
	g.generation++
	g.mu.Unlock()
}

// rotateAuthToken replaces the token after a refresh within the same session.
func (g *Gateway) rotateAuthToken(token string) {
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
}

// AuthToken returns the token currently injected into requests.
func (g *Gateway) AuthToken() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token
}

func (g *Gateway) credentials() (string, uint64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token, g.generation
}

func (g *Gateway) setRefresher(r Refresher) {
	g.mu.Lock()
	g.refresher = r
	g.mu.Unlock()
}

// ============================================================================
// Request execution
// ============================================================================

// Do executes req and decodes a 2xx JSON body into out (if non-nil).
func (g *Gateway) Do(ctx context.Context, req *Request, out any) error {
	token, gen := g.credentials()
	data, err := g.sendWithToken(ctx, req, token)
	if err != nil && IsUnauthorized(err) && !req.NoRefresh && !req.retried {
		req.retried = true
		current, currentGen := g.credentials()
		switch {
		case currentGen != gen:
			// The session that sent it has ended. Never replay under another one.
			g.logger.Debug().Str("path", req.Path).Msg("401 from an ended session")
		case current != "" && current != token:
			// Refreshed by another caller while this request was in flight.
			data, err = g.sendWithToken(ctx, req, current)
		default:
			data, err = g.retryAfterRefresh(ctx, req, gen, err)
		}
	}
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// retryAfterRefresh refreshes and reissues req, provided the session that
// sent it (gen) is still the current one.
func (g *Gateway) retryAfterRefresh(ctx context.Context, req *Request, gen uint64, original error) ([]byte, error) {
	g.mu.RLock()
	r := g.refresher
	g.mu.RUnlock()
	if r == nil {
		return nil, original
	}

	token, err := r.RefreshAccessToken(ctx)
	_, currentGen := g.credentials()
	if err != nil {
		g.logger.Debug().Err(err).Str("path", req.Path).Msg("refresh after 401 failed")
		// A refresher that already ended the session, or a newer session,
		// must not be logged out from here.
		if errors.Is(err, ErrLoggingOut) || currentGen != gen {
			return nil, original
		}
		if lerr := r.Logout(ctx); lerr != nil && !errors.Is(lerr, ErrLoggingOut) {
			g.logger.Warn().Err(lerr).Msg("logout after failed refresh")
		}
		return nil, original
	}
	if currentGen != gen {
		return nil, original
	}
	return g.sendWithToken(ctx, req, token)
}

func (g *Gateway) sendWithToken(ctx context.Context, req *Request, token string) ([]byte, error) {
	u := g.resolve(req.Path)
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	contentType := ""
	switch {
	case req.Form != nil:
		bodyReader = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.Body != nil:
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: req.Method + " " + req.Path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "read " + req.Path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Body: data}
		_ = json.Unmarshal(data, apiErr)
		apiErr.Status = resp.StatusCode
		return nil, apiErr
	}
	return data, nil
}

func (g *Gateway) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return g.baseURL + path
}

// ============================================================================
// Convenience methods
// ============================================================================

func (g *Gateway) Get(ctx context.Context, path string, query url.Values, out any) error {
	return g.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

func (g *Gateway) Post(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

func (g *Gateway) Put(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

func (g *Gateway) Patch(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, &Request{Method: http.MethodPatch, Path: path, Body: body}, out)
}

func (g *Gateway) Delete(ctx context.Context, path string, out any) error {
	return g.Do(ctx, &Request{Method: http.MethodDelete, Path: path}, out)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}
