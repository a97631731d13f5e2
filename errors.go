package huntingcorner

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	ErrNoRefreshToken      = errors.New("no refresh token available")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrLoggingOut          = errors.New("logout in progress")
	ErrQueued              = errors.New("request queued for replay")
	ErrRealtimeUnavailable = errors.New("realtime connection unavailable")
	ErrOffline             = errors.New("offline")
)

// ============================================================================
// Typed errors
// ============================================================================

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
	Body    []byte `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
}

// AuthError reports invalid credentials or an unusable refresh token.
// Message is safe to show to the user.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "auth: " + e.Message + ": " + e.Err.Error()
	}
	return "auth: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError means the backend could not be reached.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return "network: " + e.Op + ": " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

// StorageError wraps a persistence read/write failure.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RealtimeAuthError is returned when the backend rejects a channel authorization.
type RealtimeAuthError struct {
	Channel string
	Status  int
	Err     error
}

func (e *RealtimeAuthError) Error() string {
	return fmt.Sprintf("realtime: authorize %s: status %d: %v", e.Channel, e.Status, e.Err)
}

func (e *RealtimeAuthError) Unwrap() error { return e.Err }

// TokenRejected reports whether the status indicates an expired or invalid token.
func (e *RealtimeAuthError) TokenRejected() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// ============================================================================
// Helpers
// ============================================================================

// IsUnauthorized reports whether err carries a 401 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

func storageErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Key: key, Err: err}
}
