package pusherproto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ============================================================================
// Standalone Functions
// ============================================================================

// SignChannel returns the "<key>:<hex hmac>" string a backend hands to a
// client subscribing to a private channel.
func SignChannel(key, secret, socketID, channel string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(socketID + ":" + channel))
	return key + ":" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyChannelAuth checks an auth string produced by SignChannel.
// Uses constant-time comparison to prevent timing attacks.
func VerifyChannelAuth(auth, key, secret, socketID, channel string) bool {
	if auth == "" || key == "" || secret == "" || socketID == "" || channel == "" {
		return false
	}
	gotKey, sig, ok := strings.Cut(auth, ":")
	if !ok || sig == "" || gotKey != key {
		return false
	}

	expected := SignChannel(key, secret, socketID, channel)
	expected = expected[len(key)+1:]

	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseAuthRequest validates the form fields of a channel authorization request.
func ParseAuthRequest(socketID, channel string) error {
	if socketID == "" || channel == "" {
		return fmt.Errorf("missing socket_id or channel_name")
	}
	if !strings.Contains(socketID, ".") {
		return fmt.Errorf("malformed socket_id: %s", socketID)
	}
	if !IsPrivate(channel) {
		return fmt.Errorf("channel %s does not require authorization", channel)
	}
	return nil
}

// ============================================================================
// Authorizer
// ============================================================================

// AllowFunc decides whether the bearer token may join channel.
type AllowFunc func(token, channel string) bool

// Authorizer serves the backend side of private-channel authorization.
type Authorizer struct {
	key    string
	secret string
	allow  AllowFunc
}

// NewAuthorizer creates an authorizer for the app key/secret pair.
func NewAuthorizer(key, secret string, allow AllowFunc) (*Authorizer, error) {
	if key == "" || secret == "" {
		return nil, fmt.Errorf("app key and secret are required")
	}
	return &Authorizer{key: key, secret: secret, allow: allow}, nil
}

// Verify checks an auth string for socketID/channel.
func (a *Authorizer) Verify(auth, socketID, channel string) bool {
	return VerifyChannelAuth(auth, a.key, a.secret, socketID, channel)
}

// Handle authorizes one request. Returns the status code and response body
// for the caller to write.
func (a *Authorizer) Handle(token, socketID, channel string) (int, any) {
	if token == "" {
		return http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."}
	}
	if err := ParseAuthRequest(socketID, channel); err != nil {
		return http.StatusBadRequest, map[string]string{"message": err.Error()}
	}
	if a.allow != nil && !a.allow(token, channel) {
		return http.StatusForbidden, map[string]string{"message": "Forbidden."}
	}
	return http.StatusOK, AuthResponse{Auth: SignChannel(a.key, a.secret, socketID, channel)}
}

// HTTPHandler returns an http.Handler for POST /broadcasting/auth.
func (a *Authorizer) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(rw).Encode(map[string]string{"message": "Method not allowed"})
			return
		}
		if err := r.ParseForm(); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"message": "Failed to read body"})
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		statusCode, data := a.Handle(token, r.PostForm.Get("socket_id"), r.PostForm.Get("channel_name"))

		rw.WriteHeader(statusCode)
		json.NewEncoder(rw).Encode(data)
	})
}
