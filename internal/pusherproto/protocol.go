// Package pusherproto holds the wire format of the Pusher channels protocol
// (version 7) and the HMAC scheme used to authorize private channels.
package pusherproto

import (
	"encoding/json"
	"strings"
)

// Protocol events.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventSubscriptionError     = "pusher:subscription_error"
)

// Error codes the server sends in pusher:error. 4000-4099 mean do not reconnect.
const (
	CodeAppDisabled      = 4003
	CodeUnauthorized     = 4009
	CodeOverCapacity     = 4100
	CodeGenericReconnect = 4200
	CodePongNotReceived  = 4201
	CodeClosedInactivity = 4202
)

// Envelope is one frame on the socket.
type Envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ConnectionEstablished is the payload of the first server frame.
type ConnectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

// SubscribeData is sent by the client to join a channel.
type SubscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

type UnsubscribeData struct {
	Channel string `json:"channel"`
}

// ErrorData is the payload of pusher:error.
type ErrorData struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// AuthResponse is the body of a successful channel authorization.
type AuthResponse struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// Payload returns the event data with the server's string wrapping removed.
// Servers send data as a JSON-encoded string; clients send it as an object.
func (e Envelope) Payload() json.RawMessage {
	if len(e.Data) > 0 && e.Data[0] == '"' {
		var s string
		if err := json.Unmarshal(e.Data, &s); err == nil {
			return json.RawMessage(s)
		}
	}
	return e.Data
}

// Decode unmarshals the event payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload(), v)
}

// ClientFrame encodes a client-to-server frame with object data.
func ClientFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// ServerFrame encodes a server-to-client frame with string-wrapped data.
func ServerFrame(event, channel string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	wrapped, err := json.Marshal(string(raw))
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Channel: channel, Data: wrapped})
}

// IsPrivate reports whether channel needs authorization before subscribing.
func IsPrivate(channel string) bool {
	return strings.HasPrefix(channel, "private-") || strings.HasPrefix(channel, "presence-")
}

// IsProtocolEvent reports whether event belongs to the protocol rather than the app.
func IsProtocolEvent(event string) bool {
	return strings.HasPrefix(event, "pusher:") || strings.HasPrefix(event, "pusher_internal:")
}

// ShouldReconnect reports whether a pusher:error code permits reconnecting.
func ShouldReconnect(code int) bool {
	return code < 4000 || code >= 4100
}
