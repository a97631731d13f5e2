package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/permalinkserbia/hunting-corner-mobile-app/internal/pusherproto"
)

type socket struct {
	conn *websocket.Conn
	id   string

	mu       sync.Mutex
	channels map[string]bool
}

func (sk *socket) subscribed(channel string) bool {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	return sk.channels[channel]
}

func (sk *socket) send(ctx context.Context, event, channel string, data any) error {
	frame, err := pusherproto.ServerFrame(event, channel, data)
	if err != nil {
		return err
	}
	return sk.conn.Write(ctx, websocket.MessageText, frame)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.socketSeq++
	sk := &socket{
		conn:     conn,
		id:       fmt.Sprintf("%d.%d", 1000+s.socketSeq, time.Now().UnixNano()%1000000),
		channels: map[string]bool{},
	}
	s.sockets[sk] = struct{}{}
	timeout := s.activityTimeout
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sockets, sk)
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()
	established := pusherproto.ConnectionEstablished{SocketID: sk.id, ActivityTimeout: timeout}
	if err := sk.send(ctx, pusherproto.EventConnectionEstablished, "", established); err != nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env pusherproto.Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		switch env.Event {
		case pusherproto.EventPing:
			s.mu.Lock()
			mute := s.mutePongs
			s.mu.Unlock()
			if !mute {
				sk.send(ctx, pusherproto.EventPong, "", map[string]any{})
			}
		case pusherproto.EventSubscribe:
			var sub pusherproto.SubscribeData
			if env.Decode(&sub) != nil {
				continue
			}
			if pusherproto.IsPrivate(sub.Channel) && !s.authz.Verify(sub.Auth, sk.id, sub.Channel) {
				sk.send(ctx, pusherproto.EventError, "", pusherproto.ErrorData{
					Message: "Invalid signature", Code: pusherproto.CodeUnauthorized,
				})
				continue
			}
			sk.mu.Lock()
			sk.channels[sub.Channel] = true
			sk.mu.Unlock()
			sk.send(ctx, pusherproto.EventSubscriptionSucceeded, sub.Channel, map[string]any{})
		case pusherproto.EventUnsubscribe:
			var unsub pusherproto.UnsubscribeData
			if env.Decode(&unsub) != nil {
				continue
			}
			sk.mu.Lock()
			delete(sk.channels, unsub.Channel)
			sk.mu.Unlock()
		}
	}
}

func (s *Server) snapshotSockets() []*socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*socket, 0, len(s.sockets))
	for sk := range s.sockets {
		out = append(out, sk)
	}
	return out
}

// Broadcast sends event on channel to every subscribed socket and reports
// how many received it.
func (s *Server) Broadcast(channel, event string, data any) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n := 0
	for _, sk := range s.snapshotSockets() {
		if !sk.subscribed(channel) {
			continue
		}
		if sk.send(ctx, event, channel, data) == nil {
			n++
		}
	}
	return n
}

// SendError pushes a pusher:error frame to every socket.
func (s *Server) SendError(code int, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, sk := range s.snapshotSockets() {
		sk.send(ctx, pusherproto.EventError, "", pusherproto.ErrorData{Message: message, Code: code})
	}
}

// DropSockets closes every socket as if the network went away.
func (s *Server) DropSockets() {
	for _, sk := range s.snapshotSockets() {
		sk.conn.Close(websocket.StatusGoingAway, "dropped")
	}
}

// SetActivityTimeout changes the activity_timeout, in seconds, announced to
// sockets opened afterwards.
func (s *Server) SetActivityTimeout(seconds int) {
	s.mu.Lock()
	s.activityTimeout = seconds
	s.mu.Unlock()
}

// MutePongs stops answering pusher:ping.
func (s *Server) MutePongs(mute bool) {
	s.mu.Lock()
	s.mutePongs = mute
	s.mu.Unlock()
}

// SocketCount is the number of open sockets.
func (s *Server) SocketCount() int {
	return len(s.snapshotSockets())
}

// Subscriptions lists the channels any socket is subscribed to, sorted.
func (s *Server) Subscriptions() []string {
	seen := map[string]bool{}
	for _, sk := range s.snapshotSockets() {
		sk.mu.Lock()
		for ch := range sk.channels {
			seen[ch] = true
		}
		sk.mu.Unlock()
	}
	out := make([]string, 0, len(seen))
	for ch := range seen {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// WaitSubscribed polls until some socket is subscribed to channel.
func (s *Server) WaitSubscribed(channel string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, sk := range s.snapshotSockets() {
			if sk.subscribed(channel) {
				return true
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitSockets polls until exactly n sockets are open.
func (s *Server) WaitSockets(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.SocketCount() == n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
