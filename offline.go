package huntingcorner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ============================================================================
// Types
// ============================================================================

// RequestConfig is the non-body part of a queued request.
type RequestConfig struct {
	Query   url.Values        `json:"query,omitempty"`
	Form    url.Values        `json:"form,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// QueuedRequest is a mutation held for replay. ID and Seq identify it;
// EnqueuedAt is informational.
type QueuedRequest struct {
	ID         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	Method     string          `json:"method"`
	URL        string          `json:"url"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Config     RequestConfig   `json:"config"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func (r *QueuedRequest) request() *Request {
	req := &Request{
		Method:  r.Method,
		Path:    r.URL,
		Query:   r.Config.Query,
		Form:    r.Config.Form,
		Headers: r.Config.Headers,
	}
	if len(r.Payload) > 0 {
		req.Body = r.Payload
	}
	return req
}

// DrainResult reports one replay pass. Skipped is set when the queue was
// offline or another drain was already running.
type DrainResult struct {
	Processed int
	Failed    int
	Skipped   bool
}

// Queue events.
const (
	QueueEventOnline   = "network.online"
	QueueEventOffline  = "network.offline"
	QueueEventEnqueued = "queue.enqueued"
	QueueEventReplayed = "queue.replayed"
	QueueEventFailed   = "queue.failed"
	QueueEventDrained  = "queue.drained"
)

// ============================================================================
// Event Emitter
// ============================================================================

// QueueEventHandler handles queue events.
type QueueEventHandler func(event string, payload any)

type queueEmitter struct {
	mu        sync.RWMutex
	listeners map[string][]QueueEventHandler
}

// On registers handler for event.
func (e *queueEmitter) On(event string, handler QueueEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], handler)
}

func (e *queueEmitter) emit(event string, payload any) {
	e.mu.RLock()
	handlers := e.listeners[event]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // swallow panics in user callbacks
			h(event, payload)
		}()
	}
}

// ============================================================================
// Queue
// ============================================================================

// Queue holds mutating requests made while offline and replays them in
// order once connectivity returns. The list is persisted under
// KeyOfflineQueue. Storage failures are logged, never returned.
type Queue struct {
	queueEmitter
	store   Store
	gateway *Gateway
	logger  zerolog.Logger
	now     func() time.Time

	// mu serializes read-modify-write of the persisted list.
	mu       sync.Mutex
	online   bool
	draining bool
	seq      uint64
}

func newQueue(store Store, gateway *Gateway, now func() time.Time, logger zerolog.Logger) *Queue {
	return &Queue{
		queueEmitter: queueEmitter{listeners: make(map[string][]QueueEventHandler)},
		store:        store,
		gateway:      gateway,
		logger:       logger,
		now:          now,
		online:       true,
	}
}

// IsOnline returns current network state.
func (q *Queue) IsOnline() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// SetOnline updates network state. Going from offline to online starts a
// drain in the background.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	if q.online == online {
		q.mu.Unlock()
		return
	}
	q.online = online
	q.mu.Unlock()

	if online {
		q.emit(QueueEventOnline, nil)
		go q.Drain(context.Background())
	} else {
		q.emit(QueueEventOffline, nil)
	}
}

// Enqueue appends req to the persisted list.
func (q *Queue) Enqueue(ctx context.Context, req *Request) (QueuedRequest, error) {
	var payload json.RawMessage
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return QueuedRequest{}, fmt.Errorf("failed to marshal queued request: %w", err)
		}
		payload = b
	}

	id := uuid.NewString()
	headers := map[string]string{"Idempotency-Key": id}
	for k, v := range req.Headers {
		headers[k] = v
	}

	q.mu.Lock()
	list := q.loadLocked(ctx)
	for _, r := range list {
		if r.Seq > q.seq {
			q.seq = r.Seq
		}
	}
	q.seq++
	qr := QueuedRequest{
		ID:         id,
		Seq:        q.seq,
		Method:     req.Method,
		URL:        req.Path,
		Payload:    payload,
		Config:     RequestConfig{Query: req.Query, Form: req.Form, Headers: headers},
		EnqueuedAt: q.now().UTC(),
	}
	q.saveLocked(ctx, append(list, qr))
	q.mu.Unlock()

	q.logger.Debug().Str("id", qr.ID).Str("method", qr.Method).Str("url", qr.URL).Msg("request queued")
	q.emit(QueueEventEnqueued, qr)
	return qr, nil
}

// Pending returns the queued requests in replay order.
func (q *Queue) Pending(ctx context.Context) []QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadLocked(ctx)
}

// Clear drops every queued request.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.Remove(ctx, KeyOfflineQueue); err != nil {
		q.logger.Error().Err(err).Msg("clear offline queue")
	}
}

// Drain replays every queued request in order through the gateway and
// removes the ones that succeeded. Requests enqueued while it runs are kept
// for the next pass. A concurrent call returns immediately with Skipped set.
func (q *Queue) Drain(ctx context.Context) DrainResult {
	q.mu.Lock()
	if !q.online || q.draining {
		q.mu.Unlock()
		return DrainResult{Skipped: true}
	}
	q.draining = true
	pending := q.loadLocked(ctx)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	var res DrainResult
	if len(pending) == 0 {
		return res
	}

	done := make(map[string]bool, len(pending))
	for i := range pending {
		r := &pending[i]
		if err := q.gateway.Do(ctx, r.request(), nil); err != nil {
			res.Failed++
			q.logger.Warn().Err(err).Str("id", r.ID).Str("url", r.URL).Msg("replay failed")
			q.emit(QueueEventFailed, map[string]any{"id": r.ID, "error": err.Error()})
			continue
		}
		res.Processed++
		done[r.ID] = true
		q.emit(QueueEventReplayed, map[string]any{"id": r.ID})
	}

	q.mu.Lock()
	latest := q.loadLocked(ctx)
	remaining := latest[:0]
	for _, r := range latest {
		if !done[r.ID] {
			remaining = append(remaining, r)
		}
	}
	q.saveLocked(ctx, remaining)
	q.mu.Unlock()

	q.logger.Debug().Int("processed", res.Processed).Int("failed", res.Failed).Msg("offline queue drained")
	q.emit(QueueEventDrained, res)
	return res
}

// Dispatch sends a mutation, queueing it instead when offline or when the
// backend cannot be reached. A queued request returns ErrQueued.
func (q *Queue) Dispatch(ctx context.Context, req *Request, out any) error {
	if !q.IsOnline() {
		return q.enqueueForLater(ctx, req)
	}
	err := q.gateway.Do(ctx, req, out)
	if err != nil && IsNetwork(err) {
		return q.enqueueForLater(ctx, req)
	}
	return err
}

func (q *Queue) enqueueForLater(ctx context.Context, req *Request) error {
	if _, err := q.Enqueue(ctx, req); err != nil {
		return err
	}
	return ErrQueued
}

// ============================================================================
// Persistence
// ============================================================================

func (q *Queue) loadLocked(ctx context.Context) []QueuedRequest {
	raw, ok, err := q.store.Get(ctx, KeyOfflineQueue)
	if err != nil {
		q.logger.Error().Err(err).Msg("read offline queue")
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var list []QueuedRequest
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		q.logger.Error().Err(err).Msg("offline queue is corrupt")
		return nil
	}
	return list
}

func (q *Queue) saveLocked(ctx context.Context, list []QueuedRequest) {
	if len(list) == 0 {
		if err := q.store.Remove(ctx, KeyOfflineQueue); err != nil {
			q.logger.Error().Err(err).Msg("write offline queue")
		}
		return
	}
	raw, err := json.Marshal(list)
	if err != nil {
		q.logger.Error().Err(err).Msg("encode offline queue")
		return
	}
	if err := q.store.Set(ctx, KeyOfflineQueue, string(raw)); err != nil {
		q.logger.Error().Err(err).Msg("write offline queue")
	}
}
