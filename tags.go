package huntingcorner

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"
)

// minTagQuery is the shortest query sent to the backend.
const minTagQuery = 2

// TagsClient suggests hashtags while composing a post. Results are memoized
// per lowercased query for the life of the client.
type TagsClient struct {
	c *Client

	mu   sync.Mutex
	memo map[string][]Tag
}

// Suggest returns tags matching query. Queries shorter than two characters
// return nothing without a request.
func (t *TagsClient) Suggest(ctx context.Context, query string) ([]Tag, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minTagQuery {
		return nil, nil
	}
	key := strings.ToLower(query)

	t.mu.Lock()
	if tags, ok := t.memo[key]; ok {
		t.mu.Unlock()
		return tags, nil
	}
	t.mu.Unlock()

	if !t.c.queue.IsOnline() {
		return nil, &NetworkError{Op: "GET /tags", Err: ErrOffline}
	}
	var raw json.RawMessage
	if err := t.c.gateway.Get(ctx, "/tags", url.Values{"suggest": {query}}, &raw); err != nil {
		return nil, err
	}
	tags, err := decodeTags(raw)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.memo == nil {
		t.memo = map[string][]Tag{}
	}
	t.memo[key] = tags
	t.mu.Unlock()
	return tags, nil
}

// decodeTags accepts {"data": [...]} or a bare array.
func decodeTags(raw json.RawMessage) ([]Tag, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var wrapped struct {
			Data []Tag `json:"data"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, err
		}
		return wrapped.Data, nil
	}
	var tags []Tag
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}
