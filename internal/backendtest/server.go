// Package backendtest runs an in-process Hunting Corner backend for tests:
// the REST API under /api, a signed-upload target under /storage and a
// Pusher-compatible realtime socket under /app/{key}.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/permalinkserbia/hunting-corner-mobile-app/internal/pusherproto"
)

const (
	AppKey    = "test-app-key"
	AppSecret = "test-app-secret"
)

// User is the account shape the backend returns.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Recorded is one request the backend received.
type Recorded struct {
	Method        string
	Path          string
	Authorization string
	Body          []byte
}

type account struct {
	user     User
	password string
}

type failure struct {
	status  int
	message string
}

// Server is a fake backend. All exported methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	// APIURL is the REST base, SocketURL the realtime endpoint.
	APIURL    string
	SocketURL string

	authz *pusherproto.Authorizer

	mu            sync.Mutex
	accounts      map[string]*account
	access        map[string]*User
	refresh       map[string]*User
	nextAccess    []string
	nextRefresh   []string
	seq           int
	refreshCalls  int
	refreshBroken bool
	failures      map[string][]failure
	requests      []Recorded
	posts         []map[string]any
	ads           []map[string]any
	notifications []map[string]any
	devices       []map[string]string
	uploads       map[string][]byte
	tags          []map[string]any

	sockets         map[*socket]struct{}
	socketSeq       int
	activityTimeout int
	mutePongs       bool
	rejectAuth      bool
}

// New starts a backend. Close it with t.Cleanup(srv.Close).
func New() *Server {
	s := &Server{
		activityTimeout: 120,
		accounts:        map[string]*account{},
		access:          map[string]*User{},
		refresh:         map[string]*User{},
		failures:        map[string][]failure{},
		uploads:         map[string][]byte{},
		sockets:         map[*socket]struct{}{},
	}
	s.authz, _ = pusherproto.NewAuthorizer(AppKey, AppSecret, func(token, channel string) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.rejectAuth {
			return false
		}
		u, ok := s.access[token]
		if !ok {
			return false
		}
		if strings.HasPrefix(channel, "private-user.") {
			return channel == fmt.Sprintf("private-user.%d", u.ID)
		}
		return true
	})

	s.Server = httptest.NewServer(s.router())
	s.APIURL = s.URL + "/api"
	s.SocketURL = "ws" + strings.TrimPrefix(s.URL, "http") + "/app/" + AppKey + "?protocol=7&client=test&version=1.0"
	return s
}

// Close drops every socket and stops the server.
func (s *Server) Close() {
	s.DropSockets()
	s.Server.Close()
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.record)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/login", s.handleLogin).Methods("POST")
	api.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
	api.HandleFunc("/auth/refresh", s.handleRefresh).Methods("POST")
	api.HandleFunc("/auth/logout", s.handleLogout).Methods("POST")
	api.HandleFunc("/me", s.authed(s.handleMe)).Methods("GET")
	api.HandleFunc("/broadcasting/auth", s.handleBroadcastAuth).Methods("POST")

	api.HandleFunc("/posts", s.authed(s.handleListPosts)).Methods("GET")
	api.HandleFunc("/posts", s.authed(s.handleCreatePost)).Methods("POST")
	api.HandleFunc("/posts/{id:[0-9]+}", s.authed(s.handleGetPost)).Methods("GET")
	api.HandleFunc("/posts/{id:[0-9]+}/like", s.authed(s.handleLike(true))).Methods("POST")
	api.HandleFunc("/posts/{id:[0-9]+}/like", s.authed(s.handleLike(false))).Methods("DELETE")
	api.HandleFunc("/posts/{id:[0-9]+}/comments", s.authed(s.handleComment)).Methods("POST")

	api.HandleFunc("/ads", s.authed(s.handleListAds)).Methods("GET")
	api.HandleFunc("/ads", s.authed(s.handleCreateAd)).Methods("POST")
	api.HandleFunc("/ads/{id:[0-9]+}", s.authed(s.handleGetAd)).Methods("GET")
	api.HandleFunc("/ads/{id:[0-9]+}/favorite", s.authed(s.handleFavorite(true))).Methods("POST")
	api.HandleFunc("/ads/{id:[0-9]+}/favorite", s.authed(s.handleFavorite(false))).Methods("DELETE")

	api.HandleFunc("/notifications", s.authed(s.handleListNotifications)).Methods("GET")
	api.HandleFunc("/notifications/read-all", s.authed(s.handleReadAll)).Methods("POST")
	api.HandleFunc("/notifications/register", s.authed(s.handleRegisterDevice)).Methods("POST")
	api.HandleFunc("/notifications/{id}/read", s.authed(s.handleMarkRead)).Methods("PUT")

	api.HandleFunc("/uploads/sign", s.authed(s.handleSignUpload)).Methods("POST")
	api.HandleFunc("/tags", s.authed(s.handleSuggestTags)).Methods("GET")
	r.HandleFunc("/storage/upload", s.handleStorageUpload).Methods("POST")
	r.HandleFunc("/storage/files/{key:.+}", s.handleStorageFile).Methods("GET")

	r.HandleFunc("/app/{key}", s.handleSocket)
	return r
}

// ============================================================================
// Test controls
// ============================================================================

// AddUser registers an account that can log in.
func (s *Server) AddUser(u User, password string) {
	s.mu.Lock()
	s.accounts[u.Email] = &account{user: u, password: password}
	s.mu.Unlock()
}

// QueueTokens fixes the next issued access and refresh tokens, in order.
// Empty strings are skipped.
func (s *Server) QueueTokens(access []string, refresh []string) {
	s.mu.Lock()
	s.nextAccess = append(s.nextAccess, access...)
	s.nextRefresh = append(s.nextRefresh, refresh...)
	s.mu.Unlock()
}

// Grant makes token a valid access token for u without a login.
func (s *Server) Grant(token string, u User) {
	s.mu.Lock()
	cp := u
	s.access[token] = &cp
	s.mu.Unlock()
}

// GrantRefresh makes token a valid refresh token for u.
func (s *Server) GrantRefresh(token string, u User) {
	s.mu.Lock()
	cp := u
	s.refresh[token] = &cp
	s.mu.Unlock()
}

// Revoke invalidates an access token so it answers 401.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	delete(s.access, token)
	s.mu.Unlock()
}

// BreakRefresh makes /auth/refresh answer 401.
func (s *Server) BreakRefresh(broken bool) {
	s.mu.Lock()
	s.refreshBroken = broken
	s.mu.Unlock()
}

// RefreshCalls counts hits on /auth/refresh.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// Fail makes the next count requests to method+path answer status.
func (s *Server) Fail(method, path string, status, count int, message string) {
	s.mu.Lock()
	k := method + " " + path
	for i := 0; i < count; i++ {
		s.failures[k] = append(s.failures[k], failure{status: status, message: message})
	}
	s.mu.Unlock()
}

// RejectChannelAuth makes /broadcasting/auth answer 403.
func (s *Server) RejectChannelAuth(reject bool) {
	s.mu.Lock()
	s.rejectAuth = reject
	s.mu.Unlock()
}

// Requests returns a copy of every recorded request.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

// RequestsTo returns the recorded requests for method+path.
func (s *Server) RequestsTo(method, path string) []Recorded {
	var out []Recorded
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Posts returns the stored posts, newest first.
func (s *Server) Posts() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.posts...)
}

// AddPost seeds a post and returns its id.
func (s *Server) AddPost(content string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addPostLocked(map[string]any{"content": content}, nil)
}

// Ads returns the stored ads, newest first.
func (s *Server) Ads() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.ads...)
}

// AddAd seeds an ad in category and returns its id.
func (s *Server) AddAd(title, category string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ad := map[string]any{"id": s.seq, "title": title, "category": category, "price": 0, "created_at": now()}
	s.ads = append([]map[string]any{ad}, s.ads...)
	return int64(s.seq)
}

// AddTag seeds a hashtag with its usage count.
func (s *Server) AddTag(name string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = append(s.tags, map[string]any{"name": name, "count": count})
}

// AddNotification seeds a notification.
func (s *Server) AddNotification(id, typ string, read bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := map[string]any{"id": id, "type": typ, "data": map[string]any{}, "read_at": nil, "created_at": now()}
	if read {
		n["read_at"] = now()
	}
	s.notifications = append([]map[string]any{n}, s.notifications...)
}

// Devices returns the registered push devices.
func (s *Server) Devices() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.devices...)
}

// Uploaded returns the bytes stored under key by the signed upload target.
func (s *Server) Uploaded(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.uploads[key]
	return b, ok
}

// ============================================================================
// Middleware
// ============================================================================

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil && !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(strings.NewReader(string(body)))
		}
		path := strings.TrimPrefix(r.URL.Path, "/api")

		s.mu.Lock()
		s.requests = append(s.requests, Recorded{
			Method:        r.Method,
			Path:          path,
			Authorization: r.Header.Get("Authorization"),
			Body:          body,
		})
		k := r.Method + " " + path
		var f *failure
		if q := s.failures[k]; len(q) > 0 {
			f = &q[0]
			s.failures[k] = q[1:]
		}
		s.mu.Unlock()

		if f != nil {
			writeJSON(w, f.status, map[string]string{"message": f.message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, u *User)

func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		u, ok := s.access[token]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
			return
		}
		h(w, r, u)
	}
}

// ============================================================================
// Auth
// ============================================================================

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid body"})
		return
	}
	s.mu.Lock()
	acct, ok := s.accounts[req.Email]
	if !ok || acct.password != req.Password {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
		return
	}
	resp := s.issueLocked(acct.user)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid body"})
		return
	}
	s.mu.Lock()
	if _, exists := s.accounts[req.Email]; exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "The email has already been taken."})
		return
	}
	s.seq++
	u := User{ID: int64(100 + s.seq), Name: req.Name, Email: req.Email}
	s.accounts[req.Email] = &account{user: u, password: req.Password}
	resp := s.issueLocked(u)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) issueLocked(u User) map[string]any {
	access := s.nextTokenLocked(&s.nextAccess, "access")
	refresh := s.nextTokenLocked(&s.nextRefresh, "refresh")
	cp := u
	s.access[access] = &cp
	s.refresh[refresh] = &cp
	return map[string]any{"access_token": access, "refresh_token": refresh, "user": u}
}

func (s *Server) nextTokenLocked(queue *[]string, prefix string) string {
	for len(*queue) > 0 {
		t := (*queue)[0]
		*queue = (*queue)[1:]
		if t != "" {
			return t
		}
	}
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	s.refreshCalls++
	u, ok := s.refresh[req.RefreshToken]
	if !ok || s.refreshBroken {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid refresh token"})
		return
	}
	access := s.nextTokenLocked(&s.nextAccess, "access")
	s.access[access] = u
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	delete(s.access, token)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, u *User) {
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleBroadcastAuth(w http.ResponseWriter, r *http.Request) {
	s.authz.HTTPHandler().ServeHTTP(w, r)
}

// ============================================================================
// Feed
// ============================================================================

const pageSize = 10

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request, u *User) {
	s.mu.Lock()
	data := paginate(s.posts, r)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request, u *User) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid body"})
		return
	}
	if c, _ := body["content"].(string); c == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "The content field is required."})
		return
	}
	s.mu.Lock()
	s.addPostLocked(body, u)
	post := s.posts[0]
	s.mu.Unlock()

	s.Broadcast(fmt.Sprintf("private-user.%d", u.ID), "post.created", map[string]any{"post": post})
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) addPostLocked(body map[string]any, u *User) int64 {
	s.seq++
	id := int64(s.seq)
	post := map[string]any{
		"id":             id,
		"content":        body["content"],
		"images":         body["images"],
		"tags":           body["tags"],
		"likes_count":    0,
		"comments_count": 0,
		"liked":          false,
		"created_at":     now(),
	}
	if u != nil {
		post["user"] = u
	}
	s.posts = append([]map[string]any{post}, s.posts...)
	return id
}

func (s *Server) findLocked(items []map[string]any, r *http.Request) map[string]any {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	for _, it := range items {
		if toInt64(it["id"]) == id {
			return it
		}
	}
	return nil
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request, u *User) {
	s.mu.Lock()
	p := s.findLocked(s.posts, r)
	s.mu.Unlock()
	if p == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleLike(like bool) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, u *User) {
		s.mu.Lock()
		defer s.mu.Unlock()
		p := s.findLocked(s.posts, r)
		if p == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
			return
		}
		n := toInt64(p["likes_count"])
		if like {
			n++
		} else if n > 0 {
			n--
		}
		p["likes_count"] = n
		p["liked"] = like
		writeJSON(w, http.StatusOK, map[string]any{"likes_count": n, "liked": like})
	}
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request, u *User) {
	var body struct {
		Content string `json:"content"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findLocked(s.posts, r)
	if p == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
		return
	}
	if body.Content == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Failed to add comment"})
		return
	}
	p["comments_count"] = toInt64(p["comments_count"]) + 1
	s.seq++
	writeJSON(w, http.StatusCreated, map[string]any{
		"id": s.seq, "post_id": p["id"], "content": body.Content, "user": u, "created_at": now(),
	})
}

func (s *Server) handleListAds(w http.ResponseWriter, r *http.Request, u *User) {
	category := r.URL.Query().Get("category")
	s.mu.Lock()
	var ads []map[string]any
	for _, a := range s.ads {
		if category == "" || a["category"] == category {
			ads = append(ads, a)
		}
	}
	data := paginate(ads, r)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleSuggestTags(w http.ResponseWriter, r *http.Request, u *User) {
	prefix := strings.ToLower(r.URL.Query().Get("suggest"))
	s.mu.Lock()
	tags := []map[string]any{}
	for _, t := range s.tags {
		if strings.HasPrefix(strings.ToLower(t["name"].(string)), prefix) {
			tags = append(tags, t)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"data": tags})
}

func (s *Server) handleCreateAd(w http.ResponseWriter, r *http.Request, u *User) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid body"})
		return
	}
	s.mu.Lock()
	s.seq++
	body["id"] = s.seq
	body["user"] = u
	body["created_at"] = now()
	s.ads = append([]map[string]any{body}, s.ads...)
	s.mu.Unlock()

	s.Broadcast("ads", "ad.created", map[string]any{"ad": body})
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) handleGetAd(w http.ResponseWriter, r *http.Request, u *User) {
	s.mu.Lock()
	a := s.findLocked(s.ads, r)
	s.mu.Unlock()
	if a == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleFavorite(fav bool) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, u *User) {
		s.mu.Lock()
		defer s.mu.Unlock()
		a := s.findLocked(s.ads, r)
		if a == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
			return
		}
		a["favorited"] = fav
		writeJSON(w, http.StatusOK, map[string]any{"favorited": fav})
	}
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request, u *User) {
	s.mu.Lock()
	data := paginate(s.notifications, r)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, u *User) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n["id"] == id {
			if n["read_at"] == nil {
				n["read_at"] = now()
			}
			writeJSON(w, http.StatusOK, n)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request, u *User) {
	s.mu.Lock()
	for _, n := range s.notifications {
		if n["read_at"] == nil {
			n["read_at"] = now()
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request, u *User) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["token"] == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "The token field is required."})
		return
	}
	s.mu.Lock()
	s.devices = append(s.devices, body)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "registered"})
}

// ============================================================================
// Uploads
// ============================================================================

func (s *Server) handleSignUpload(w http.ResponseWriter, r *http.Request, u *User) {
	var body struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Filename == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "The filename field is required."})
		return
	}
	s.mu.Lock()
	s.seq++
	key := fmt.Sprintf("uploads/%d/%s", s.seq, body.Filename)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"upload_url": s.URL + "/storage/upload",
		"public_url": s.URL + "/storage/files/" + key,
		"fields":     map[string]string{"key": key, "Content-Type": body.ContentType},
	})
}

func (s *Server) handleStorageUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := r.FormValue("key")
	f, _, err := r.FormFile("file")
	if err != nil || key == "" {
		http.Error(w, "missing file or key", http.StatusBadRequest)
		return
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	s.mu.Lock()
	s.uploads[key] = data
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStorageFile(w http.ResponseWriter, r *http.Request) {
	data, ok := s.Uploaded(mux.Vars(r)["key"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(data)
}

// ============================================================================
// Helpers
// ============================================================================

func paginate(items []map[string]any, r *http.Request) map[string]any {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	last := (len(items) + pageSize - 1) / pageSize
	if last < 1 {
		last = 1
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}
	data := append([]map[string]any{}, items[start:end]...)
	return map[string]any{
		"data": data,
		"meta": map[string]int{"current_page": page, "last_page": last, "per_page": pageSize, "total": len(items)},
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
