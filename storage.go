package huntingcorner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	_ "modernc.org/sqlite"
)

// Persisted key namespace.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
	KeyOfflineQueue = "offline_queue"

	cacheNamespace = "cache/"
)

// Store persists small string values across sessions.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
}

// StoreOptions selects a backend for OpenStore.
type StoreOptions struct {
	Platform Platform
	Path     string
}

// OpenStore returns the file-backed secure store on native platforms, the
// SQLite store otherwise, and a MemoryStore when no path is given.
func OpenStore(opts StoreOptions) (Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return NewMemoryStore(), nil
	}
	if opts.Platform == PlatformNative {
		return OpenFileStore(opts.Path)
	}
	return OpenSQLiteStore(opts.Path)
}

// ============================================================================
// MemoryStore
// ============================================================================

// MemoryStore is a goroutine-safe in-memory Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// ============================================================================
// FileStore
// ============================================================================

type fileDocument struct {
	Values map[string]string `toml:"values"`
}

// FileStore keeps values in a TOML document readable only by the owner.
// Every mutation rewrites the file atomically.
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// OpenFileStore loads path, creating parent directories as needed.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, storageErr("open", "", err)
	}
	fs := &FileStore{path: path, values: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, storageErr("open", "", err)
	}
	var doc fileDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, storageErr("open", "", fmt.Errorf("parse %s: %w", path, err))
	}
	if doc.Values != nil {
		fs.values = doc.Values
	}
	return fs, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	s.values[key] = value
	if err := s.flush(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return storageErr("set", key, err)
	}
	return nil
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return storageErr("remove", key, s.flush())
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	return storageErr("clear", "", s.flush())
}

func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) flush() error {
	data, err := toml.Marshal(fileDocument{Values: s.values})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".store-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// ============================================================================
// SQLiteStore
// ============================================================================

// SQLiteStore keeps values in an indexed SQLite table.
type SQLiteStore struct {
	sqlDB *sql.DB
}

// OpenSQLiteStore opens and migrates the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, storageErr("open", "", errors.New("storage path is required"))
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, storageErr("open", "", err)
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open", "", fmt.Errorf("open sqlite db: %w", err))
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, storageErr("open", "", fmt.Errorf("ping sqlite db: %w", err))
	}
	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		_ = sqlDB.Close()
		return nil, storageErr("open", "", fmt.Errorf("migrate: %w", err))
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, storageErr("get", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	return storageErr("set", key, err)
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return storageErr("remove", key, err)
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM kv`)
	return storageErr("clear", "", err)
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, storageErr("keys", "", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, storageErr("keys", "", err)
		}
		keys = append(keys, k)
	}
	return keys, storageErr("keys", "", rows.Err())
}

// ============================================================================
// Namespace
// ============================================================================

type namespacedStore struct {
	base   Store
	prefix string
}

// Namespace returns a view of base whose keys all carry prefix. Clear and
// Keys only see keys inside the namespace.
func Namespace(base Store, prefix string) Store {
	return &namespacedStore{base: base, prefix: prefix}
}

func (n *namespacedStore) Get(ctx context.Context, key string) (string, bool, error) {
	return n.base.Get(ctx, n.prefix+key)
}

func (n *namespacedStore) Set(ctx context.Context, key, value string) error {
	return n.base.Set(ctx, n.prefix+key, value)
}

func (n *namespacedStore) Remove(ctx context.Context, key string) error {
	return n.base.Remove(ctx, n.prefix+key)
}

func (n *namespacedStore) Clear(ctx context.Context) error {
	keys, err := n.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := n.base.Remove(ctx, n.prefix+k); err != nil {
			return err
		}
	}
	return nil
}

func (n *namespacedStore) Keys(ctx context.Context) ([]string, error) {
	all, err := n.base.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range all {
		if strings.HasPrefix(k, n.prefix) {
			keys = append(keys, strings.TrimPrefix(k, n.prefix))
		}
	}
	return keys, nil
}
