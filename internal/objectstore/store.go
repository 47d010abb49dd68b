// Package objectstore is a development object store that issues signed,
// time-limited GET and PUT URLs, for running staging end to end without
// a cloud bucket.
package objectstore

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"nbexec/internal/storage"
)

// Config configures a Store.
type Config struct {
	// BaseURL prefixes every signed URL, e.g. http://127.0.0.1:8080.
	BaseURL string
	// URLTTL is the lifetime of a signed URL.
	URLTTL time.Duration
	// ObjectTTL is the lifetime of an uploaded object. Zero keeps objects.
	ObjectTTL time.Duration
	// MaxObjectBytes bounds an upload. Zero means unbounded.
	MaxObjectBytes int64
}

// Store serves signed object URLs backed by storage.DB.
type Store struct {
	db     *storage.DB
	signer *Signer
	cfg    Config
	logger zerolog.Logger
}

// New creates a Store.
func New(db *storage.DB, signer *Signer, cfg Config, logger zerolog.Logger) *Store {
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 15 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Store{
		db:     db,
		signer: signer,
		cfg:    cfg,
		logger: logger.With().Str("component", "objectstore").Logger(),
	}
}

// Presign returns a signed URL allowing method (GET or PUT) on key.
func (s *Store) Presign(method, key string) (string, error) {
	method = strings.ToUpper(method)
	if method != http.MethodGet && method != http.MethodPut {
		return "", fmt.Errorf("unsupported method %q", method)
	}
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid object key %q", key)
	}

	token, _, err := s.signer.Sign(method, key, s.cfg.URLTTL)
	if err != nil {
		return "", err
	}
	return s.cfg.BaseURL + "/objects/" + escapeKey(key) + "?token=" + url.QueryEscape(token), nil
}

// Put stores data under key directly, bypassing signed URLs.
func (s *Store) Put(key string, data []byte, contentType string) error {
	return s.db.ObjectPut(key, data, contentType, s.cfg.ObjectTTL)
}

// Get returns the object stored under key.
func (s *Store) Get(key string) (*storage.Object, error) {
	return s.db.ObjectGet(key)
}

// RegisterRoutes mounts GET and PUT /objects/{key} on r.
func (s *Store) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/objects/{key:.+}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/objects/{key:.+}", s.handlePut).Methods(http.MethodPut)
}

func (s *Store) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if _, ok := s.authorize(w, r, http.MethodGet, key); !ok {
		return
	}

	obj, err := s.db.ObjectGet(key)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "object not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("read object failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", fmt.Sprint(len(obj.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

func (s *Store) handlePut(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	claims, ok := s.authorize(w, r, http.MethodPut, key)
	if !ok {
		return
	}

	// 上传 token 只能使用一次
	if err := s.db.GrantUse(claims.ID, key, http.MethodPut, claims.ExpiresAt.Time); err != nil {
		if errors.Is(err, storage.ErrGrantUsed) {
			http.Error(w, "upload URL already used", http.StatusForbidden)
			return
		}
		s.logger.Error().Err(err).Str("key", key).Msg("record grant failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	body := io.Reader(r.Body)
	if s.cfg.MaxObjectBytes > 0 {
		body = io.LimitReader(r.Body, s.cfg.MaxObjectBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	if s.cfg.MaxObjectBytes > 0 && int64(len(data)) > s.cfg.MaxObjectBytes {
		http.Error(w, "object exceeds "+humanize.IBytes(uint64(s.cfg.MaxObjectBytes)), http.StatusRequestEntityTooLarge)
		return
	}

	if err := s.Put(key, data, r.Header.Get("Content-Type")); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("write object failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.logger.Debug().Str("key", key).Str("size", humanize.IBytes(uint64(len(data)))).Msg("object stored")
	w.WriteHeader(http.StatusOK)
}

func (s *Store) authorize(w http.ResponseWriter, r *http.Request, method, key string) (*Claims, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return nil, false
	}
	claims, err := s.signer.Verify(token, method, key)
	if err != nil {
		s.logger.Debug().Err(err).Str("key", key).Str("method", method).Msg("rejected signed URL")
		status := http.StatusForbidden
		if errors.Is(err, ErrInvalidToken) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return nil, false
	}
	return claims, true
}

// escapeKey escapes each path segment of key.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
