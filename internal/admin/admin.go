// Package admin implements the operator-facing HTTP surface (C7): listing
// what is cached, clearing either cache tier, warming the cache ahead of
// traffic, and a minimal password-gated session so these destructive
// operations aren't reachable by anyone who can reach the proxy's port.
//
// The session mechanism is a plain opaque token (github.com/google/uuid)
// recorded in the same SQLite database as everything else (internal/index's
// Sessions table) and handed back as a cookie, rather than an encrypted
// cookie scheme — the teacher repo has no admin UI to imitate here, so
// this follows the simplest pattern the rest of the stack already
// supports instead of inventing a cookie-encryption layer.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/coreyja/caje-go/internal/blobstore"
	"github.com/coreyja/caje-go/internal/index"
	"github.com/coreyja/caje-go/internal/proxy"
)

const sessionCookie = "session_id"

// Server serves the /_caje/ administrative endpoints.
type Server struct {
	Index    *index.Index
	Blobs    *blobstore.Store
	Proxy    *proxy.Server
	Password string

	Logf func(string, ...any)
}

func (s *Server) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

// Handler returns the mux serving every admin route; the routes are
// registered under the fixed "/_caje/" prefix.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /_caje/auth", s.handleAuthStatus)
	mux.HandleFunc("POST /_caje/auth", s.handleAuthLogin)
	mux.HandleFunc("GET /_caje/list", s.withSession(s.handleList))
	mux.HandleFunc("POST /_caje/clear_db", s.withSession(s.handleClearDB))
	mux.HandleFunc("POST /_caje/clear_fs", s.withSession(s.handleClearFS))
	mux.HandleFunc("POST /_caje/populate", s.withSession(s.handlePopulate))
	return mux
}

// Entry describes one cached item for the /_caje/list response, merging
// what the metadata index and the blob store each know about it.
type Entry struct {
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	TTLSeconds int64     `json:"ttl_seconds,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Index.List(r.Context())
	if err != nil {
		s.logf("admin list: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	blobs, err := s.Blobs.List(r.Context())
	if err != nil {
		s.logf("admin list blobs: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	bySizeAndTime := make(map[string]blobstore.Entry, len(blobs))
	for _, b := range blobs {
		bySizeAndTime[b.Key] = b
	}

	now := time.Now()
	out := make([]Entry, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		key := proxy.KeyForURL(row.Method, row.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		e := Entry{Method: row.Method, URL: row.URL}
		if b, ok := bySizeAndTime[key]; ok {
			e.SizeBytes = b.Size
			e.CreatedAt = b.CreatedAt
		}
		if ttl, ok := s.Proxy.EntryTTL(key, now); ok {
			e.TTLSeconds = int64(ttl / time.Second)
		}
		out = append(out, e)
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClearDB(w http.ResponseWriter, r *http.Request) {
	if err := s.Index.Clear(r.Context()); err != nil {
		s.logf("admin clear_db: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearFS(w http.ResponseWriter, r *http.Request) {
	if err := s.Blobs.Clear(); err != nil {
		s.logf("admin clear_fs: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// populateResult summarizes what POST /_caje/populate did, for operator
// visibility; the replay itself has no client-visible emission per
// spec.md §4.7 (it is not proxying traffic for an end user).
type populateResult struct {
	Fetched int `json:"fetched"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// handlePopulate replays every row in the metadata index through the
// miss path, once per distinct key, skipping keys whose blob is already
// fresh. This mirrors
// _examples/original_source/caje/src/admin/populate.rs: it takes no
// request body, walks every Pages row, and only re-fetches the ones
// whose cached entry is missing or already expired.
func (s *Server) handlePopulate(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Index.List(r.Context())
	if err != nil {
		s.logf("admin populate: list index: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	var result populateResult
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		key := proxy.KeyForURL(row.Method, row.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		if ttl, ok := s.Proxy.EntryTTL(key, now); ok && ttl > 0 {
			result.Skipped++
			continue
		}
		if err := s.Proxy.Populate(r.Context(), row.Method, row.URL); err != nil {
			s.logf("admin populate %s %s: %v", row.Method, row.URL, err)
			result.Failed++
			continue
		}
		result.Fetched++
	}

	writeJSON(w, http.StatusOK, result)
}

// handleAuthStatus reports whether the request's session cookie is
// valid, without requiring it (so a frontend can probe before prompting
// for a password).
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if s.hasValidSession(r) {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusUnauthorized)
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if s.Password == "" || req.Password != s.Password {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token := uuid.NewString()
	if err := s.Index.CreateSession(r.Context(), token); err != nil {
		s.logf("admin auth: create session: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/_caje",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) hasValidSession(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return false
	}
	ok, err := s.Index.HasSession(r.Context(), c.Value)
	return err == nil && ok
}

func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.hasValidSession(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
