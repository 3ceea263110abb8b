package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coreyja/caje-go/internal/blobstore"
	"github.com/coreyja/caje-go/internal/index"
	"github.com/coreyja/caje-go/internal/proxy"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		w.Write([]byte("body"))
	}))
	t.Cleanup(origin.Close)
	// The proxy always dials the origin over https through
	// http.DefaultTransport; make that transport trust the test server's
	// certificate for the duration of the test.
	prevTransport := http.DefaultTransport
	http.DefaultTransport = origin.Client().Transport
	t.Cleanup(func() { http.DefaultTransport = prevTransport })

	idx, err := index.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	blobs := blobstore.New(t.TempDir())
	p := &proxy.Server{
		FromDomain:   "proxy.example.com",
		OriginDomain: strings.TrimPrefix(origin.URL, "https://"),
		Blobs:        blobs,
		Index:        idx,
	}

	s := &Server{Index: idx, Blobs: blobs, Proxy: p, Password: "hunter2"}
	return s, origin
}

func login(t *testing.T, h http.Handler, password string) []*http.Cookie {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Password: password})
	req := httptest.NewRequest("POST", "/_caje/auth", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Result().Cookies()
}

func TestAuthRejectsWrongPassword(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	body, _ := json.Marshal(loginRequest{Password: "wrong"})
	req := httptest.NewRequest("POST", "/_caje/auth", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthThenListRequiresSession(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	unauth := httptest.NewRequest("GET", "/_caje/list", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, unauth)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("list without session: status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	cookies := login(t, h, "hunter2")
	if len(cookies) == 0 {
		t.Fatalf("login did not set a session cookie")
	}

	authed := httptest.NewRequest("GET", "/_caje/list", nil)
	for _, c := range cookies {
		authed.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authed)
	if rec.Code != http.StatusOK {
		t.Errorf("list with session: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestPopulateThenListShowsEntry(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	cookies := login(t, h, "hunter2")

	// Seed the index with a row whose blob is not yet on disk, the way a
	// prior cache write (or an independently-cleared blob store) would
	// leave it: populate is the only thing that fills the blob back in.
	if err := s.Index.Insert(context.Background(), "GET", "http://proxy.example.com/x"); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	popReq := httptest.NewRequest("POST", "/_caje/populate", nil)
	for _, c := range cookies {
		popReq.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, popReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("populate: status = %d, want %d", rec.Code, http.StatusOK)
	}
	var result populateResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode populate response: %v", err)
	}
	if result.Fetched != 1 {
		t.Errorf("populate fetched = %d, want 1", result.Fetched)
	}

	listReq := httptest.NewRequest("GET", "/_caje/list", nil)
	for _, c := range cookies {
		listReq.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, listReq)

	var entries []Entry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("list() = %d entries, want 1", len(entries))
	}
	if entries[0].SizeBytes == 0 {
		t.Errorf("entry size = 0, want populated blob size")
	}
	if entries[0].TTLSeconds == 0 {
		t.Errorf("entry ttl = 0, want positive ttl for a freshly populated max-age=60 entry")
	}

	// A second populate should now skip the fresh entry instead of
	// re-fetching it.
	popReq2 := httptest.NewRequest("POST", "/_caje/populate", nil)
	for _, c := range cookies {
		popReq2.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, popReq2)
	var result2 populateResult
	if err := json.NewDecoder(rec.Body).Decode(&result2); err != nil {
		t.Fatalf("decode populate response: %v", err)
	}
	if result2.Skipped != 1 || result2.Fetched != 0 {
		t.Errorf("second populate = %+v, want {Fetched:0 Skipped:1}", result2)
	}
}

func TestClearDBAndClearFS(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	cookies := login(t, h, "hunter2")

	for _, path := range []string{"/_caje/clear_db", "/_caje/clear_fs"} {
		req := httptest.NewRequest("POST", path, nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("%s: status = %d, want %d", path, rec.Code, http.StatusNoContent)
		}
	}
}
