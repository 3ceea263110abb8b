// Package proxy implements the caching reverse proxy pipeline (C6):
// admission, cache-key derivation, lookup, origin fetch, storability
// check, and dual-write to the blob store and metadata index.
//
// The orchestration is ported from
// _examples/tailscale-go-cache-plugin/revproxy/revproxy.go's
// Server.ServeHTTP/rewriteRequest/hostMatchesTarget: per-request
// httputil.ReverseProxy with a ModifyResponse hook that decides, after
// the origin answers, whether the response gets cached. The teacher
// caches only "immutable" GETs keyed by a SHA-256 of the request URL and
// persists directly to a local+S3 tier; this package replaces that
// narrow policy with full RFC 7234 evaluation (internal/policy), and the
// storage tiers with a content-addressed blob store (internal/blobstore)
// plus a SQL metadata index (internal/index) written under replication
// coordination (internal/haltlock).
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/coreyja/caje-go/internal/blobstore"
	"github.com/coreyja/caje-go/internal/haltlock"
	"github.com/coreyja/caje-go/internal/index"
	"github.com/coreyja/caje-go/internal/policy"
	"github.com/coreyja/caje-go/internal/wire"
)

// ErrHostNotAllowed is returned (and logged, never panicked) when a
// request arrives for a Host other than the one the proxy is configured
// to front.
var ErrHostNotAllowed = errors.New("proxy: host not allowed")

// ErrOriginUnreachable wraps a transport-level failure reaching the
// origin server.
var ErrOriginUnreachable = errors.New("proxy: origin unreachable")

// haltTimeout bounds how long a request waits for the replication
// coordinator before giving up and skipping the index write, per the
// system's documented degraded-mode behavior: correctness (the blob is
// already on disk) matters more than the index staying perfectly
// in sync with every response.
const haltTimeout = 5 * time.Second

// Server is the caching reverse proxy.
type Server struct {
	// FromDomain is the public-facing hostname clients address the proxy
	// as. Requests for any other Host are rejected.
	FromDomain string
	// OriginDomain is the backend hostname requests are forwarded to.
	OriginDomain string

	Blobs *blobstore.Store
	Index *index.Index

	// DBPath is the on-disk path of the index database.
	DBPath string
	// LiteFS is the raw value of the LITEFS environment variable, as read
	// by internal/config. Replication coordination (internal/haltlock) is
	// only engaged around an index write when this is set and DBPath is a
	// real on-disk path — see haltlock.Enabled.
	LiteFS string

	// Logf, if non-nil, is used to write log messages. If nil, logs are
	// discarded.
	Logf func(string, ...any)
}

func (s *Server) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Host != s.FromDomain {
		err := fmt.Errorf("%w: %q (this proxy only serves %q)", ErrHostNotAllowed, r.Host, s.FromDomain)
		s.logf("%v", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	key := CacheKey(r.Method, r.Host, r.URL.RequestURI())

	if entry, ok := s.lookup(r, key); ok {
		w.Header().Set("X-Cache", "hit")
		writeCachedResponse(w, entry.Response)
		return
	}

	s.forward(w, r, key)
}

// CacheKey derives the storage key for a method/host/request-URI triple.
// It deliberately does not hash the input (unlike the teacher, which
// hashes into a fixed-width digest for its path-sharded local cache):
// blobstore shards and escapes the key itself, so keeping it readable
// helps the admin List/populate operations round-trip real URLs.
func CacheKey(method, host, requestURI string) string {
	return KeyForURL(method, absoluteURL(host, requestURI))
}

// KeyForURL derives the storage key for a method/absolute-URL pair. It is
// the form the metadata index stores (internal/index's Pages.url column
// holds the same absolute URL), so admin code reconstructing a blob-store
// key from an index row can call this directly.
func KeyForURL(method, absoluteURL string) string {
	return method + "@" + absoluteURL
}

func absoluteURL(host, requestURI string) string {
	return "http://" + host + requestURI
}

// EntryTTL reports the remaining freshness lifetime of the blob stored
// under key, evaluated at now. ok is false when the key has no decodable
// blob; ttl is zero (not negative) once the entry has expired. This is
// the same TimeToLive/Age computation lookup uses to decide Fresh vs
// Miss, exposed so the admin interface (C7) can report per-entry TTL in
// its list, and decide whether populate needs to re-fetch an entry.
func (s *Server) EntryTTL(key string, now time.Time) (ttl time.Duration, ok bool) {
	raw, err := s.Blobs.Get(key)
	if err != nil {
		return 0, false
	}
	entry, err := wire.Decode(raw)
	if err != nil {
		return 0, false
	}
	respHeaders := headerFieldsToHTTP(entry.Response.Headers)
	total := policy.TimeToLive(respHeaders, entry.CachedAt)
	age := policy.Age(respHeaders, entry.CachedAt, now)
	if remaining := total - age; remaining > 0 {
		return remaining, true
	}
	return 0, true
}

// lookup returns a usable cached entry for r, if one exists and is still
// fresh and Vary-compatible with r.
func (s *Server) lookup(r *http.Request, key string) (wire.CacheEntry, bool) {
	raw, err := s.Blobs.Get(key)
	if err != nil {
		return wire.CacheEntry{}, false
	}
	entry, err := wire.Decode(raw)
	if err != nil {
		s.logf("decode cached entry %q: %v", key, err)
		return wire.CacheEntry{}, false
	}

	respHeaders := headerFieldsToHTTP(entry.Response.Headers)
	cachedReqHeaders := headerFieldsToHTTP(entry.Request.Headers)

	if !policy.VaryMatches(respHeaders, cachedReqHeaders, r.Header) {
		return wire.CacheEntry{}, false
	}

	decision := policy.BeforeRequest(respHeaders, r.Header, entry.CachedAt, time.Now())
	if decision != policy.FreshHit {
		// Baseline behavior: an entry that is not fresh (BeforeRequest
		// reports an expired entry as Miss) is logged and treated as a
		// miss rather than revalidated with If-None-Match/If-Modified-Since.
		s.logf("cache entry %q not fresh, treating as miss", key)
		return wire.CacheEntry{}, false
	}
	return entry, true
}

// forward sends r to the origin and, if the response is storable, writes
// it back through to the blob store and metadata index.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, key string) {
	origin := s.OriginDomain
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = "https"
			pr.Out.URL.Host = origin
			pr.Out.Host = origin
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logf("forward to origin: %v", fmt.Errorf("%w: %v", ErrOriginUnreachable, err))
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}

	reqHeadersForPolicy := r.Header.Clone()
	var reqBody []byte
	if r.Body != nil {
		reqBody, _ = io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	proxy.ModifyResponse = func(rsp *http.Response) error {
		if !policy.Storable(reqHeadersForPolicy, rsp.Header, rsp.StatusCode) ||
			policy.TimeToLive(rsp.Header, time.Now()) <= 0 {
			rsp.Header.Set("X-Cache", "miss, uncached")
			return nil
		}

		body, err := io.ReadAll(rsp.Body)
		if err != nil {
			return fmt.Errorf("proxy: read origin body: %w", err)
		}
		rsp.Body.Close()
		rsp.Body = io.NopCloser(bytes.NewReader(body))
		rsp.Header.Set("X-Cache", "miss, cached")

		entry := wire.CacheEntry{
			Request: wire.CachedRequest{
				Method:  r.Method,
				URI:     absoluteURL(r.Host, r.URL.RequestURI()),
				Version: r.Proto,
				Headers: httpToHeaderFields(reqHeadersForPolicy),
				Body:    reqBody,
			},
			Response: wire.CachedResponse{
				StatusCode: rsp.StatusCode,
				Version:    rsp.Proto,
				Headers:    httpToHeaderFields(rsp.Header),
				Body:       body,
			},
			CachedAt: time.Now(),
		}
		s.store(r.Context(), key, entry)
		return nil
	}

	proxy.ServeHTTP(w, r)
}

// store persists entry to the blob store and records it in the metadata
// index, pausing SQLite replication around the index write when running
// under the replicator (see haltlock.Enabled).
func (s *Server) store(ctx context.Context, key string, entry wire.CacheEntry) {
	encoded, err := wire.Encode(entry)
	if err != nil {
		s.logf("encode cache entry %q: %v", key, err)
		return
	}
	if err := s.Blobs.Put(key, encoded); err != nil {
		s.logf("store cache entry %q: %v", key, err)
		return
	}

	insert := func() error { return s.Index.Insert(ctx, entry.Request.Method, entry.Request.URI) }

	if !haltlock.Enabled(s.LiteFS, s.DBPath) {
		if err := insert(); err != nil {
			s.logf("index insert %q: %v", key, err)
		}
		return
	}

	haltCtx, cancel := context.WithTimeout(ctx, haltTimeout)
	defer cancel()
	h, err := haltlock.Halt(haltCtx, s.DBPath)
	if err != nil {
		s.logf("halt lock for %q: %v (skipping index write)", key, err)
		return
	}
	defer func() {
		if err := haltlock.Unhalt(h); err != nil {
			s.logf("release halt lock for %q: %v", key, err)
		}
	}()

	if err := insert(); err != nil {
		s.logf("index insert %q: %v", key, err)
	}
}

// Populate replays a single (method, url) pair through the miss path,
// synthesizing a request carrying only a Host header — matching the
// original implementation's populate routine, which has no real client
// request to draw headers from when warming the cache ahead of traffic.
func (s *Server) Populate(ctx context.Context, method, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return fmt.Errorf("proxy: populate: %w", err)
	}
	req.Host = s.FromDomain

	rec := &discardResponseWriter{header: make(http.Header)}
	key := CacheKey(req.Method, req.Host, req.URL.RequestURI())
	s.forward(rec, req, key)
	if rec.status >= 500 {
		return fmt.Errorf("proxy: populate %s %s: origin returned %d", method, rawURL, rec.status)
	}
	return nil
}

type discardResponseWriter struct {
	header http.Header
	status int
}

func (d *discardResponseWriter) Header() http.Header { return d.header }
func (d *discardResponseWriter) Write(p []byte) (int, error) { return len(p), nil }
func (d *discardResponseWriter) WriteHeader(status int)      { d.status = status }

func writeCachedResponse(w http.ResponseWriter, resp wire.CachedResponse) {
	wh := w.Header()
	for _, f := range resp.Headers {
		wh.Add(f.Name, f.Value)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

func httpToHeaderFields(h http.Header) []wire.HeaderField {
	var out []wire.HeaderField
	for name, vals := range h {
		for _, v := range vals {
			out = append(out, wire.HeaderField{Name: name, Value: v})
		}
	}
	return out
}

func headerFieldsToHTTP(fields []wire.HeaderField) http.Header {
	h := make(http.Header, len(fields))
	for _, f := range fields {
		h.Add(f.Name, f.Value)
	}
	return h
}
