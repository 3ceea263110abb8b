package policy

import (
	"net/http"
	"testing"
	"time"
)

func headers(pairs ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Add(pairs[i], pairs[i+1])
	}
	return h
}

func TestStorableNoStoreResponse(t *testing.T) {
	req := headers()
	resp := headers("Cache-Control", "no-store", "Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
	if Storable(req, resp, 200) {
		t.Errorf("Storable() = true, want false for no-store response")
	}
}

func TestStorableNoStoreRequest(t *testing.T) {
	req := headers("Cache-Control", "no-store")
	resp := headers("Cache-Control", "max-age=60")
	if Storable(req, resp, 200) {
		t.Errorf("Storable() = true, want false for no-store request")
	}
}

func TestStorablePrivate(t *testing.T) {
	req := headers()
	resp := headers("Cache-Control", "private, max-age=60")
	if Storable(req, resp, 200) {
		t.Errorf("Storable() = true, want false for private response")
	}
}

func TestStorableAuthorizationWithoutOptIn(t *testing.T) {
	req := headers("Authorization", "Bearer xyz")
	resp := headers("Cache-Control", "max-age=60")
	if Storable(req, resp, 200) {
		t.Errorf("Storable() = true, want false: Authorization request needs explicit opt-in")
	}
}

func TestStorableAuthorizationWithPublicOptIn(t *testing.T) {
	req := headers("Authorization", "Bearer xyz")
	resp := headers("Cache-Control", "public, max-age=60")
	if !Storable(req, resp, 200) {
		t.Errorf("Storable() = false, want true: public opts back in despite Authorization")
	}
}

func TestStorableNeedsFreshnessSignal(t *testing.T) {
	req := headers()
	resp := headers() // no max-age, no Expires, no validators
	if Storable(req, resp, 200) {
		t.Errorf("Storable() = true, want false with no freshness or validator signal")
	}
}

func TestStorableWithEtagOnly(t *testing.T) {
	req := headers()
	resp := headers("Etag", `"abc"`)
	if !Storable(req, resp, 200) {
		t.Errorf("Storable() = false, want true: Etag alone is storable")
	}
}

func TestTimeToLiveSMaxAgeOverridesMaxAge(t *testing.T) {
	resp := headers("Cache-Control", "max-age=10, s-maxage=100")
	ttl := TimeToLive(resp, time.Now())
	if ttl != 100*time.Second {
		t.Errorf("TimeToLive() = %v, want 100s (s-maxage should win)", ttl)
	}
}

func TestTimeToLiveHeuristicFromLastModified(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	lastModified := now.Add(-100 * time.Hour)
	resp := headers(
		"Date", now.Format(http.TimeFormat),
		"Last-Modified", lastModified.Format(http.TimeFormat),
	)
	ttl := TimeToLive(resp, now)
	want := 10 * time.Hour // 10% of 100h
	if ttl != want {
		t.Errorf("TimeToLive() = %v, want %v", ttl, want)
	}
}

func TestBeforeRequestFreshHit(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	resp := headers("Date", now.Format(http.TimeFormat), "Cache-Control", "max-age=3600")
	decision := BeforeRequest(resp, headers(), now, now.Add(30*time.Minute))
	if decision != FreshHit {
		t.Errorf("BeforeRequest() = %v, want FreshHit", decision)
	}
}

func TestBeforeRequestExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	resp := headers("Date", now.Format(http.TimeFormat), "Cache-Control", "max-age=60")
	decision := BeforeRequest(resp, headers(), now, now.Add(2*time.Hour))
	if decision != Miss {
		t.Errorf("BeforeRequest() = %v, want Miss after expiry", decision)
	}
}

func TestBeforeRequestNoCacheRequestForcesMiss(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	resp := headers("Date", now.Format(http.TimeFormat), "Cache-Control", "max-age=3600")
	req := headers("Cache-Control", "no-cache")
	decision := BeforeRequest(resp, req, now, now.Add(time.Minute))
	if decision != Miss {
		t.Errorf("BeforeRequest() = %v, want Miss when request sends no-cache", decision)
	}
}

func TestVaryMatchesIgnoresUnrelatedHeaders(t *testing.T) {
	resp := headers("Vary", "Accept-Encoding")
	cached := headers("Accept-Encoding", "gzip", "X-Irrelevant", "a")
	incoming := headers("Accept-Encoding", "gzip", "X-Irrelevant", "b")
	if !VaryMatches(resp, cached, incoming) {
		t.Errorf("VaryMatches() = false, want true: only Accept-Encoding is varied on")
	}
}

func TestVaryMatchesFailsOnDifferingVariedHeader(t *testing.T) {
	resp := headers("Vary", "Accept-Encoding")
	cached := headers("Accept-Encoding", "gzip")
	incoming := headers("Accept-Encoding", "br")
	if VaryMatches(resp, cached, incoming) {
		t.Errorf("VaryMatches() = true, want false: Accept-Encoding differs")
	}
}

func TestVaryStarNeverMatches(t *testing.T) {
	resp := headers("Vary", "*")
	cached := headers()
	incoming := headers()
	if VaryMatches(resp, cached, incoming) {
		t.Errorf("VaryMatches() = true, want false: Vary: * never matches")
	}
}

func TestDateMissing(t *testing.T) {
	if _, err := Date(headers()); err != ErrNoDateHeader {
		t.Errorf("Date() error = %v, want ErrNoDateHeader", err)
	}
}
