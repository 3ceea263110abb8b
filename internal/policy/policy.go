// Package policy implements the cache policy engine (C5): RFC 7234
// storability and freshness rules for a shared cache sitting in front of
// a single origin. It is adapted from mchtech-httpcache's private-cache
// Transport (see _examples/mchtech-httpcache/httpcache.go), whose
// parseCacheControl/getFreshness pair covers most of the RFC 7234
// machinery already; this package keeps that shape but drops the
// private-cache shortcuts that package documents taking (it ignores
// public/private and s-maxage because it assumes a single client) and
// adds the shared-cache rules spec.md requires instead: no-store,
// private, and a bare Authorization request header all make a response
// unstorable, and s-maxage takes priority over max-age when present.
package policy

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Decision is the outcome of evaluating a cached entry against an
// incoming request.
type Decision int

const (
	// Miss means there is nothing usable cached; fetch from the origin.
	Miss Decision = iota
	// FreshHit means the cached response can be returned as-is.
	FreshHit
	// StaleHit means the cached response is expired. Per the project's
	// baseline behavior it is logged and treated like a Miss rather than
	// revalidated against the origin (see DESIGN.md open question on
	// conditional requests) — BeforeRequest never returns this value
	// today, but it is kept as a distinct constant so a future
	// revalidation path (If-None-Match/If-Modified-Since) has somewhere
	// to report into without changing the type.
	StaleHit
)

// CacheControl is a parsed Cache-Control header: directive name to value
// (empty string for valueless directives like no-store).
type CacheControl map[string]string

// Has reports whether directive is present (with any value).
func (cc CacheControl) Has(directive string) bool {
	_, ok := cc[directive]
	return ok
}

// Duration returns the value of directive parsed as a delta-seconds
// value, per RFC 7234 §1.2.1. ok is false if the directive is absent or
// unparsable.
func (cc CacheControl) Duration(directive string) (d time.Duration, ok bool) {
	v, present := cc[directive]
	if !present {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// ParseCacheControl parses the Cache-Control header(s) in headers.
// Multiple Cache-Control header lines and comma-separated directives
// within a line are all merged into one set, matching how real servers
// sometimes split the header across repeated lines.
func ParseCacheControl(headers http.Header) CacheControl {
	cc := CacheControl{}
	for _, line := range headers.Values("Cache-Control") {
		for _, part := range strings.Split(line, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if i := strings.IndexByte(part, '='); i >= 0 {
				key := strings.TrimSpace(part[:i])
				val := strings.Trim(strings.TrimSpace(part[i+1:]), `"`)
				cc[strings.ToLower(key)] = val
			} else {
				cc[strings.ToLower(part)] = ""
			}
		}
	}
	return cc
}

// Storable reports whether a response may be stored in a shared cache,
// per RFC 7234 §3.
func Storable(reqHeaders, respHeaders http.Header, statusCode int) bool {
	reqCC := ParseCacheControl(reqHeaders)
	respCC := ParseCacheControl(respHeaders)

	if reqCC.Has("no-store") || respCC.Has("no-store") {
		return false
	}
	if respCC.Has("private") {
		return false
	}
	// A request carrying Authorization is only cacheable if the response
	// explicitly opts back in (RFC 7234 §3, item 5).
	if reqHeaders.Get("Authorization") != "" {
		if !respCC.Has("must-revalidate") && !respCC.Has("public") && !respCC.Has("s-maxage") {
			return false
		}
	}
	if !isCacheableStatus(statusCode) {
		return false
	}
	// A response needs some way to be considered fresh or to expire:
	// either an explicit lifetime, or validators a future revalidation
	// could use, or a Last-Modified a heuristic can size a lifetime from.
	if _, ok := explicitLifetime(respHeaders, respCC); ok {
		return true
	}
	if respHeaders.Get("Last-Modified") != "" {
		return true
	}
	if respHeaders.Get("Etag") != "" {
		return true
	}
	return false
}

func isCacheableStatus(code int) bool {
	switch code {
	case http.StatusOK, http.StatusNonAuthoritativeInfo, http.StatusNoContent,
		http.StatusPartialContent, http.StatusMultipleChoices,
		http.StatusMovedPermanently, http.StatusNotFound,
		http.StatusMethodNotAllowed, http.StatusGone, http.StatusRequestURITooLong:
		return true
	}
	return false
}

// explicitLifetime returns the freshness lifetime a response header set
// declares explicitly (s-maxage, then max-age, then Expires-Date), per
// RFC 7234 §4.2.1.
func explicitLifetime(respHeaders http.Header, respCC CacheControl) (time.Duration, bool) {
	if d, ok := respCC.Duration("s-maxage"); ok {
		return d, true
	}
	if d, ok := respCC.Duration("max-age"); ok {
		return d, true
	}
	if expires := respHeaders.Get("Expires"); expires != "" {
		date, err := Date(respHeaders)
		if err != nil {
			date = time.Now()
		}
		expiresAt, err := http.ParseTime(expires)
		if err != nil {
			return 0, false
		}
		return expiresAt.Sub(date), true
	}
	return 0, false
}

// heuristicFraction is the fraction of time since Last-Modified that RFC
// 7234 §4.2.2 suggests using as a heuristic freshness lifetime.
const heuristicFraction = 0.10

// TimeToLive returns the freshness lifetime spec.md assigns to a
// response: the explicit lifetime if the response declares one,
// otherwise 10% of the time elapsed since Last-Modified (the heuristic
// RFC 7234 §4.2.2 recommends), otherwise zero (already stale the moment
// it's stored).
func TimeToLive(respHeaders http.Header, now time.Time) time.Duration {
	respCC := ParseCacheControl(respHeaders)
	if d, ok := explicitLifetime(respHeaders, respCC); ok {
		return d
	}
	if lm := respHeaders.Get("Last-Modified"); lm != "" {
		lastModified, err := http.ParseTime(lm)
		if err == nil {
			date, err := Date(respHeaders)
			if err != nil {
				date = now
			}
			if age := date.Sub(lastModified); age > 0 {
				return time.Duration(float64(age) * heuristicFraction)
			}
		}
	}
	return 0
}

// Age computes the current age of a stored response per RFC 7234 §4.2.3:
// the larger of the apparent age (now minus Date) and any Age header the
// origin already attached, advanced by the time spent in our own store.
func Age(respHeaders http.Header, storedAt, now time.Time) time.Duration {
	apparentAge := now.Sub(storedAt)
	if date, err := Date(respHeaders); err == nil {
		if fromDate := now.Sub(date); fromDate > apparentAge {
			apparentAge = fromDate
		}
	}
	if raw := respHeaders.Get("Age"); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			originAge := time.Duration(secs)*time.Second + now.Sub(storedAt)
			if originAge > apparentAge {
				apparentAge = originAge
			}
		}
	}
	if apparentAge < 0 {
		apparentAge = 0
	}
	return apparentAge
}

// ErrNoDateHeader indicates the response carries no Date header.
var ErrNoDateHeader = errNoDateHeader{}

type errNoDateHeader struct{}

func (errNoDateHeader) Error() string { return "policy: no Date header" }

// Date parses and returns the value of the Date header.
func Date(headers http.Header) (time.Time, error) {
	v := headers.Get("Date")
	if v == "" {
		return time.Time{}, ErrNoDateHeader
	}
	return http.ParseTime(v)
}

// BeforeRequest decides how a cached response (stored at storedAt, with
// respHeaders as stored) should be treated against an incoming request
// evaluated at now.
func BeforeRequest(respHeaders, reqHeaders http.Header, storedAt, now time.Time) Decision {
	reqCC := ParseCacheControl(reqHeaders)
	if reqCC.Has("no-cache") {
		return Miss
	}
	respCC := ParseCacheControl(respHeaders)
	if respCC.Has("no-cache") {
		return Miss
	}

	ttl := TimeToLive(respHeaders, storedAt)
	age := Age(respHeaders, storedAt, now)

	if maxAge, ok := reqCC.Duration("max-age"); ok && age > maxAge {
		return Miss
	}
	if minFresh, ok := reqCC.Duration("min-fresh"); ok {
		age += minFresh
	}

	if age < ttl {
		return FreshHit
	}
	return Miss
}

// VaryMatches reports whether a response cached under cachedReqHeaders
// may be served for newReqHeaders, given the Vary header the response
// was stored with. Per RFC 7234 §4.1, "Vary: *" never matches — such a
// response is effectively uncacheable for any later request.
func VaryMatches(respHeaders, cachedReqHeaders, newReqHeaders http.Header) bool {
	for _, raw := range respHeaders.Values("Vary") {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if name == "*" {
				return false
			}
			if cachedReqHeaders.Get(name) != newReqHeaders.Get(name) {
				return false
			}
		}
	}
	return true
}
