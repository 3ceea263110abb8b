// Package wire implements the on-disk encoding for a cached request/response
// pair (a [CacheEntry]). The format must round-trip exactly and must never
// yield a partially-decoded value.
package wire

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"time"
)

// magic identifies the start of a wire record and pins its schema version.
// A codec change that isn't purely additive must bump this.
var magic = [4]byte{'C', 'J', '0', '1'}

// ErrMalformedRecord is returned by [Decode] when data does not begin with
// the expected magic, or the gob stream that follows doesn't match the
// schema. Decode never returns a partially-populated CacheEntry alongside
// this error.
var ErrMalformedRecord = errors.New("wire: malformed record")

// HeaderField is one name/value pair from an HTTP header block. Using a
// slice of these instead of a map preserves both the original ordering and
// any duplicate header names, which [http.Header] cannot.
type HeaderField struct {
	Name  string
	Value string
}

// CachedRequest is the subset of an HTTP request persisted alongside a
// cached response, sufficient to re-evaluate cache-control on retrieval.
type CachedRequest struct {
	Method  string
	URI     string
	Version string
	Headers []HeaderField
	Body    []byte
}

// CachedResponse is the stored origin response.
type CachedResponse struct {
	StatusCode int
	Version    string
	Headers    []HeaderField
	Body       []byte
}

// CacheEntry is the full serialization unit stored in the blob store.
type CacheEntry struct {
	Request  CachedRequest
	Response CachedResponse
	CachedAt time.Time
}

// Encode serializes e into its wire form. The encoding is a fixed magic
// prefix followed by a gob stream of e; gob's struct and slice encoders
// (unlike its map encoder) preserve field and element order, so together
// with the ordered HeaderField slices above, Encode/Decode round-trip
// exactly.
func Encode(e CacheEntry) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes data produced by [Encode]. On any error it returns
// the zero CacheEntry and [ErrMalformedRecord]; it never returns a
// partially-populated value.
func Decode(data []byte) (CacheEntry, error) {
	if len(data) < len(magic) || !bytes.Equal(data[:len(magic)], magic[:]) {
		return CacheEntry{}, ErrMalformedRecord
	}
	var e CacheEntry
	if err := gob.NewDecoder(bytes.NewReader(data[len(magic):])).Decode(&e); err != nil {
		return CacheEntry{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return e, nil
}
