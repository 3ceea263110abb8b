// Package config centralizes the environment-derived settings the proxy
// needs at startup. It follows the same shape as
// _examples/tailscale-go-cache-plugin/cmd/go-cache-plugin/setup.go, which
// reads its own environment variables (AWS credentials, cache root) once
// at startup rather than scattering os.Getenv calls through the rest of
// the program.
package config

import "os"

// Defaults holds the compile-time fallback values used when the
// corresponding environment variable is unset.
var Defaults = struct {
	FromDomain   string
	OriginDomain string
	CacheDir     string
	Addr         string
}{
	FromDomain:   "slow.coreyja.com",
	OriginDomain: "slow-server.fly.dev",
	CacheDir:     "./tmp/cache",
	Addr:         "0.0.0.0:3001",
}

// Config is the fully resolved runtime configuration.
type Config struct {
	// FromDomain is the public hostname the proxy answers for.
	FromDomain string
	// OriginDomain is the backend hostname requests are forwarded to.
	OriginDomain string
	// CacheDir is the blob store root directory.
	CacheDir string
	// DatabasePath is the on-disk path of the SQLite metadata index, or
	// empty to use an in-memory database (mainly for tests/local runs
	// without persistence).
	DatabasePath string
	// DatabaseURL, if set, is used verbatim as the database/sql DSN
	// instead of deriving one from DatabasePath — mirroring how
	// replicated SQLite deployments (e.g. under LiteFS) prefer a URL
	// carrying driver-specific query parameters.
	DatabaseURL string
	// Addr is the listen address for the HTTP server.
	Addr string
	// LiteFS is the raw value of the LITEFS environment variable. A
	// non-empty value signals that replication coordination (C4) should
	// be engaged around index writes.
	LiteFS string
}

// Load reads Config from the environment, applying Defaults for anything
// unset.
func Load() Config {
	return Config{
		FromDomain:   getenv("PROXY_FROM_DOMAIN", Defaults.FromDomain),
		OriginDomain: getenv("PROXY_ORIGIN_DOMAIN", Defaults.OriginDomain),
		CacheDir:     getenv("CACHE_DIR", Defaults.CacheDir),
		DatabasePath: os.Getenv("DATABASE_PATH"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		Addr:         getenv("ADDR", Defaults.Addr),
		LiteFS:       os.Getenv("LITEFS"),
	}
}

// DSN returns the database/sql data source name to open: DatabaseURL if
// set, else DatabasePath, else an in-memory database.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return ":memory:"
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
