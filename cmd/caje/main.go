// Program caje runs the caching HTTP reverse proxy.
//
// It is structured the way
// _examples/tailscale-go-cache-plugin/cmd/go-cache-plugin wires up its own
// servers: a single command.C root binds flags with creachadair/flax,
// constructs the server, and runs it under a context cancelled by
// SIGINT/SIGTERM, shutting the HTTP server down gracefully on exit.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"

	"github.com/coreyja/caje-go/internal/admin"
	"github.com/coreyja/caje-go/internal/blobstore"
	"github.com/coreyja/caje-go/internal/config"
	"github.com/coreyja/caje-go/internal/index"
	"github.com/coreyja/caje-go/internal/proxy"
)

var flags struct {
	FromDomain   string `flag:"from,default=$PROXY_FROM_DOMAIN,Public hostname the proxy answers for"`
	OriginDomain string `flag:"origin,default=$PROXY_ORIGIN_DOMAIN,Backend hostname requests are forwarded to"`
	CacheDir     string `flag:"cache-dir,default=$CACHE_DIR,Local blob store directory"`
	DatabasePath string `flag:"db,default=$DATABASE_PATH,SQLite metadata index path (empty for in-memory)"`
	DatabaseURL  string `flag:"db-url,default=$DATABASE_URL,SQLite data source name (overrides --db)"`
	Addr         string `flag:"addr,default=$ADDR,HTTP listen address"`
	AdminPass    string `flag:"admin-password,default=$CAJE_ADMIN_PASSWORD,Password for the /_caje admin endpoints"`
	Verbose      bool   `flag:"v,default=$CAJE_VERBOSE,Enable verbose logging"`
}

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	root := &command.C{
		Name:  command.ProgramName(),
		Usage: "[options]",
		Help: `Run a caching HTTP reverse proxy.

caje fronts a single origin host, serving cacheable responses from a
local content-addressed store and a SQLite metadata index instead of
forwarding every request to the origin. See "help environment" for the
environment variables each flag falls back to.`,

		SetFlags: command.Flags(flax.MustBind, &flags),
		Run:      command.Adapt(runServe),

		Commands: []*command.C{
			command.HelpCommand(helpTopics),
			command.VersionCommand(),
		},
	}
	command.RunOrFail(root.NewEnv(nil), os.Args[1:])
}

func vprintf(msg string, args ...any) {
	if flags.Verbose {
		log.Printf(msg, args...)
	}
}

func runServe(env *command.Env) error {
	cfg := config.Load()
	if flags.FromDomain != "" {
		cfg.FromDomain = flags.FromDomain
	}
	if flags.OriginDomain != "" {
		cfg.OriginDomain = flags.OriginDomain
	}
	if flags.CacheDir != "" {
		cfg.CacheDir = flags.CacheDir
	}
	if flags.DatabasePath != "" {
		cfg.DatabasePath = flags.DatabasePath
	}
	if flags.DatabaseURL != "" {
		cfg.DatabaseURL = flags.DatabaseURL
	}
	if flags.Addr != "" {
		cfg.Addr = flags.Addr
	}

	ctx := env.Context()

	if err := os.MkdirAll(cfg.CacheDir, 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	blobs := blobstore.New(cfg.CacheDir)

	idx, err := index.Open(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	proxySrv := &proxy.Server{
		FromDomain:   cfg.FromDomain,
		OriginDomain: cfg.OriginDomain,
		Blobs:        blobs,
		Index:        idx,
		DBPath:       cfg.DatabasePath,
		LiteFS:       cfg.LiteFS,
		Logf:         vprintf,
	}
	adminSrv := &admin.Server{
		Index:    idx,
		Blobs:    blobs,
		Proxy:    proxySrv,
		Password: flags.AdminPass,
		Logf:     vprintf,
	}

	mux := http.NewServeMux()
	mux.Handle("/_caje/", adminSrv.Handler())
	mux.Handle("/", proxySrv)

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Printf("caje listening at %q, forwarding %s -> %s", cfg.Addr, cfg.FromDomain, cfg.OriginDomain)

	select {
	case <-runCtx.Done():
		log.Printf("shutting down")
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}
