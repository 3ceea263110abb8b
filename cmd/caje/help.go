package main

import "github.com/creachadair/command"

var helpTopics = []command.HelpTopic{
	{
		Name: "environment",
		Help: `Environment variables understood by this program.

   --------------------------------------------------------------------
   Flag                Variable                Format     Default
   --------------------------------------------------------------------
    --from             PROXY_FROM_DOMAIN        hostname   slow.coreyja.com
    --origin           PROXY_ORIGIN_DOMAIN      hostname   slow-server.fly.dev
    --cache-dir        CACHE_DIR                path       ./tmp/cache
    --db               DATABASE_PATH            path       (in-memory)
    --db-url           DATABASE_URL             DSN        (derived from --db)
    --addr             ADDR                     host:port  0.0.0.0:3001
    --admin-password   CAJE_ADMIN_PASSWORD      string     (required for admin)
    -v                 CAJE_VERBOSE             bool       false

When DATABASE_PATH points at a real file and LITEFS is set, index writes
are wrapped in a replication halt (see "help replication").`,
	},
	{
		Name: "replication",
		Help: `How caje coordinates with a LiteFS-style SQLite replicator.

When running as a LiteFS follower, a write to the metadata index must not
race the replicator shipping the same page out from under it. caje holds
an exclusive open-file-description byte-range lock on {db}-lock around
each index write; the replicator is expected to honor the same lock
before streaming a transaction. If the lock can't be acquired within a
few seconds, the index write is skipped and only logged — the blob is
already safely on disk either way.`,
	},
}
