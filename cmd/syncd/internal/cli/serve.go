package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/go-mizu/dgsync/internal/syncengine"
	"github.com/go-mizu/dgsync/internal/syncengine/memory"
	"github.com/go-mizu/dgsync/internal/transport"
	"github.com/go-mizu/dgsync/internal/webkit"
	"github.com/go-mizu/dgsync/plugin"
	"github.com/go-mizu/dgsync/plugin/e2ee"
	"github.com/go-mizu/dgsync/server/maintenance"
	"github.com/go-mizu/dgsync/server/notify"
	"github.com/go-mizu/dgsync/server/pgstore"
	"github.com/go-mizu/dgsync/server/rowstore"
)

var serveOpts struct {
	listen string
	mode   string

	postgresDSN string
	redisAddr   string

	maintenanceScopes   []string
	maintenanceInterval time.Duration
	activeWindow        time.Duration
	fallbackMaxAge      time.Duration
	fullHistoryWindow   time.Duration
	keepNewest          uint64
	minInterval         time.Duration

	maxPushBatch  int
	maxPullLimit  int
	chunkPageSize int

	requireE2EE bool

	actorHeader string
	scopeGrants []string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(execCtx)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveOpts.listen, "listen", ":8080", "address to listen on")
	f.StringVar(&serveOpts.mode, "mode", "memory", "backing store: memory or postgres")
	f.StringVar(&serveOpts.postgresDSN, "postgres-dsn", "", "Postgres connection string (required for --mode=postgres)")
	f.StringVar(&serveOpts.redisAddr, "redis-addr", "", "Redis address for cross-replica notify/lock (omit for single-instance)")
	f.StringSliceVar(&serveOpts.maintenanceScopes, "maintenance-scope", nil, "scope to run periodic compaction/prune against (repeatable)")
	f.DurationVar(&serveOpts.maintenanceInterval, "maintenance-interval", 5*time.Minute, "how often to run the compaction/prune loop")
	f.DurationVar(&serveOpts.activeWindow, "active-window", 14*24*time.Hour, "how recently a client must have pulled to hold back the prune watermark")
	f.DurationVar(&serveOpts.fallbackMaxAge, "fallback-max-age", 30*24*time.Hour, "prune watermark fallback when no client cursor is active")
	f.DurationVar(&serveOpts.fullHistoryWindow, "full-history-window", 7*24*time.Hour, "age past which per-row change history may be compacted")
	f.Uint64Var(&serveOpts.keepNewest, "keep-newest", 1000, "never prune the newest N commits of a scope")
	f.DurationVar(&serveOpts.minInterval, "maintenance-min-interval", time.Minute, "minimum time between maintenance runs for the same scope")
	f.IntVar(&serveOpts.maxPushBatch, "max-push-batch", 0, "cap on mutations per push request (0 = transport default)")
	f.IntVar(&serveOpts.maxPullLimit, "max-pull-limit", 0, "cap on changes per pull request (0 = transport default)")
	f.IntVar(&serveOpts.chunkPageSize, "chunk-page-size", 0, "rows per snapshot chunk (0 = transport default)")
	f.BoolVar(&serveOpts.requireE2EE, "require-e2ee", false, "reject pushes whose payload is not sentinel-prefixed ciphertext")
	f.StringVar(&serveOpts.actorHeader, "actor-header", "X-Dgsync-Actor", "request header carrying the authenticated actor id")
	f.StringSliceVar(&serveOpts.scopeGrants, "scope-grant", nil, "actor=scope grant beyond an actor's own scope (repeatable)")
}

// parseScopeGrants turns repeated "actor=scope" flag values into the
// grant map StaticAuthorizer expects.
func parseScopeGrants(raw []string) (map[string][]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	grants := make(map[string][]string, len(raw))
	for _, g := range raw {
		actor, scope, ok := strings.Cut(g, "=")
		if !ok || actor == "" || scope == "" {
			return nil, fmt.Errorf("syncd: --scope-grant %q must be actor=scope", g)
		}
		grants[actor] = append(grants[actor], scope)
	}
	return grants, nil
}

// backend bundles the Log/Dedupe/Cursors/rowstore quadruple a mode wires
// together, so runServe doesn't branch on mode past construction time.
type backend struct {
	log     syncengine.Log
	dedupe  syncengine.Dedupe
	cursors maintenance.ClientCursorSource
	rows    interface {
		Begin(ctx context.Context, scope string) (syncengine.PushTx, error)
		Snapshot(ctx context.Context, scope string) ([]syncengine.Change, error)
	}
	closeFn func()
}

func buildBackend(ctx context.Context) (*backend, error) {
	switch strings.ToLower(serveOpts.mode) {
	case "memory", "":
		log := memory.NewLog()
		return &backend{
			log:     log,
			dedupe:  memory.NewDedupe(),
			cursors: noCursors{},
			rows:    rowstore.NewMemory(),
			closeFn: func() {},
		}, nil

	case "postgres":
		if serveOpts.postgresDSN == "" {
			return nil, fmt.Errorf("--postgres-dsn is required for --mode=postgres")
		}
		pool, err := pgxpool.New(ctx, serveOpts.postgresDSN)
		if err != nil {
			return nil, fmt.Errorf("syncd: connect postgres: %w", err)
		}
		if _, err := pool.Exec(ctx, pgstore.Schema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("syncd: apply pgstore schema: %w", err)
		}
		if _, err := pool.Exec(ctx, rowstore.Schema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("syncd: apply rowstore schema: %w", err)
		}
		return &backend{
			log:     pgstore.New(pool),
			dedupe:  pgstore.NewDedupe(pool),
			cursors: pgstore.NewCursorSource(pool),
			rows:    rowstore.New(pool),
			closeFn: pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown --mode %q (want memory or postgres)", serveOpts.mode)
	}
}

// noCursors backs the in-memory/demo mode, which tracks no server-side
// client cursor registry; maintenance falls back to its age-based cutoff.
type noCursors struct{}

func (noCursors) ClientCursors(context.Context, string) ([]maintenance.ClientCursor, error) {
	return nil, nil
}

func runServe(ctx context.Context) error {
	be, err := buildBackend(ctx)
	if err != nil {
		return err
	}
	defer be.closeFn()

	var notifier *notify.Notifier
	var lock maintenance.DistributedLock
	if serveOpts.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: serveOpts.redisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("syncd: connect redis: %w", err)
		}
		notifier = notify.New(client)
		lock = notify.NewLock(client)
	}

	var beforePush []syncengine.BeforePush
	var afterPull []syncengine.AfterPull
	if serveOpts.requireE2EE {
		pipeline := plugin.New(e2ee.New(true))
		beforePush = pipeline.BeforePushHooks()
		afterPull = pipeline.AfterPullHooks()
	}

	grants, err := parseScopeGrants(serveOpts.scopeGrants)
	if err != nil {
		return err
	}
	scopeFn := syncengine.NewScopeFunc(syncengine.NewStaticAuthorizer(grants))

	engineOpts := syncengine.Options{
		Log:        be.log,
		Dedupe:     be.dedupe,
		Apply:      be.rows,
		Scope:      scopeFn,
		Snapshot:   be.rows.Snapshot,
		BeforePush: beforePush,
		AfterPull:  afterPull,
	}
	if notifier != nil {
		engineOpts.Notify = notifier.Publish
	}
	engine := syncengine.New(engineOpts)

	chunkStore := memory.NewChunkStore()
	tr := transport.New(transport.Options{
		Engine:        engine,
		MaxPushBatch:  serveOpts.maxPushBatch,
		MaxPullLimit:  serveOpts.maxPullLimit,
		ChunkStore:    chunkStore,
		ChunkPageSize: serveOpts.chunkPageSize,
		ActorHeader:   serveOpts.actorHeader,
	})

	app := webkit.New()
	tr.Mount(app.Router)
	app.Router.Compat.Handle("/healthz", app.HealthzHandler())

	coordinator := maintenance.New(maintenance.Options{
		Log:            be.log,
		Cursors:        be.cursors,
		Lock:           lock,
		ActiveWindow:   serveOpts.activeWindow,
		FallbackMaxAge: serveOpts.fallbackMaxAge,
		KeepNewest:     serveOpts.keepNewest,
		MinInterval:    serveOpts.minInterval,
	})

	stopMaintenance := make(chan struct{})
	go runMaintenanceLoop(ctx, coordinator, app.Logger(), stopMaintenance)
	defer close(stopMaintenance)

	app.Logger().Info("syncd starting",
		"listen", serveOpts.listen,
		"mode", serveOpts.mode,
		"redis", serveOpts.redisAddr != "",
	)

	srv := &http.Server{Addr: serveOpts.listen, Handler: app}
	if err := app.ServeContext(ctx, srv, func() error { return srv.ListenAndServe() }); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func runMaintenanceLoop(ctx context.Context, c *maintenance.Coordinator, log *slog.Logger, stop <-chan struct{}) {
	if len(serveOpts.maintenanceScopes) == 0 {
		return
	}
	ticker := time.NewTicker(serveOpts.maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			for _, scope := range serveOpts.maintenanceScopes {
				if _, err := c.Run(ctx, scope, serveOpts.fullHistoryWindow); err != nil {
					log.Error("maintenance run failed", "scope", scope, "error", err)
				}
			}
		}
	}
}
