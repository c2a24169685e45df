package transport

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/go-mizu/dgsync/internal/syncengine"
	"github.com/go-mizu/dgsync/internal/webkit"
)

const (
	defaultMaxPushBatch     = 100
	defaultMaxPullLimit     = 500
	defaultChunkPageSize    = 500
	maxBindBytes            = 4 << 20
	defaultActorHeader      = "X-Dgsync-Actor"
)

// Options configures a Transport.
type Options struct {
	Engine *syncengine.Engine

	// MaxPushBatch caps mutations per push request; 0 uses a default.
	MaxPushBatch int
	// MaxPullLimit caps the limit a pull request may request; 0 uses a default.
	MaxPullLimit int

	// ChunkStore backs the snapshot_chunks endpoint (spec §6). Required
	// for the snapshot endpoint to return a usable bootstrap manifest.
	ChunkStore syncengine.ChunkStore
	// ChunkPageSize caps rows per snapshot chunk; 0 uses a default.
	ChunkPageSize int

	// ScopeFunc, if set, rewrites the claimed scope before it reaches
	// the engine. Returning an error fails the request with 403.
	ScopeFunc func(r *http.Request, claimed string) (string, error)

	// ActorHeader names the request header carrying the authenticated
	// actor id, attached to the request context (syncengine.WithActor)
	// before every engine call so Engine.Options.Scope's ScopeAuthorizer
	// can authorize the claimed scope against it. Empty uses a default.
	ActorHeader string
}

// Transport serves the sync wire protocol over HTTP.
type Transport struct {
	opts Options
}

// New constructs a Transport.
func New(opts Options) *Transport {
	if opts.MaxPushBatch <= 0 {
		opts.MaxPushBatch = defaultMaxPushBatch
	}
	if opts.MaxPullLimit <= 0 {
		opts.MaxPullLimit = defaultMaxPullLimit
	}
	if opts.ChunkPageSize <= 0 {
		opts.ChunkPageSize = defaultChunkPageSize
	}
	if opts.ActorHeader == "" {
		opts.ActorHeader = defaultActorHeader
	}
	return &Transport{opts: opts}
}

// actorContext attaches the actor id carried by the configured
// ActorHeader to c's request context, for Engine.Options.Scope to
// authorize against. A request with no such header carries no actor,
// which a ScopeAuthorizer should treat as unauthorized rather than
// letting the claimed scope through unchecked.
func (t *Transport) actorContext(c *webkit.Ctx) context.Context {
	ctx := c.Context()
	if actor := c.Request().Header.Get(t.opts.ActorHeader); actor != "" {
		ctx = syncengine.WithActor(ctx, actor)
	}
	return ctx
}

// Mount registers the push/pull/snapshot endpoints at their default
// paths on router.
func (t *Transport) Mount(router *webkit.Router) {
	t.MountAt(router, "/sync")
}

// MountAt registers the push/pull/snapshot endpoints under prefix.
func (t *Transport) MountAt(router *webkit.Router, prefix string) {
	r := router.Prefix(prefix)
	r.Post("/push", t.handlePush)
	r.Post("/pull", t.handlePull)
	r.Post("/snapshot", t.handleSnapshot)
	r.Get("/snapshot_chunks/{id}", t.handleSnapshotChunk)
}

func (t *Transport) resolveScope(c *webkit.Ctx, claimed string) (string, bool) {
	if t.opts.ScopeFunc == nil {
		return claimed, true
	}
	scope, err := t.opts.ScopeFunc(c.Request(), claimed)
	if err != nil {
		t.writeError(c, http.StatusForbidden, CodeScopeViolation, err.Error())
		return "", false
	}
	return scope, true
}

func (t *Transport) writeError(c *webkit.Ctx, status int, code, message string) error {
	return c.JSON(status, ErrorResponse{Code: code, Message: message})
}

func (t *Transport) writeEngineError(c *webkit.Ctx, err error) error {
	status, code := MapError(err)
	return t.writeError(c, status, code, err.Error())
}

func (t *Transport) handlePush(c *webkit.Ctx) error {
	var req PushRequest
	if err := c.Bind(&req, maxBindBytes); err != nil {
		return t.writeError(c, http.StatusBadRequest, CodeInvalid, err.Error())
	}
	if len(req.Mutations) == 0 {
		return t.writeError(c, http.StatusBadRequest, CodeInvalid, "mutations must not be empty")
	}
	if len(req.Mutations) > t.opts.MaxPushBatch {
		return t.writeError(c, http.StatusBadRequest, CodeInvalid, "too many mutations in one push")
	}

	scope, ok := t.resolveScope(c, req.Scope)
	if !ok {
		return nil
	}

	result, err := t.opts.Engine.Push(t.actorContext(c), scope, req.Mutations)
	if err != nil {
		return t.writeEngineError(c, err)
	}

	resp := PushResponse{Cursor: result.Cursor, Commits: make([]CommitResponse, len(result.Commits))}
	for i, cr := range result.Commits {
		resp.Commits[i] = CommitResponse{ClientCommitID: cr.ClientCommitID, Seq: cr.Seq, Deduplicated: cr.Deduplicated}
	}
	return c.JSON(http.StatusOK, resp)
}

func (t *Transport) handlePull(c *webkit.Ctx) error {
	var req PullRequest
	if err := c.Bind(&req, maxBindBytes); err != nil {
		return t.writeError(c, http.StatusBadRequest, CodeInvalid, err.Error())
	}
	if req.Limit < 0 {
		return t.writeError(c, http.StatusBadRequest, CodeInvalid, "limit must not be negative")
	}
	if req.Limit > t.opts.MaxPullLimit {
		req.Limit = t.opts.MaxPullLimit
	}
	if req.Limit == 0 {
		req.Limit = t.opts.MaxPullLimit
	}

	scope, ok := t.resolveScope(c, req.Scope)
	if !ok {
		return nil
	}

	changes, next, err := t.opts.Engine.Pull(t.actorContext(c), scope, req.Cursor, req.Limit)
	if err != nil {
		return t.writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, PullResponse{Changes: changes, NextCursor: next})
}

func (t *Transport) handleSnapshot(c *webkit.Ctx) error {
	var req SnapshotRequest
	if err := c.Bind(&req, maxBindBytes); err != nil {
		return t.writeError(c, http.StatusBadRequest, CodeInvalid, err.Error())
	}

	scope, ok := t.resolveScope(c, req.Scope)
	if !ok {
		return nil
	}

	if t.opts.ChunkStore == nil {
		return t.writeError(c, http.StatusInternalServerError, CodeInternal, "snapshot chunk store is not configured")
	}

	manifest, err := t.opts.Engine.BuildBootstrap(t.actorContext(c), scope, t.opts.ChunkPageSize, t.opts.ChunkStore, func() string {
		return uuid.NewString()
	})
	if err != nil {
		return t.writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, SnapshotResponse{Bootstrap: manifest})
}

func (t *Transport) handleSnapshotChunk(c *webkit.Ctx) error {
	if t.opts.ChunkStore == nil {
		return t.writeError(c, http.StatusInternalServerError, CodeInternal, "snapshot chunk store is not configured")
	}
	id := c.Param("id")
	body, err := t.opts.ChunkStore.Get(c.Context(), id)
	if err != nil {
		return t.writeError(c, http.StatusNotFound, CodeRowMissing, err.Error())
	}
	return c.Bytes(http.StatusOK, body, "application/octet-stream")
}
