package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-mizu/dgsync/internal/syncengine"
	"github.com/go-mizu/dgsync/internal/syncengine/memory"
	"github.com/go-mizu/dgsync/internal/transport"
	"github.com/go-mizu/dgsync/internal/webkit"
)

func testApply() syncengine.ApplyFunc {
	return func(_ context.Context, _ string, mut syncengine.Mutation) ([]syncengine.Change, error) {
		if mut.Table == "missing" {
			return nil, syncengine.ErrRowMissing
		}
		return []syncengine.Change{{Table: mut.Table, RowID: mut.RowID, Op: mut.Op, Data: mut.Data, ServerVersion: mut.BaseVersion + 1}}, nil
	}
}

func newTestApp(opts transport.Options) (*webkit.App, *syncengine.Engine) {
	if opts.Engine == nil {
		opts.Engine = syncengine.New(syncengine.Options{
			Log:    memory.NewLog(),
			Dedupe: memory.NewDedupe(),
			Apply:  testApply(),
		})
	}
	app := webkit.New()
	tr := transport.New(opts)
	tr.Mount(app.Router)
	return app, opts.Engine
}

func doRequest(app *webkit.App, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

func TestTransport_Push_Success(t *testing.T) {
	app, _ := newTestApp(transport.Options{})

	rec := doRequest(app, http.MethodPost, "/sync/push", transport.PushRequest{
		Scope: "test",
		Mutations: []syncengine.Mutation{
			{ClientCommitID: "c1", Table: "users", RowID: "1", Op: syncengine.Create, Data: json.RawMessage(`{"n":1}`)},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp transport.PushResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Cursor != 1 || len(resp.Commits) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestTransport_Push_NoMutations(t *testing.T) {
	app, _ := newTestApp(transport.Options{})
	rec := doRequest(app, http.MethodPost, "/sync/push", transport.PushRequest{Scope: "test"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTransport_Push_MaxBatch(t *testing.T) {
	engine := syncengine.New(syncengine.Options{Log: memory.NewLog(), Dedupe: memory.NewDedupe(), Apply: testApply()})
	app, _ := newTestApp(transport.Options{Engine: engine, MaxPushBatch: 2})

	muts := make([]syncengine.Mutation, 3)
	for i := range muts {
		muts[i] = syncengine.Mutation{ClientCommitID: string(rune('a' + i)), Table: "users", RowID: "1"}
	}
	rec := doRequest(app, http.MethodPost, "/sync/push", transport.PushRequest{Scope: "test", Mutations: muts})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp transport.ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != transport.CodeInvalid {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestTransport_Pull_Success(t *testing.T) {
	app, engine := newTestApp(transport.Options{})
	engine.Push(context.Background(), "test", []syncengine.Mutation{{ClientCommitID: "c1", Table: "users", RowID: "1"}})

	rec := doRequest(app, http.MethodPost, "/sync/pull", transport.PullRequest{Scope: "test", Cursor: 0, Limit: 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp transport.PullResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Changes) != 1 || resp.NextCursor != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestTransport_Pull_CursorTooOld(t *testing.T) {
	log := memory.NewLog()
	engine := syncengine.New(syncengine.Options{Log: log, Dedupe: memory.NewDedupe(), Apply: testApply()})
	app, _ := newTestApp(transport.Options{Engine: engine})

	for i := 0; i < 5; i++ {
		engine.Push(context.Background(), "test", []syncengine.Mutation{{ClientCommitID: string(rune('a' + i)), Table: "users", RowID: "1"}})
	}
	log.Trim(context.Background(), "test", 4)

	rec := doRequest(app, http.MethodPost, "/sync/pull", transport.PullRequest{Scope: "test", Cursor: 1})
	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", rec.Code)
	}

	var resp transport.ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != transport.CodeForceBootstrap {
		t.Fatalf("code = %q, want %q", resp.Code, transport.CodeForceBootstrap)
	}
}

func TestTransport_ScopeFunc_Error(t *testing.T) {
	engine := syncengine.New(syncengine.Options{Log: memory.NewLog(), Dedupe: memory.NewDedupe(), Apply: testApply()})
	app, _ := newTestApp(transport.Options{
		Engine: engine,
		ScopeFunc: func(*http.Request, string) (string, error) {
			return "", context.Canceled
		},
	})

	rec := doRequest(app, http.MethodPost, "/sync/pull", transport.PullRequest{Scope: "test"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestMapError_Table(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{syncengine.ErrRowMissing, http.StatusNotFound, transport.CodeRowMissing},
		{syncengine.ErrRowConflict, http.StatusConflict, transport.CodeRowConflict},
		{syncengine.ErrCursorTooOld, http.StatusGone, transport.CodeForceBootstrap},
		{syncengine.ErrSubscriptionRevoked, http.StatusForbidden, transport.CodeSubscriptionRevoked},
	}
	for _, tt := range cases {
		status, code := transport.MapError(tt.err)
		if status != tt.wantStatus || code != tt.wantCode {
			t.Errorf("MapError(%v) = (%d,%q), want (%d,%q)", tt.err, status, code, tt.wantStatus, tt.wantCode)
		}
	}
}
