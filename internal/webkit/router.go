// router.go
package webkit

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
)

// Handler is the webkit request handler signature. Returning an error
// routes the request through the owning Router's error handler.
type Handler func(c *Ctx) error

// Middleware wraps a Handler to produce another Handler.
type Middleware func(Handler) Handler

// PanicError wraps a recovered panic value together with its stack trace.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Router is a thin wrapper around http.ServeMux adding middleware chains,
// path prefixes, error handling and a stdlib-compatible escape hatch.
type Router struct {
	mux *http.ServeMux
	base string

	middlewares []Middleware
	std         []func(http.Handler) http.Handler

	errorHandler func(*Ctx, error)
	log          *slog.Logger

	// Compat bridges registration of plain net/http handlers and
	// standard http middleware onto this Router.
	Compat *httpRouter
}

// NewRouter constructs an empty Router ready to serve.
func NewRouter() *Router {
	r := &Router{
		mux: http.NewServeMux(),
		log: slog.Default(),
	}
	r.Compat = &httpRouter{r: r}
	return r
}

func cleanLeading(s string) string {
	if s == "" {
		return "/"
	}
	if strings.HasPrefix(s, "/") {
		return s
	}
	return "/" + s
}

func joinPath(base, p string) string {
	base = strings.TrimSuffix(base, "/")
	p = strings.Trim(p, "/")
	if p == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	if base == "" {
		return "/" + p
	}
	return base + "/" + p
}

func (r *Router) fullPath(p string) string {
	return joinPath(r.base, p)
}

// Use appends global middleware run (in order) for every route registered
// on this Router instance and its descendants created afterward.
func (r *Router) Use(mws ...Middleware) {
	r.middlewares = append(r.middlewares, mws...)
}

// Prefix returns a child Router rooted at base+path, inheriting the current
// middleware chain as a starting point for routes registered on the child.
func (r *Router) Prefix(path string) *Router {
	nr := &Router{
		mux:          r.mux,
		base:         r.fullPath(path),
		middlewares:  append([]Middleware{}, r.middlewares...),
		std:          append([]func(http.Handler) http.Handler{}, r.std...),
		errorHandler: r.errorHandler,
		log:          r.log,
	}
	nr.Compat = &httpRouter{r: nr}
	return nr
}

// With returns a child Router at the same base path with additional scoped
// middleware appended after the inherited chain.
func (r *Router) With(mws ...Middleware) *Router {
	nr := &Router{
		mux:          r.mux,
		base:         r.base,
		middlewares:  append(append([]Middleware{}, r.middlewares...), mws...),
		std:          append([]func(http.Handler) http.Handler{}, r.std...),
		errorHandler: r.errorHandler,
		log:          r.log,
	}
	nr.Compat = &httpRouter{r: nr}
	return nr
}

// ErrorHandler overrides how handler and panic errors are reported.
func (r *Router) ErrorHandler(fn func(*Ctx, error)) {
	r.errorHandler = fn
}

// Logger returns the router's logger, defaulting to slog.Default().
func (r *Router) Logger() *slog.Logger {
	if r.log == nil {
		return slog.Default()
	}
	return r.log
}

// SetLogger replaces the router's logger. A nil value is a no-op.
func (r *Router) SetLogger(l *slog.Logger) {
	if l != nil {
		r.log = l
	}
}

func (r *Router) reportError(c *Ctx, err error) {
	if r.errorHandler != nil {
		r.errorHandler(c, err)
		return
	}
	if !c.wroteHeader {
		http.Error(c.Writer(), http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// bind produces the final http.HandlerFunc for h, wrapping it with this
// Router's Ctx middleware chain, panic recovery and stdlib middleware.
func (r *Router) bind(h Handler) http.Handler {
	chain := h
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		chain = r.middlewares[i](chain)
	}

	var core http.Handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		c := newCtx(w, req, r)
		defer func() {
			if rec := recover(); rec != nil {
				pe := &PanicError{Value: rec, Stack: debug.Stack()}
				r.reportError(c, pe)
			}
		}()
		if err := chain(c); err != nil {
			r.reportError(c, err)
		}
	})

	for i := len(r.std) - 1; i >= 0; i-- {
		core = r.std[i](core)
	}
	return core
}

// Handle registers h for method (empty matches any method) at path. A
// path ending in "/" (other than "/" itself) keeps its trailing slash,
// so, as with http.ServeMux, it matches that path and everything below.
func (r *Router) Handle(method, path string, h Handler) {
	pattern := r.fullPath(path)
	if len(path) > 1 && strings.HasSuffix(path, "/") && !strings.HasSuffix(pattern, "/") {
		pattern += "/"
	}
	if method != "" {
		pattern = method + " " + pattern
	}
	r.mux.Handle(pattern, r.bind(h))
}

// Get registers a GET handler.
func (r *Router) Get(path string, h Handler) { r.Handle(http.MethodGet, path, h) }

// Post registers a POST handler.
func (r *Router) Post(path string, h Handler) { r.Handle(http.MethodPost, path, h) }

// Put registers a PUT handler.
func (r *Router) Put(path string, h Handler) { r.Handle(http.MethodPut, path, h) }

// Patch registers a PATCH handler.
func (r *Router) Patch(path string, h Handler) { r.Handle(http.MethodPatch, path, h) }

// Delete registers a DELETE handler.
func (r *Router) Delete(path string, h Handler) { r.Handle(http.MethodDelete, path, h) }

// Static serves files from fs under prefix, redirecting bare prefix
// requests to the trailing-slash form with 301 and supporting HEAD.
func (r *Router) Static(prefix string, fs http.FileSystem) {
	base := r.fullPath(prefix)
	mountPath := base
	if !strings.HasSuffix(mountPath, "/") {
		mountPath += "/"
	}
	stripPrefix := strings.TrimSuffix(mountPath, "/")

	fileServer := http.FileServer(fs)
	handler := Handler(func(c *Ctx) error {
		http.StripPrefix(stripPrefix, fileServer).ServeHTTP(c.Writer(), c.Request())
		return nil
	})

	r.mux.Handle(mountPath, r.bind(handler))
	if base != mountPath {
		r.mux.Handle(base, r.bind(func(c *Ctx) error {
			target := mountPath
			if q := c.Request().URL.RawQuery; q != "" {
				target += "?" + q
			}
			return c.Redirect(http.StatusMovedPermanently, target)
		}))
	}
}

// ServeHTTP implements http.Handler by delegating to the underlying mux.
// All middleware application happens at registration time via bind.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// httpRouter bridges registration of plain net/http handlers and stdlib
// middleware onto the owning Router, for integrating with existing code.
type httpRouter struct {
	r *Router
}

// Handle registers handler for any HTTP method at path.
func (h *httpRouter) Handle(path string, handler http.Handler) {
	pattern := h.r.fullPath(path)
	h.r.mux.Handle(pattern, h.r.bindStd(handler))
}

// HandleMethod registers handler for a single HTTP method at path.
func (h *httpRouter) HandleMethod(method, path string, handler http.Handler) {
	pattern := method + " " + h.r.fullPath(path)
	h.r.mux.Handle(pattern, h.r.bindStd(handler))
}

// Mount registers handler to serve path and everything beneath it.
func (h *httpRouter) Mount(path string, handler http.Handler) {
	base := h.r.fullPath(path)
	sub := strings.TrimSuffix(base, "/") + "/"
	stripped := http.StripPrefix(strings.TrimSuffix(sub, "/"), handler)

	h.r.mux.Handle(base, h.r.bindStd(handler))
	h.r.mux.Handle(sub, h.r.bindStd(stripped))
}

// Use appends standard library style middleware applied to every route
// registered (natively or via Compat) on the owning Router.
func (h *httpRouter) Use(mws ...func(http.Handler) http.Handler) {
	h.r.std = append(h.r.std, mws...)
}

// Group creates a scoped httpRouter rooted at prefix.
func (h *httpRouter) Group(prefix string, fn func(*httpRouter)) {
	sub := h.r.Prefix(prefix)
	fn(sub.Compat)
}

func (r *Router) bindStd(handler http.Handler) http.Handler {
	var core http.Handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				c := newCtx(w, req, r)
				pe := &PanicError{Value: rec, Stack: debug.Stack()}
				r.reportError(c, pe)
			}
		}()
		handler.ServeHTTP(w, req)
	})
	for i := len(r.std) - 1; i >= 0; i-- {
		core = r.std[i](core)
	}
	return core
}

var errHijackUnsupported = errors.New("webkit: response writer does not support hijacking")
