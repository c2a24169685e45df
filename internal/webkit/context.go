// context.go
package webkit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"
)

// Ctx carries per-request state: the underlying request/response pair,
// the owning Router and a pending status code.
type Ctx struct {
	w http.ResponseWriter
	r *http.Request

	router *Router
	rc     *http.ResponseController

	status      int
	wroteHeader bool
}

func newCtx(w http.ResponseWriter, r *http.Request, router *Router) *Ctx {
	return &Ctx{
		w:      w,
		r:      r,
		router: router,
		rc:     http.NewResponseController(w),
		status: http.StatusOK,
	}
}

// Request returns the underlying *http.Request.
func (c *Ctx) Request() *http.Request { return c.r }

// Writer returns the underlying http.ResponseWriter.
func (c *Ctx) Writer() http.ResponseWriter { return c.w }

// Response is an alias for Writer, kept for callers that prefer that name.
func (c *Ctx) Response() http.ResponseWriter { return c.w }

// Header returns the response header map.
func (c *Ctx) Header() http.Header { return c.w.Header() }

// Context returns the request's context.
func (c *Ctx) Context() context.Context { return c.r.Context() }

// Logger returns the owning Router's logger, or slog.Default() if unset.
func (c *Ctx) Logger() *slog.Logger {
	if c.router == nil {
		return slog.Default()
	}
	return c.router.Logger()
}

// StatusCode returns the status code pending or already written.
func (c *Ctx) StatusCode() int { return c.status }

// Status sets the pending status code; it has no effect once the header
// has already been written.
func (c *Ctx) Status(code int) *Ctx {
	if !c.wroteHeader {
		c.status = code
	}
	return c
}

// Param returns a path parameter extracted by the router (net/http
// pattern matching via (*http.Request).PathValue).
func (c *Ctx) Param(name string) string {
	return c.r.PathValue(name)
}

// Query returns the first value of a query parameter.
func (c *Ctx) Query(name string) string {
	if c.r.URL == nil {
		return ""
	}
	return c.r.URL.Query().Get(name)
}

// QueryValues returns all query parameters; never nil.
func (c *Ctx) QueryValues() url.Values {
	if c.r.URL == nil {
		return url.Values{}
	}
	return c.r.URL.Query()
}

// Form parses and returns the request's form values (query + body for
// application/x-www-form-urlencoded requests).
func (c *Ctx) Form() (url.Values, error) {
	if err := c.r.ParseForm(); err != nil {
		return nil, err
	}
	return c.r.Form, nil
}

// MultipartForm parses a multipart request body and returns a cleanup
// function that removes any temporary files created during parsing.
func (c *Ctx) MultipartForm(maxMemory int64) (*multipart.Form, func(), error) {
	if err := c.r.ParseMultipartForm(maxMemory); err != nil {
		return nil, func() {}, err
	}
	form := c.r.MultipartForm
	cleanup := func() {
		if form != nil {
			_ = form.RemoveAll()
		}
	}
	return form, cleanup, nil
}

// Cookie returns the named request cookie.
func (c *Ctx) Cookie(name string) (*http.Cookie, error) {
	return c.r.Cookie(name)
}

// SetCookie appends a Set-Cookie header to the response.
func (c *Ctx) SetCookie(cookie *http.Cookie) {
	http.SetCookie(c.w, cookie)
}

// Bind decodes a JSON request body into v, rejecting unknown fields and
// trailing data. A positive maxBytes caps the body size read.
func (c *Ctx) Bind(v any, maxBytes int64) error {
	var reader io.Reader = c.r.Body
	if maxBytes > 0 {
		reader = io.LimitReader(c.r.Body, maxBytes+1)
	}

	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return err
	}

	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return errors.New("webkit: body contains trailing data")
		}
		return err
	}

	return nil
}

// NoContent writes a 204 response with no body.
func (c *Ctx) NoContent() error {
	c.status = http.StatusNoContent
	c.w.WriteHeader(http.StatusNoContent)
	c.wroteHeader = true
	return nil
}

// Redirect writes a redirect response. code 0 defaults to 302 Found.
func (c *Ctx) Redirect(code int, target string) error {
	if code == 0 {
		code = http.StatusFound
	}
	c.status = code
	http.Redirect(c.w, c.r, target, code)
	c.wroteHeader = true
	return nil
}

func (c *Ctx) writeHeader(code int) {
	if c.wroteHeader {
		return
	}
	c.status = code
	c.w.WriteHeader(code)
	c.wroteHeader = true
}

// JSON encodes v as JSON and writes it with the given status code.
func (c *Ctx) JSON(code int, v any) error {
	if c.Header().Get("Content-Type") == "" {
		c.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	c.writeHeader(code)
	return json.NewEncoder(c.w).Encode(v)
}

// HTML writes s as an HTML response with the given status code.
func (c *Ctx) HTML(code int, s string) error {
	if c.Header().Get("Content-Type") == "" {
		c.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	c.writeHeader(code)
	_, err := io.WriteString(c.w, s)
	return err
}

// Text writes s as plain text, falling back to octet-stream when s is not
// valid UTF-8.
func (c *Ctx) Text(code int, s string) error {
	if c.Header().Get("Content-Type") == "" {
		if utf8.ValidString(s) {
			c.Header().Set("Content-Type", "text/plain; charset=utf-8")
		} else {
			c.Header().Set("Content-Type", "application/octet-stream")
		}
	}
	c.writeHeader(code)
	_, err := io.WriteString(c.w, s)
	return err
}

// Bytes writes b with the given content type, defaulting to octet-stream.
func (c *Ctx) Bytes(code int, b []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if c.Header().Get("Content-Type") == "" {
		c.Header().Set("Content-Type", contentType)
	}
	c.writeHeader(code)
	_, err := c.w.Write(b)
	return err
}

// Write implements io.Writer, honoring the pending Status() on first write.
func (c *Ctx) Write(p []byte) (int, error) {
	c.writeHeader(c.status)
	return c.w.Write(p)
}

// WriteString writes s, honoring the pending Status() on first write.
func (c *Ctx) WriteString(s string) (int, error) {
	c.writeHeader(c.status)
	return io.WriteString(c.w, s)
}

// File serves the file at path. code 0 uses the pending Status().
func (c *Ctx) File(code int, path string) error {
	if code == 0 {
		code = c.status
	}
	c.status = code
	c.wroteHeader = true
	http.ServeFile(&statusResponseWriter{ResponseWriter: c.w, code: code}, c.r, path)
	return nil
}

// Download serves the file at path as an attachment named filename.
func (c *Ctx) Download(code int, path, filename string) error {
	c.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	return c.File(code, path)
}

// Stream calls fn with the response writer, setting a default content type
// if none has been set.
func (c *Ctx) Stream(fn func(io.Writer) error) error {
	if c.Header().Get("Content-Type") == "" {
		c.Header().Set("Content-Type", "application/octet-stream")
	}
	c.writeHeader(c.status)
	return fn(c.w)
}

// SSE streams each value from ch as a server-sent event, JSON-encoding
// non-string values, and emits a terminal "end" event once ch closes or
// the request context is canceled.
func (c *Ctx) SSE(ch <-chan any) error {
	flusher, ok := c.w.(http.Flusher)
	if !ok {
		return errors.New("webkit: response writer does not support flushing")
	}

	c.Header().Set("Content-Type", "text/event-stream")
	c.Header().Set("Cache-Control", "no-cache")
	c.Header().Set("Connection", "keep-alive")
	c.writeHeader(c.status)
	flusher.Flush()

	ctx := c.r.Context()

	for {
		select {
		case <-ctx.Done():
			_, _ = io.WriteString(c.w, "event: end\ndata: {}\n\n")
			flusher.Flush()
			return nil
		case v, more := <-ch:
			if !more {
				_, _ = io.WriteString(c.w, "event: end\ndata: {}\n\n")
				flusher.Flush()
				return nil
			}
			var payload string
			if s, isStr := v.(string); isStr {
				payload = s
			} else {
				b, err := json.Marshal(v)
				if err != nil {
					return err
				}
				payload = string(b)
			}
			if _, err := fmt.Fprintf(c.w, "data: %s\n\n", payload); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// Flush flushes the response writer if it supports flushing.
func (c *Ctx) Flush() {
	if f, ok := c.w.(http.Flusher); ok {
		f.Flush()
	}
}

// SetWriter replaces the response writer and rebuilds the associated
// http.ResponseController.
func (c *Ctx) SetWriter(w http.ResponseWriter) {
	c.w = w
	c.rc = http.NewResponseController(w)
}

// SetWriteDeadline delegates to the underlying http.ResponseController.
func (c *Ctx) SetWriteDeadline(t time.Time) error {
	return c.rc.SetWriteDeadline(t)
}

// EnableFullDuplex delegates to the underlying http.ResponseController.
func (c *Ctx) EnableFullDuplex() error {
	return c.rc.EnableFullDuplex()
}

// Hijack takes over the connection, returning an error if unsupported.
func (c *Ctx) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := c.rc.Hijack()
	if err != nil {
		return nil, nil, errHijackUnsupported
	}
	return conn, rw, nil
}

// statusResponseWriter pins WriteHeader to a fixed code, used so
// http.ServeFile respects an explicit status override.
type statusResponseWriter struct {
	http.ResponseWriter
	code    int
	written bool
}

func (w *statusResponseWriter) WriteHeader(_ int) {
	if w.written {
		return
	}
	w.written = true
	w.ResponseWriter.WriteHeader(w.code)
}

func (w *statusResponseWriter) Write(p []byte) (int, error) {
	if !w.written {
		w.WriteHeader(w.code)
	}
	return w.ResponseWriter.Write(p)
}

