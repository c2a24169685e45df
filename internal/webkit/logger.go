// logger.go
package webkit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Mode selects the logging output style.
type Mode int

const (
	// Auto picks Dev when Output is a terminal, Prod otherwise.
	Auto Mode = iota
	// Dev produces human-readable text lines with latency annotations.
	Dev
	// Prod produces structured JSON lines.
	Prod
)

// LoggerOptions configures the Logger middleware.
type LoggerOptions struct {
	Mode   Mode
	Output io.Writer

	// UserAgent includes the request's User-Agent header when true.
	UserAgent bool

	// RequestIDHeader names the header read from the request and echoed
	// on the response. Defaults to "X-Request-Id".
	RequestIDHeader string

	// RequestIDGen generates a request id when the header is absent.
	RequestIDGen func() string

	// TraceExtractor pulls trace/span identifiers out of the request context.
	TraceExtractor func(ctx context.Context) (traceID, spanID string, sampled bool)

	// Logger, when set, is used directly and Mode/Output are ignored.
	Logger *slog.Logger
}

// Logger returns request-logging middleware.
func Logger(opts LoggerOptions) Middleware {
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	mode := opts.Mode
	if mode == Auto {
		if isTerminal(output) {
			mode = Dev
		} else {
			mode = Prod
		}
	}

	logger := opts.Logger
	if logger == nil {
		var handler slog.Handler
		hopts := &slog.HandlerOptions{Level: slog.LevelDebug}
		switch mode {
		case Dev:
			if decideColor(output) {
				handler = newColorTextHandler(output, hopts)
			} else {
				handler = slog.NewTextHandler(output, hopts)
			}
		default:
			handler = slog.NewJSONHandler(output, hopts)
		}
		logger = slog.New(handler)
	}

	headerName := opts.RequestIDHeader
	if headerName == "" {
		headerName = "X-Request-Id"
	}

	return func(next Handler) Handler {
		return func(c *Ctx) error {
			start := time.Now()

			reqID := c.Request().Header.Get(headerName)
			if reqID == "" && opts.RequestIDGen != nil {
				reqID = opts.RequestIDGen()
			}
			if reqID != "" {
				c.Writer().Header().Set(headerName, reqID)
			}

			err := next(c)
			elapsed := time.Since(start)
			status := c.StatusCode()

			attrs := []slog.Attr{
				slog.Int("status", status),
				slog.String("method", c.Request().Method),
				slog.String("path", c.Request().URL.Path),
				slog.String("host", c.Request().Host),
				slog.Int64("duration_ms", elapsed.Milliseconds()),
				slog.String("request_id", reqID),
				slog.String("query", c.Request().URL.RawQuery),
			}
			if opts.UserAgent {
				attrs = append(attrs, slog.String("user_agent", c.Request().UserAgent()))
			}
			if opts.TraceExtractor != nil {
				if traceID, spanID, sampled := opts.TraceExtractor(c.Context()); traceID != "" {
					attrs = append(attrs,
						slog.String("trace_id", traceID),
						slog.String("span_id", spanID),
						slog.Bool("trace_sampled", sampled),
					)
				}
			}
			errMsg := ""
			if err != nil {
				errMsg = err.Error()
			}
			attrs = append(attrs, slog.String("error", errMsg))

			if mode == Dev {
				attrs = append(attrs, slog.String("latency_human", humanDuration(elapsed)))
			}

			logger.LogAttrs(c.Context(), levelFor(status, err), "request", attrs...)
			return err
		}
	}
}

func levelFor(status int, err error) slog.Level {
	switch {
	case err != nil || status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.1fµs", float64(d.Nanoseconds())/1000)
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1e6)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

func attrInt(a slog.Attr) (int64, bool) {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	default:
		return 0, false
	}
}

// supportsColorEnv reports whether standard environment variables allow
// colored output, independent of whether Output is actually a terminal.
func supportsColorEnv() bool {
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return runtime.GOOS != "windows"
}

func decideColor(output io.Writer) bool {
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if !supportsColorEnv() {
		return false
	}
	return isTerminal(output)
}

// isTerminal reports whether w is a character device such as a tty.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiCyan   = "\x1b[36m"
)

func ansiForLevel(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return ansiRed
	case l >= slog.LevelWarn:
		return ansiYellow
	default:
		return ansiCyan
	}
}

func ansiForStatus(code int) string {
	switch {
	case code >= 500:
		return ansiRed
	case code >= 400:
		return ansiYellow
	case code >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

// colorTextHandler is a minimal slog.Handler emitting ANSI-colored
// key=value lines, used in Dev mode when the destination supports color.
type colorTextHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	opts  *slog.HandlerOptions
	attrs []slog.Attr
}

func newColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *colorTextHandler {
	return &colorTextHandler{w: w, opts: opts, mu: &sync.Mutex{}}
}

func (h *colorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.opts != nil && h.opts.Level != nil {
		min = h.opts.Level.Level()
	}
	return level >= min
}

func (h *colorTextHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var b strings.Builder
	b.WriteString(r.Time.Format(time.RFC3339Nano))
	b.WriteByte(' ')
	b.WriteString(ansiForLevel(r.Level))
	b.WriteString(r.Level.String())
	b.WriteString(ansiReset)
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		h.writeAttr(&b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, a)
		return true
	})
	b.WriteByte('\n')

	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *colorTextHandler) writeAttr(b *strings.Builder, a slog.Attr) {
	b.WriteByte(' ')
	if a.Key == "status" {
		if n, ok := attrInt(a); ok {
			b.WriteString("status=")
			b.WriteString(ansiForStatus(int(n)))
			b.WriteString(strconv.FormatInt(n, 10))
			b.WriteString(ansiReset)
			return
		}
	}
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}

func (h *colorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := &colorTextHandler{mu: h.mu, w: h.w, opts: h.opts}
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return nh
}

func (h *colorTextHandler) WithGroup(_ string) slog.Handler {
	return h
}
