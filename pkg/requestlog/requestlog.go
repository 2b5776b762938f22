/*
Package requestlog implements the request-logger service: one line
per completed request, appended to a file, in a fixed space-separated
format. The formatter generalizes
the leveled, preformatted-string line logging pattern used elsewhere
in this module (log.Info/log.Warn over ad hoc fmt.Sprintf call sites)
into one formatter with a fixed, specified layout, and reuses
pkg/telemetry.Logger for the optional sendToSystemLog structured event
path instead of a global package-level logger.
*/
package requestlog

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
	"github.com/danfuzz/lactoserv-sub005/pkg/wrangler"
)

// Config configures the request logger service.
type Config struct {
	Output          io.Writer
	SendToSystemLog bool
}

// Logger formats and writes one line per completed request.
type Logger struct {
	mu     sync.Mutex
	output io.Writer
	toSys  bool
	logger telemetry.Logger
}

// New constructs a Logger.
func New(cfg Config, logger telemetry.Logger) *Logger {
	return &Logger{output: cfg.Output, toSys: cfg.SendToSystemLog, logger: logger.Sub("service", "requestLogger")}
}

// LogRequest formats and appends one line for a completed request,
// and optionally emits structured request/response events to the
// system log.
func (l *Logger) LogRequest(e wrangler.LogEntry) {
	line := FormatLine(e)

	l.mu.Lock()
	if l.output != nil {
		fmt.Fprintln(l.output, line)
	}
	l.mu.Unlock()

	if l.toSys {
		l.logger.Emit("request", e.Request.InfoForLog())
		l.logger.Emit("response", e.Response.InfoForLog())
	}
}

// FormatLine renders one completed request as:
// <end-timestamp> <origin> <protocol> <method> <url> <statusCode>
// <contentLengthOrNoBody> <durationStr> <codeOrErrorJoin>
func FormatLine(e wrangler.LogEntry) string {
	ts := e.EndTime.UTC().Format("20060102-15:04:05.0000")
	origin := e.RemoteAddr
	if origin == "" {
		origin = "-"
	}
	protocol := e.Protocol
	if protocol == "" {
		protocol = "http"
		if e.Request != nil && e.Request.Host.Port == 443 {
			protocol = "https"
		}
	}
	method := "-"
	url := "-"
	if e.Request != nil {
		method = e.Request.Method
		url = e.Request.URL.String()
	}
	status := "-"
	contentLen := "no-body"
	if e.Response != nil {
		status = fmt.Sprintf("%d", e.Response.StatusCode)
		if e.Response.HasBody() {
			contentLen = FormatContentLength(len(e.Response.Body))
		}
	}
	duration := FormatDuration(e.Duration)

	outcome := "ok"
	if len(e.ErrorCodes) > 0 {
		outcome = strings.Join(e.ErrorCodes, ",")
	}

	return strings.Join([]string{ts, origin, protocol, method, url, status, contentLen, duration, outcome}, " ")
}

// FormatContentLength renders a byte count as <N>B, <X>kB, or <X>MB,
// with fixed boundaries: B below 100000 bytes, kB below
// 10000*1024 bytes, else MB.
func FormatContentLength(n int) string {
	switch {
	case n < 100000:
		return fmt.Sprintf("%dB", n)
	case n < 10000*1024:
		return fmt.Sprintf("%.1fkB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	}
}

// FormatDuration renders a duration compactly, e.g. "12ms", "1.200s".
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
