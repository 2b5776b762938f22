/*
Package wrangler implements the per-endpoint protocol wrangler:
accept loop, TLS+SNI, HTTP/1.1 and HTTP/2 demux, and graceful
shutdown. It generalizes the fixed-pair-of-ports http.Server+net.Listen
shape (one hardcoded :8000/:8443 listener pair) into one wrangler per
configured endpoint, with its protocol read from config instead of
hardcoded, SNI resolved through pkg/hostmanager instead of a single
static tls.Config, HTTP/2 enabled explicitly via golang.org/x/net/http2
instead of relying on net/http's implicit h2 support, and outbound
bytes paced through pkg/ratelimitedstream instead of raw net.Conn.
*/
package wrangler

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danfuzz/lactoserv-sub005/pkg/hostmanager"
	"github.com/danfuzz/lactoserv-sub005/pkg/lifecycle"
	"github.com/danfuzz/lactoserv-sub005/pkg/ratelimitedstream"
	"github.com/danfuzz/lactoserv-sub005/pkg/request"
	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
	"github.com/danfuzz/lactoserv-sub005/pkg/tokenbucket"
	"github.com/google/uuid"
	"golang.org/x/net/http2"
)

// Protocol selects the per-endpoint transport.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolHTTP2 Protocol = "http2"
)

// Config configures one wrangler (one listening endpoint).
type Config struct {
	Name         string
	Address      string
	Port         int
	Protocol     Protocol
	GraceTimeout time.Duration
}

// RequestHandler is the function an endpoint's Router exposes; the
// wrangler calls it once per parsed request.
type RequestHandler func(req *request.IncomingRequest) request.HandlerResult

// RequestLogFunc is invoked once per completed request with the
// {request, response, duration, startTime, endTime} tuple; nil
// disables request logging for this wrangler.
type RequestLogFunc func(entry LogEntry)

// LogEntry is the event a wrangler emits on request completion.
type LogEntry struct {
	Request    *request.IncomingRequest
	Response   *request.Response
	Duration   time.Duration
	StartTime  time.Time
	EndTime    time.Time
	RemoteAddr string
	SessionID  string
	Protocol   string
	ErrorCodes []string
}

// connCtxKey keys the per-connection WranglerContext inside request
// contexts, installed via http.Server.ConnContext.
type connCtxKey struct{}

// WranglerContext is the per-connection record installed at accept
// time: one session id per transport connection, shared by every
// request parsed off it.
type WranglerContext struct {
	SessionID     string
	RemoteAddress string
	StartTime     time.Time
	Logger        telemetry.Logger
}

// ContextFor returns the WranglerContext of the connection an
// in-flight request arrived on, or nil for requests not served
// through a Wrangler (e.g. hand-built test requests).
func ContextFor(r *http.Request) *WranglerContext {
	cc, _ := r.Context().Value(connCtxKey{}).(*WranglerContext)
	return cc
}

// Wrangler is the per-endpoint listener component.
type Wrangler struct {
	lifecycle.NopImpl

	cfg         Config
	hosts       *hostmanager.Manager
	bucket      *tokenbucket.Bucket
	handler     RequestHandler
	logRequest  RequestLogFunc
	logger      telemetry.Logger

	server   *http.Server
	listener net.Listener
}

// New constructs a Wrangler. hosts may be nil for plain http; bucket
// may be nil to disable outbound pacing.
func New(cfg Config, hosts *hostmanager.Manager, bucket *tokenbucket.Bucket, handler RequestHandler, logRequest RequestLogFunc, logger telemetry.Logger) *Wrangler {
	return &Wrangler{
		cfg:        cfg,
		hosts:      hosts,
		bucket:     bucket,
		handler:    handler,
		logRequest: logRequest,
		logger:     logger.Sub("wrangler", cfg.Name),
	}
}

// Start implements the start half of lifecycle.Impl: it binds the
// listener, installs TLS/HTTP2 as configured, and begins accepting
// connections in a background goroutine. It returns once the listener
// is bound, not once it stops accepting (Serve runs async, matching
// net/http.Server's own async-serve convention).
func (w *Wrangler) Start(ctx context.Context, self *lifecycle.Component) error {
	addr := fmt.Sprintf("%s:%d", w.cfg.Address, w.cfg.Port)

	mux := http.NewServeMux()
	mux.HandleFunc("/", w.serveHTTP)

	w.server = &http.Server{
		Addr:        addr,
		Handler:     mux,
		ConnContext: w.newConnContext,
	}

	var ln net.Listener
	var err error

	switch w.cfg.Protocol {
	case ProtocolHTTP:
		ln, err = net.Listen("tcp", addr)
	case ProtocolHTTPS, ProtocolHTTP2:
		if w.hosts == nil {
			return fmt.Errorf("wrangler %s: %s protocol requires a host manager", w.cfg.Name, w.cfg.Protocol)
		}
		tlsCfg := &tls.Config{GetCertificate: w.hosts.SNICallback}
		if w.cfg.Protocol == ProtocolHTTP2 {
			tlsCfg.NextProtos = []string{"h2", "http/1.1"}
			if err := http2.ConfigureServer(w.server, &http2.Server{}); err != nil {
				return fmt.Errorf("wrangler %s: configuring http2: %w", w.cfg.Name, err)
			}
		}
		var rawLn net.Listener
		rawLn, err = net.Listen("tcp", addr)
		if err == nil {
			ln = tls.NewListener(rawLn, tlsCfg)
		}
	default:
		return fmt.Errorf("wrangler %s: unknown protocol %q", w.cfg.Name, w.cfg.Protocol)
	}
	if err != nil {
		return fmt.Errorf("wrangler %s: binding %s: %w", w.cfg.Name, addr, err)
	}

	if w.bucket != nil {
		ln = &pacedListener{inner: ln, bucket: w.bucket}
	}
	w.listener = ln

	go func() {
		if err := w.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			w.logger.EmitError("errorDuringServe", err, nil)
		}
	}()

	w.logger.Emit("started", map[string]any{"address": addr, "protocol": string(w.cfg.Protocol)})
	return nil
}

// Stop implements the graceful-stop half of lifecycle.Impl: it closes
// the listener (refusing new connections) and asks the server to
// finish in-flight requests within the configured grace period before
// forcing close.
func (w *Wrangler) Stop(ctx context.Context, self *lifecycle.Component, willReload bool) error {
	if w.server == nil {
		return nil
	}

	grace := w.cfg.GraceTimeout
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := w.server.Shutdown(shutdownCtx); err != nil {
		return w.server.Close()
	}
	return nil
}

// newConnContext installs a fresh WranglerContext for each accepted
// connection.
func (w *Wrangler) newConnContext(ctx context.Context, c net.Conn) context.Context {
	cc := &WranglerContext{
		SessionID:     uuid.NewString(),
		RemoteAddress: c.RemoteAddr().String(),
		StartTime:     time.Now(),
	}
	cc.Logger = w.logger.Sub("session", cc.SessionID)
	return context.WithValue(ctx, connCtxKey{}, cc)
}

func (w *Wrangler) serveHTTP(rw http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	reqLogger := w.logger
	sessionID := ""
	if cc := ContextFor(r); cc != nil {
		reqLogger = cc.Logger
		sessionID = cc.SessionID
	}
	req := request.New(r, reqLogger)

	result := w.handler(req)

	var resp *request.Response
	var errorCodes []string
	switch result.Kind {
	case request.KindHandled:
		resp = result.Response
	case request.KindError:
		reqLogger.EmitError("backendError", result.Err, nil)
		errorCodes = []string{"backend-error"}
		resp = &request.Response{StatusCode: http.StatusInternalServerError, Body: []byte("internal server error")}
	default:
		resp = &request.Response{StatusCode: http.StatusNotFound, Body: []byte("not found")}
	}

	resp.WriteTo(rw)
	endTime := time.Now()

	if w.logRequest != nil {
		w.logRequest(LogEntry{
			Request:    req,
			Response:   resp,
			Duration:   endTime.Sub(startTime),
			StartTime:  startTime,
			EndTime:    endTime,
			RemoteAddr: r.RemoteAddr,
			SessionID:  sessionID,
			Protocol:   string(w.cfg.Protocol),
			ErrorCodes: errorCodes,
		})
	}
}

// pacedListener wraps Accept so every accepted connection's outbound
// bytes are paced by the shared bucket.
type pacedListener struct {
	inner  net.Listener
	bucket *tokenbucket.Bucket
}

func (l *pacedListener) Accept() (net.Conn, error) {
	conn, err := l.inner.Accept()
	if err != nil {
		return nil, err
	}
	return ratelimitedstream.Wrap(context.Background(), conn, l.bucket), nil
}

func (l *pacedListener) Close() error   { return l.inner.Close() }
func (l *pacedListener) Addr() net.Addr { return l.inner.Addr() }
