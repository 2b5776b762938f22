/*
Package request defines the per-request facade and dispatch-rewriting
record consumed by applications and routers. Where
a configuration-driven ingress layer would carry HTTP-adjacent config
structs, this package instead models the request/response surface
itself: an IncomingRequest is a read-mostly snapshot of the inbound
*http.Request, and DispatchInfo tracks how much of the URI path a
chain of routers has already consumed on the way to the selected
Application.
*/
package request

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/danfuzz/lactoserv-sub005/pkg/pathmap"
	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
)

// Host identifies the requested host name and port, split out of the
// HTTP Host header (or :authority for HTTP/2).
type Host struct {
	Name string
	Port int
}

// IncomingRequest is the as-immutable-as-possible per-request facade
// handed to applications. It wraps the underlying *http.Request for
// body access but exposes the commonly-read fields directly so
// application code reads from a stable, narrow surface.
type IncomingRequest struct {
	Method       string
	Host         Host
	URL          *url.URL
	SearchString string
	Headers      http.Header
	Logger       telemetry.Logger

	raw *http.Request
}

// New builds an IncomingRequest facade from an *http.Request.
func New(r *http.Request, logger telemetry.Logger) *IncomingRequest {
	name, port := splitHostPort(r.Host, isTLSRequest(r))
	return &IncomingRequest{
		Method:       r.Method,
		Host:         Host{Name: name, Port: port},
		URL:          r.URL,
		SearchString: r.URL.RawQuery,
		Headers:      r.Header,
		Logger:       logger,
		raw:          r,
	}
}

// Raw exposes the underlying *http.Request for body reads. This is
// the one escape hatch from the otherwise-immutable facade.
func (r *IncomingRequest) Raw() *http.Request {
	return r.raw
}

// InfoForLog returns a compact summary used by the request logger.
func (r *IncomingRequest) InfoForLog() map[string]any {
	return map[string]any{
		"method": r.Method,
		"host":   r.Host.Name,
		"url":    r.URL.String(),
	}
}

func isTLSRequest(r *http.Request) bool {
	return r.TLS != nil
}

func splitHostPort(host string, secure bool) (string, int) {
	if host == "" {
		return "", 0
	}
	name := host
	port := 0
	if idx := strings.LastIndex(host, ":"); idx >= 0 && !strings.Contains(host[idx+1:], "]") {
		if p, err := strconv.Atoi(host[idx+1:]); err == nil {
			name = host[:idx]
			port = p
		}
	}
	if port == 0 {
		if secure {
			port = 443
		} else {
			port = 80
		}
	}
	return name, port
}

// DispatchInfo tracks how much of the request path has been consumed
// by the chain of routers leading to the current Application.
// Invariant: Base never ends with an empty component except when it
// represents the root; Extra may end with an empty component to
// denote directory form.
type DispatchInfo struct {
	Base   pathmap.PathKey
	Extra  pathmap.PathKey
	Logger *telemetry.Logger
}

// IsDirectory reports whether the unconsumed remainder denotes a
// directory (trailing empty component, or empty altogether).
func (d DispatchInfo) IsDirectory() bool {
	return d.Extra.IsDirectory()
}

// IsFile is the complement of IsDirectory.
func (d DispatchInfo) IsFile() bool {
	return d.Extra.IsFile()
}

// GetFullPathComponent returns the n'th component of the full
// (Base++Extra) path.
func (d DispatchInfo) GetFullPathComponent(n int) string {
	if n < len(d.Base.Components) {
		return d.Base.Components[n]
	}
	return d.Extra.GetFullPathComponent(n - len(d.Base.Components))
}

// RedirectToDirectoryString renders the absolute path to redirect to
// when a file-form request should have been a directory (trailing
// slash added).
func (d DispatchInfo) RedirectToDirectoryString() string {
	s := d.fullPathString()
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return s
}

// RedirectToFileString renders the absolute path with any trailing
// slash stripped.
func (d DispatchInfo) RedirectToFileString() string {
	s := d.fullPathString()
	if len(s) > 1 && strings.HasSuffix(s, "/") {
		s = strings.TrimSuffix(s, "/")
	}
	return s
}

func (d DispatchInfo) fullPathString() string {
	full := append(append([]string(nil), d.Base.Components...), d.Extra.Components...)
	return "/" + strings.Join(full, "/")
}

// Response is the outcome of handling a request. Handlers that respond
// directly fill StatusCode/Header/Body (a zero StatusCode means 200). A
// redirect sets RedirectLocation, optionally with a StatusCode (zero
// means 302); Header and Body are not written for a redirect.
type Response struct {
	StatusCode      int
	Header          http.Header
	Body            []byte
	RedirectLocation string
}

// WriteTo writes the response to an http.ResponseWriter.
func (resp *Response) WriteTo(w http.ResponseWriter) {
	if resp.RedirectLocation != "" {
		w.Header().Set("Location", resp.RedirectLocation)
		status := resp.StatusCode
		if status == 0 {
			status = http.StatusFound
		}
		w.WriteHeader(status)
		return
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

// HasBody reports whether the response carries a message body at all.
// Redirects, 204, and 304 responses have none, as does a response
// whose Body was never set; a present-but-empty body reports true with
// length zero.
func (resp *Response) HasBody() bool {
	if resp.RedirectLocation != "" {
		return false
	}
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotModified:
		return false
	}
	return resp.Body != nil
}

// InfoForLog summarizes the response for the request logger.
func (resp *Response) InfoForLog() map[string]any {
	info := map[string]any{
		"statusCode": resp.StatusCode,
	}
	if resp.HasBody() {
		info["contentLength"] = len(resp.Body)
	}
	return info
}

// Kind distinguishes the three shapes a HandlerResult may take,
// replacing the boolean-or-null "did you handle this?" signal the
// boolean-or-null convention this replaced.
type Kind int

const (
	KindNotHandled Kind = iota
	KindHandled
	KindError
)

// HandlerResult is the sum type Application.HandleRequest returns:
// Handled(response), NotHandled, or Error(err).
type HandlerResult struct {
	Kind     Kind
	Response *Response
	Err      error
}

// NotHandled signals "pass to the next matcher."
func NotHandled() HandlerResult {
	return HandlerResult{Kind: KindNotHandled}
}

// Handled wraps a terminal response.
func Handled(resp *Response) HandlerResult {
	return HandlerResult{Kind: KindHandled, Response: resp}
}

// HandlerError wraps an application-level error, converted by the
// wrangler into a 500 response.
func HandlerError(err error) HandlerResult {
	return HandlerResult{Kind: KindError, Err: err}
}

// Application is the interface routers dispatch to.
type Application interface {
	HandleRequest(req *IncomingRequest, dispatch *DispatchInfo) HandlerResult
}
