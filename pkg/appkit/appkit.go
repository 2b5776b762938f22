/*
Package appkit supplies small reference applications for mounts:
a fixed-body echo responder, a redirector, and a static-content
responder with conditional-request (ETag) and byte-range support.
They exist so an endpoint configuration has something real to mount
and so routing/dispatch behavior can be exercised end to end; a
production deployment would add its own Application implementations
alongside these.
*/
package appkit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/danfuzz/lactoserv-sub005/pkg/etag"
	"github.com/danfuzz/lactoserv-sub005/pkg/request"
)

// Echo responds to every request with a fixed status and body.
type Echo struct {
	StatusCode int
	Body       string
}

// NewEcho builds an Echo; zero values mean 200 / "ok".
func NewEcho(statusCode int, body string) *Echo {
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	if body == "" {
		body = "ok"
	}
	return &Echo{StatusCode: statusCode, Body: body}
}

// HandleRequest implements request.Application.
func (e *Echo) HandleRequest(req *request.IncomingRequest, dispatch *request.DispatchInfo) request.HandlerResult {
	return request.Handled(&request.Response{StatusCode: e.StatusCode, Body: []byte(e.Body)})
}

// Redirector responds to every request with a redirect to Target.
type Redirector struct {
	Target     string
	StatusCode int
}

// NewRedirector builds a Redirector; a zero status means 302.
func NewRedirector(target string, statusCode int) *Redirector {
	if statusCode == 0 {
		statusCode = http.StatusFound
	}
	return &Redirector{Target: target, StatusCode: statusCode}
}

// HandleRequest implements request.Application.
func (r *Redirector) HandleRequest(req *request.IncomingRequest, dispatch *request.DispatchInfo) request.HandlerResult {
	return request.Handled(&request.Response{
		StatusCode:       r.StatusCode,
		RedirectLocation: r.Target,
	})
}

// StaticContent serves one in-memory document with ETag-based
// conditional requests and RFC 7233 byte ranges.
type StaticContent struct {
	ContentType string
	Body        []byte
	etags       *etag.Generator
	key         string
}

// NewStaticContent builds a StaticContent. gen may be nil to disable
// ETag emission; key identifies the content in the generator's cache.
func NewStaticContent(contentType string, body []byte, gen *etag.Generator, key string) *StaticContent {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &StaticContent{ContentType: contentType, Body: body, etags: gen, key: key}
}

// HandleRequest implements request.Application: GET/HEAD only, with
// If-None-Match and Range handling.
func (s *StaticContent) HandleRequest(req *request.IncomingRequest, dispatch *request.DispatchInfo) request.HandlerResult {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		header := http.Header{}
		header.Set("Allow", "GET, HEAD")
		return request.Handled(&request.Response{StatusCode: http.StatusMethodNotAllowed, Header: header})
	}

	header := http.Header{}
	header.Set("Content-Type", s.ContentType)
	header.Set("Accept-Ranges", "bytes")

	tag := ""
	if s.etags != nil {
		tag = s.etags.Weak(s.key, s.Body)
		header.Set("Etag", tag)
		if match := req.Headers.Get("If-None-Match"); match != "" && etagMatches(match, tag) {
			return request.Handled(&request.Response{StatusCode: http.StatusNotModified, Header: header})
		}
	}

	body := s.Body
	status := http.StatusOK

	if rangeSpec := req.Headers.Get("Range"); rangeSpec != "" {
		start, end, ok := parseByteRange(rangeSpec, int64(len(s.Body)))
		if !ok {
			header.Set("Content-Range", fmt.Sprintf("bytes */%d", len(s.Body)))
			return request.Handled(&request.Response{StatusCode: http.StatusRequestedRangeNotSatisfiable, Header: header})
		}
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(s.Body)))
		body = s.Body[start : end+1]
		status = http.StatusPartialContent
	}

	if req.Method == http.MethodHead {
		header.Set("Content-Length", strconv.Itoa(len(body)))
		body = nil
	}

	return request.Handled(&request.Response{StatusCode: status, Header: header, Body: body})
}

// etagMatches checks an If-None-Match header against the current tag,
// including the "*" form and weak comparison (a weak tag matches its
// own value regardless of the W/ prefix on either side).
func etagMatches(headerValue, tag string) bool {
	if headerValue == "*" {
		return true
	}
	strip := func(s string) string { return strings.TrimPrefix(strings.TrimSpace(s), "W/") }
	want := strip(tag)
	for _, candidate := range strings.Split(headerValue, ",") {
		if strip(candidate) == want {
			return true
		}
	}
	return false
}

// parseByteRange parses a single-range "bytes=S-E" spec against a body
// of the given length, returning inclusive bounds. Multi-range
// requests and non-bytes units report unsatisfiable; so does any range
// that starts at or past the end of the body.
func parseByteRange(spec string, length int64) (start, end int64, ok bool) {
	spec = strings.TrimSpace(spec)
	if !strings.HasPrefix(spec, "bytes=") {
		return 0, 0, false
	}
	spec = strings.TrimPrefix(spec, "bytes=")
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}

	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, false
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	if startStr == "" {
		// Suffix form: last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > length {
			n = length
		}
		if length == 0 {
			return 0, 0, false
		}
		return length - n, length - 1, true
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= length {
		return 0, 0, false
	}

	if endStr == "" {
		return start, length - 1, true
	}
	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	if end >= length {
		end = length - 1
	}
	return start, end, true
}
