package appkit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danfuzz/lactoserv-sub005/pkg/etag"
	"github.com/danfuzz/lactoserv-sub005/pkg/request"
	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
	"github.com/stretchr/testify/require"
)

func makeRequest(t *testing.T, method, target string, headers map[string]string) *request.IncomingRequest {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return request.New(r, telemetry.New(nil))
}

func TestEchoDefaults(t *testing.T) {
	app := NewEcho(0, "")
	result := app.HandleRequest(makeRequest(t, http.MethodGet, "http://example.com/", nil), &request.DispatchInfo{})
	require.Equal(t, request.KindHandled, result.Kind)
	require.Equal(t, http.StatusOK, result.Response.StatusCode)
	require.Equal(t, "ok", string(result.Response.Body))
}

func TestRedirector(t *testing.T) {
	app := NewRedirector("https://elsewhere.example/", http.StatusMovedPermanently)
	result := app.HandleRequest(makeRequest(t, http.MethodGet, "http://example.com/old", nil), &request.DispatchInfo{})
	require.Equal(t, http.StatusMovedPermanently, result.Response.StatusCode)
	require.Equal(t, "https://elsewhere.example/", result.Response.RedirectLocation)
}

func TestStaticContentEtagRoundTrip(t *testing.T) {
	gen, err := etag.New(etag.Config{})
	require.NoError(t, err)
	app := NewStaticContent("text/plain", []byte("hello world"), gen, "doc")

	result := app.HandleRequest(makeRequest(t, http.MethodGet, "http://example.com/doc", nil), &request.DispatchInfo{})
	require.Equal(t, http.StatusOK, result.Response.StatusCode)
	tag := result.Response.Header.Get("Etag")
	require.True(t, len(tag) > 0 && tag[:2] == `W/`)

	result = app.HandleRequest(makeRequest(t, http.MethodGet, "http://example.com/doc",
		map[string]string{"If-None-Match": tag}), &request.DispatchInfo{})
	require.Equal(t, http.StatusNotModified, result.Response.StatusCode)
	require.Empty(t, result.Response.Body)
}

func TestStaticContentRange(t *testing.T) {
	app := NewStaticContent("text/plain", []byte("0123456789"), nil, "")

	result := app.HandleRequest(makeRequest(t, http.MethodGet, "http://example.com/doc",
		map[string]string{"Range": "bytes=2-5"}), &request.DispatchInfo{})
	require.Equal(t, http.StatusPartialContent, result.Response.StatusCode)
	require.Equal(t, "2345", string(result.Response.Body))
	require.Equal(t, "bytes 2-5/10", result.Response.Header.Get("Content-Range"))
}

func TestStaticContentRangeSuffixAndOpenEnd(t *testing.T) {
	app := NewStaticContent("text/plain", []byte("0123456789"), nil, "")

	result := app.HandleRequest(makeRequest(t, http.MethodGet, "http://example.com/doc",
		map[string]string{"Range": "bytes=-3"}), &request.DispatchInfo{})
	require.Equal(t, "789", string(result.Response.Body))

	result = app.HandleRequest(makeRequest(t, http.MethodGet, "http://example.com/doc",
		map[string]string{"Range": "bytes=7-"}), &request.DispatchInfo{})
	require.Equal(t, "789", string(result.Response.Body))
	require.Equal(t, "bytes 7-9/10", result.Response.Header.Get("Content-Range"))
}

func TestStaticContentRangeUnsatisfiable(t *testing.T) {
	app := NewStaticContent("text/plain", []byte("0123456789"), nil, "")

	result := app.HandleRequest(makeRequest(t, http.MethodGet, "http://example.com/doc",
		map[string]string{"Range": "bytes=50-60"}), &request.DispatchInfo{})
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, result.Response.StatusCode)
	require.Equal(t, "bytes */10", result.Response.Header.Get("Content-Range"))
}

func TestStaticContentMethodNotAllowed(t *testing.T) {
	app := NewStaticContent("text/plain", []byte("x"), nil, "")
	result := app.HandleRequest(makeRequest(t, http.MethodPost, "http://example.com/doc", nil), &request.DispatchInfo{})
	require.Equal(t, http.StatusMethodNotAllowed, result.Response.StatusCode)
}
