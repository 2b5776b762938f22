package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danfuzz/lactoserv-sub005/pkg/pathmap"
	"github.com/danfuzz/lactoserv-sub005/pkg/request"
	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
	"github.com/stretchr/testify/require"
)

type captureApp struct {
	req      *request.IncomingRequest
	dispatch *request.DispatchInfo
	result   request.HandlerResult
}

func (c *captureApp) HandleRequest(req *request.IncomingRequest, dispatch *request.DispatchInfo) request.HandlerResult {
	c.req = req
	c.dispatch = dispatch
	return c.result
}

func newTestRequest(t *testing.T, target string) *request.IncomingRequest {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.RemoteAddr = "9.8.7.6:4242"
	return request.New(r, telemetry.New(nil))
}

func TestHeaderRules(t *testing.T) {
	inner := &captureApp{result: request.Handled(&request.Response{StatusCode: 200})}
	w := Wrap(Config{Headers: &HeaderRules{
		Add:    map[string]string{"X-Add": "added", "Accept": "ignored"},
		Set:    map[string]string{"X-Set": "set"},
		Remove: []string{"X-Gone"},
	}}, inner)

	req := newTestRequest(t, "http://example.com/x")
	req.Headers.Set("Accept", "text/html")
	req.Headers.Set("X-Gone", "bye")

	result := w.HandleRequest(req, &request.DispatchInfo{})
	require.Equal(t, request.KindHandled, result.Kind)

	require.Equal(t, "added", inner.req.Headers.Get("X-Add"))
	require.Equal(t, "text/html", inner.req.Headers.Get("Accept"), "Add must not overwrite")
	require.Equal(t, "set", inner.req.Headers.Get("X-Set"))
	require.Empty(t, inner.req.Headers.Get("X-Gone"))
}

func TestProxyHeaders(t *testing.T) {
	inner := &captureApp{result: request.Handled(&request.Response{StatusCode: 200})}
	w := Wrap(Config{ProxyHeaders: true}, inner)

	req := newTestRequest(t, "http://example.com/x")
	req.Headers.Set("X-Forwarded-For", "1.1.1.1")

	w.HandleRequest(req, &request.DispatchInfo{})

	require.Equal(t, "9.8.7.6", inner.req.Headers.Get("X-Real-IP"))
	require.Equal(t, "1.1.1.1, 9.8.7.6", inner.req.Headers.Get("X-Forwarded-For"))
	require.Equal(t, "http", inner.req.Headers.Get("X-Forwarded-Proto"))
	require.Equal(t, "example.com", inner.req.Headers.Get("X-Forwarded-Host"))
}

func TestStripPrefixRewrite(t *testing.T) {
	inner := &captureApp{result: request.Handled(&request.Response{StatusCode: 200})}
	w := Wrap(Config{Rewrite: &PathRewrite{StripPrefix: "/v1"}}, inner)

	extra, err := pathmap.ParsePath("/v1/users/7")
	require.NoError(t, err)
	original := &request.DispatchInfo{Extra: extra}

	w.HandleRequest(newTestRequest(t, "http://example.com/api/v1/users/7"), original)

	require.Equal(t, []string{"users", "7"}, inner.dispatch.Extra.Components)
	// The original dispatch is untouched for fallback mounts.
	require.Equal(t, []string{"v1", "users", "7"}, original.Extra.Components)
}

func TestReplacePathBeatsStripPrefix(t *testing.T) {
	inner := &captureApp{result: request.Handled(&request.Response{StatusCode: 200})}
	w := Wrap(Config{Rewrite: &PathRewrite{StripPrefix: "/v1", ReplacePath: "/fixed"}}, inner)

	extra, err := pathmap.ParsePath("/v1/users")
	require.NoError(t, err)

	w.HandleRequest(newTestRequest(t, "http://example.com/v1/users"), &request.DispatchInfo{Extra: extra})
	require.Equal(t, []string{"fixed"}, inner.dispatch.Extra.Components)
}

func TestNotHandledPassesThrough(t *testing.T) {
	inner := &captureApp{result: request.NotHandled()}
	w := Wrap(Config{}, inner)

	result := w.HandleRequest(newTestRequest(t, "http://example.com/"), &request.DispatchInfo{})
	require.Equal(t, request.KindNotHandled, result.Kind)
}
