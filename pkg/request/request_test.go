package request

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danfuzz/lactoserv-sub005/pkg/pathmap"
	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
	"github.com/stretchr/testify/require"
)

func TestNewSplitsHostAndPort(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com:8080/a/b?x=1", nil)
	ir := New(r, telemetry.New(nil))

	require.Equal(t, "example.com", ir.Host.Name)
	require.Equal(t, 8080, ir.Host.Port)
	require.Equal(t, "x=1", ir.SearchString)
}

func TestNewDefaultsPortFromScheme(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	ir := New(r, telemetry.New(nil))
	require.Equal(t, 80, ir.Host.Port)
}

func TestDispatchInfoRedirectStrings(t *testing.T) {
	base, _ := pathmap.ParsePath("/a/b")
	extra, _ := pathmap.ParsePath("/")
	d := DispatchInfo{Base: base, Extra: extra}

	require.Equal(t, "/a/b/", d.RedirectToDirectoryString())
}

func TestResponseWriteToSetsStatusAndBody(t *testing.T) {
	resp := &Response{StatusCode: 201, Body: []byte("ok")}
	rec := httptest.NewRecorder()
	resp.WriteTo(rec)

	require.Equal(t, 201, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestHandlerResultConstructors(t *testing.T) {
	require.Equal(t, KindNotHandled, NotHandled().Kind)
	require.Equal(t, KindHandled, Handled(&Response{}).Kind)
	require.Equal(t, KindError, HandlerError(nil).Kind)
}
