/*
Package middleware wraps an inner application with request-shaping
rules applied before dispatch reaches it: header add/set/remove,
standard proxy headers (X-Forwarded-For and friends), and a rewrite of
the unconsumed path remainder. The header semantics are exactly the
usual reverse-proxy ones: Add only fills absent headers, Set
overwrites, Remove deletes; deny rules beat allow rules one layer up
in pkg/accesscontrol, and here ReplacePath beats StripPrefix.
*/
package middleware

import (
	"strings"

	"github.com/danfuzz/lactoserv-sub005/pkg/pathmap"
	"github.com/danfuzz/lactoserv-sub005/pkg/request"
)

// HeaderRules lists header manipulations applied to each request on
// its way to the inner application.
type HeaderRules struct {
	Add    map[string]string `yaml:"add"`
	Set    map[string]string `yaml:"set"`
	Remove []string          `yaml:"remove"`
}

// PathRewrite rewrites the unconsumed remainder of the request path.
// ReplacePath takes precedence over StripPrefix.
type PathRewrite struct {
	StripPrefix string `yaml:"stripPrefix"`
	ReplacePath string `yaml:"replacePath"`
}

// Config parameterizes a Wrapper.
type Config struct {
	Headers      *HeaderRules `yaml:"headers"`
	ProxyHeaders bool         `yaml:"proxyHeaders"`
	Rewrite      *PathRewrite `yaml:"rewrite"`
}

// Wrapper is itself an Application: it shapes the request and
// dispatch, then delegates to the wrapped inner application. A
// NotHandled result from the inner application passes through
// unchanged, so the router's fallback iteration still works.
type Wrapper struct {
	cfg   Config
	inner request.Application
}

// Wrap builds a Wrapper around inner.
func Wrap(cfg Config, inner request.Application) *Wrapper {
	return &Wrapper{cfg: cfg, inner: inner}
}

// HandleRequest implements request.Application.
func (w *Wrapper) HandleRequest(req *request.IncomingRequest, dispatch *request.DispatchInfo) request.HandlerResult {
	w.applyHeaders(req)
	if w.cfg.ProxyHeaders {
		w.addProxyHeaders(req)
	}
	dispatch = w.applyRewrite(dispatch)
	return w.inner.HandleRequest(req, dispatch)
}

func (w *Wrapper) applyHeaders(req *request.IncomingRequest) {
	rules := w.cfg.Headers
	if rules == nil {
		return
	}
	for key, value := range rules.Add {
		if req.Headers.Get(key) == "" {
			req.Headers.Set(key, value)
		}
	}
	for key, value := range rules.Set {
		req.Headers.Set(key, value)
	}
	for _, key := range rules.Remove {
		req.Headers.Del(key)
	}
}

func (w *Wrapper) addProxyHeaders(req *request.IncomingRequest) {
	clientIP := req.Raw().RemoteAddr
	if idx := strings.LastIndex(clientIP, ":"); idx >= 0 && !strings.Contains(clientIP[idx+1:], "]") {
		clientIP = clientIP[:idx]
	}

	if req.Headers.Get("X-Real-IP") == "" {
		req.Headers.Set("X-Real-IP", clientIP)
	}
	if prior := req.Headers.Get("X-Forwarded-For"); prior != "" {
		req.Headers.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		req.Headers.Set("X-Forwarded-For", clientIP)
	}
	if req.Headers.Get("X-Forwarded-Proto") == "" {
		proto := "http"
		if req.Raw().TLS != nil {
			proto = "https"
		}
		req.Headers.Set("X-Forwarded-Proto", proto)
	}
	if req.Headers.Get("X-Forwarded-Host") == "" {
		req.Headers.Set("X-Forwarded-Host", req.Raw().Host)
	}
}

// applyRewrite returns a new DispatchInfo with the remainder
// rewritten; the incoming dispatch is left untouched for any sibling
// mounts the router may fall through to.
func (w *Wrapper) applyRewrite(dispatch *request.DispatchInfo) *request.DispatchInfo {
	rw := w.cfg.Rewrite
	if rw == nil {
		return dispatch
	}

	extra := dispatch.Extra
	switch {
	case rw.ReplacePath != "":
		if key, err := pathmap.ParsePath(rw.ReplacePath); err == nil {
			extra = key
		}
	case rw.StripPrefix != "":
		if key, err := pathmap.ParsePath(rw.StripPrefix); err == nil {
			extra = stripPrefix(extra, key)
		}
	}

	return &request.DispatchInfo{Base: dispatch.Base, Extra: extra, Logger: dispatch.Logger}
}

func stripPrefix(extra, prefix pathmap.PathKey) pathmap.PathKey {
	if len(prefix.Components) > len(extra.Components) {
		return extra
	}
	for i, c := range prefix.Components {
		if extra.Components[i] != c {
			return extra
		}
	}
	return pathmap.PathKey{
		Kind:       extra.Kind,
		Components: extra.Components[len(prefix.Components):],
		Wildcard:   extra.Wildcard,
	}
}
