/*
Package endpoint builds the two-level host+path mount map for one
listener and dispatches incoming requests through it. It generalizes
a linear matchHost/matchPath scan over a flat rule list
into a PathMap-backed mountMap: hostname -> PathMap<path ->
Application>, preserving "most specific host, then most specific path"
precedence but making lookup a trie descent instead of an O(n) scan,
and replacing a boolean "matched" return with the request package's
HandlerResult sum type.
*/
package endpoint

import (
	"github.com/danfuzz/lactoserv-sub005/pkg/pathmap"
	"github.com/danfuzz/lactoserv-sub005/pkg/request"
	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
)

// Mount binds one application under a host pattern and path pattern.
type Mount struct {
	Application string
	Hostname    string
	Path        string
}

// Config describes the endpoint's routing table: Name tags the
// router's logger and Mounts binds applications to host+path patterns.
// Listener settings (address, port, protocol) live in wrangler.Config.
type Config struct {
	Name  string
	Mounts []Mount
}

// Router is the two-level mountMap for one listener, immutable after
// construction; reads are lock-free.
type Router struct {
	mountMap *pathmap.Map[*pathmap.Map[request.Application]]
	logger   telemetry.Logger
}

// New builds a Router from a Config and a name->Application registry.
// Duplicate host+path bindings fail at construction; a collision is
// a configuration error, not a runtime one.
func New(cfg Config, applications map[string]request.Application, logger telemetry.Logger) (*Router, error) {
	r := &Router{mountMap: pathmap.New[*pathmap.Map[request.Application]](), logger: logger.Sub("endpoint", cfg.Name)}

	perHost := make(map[string]*pathmap.Map[request.Application])

	for _, mount := range cfg.Mounts {
		app, ok := applications[mount.Application]
		if !ok {
			return nil, &UnknownApplicationError{Name: mount.Application}
		}

		hostKey, err := pathmap.ParseHostname(mount.Hostname, true)
		if err != nil {
			return nil, err
		}
		pathKey, err := pathmap.ParsePath(mount.Path)
		if err != nil {
			return nil, err
		}

		pm, ok := perHost[mount.Hostname]
		if !ok {
			pm = pathmap.New[request.Application]()
			perHost[mount.Hostname] = pm
			if err := r.mountMap.Add(hostKey, pm); err != nil {
				return nil, err
			}
		}
		if err := pm.Add(pathKey, app); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// UnknownApplicationError is returned when a mount names an
// application not present in the endpoint's application registry.
type UnknownApplicationError struct {
	Name string
}

func (e *UnknownApplicationError) Error() string {
	return "endpoint: unknown application " + e.Name
}

// HandleRequest dispatches one request: most-specific host match,
// then iteration from most- to least-specific path match, falling
// through on NotHandled.
func (r *Router) HandleRequest(req *request.IncomingRequest) request.HandlerResult {
	hostKey, err := pathmap.ParseHostname(req.Host.Name, false)
	if err != nil {
		r.logger.Emit("hostNotFound", map[string]any{"host": req.Host.Name, "error": err.Error()})
		return request.NotHandled()
	}

	hostMatch, ok := r.mountMap.Find(hostKey)
	if !ok {
		r.logger.Emit("hostNotFound", map[string]any{"host": req.Host.Name})
		return request.NotHandled()
	}

	pathKey, err := pathmap.ParsePath(req.URL.Path)
	if err != nil {
		r.logger.Emit("pathNotFound", map[string]any{"path": req.URL.Path, "error": err.Error()})
		return request.NotHandled()
	}

	pathMap := hostMatch.Value
	pathMatch, ok := pathMap.Find(pathKey)
	if !ok {
		r.logger.Emit("pathNotFound", map[string]any{"path": req.URL.Path})
		return request.NotHandled()
	}

	for pathMatch != nil {
		consumed := len(pathKey.Components) - len(pathMatch.KeyRemainder)
		base := pathmap.PathKey{
			Kind:       pathmap.KindPath,
			Components: append([]string(nil), pathKey.Components[:consumed]...),
		}
		extra := pathmap.PathKey{Kind: pathmap.KindPath, Components: pathMatch.KeyRemainder}

		dispatch := &request.DispatchInfo{Base: base, Extra: extra}

		result := pathMatch.Value.HandleRequest(req, dispatch)
		if result.Kind != request.KindNotHandled {
			return result
		}
		pathMatch = pathMatch.Next()
	}

	r.logger.Emit("pathNotFound", map[string]any{"path": req.URL.Path})
	return request.NotHandled()
}
