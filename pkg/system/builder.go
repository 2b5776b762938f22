package system

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danfuzz/lactoserv-sub005/pkg/accesscontrol"
	"github.com/danfuzz/lactoserv-sub005/pkg/appkit"
	"github.com/danfuzz/lactoserv-sub005/pkg/config"
	"github.com/danfuzz/lactoserv-sub005/pkg/endpoint"
	"github.com/danfuzz/lactoserv-sub005/pkg/etag"
	"github.com/danfuzz/lactoserv-sub005/pkg/hostmanager"
	"github.com/danfuzz/lactoserv-sub005/pkg/lifecycle"
	"github.com/danfuzz/lactoserv-sub005/pkg/middleware"
	"github.com/danfuzz/lactoserv-sub005/pkg/procinfo"
	"github.com/danfuzz/lactoserv-sub005/pkg/request"
	"github.com/danfuzz/lactoserv-sub005/pkg/requestlog"
	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
	"github.com/danfuzz/lactoserv-sub005/pkg/tokenbucket"
	"github.com/danfuzz/lactoserv-sub005/pkg/wrangler"
)

// Builder turns a configuration file into a runnable component
// hierarchy. It implements lifecycle.HierarchyOwner, so a System can
// call it again on reload: the file is re-read every time, and a
// failure anywhere in the build leaves the previously-built hierarchy
// untouched.
type Builder struct {
	configPath string
	logger     telemetry.Logger
	metrics    *telemetry.Metrics
}

// NewBuilder constructs a Builder. metrics may be nil to disable
// instrumentation entirely.
func NewBuilder(configPath string, logger telemetry.Logger, metrics *telemetry.Metrics) *Builder {
	return &Builder{configPath: configPath, logger: logger, metrics: metrics}
}

// MakeHierarchy implements lifecycle.HierarchyOwner.
func (b *Builder) MakeHierarchy(ctx context.Context, old *lifecycle.Component) (*lifecycle.Component, error) {
	cfg, err := config.Load(b.configPath)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, cfg)
}

// hooks adapts a pair of closures into a lifecycle.Impl, for the
// small service components the builder assembles inline.
type hooks struct {
	lifecycle.NopImpl
	start func(ctx context.Context, self *lifecycle.Component) error
	stop  func(ctx context.Context, self *lifecycle.Component, willReload bool) error
}

func (h *hooks) Start(ctx context.Context, self *lifecycle.Component) error {
	if h.start == nil {
		return nil
	}
	return h.start(ctx, self)
}

func (h *hooks) Stop(ctx context.Context, self *lifecycle.Component, willReload bool) error {
	if h.stop == nil {
		return nil
	}
	return h.stop(ctx, self, willReload)
}

// built collects the named artifacts the per-kind build passes hand to
// each other: buckets and loggers by service name, applications by
// application name.
type built struct {
	hosts      *hostmanager.Manager
	buckets    map[string]*tokenbucket.Bucket
	reqLoggers map[string]*requestlog.Logger
	guards     map[string]*accesscontrol.Guard
	apps       map[string]request.Application
}

// Build assembles the full hierarchy from an already-parsed
// configuration: host manager, then services, then applications, then
// endpoints. Children start in that insertion order and stop in
// reverse, so endpoints quiesce before the services they depend on.
func (b *Builder) Build(ctx context.Context, cfg *config.Config) (*lifecycle.Component, error) {
	root, err := lifecycle.NewRoot("hierarchy", cfg, nil, b.logger)
	if err != nil {
		return nil, err
	}

	state := &built{
		buckets:    make(map[string]*tokenbucket.Bucket),
		reqLoggers: make(map[string]*requestlog.Logger),
		guards:     make(map[string]*accesscontrol.Guard),
		apps:       make(map[string]request.Application),
	}

	if err := b.buildHosts(cfg, root, state); err != nil {
		return nil, err
	}
	if err := b.buildServices(cfg, root, state); err != nil {
		return nil, err
	}
	if err := b.buildApplications(cfg, state); err != nil {
		return nil, err
	}
	if err := b.buildEndpoints(cfg, root, state); err != nil {
		return nil, err
	}

	return root, nil
}

func (b *Builder) buildHosts(cfg *config.Config, root *lifecycle.Component, state *built) error {
	if len(cfg.Hosts) == 0 && cfg.ACME == nil {
		return nil
	}

	hmCfg := hostmanager.Config{}
	for _, h := range cfg.Hosts {
		hmCfg.Hosts = append(hmCfg.Hosts, hostmanager.HostConfig{
			Hostnames:   h.Hostnames,
			Certificate: h.Certificate,
			PrivateKey:  h.PrivateKey,
		})
	}

	mgr, err := hostmanager.New(hmCfg, b.logger)
	if err != nil {
		return err
	}
	state.hosts = mgr

	var cancelACME context.CancelFunc
	impl := &hooks{
		start: func(ctx context.Context, self *lifecycle.Component) error {
			if cfg.ACME == nil {
				return nil
			}
			key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
			if err != nil {
				return fmt.Errorf("generating ACME account key: %w", err)
			}
			acmeCtx, cancel := context.WithCancel(context.Background())
			cancelACME = cancel
			return mgr.StartACME(acmeCtx, hostmanager.ACMEConfig{
				Hostnames:    cfg.ACME.Hostnames,
				Email:        cfg.ACME.Email,
				DirectoryURL: cfg.ACME.DirectoryURL,
			}, key)
		},
		stop: func(ctx context.Context, self *lifecycle.Component, willReload bool) error {
			if cancelACME != nil {
				cancelACME()
			}
			return nil
		},
	}

	comp, err := lifecycle.NewComponent("hostManager", hmCfg, impl)
	if err != nil {
		return err
	}
	return root.AddChild(comp)
}

type rateLimiterArgs struct {
	BurstSize     float64  `yaml:"burstSize"`
	FlowRate      float64  `yaml:"flowRate"`
	MaxGrantSize  float64  `yaml:"maxGrantSize"`
	MaxWaiters    *int     `yaml:"maxWaiters"`
	PartialTokens bool     `yaml:"partialTokens"`
	InitialBurst  *float64 `yaml:"initialBurst"`
}

type requestLoggerArgs struct {
	Path            string `yaml:"path"`
	SendToSystemLog bool   `yaml:"sendToSystemLog"`
}

type metricsArgs struct {
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

type procInfoArgs struct {
	Path           string `yaml:"path"`
	Product        string `yaml:"product"`
	UpdateInterval string `yaml:"updateInterval"`
}

func (b *Builder) buildServices(cfg *config.Config, root *lifecycle.Component, state *built) error {
	if len(cfg.Services) == 0 {
		return nil
	}

	container, err := lifecycle.NewComponent("services", nil, nil)
	if err != nil {
		return err
	}
	if err := root.AddChild(container); err != nil {
		return err
	}

	for _, svc := range cfg.Services {
		comp, err := b.buildService(svc, state)
		if err != nil {
			return fmt.Errorf("service %q: %w", svc.Name, err)
		}
		if err := container.AddChild(comp); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) buildService(svc config.ClassConfig, state *built) (*lifecycle.Component, error) {
	switch svc.Class {
	case "rateLimiter":
		var args rateLimiterArgs
		if err := config.DecodeArgs(svc.Args, &args); err != nil {
			return nil, err
		}
		if args.BurstSize <= 0 || args.FlowRate <= 0 {
			return nil, fmt.Errorf("%w: rateLimiter needs burstSize > 0 and flowRate > 0", lifecycle.ErrConfigInvalid)
		}
		maxWaiters := -1
		if args.MaxWaiters != nil {
			maxWaiters = *args.MaxWaiters
		}
		initial := args.BurstSize
		if args.InitialBurst != nil {
			initial = *args.InitialBurst
		}
		var observer tokenbucket.Observer
		if b.metrics != nil {
			observer = telemetry.NewBucketObserver(b.metrics)
		}
		bucket := tokenbucket.New(tokenbucket.Config{
			Name:             svc.Name,
			BurstSize:        args.BurstSize,
			InitialAvailable: initial,
			FlowRate:         args.FlowRate,
			MaxGrantSize:     args.MaxGrantSize,
			MaxWaiters:       maxWaiters,
			PartialTokens:    args.PartialTokens,
			Observer:         observer,
		})
		state.buckets[svc.Name] = bucket
		impl := &hooks{
			stop: func(ctx context.Context, self *lifecycle.Component, willReload bool) error {
				bucket.DenyAllRequests(tokenbucket.ReasonShutdown)
				return nil
			},
		}
		return lifecycle.NewComponent(svc.Name, svc, impl)

	case "requestLogger":
		var args requestLoggerArgs
		if err := config.DecodeArgs(svc.Args, &args); err != nil {
			return nil, err
		}
		if args.Path == "" {
			return nil, fmt.Errorf("%w: requestLogger needs a path", lifecycle.ErrConfigInvalid)
		}
		file, err := os.OpenFile(args.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening request log: %w", err)
		}
		state.reqLoggers[svc.Name] = requestlog.New(requestlog.Config{
			Output:          file,
			SendToSystemLog: args.SendToSystemLog,
		}, b.logger)
		impl := &hooks{
			stop: func(ctx context.Context, self *lifecycle.Component, willReload bool) error {
				return file.Close()
			},
		}
		return lifecycle.NewComponent(svc.Name, svc, impl)

	case "accessControl":
		var args accesscontrol.Config
		if err := config.DecodeArgs(svc.Args, &args); err != nil {
			return nil, err
		}
		guard, err := accesscontrol.New(args, b.logger)
		if err != nil {
			return nil, err
		}
		state.guards[svc.Name] = guard
		var stopCh chan struct{}
		impl := &hooks{
			start: func(ctx context.Context, self *lifecycle.Component) error {
				stopCh = make(chan struct{})
				guard.StartCleanupJob(0, stopCh)
				return nil
			},
			stop: func(ctx context.Context, self *lifecycle.Component, willReload bool) error {
				if stopCh != nil {
					close(stopCh)
				}
				return nil
			},
		}
		return lifecycle.NewComponent(svc.Name, svc, impl)

	case "metrics":
		var args metricsArgs
		if err := config.DecodeArgs(svc.Args, &args); err != nil {
			return nil, err
		}
		if b.metrics == nil {
			return nil, fmt.Errorf("%w: metrics service configured but instrumentation is disabled", lifecycle.ErrConfigInvalid)
		}
		var server *telemetry.Server
		impl := &hooks{
			start: func(ctx context.Context, self *lifecycle.Component) error {
				server = telemetry.NewServer(args.Address, args.Path, b.metrics)
				_, err := server.Start()
				return err
			},
			stop: func(ctx context.Context, self *lifecycle.Component, willReload bool) error {
				if server == nil {
					return nil
				}
				return server.Stop(ctx)
			},
		}
		return lifecycle.NewComponent(svc.Name, svc, impl)

	case "processInfoFile":
		var args procInfoArgs
		if err := config.DecodeArgs(svc.Args, &args); err != nil {
			return nil, err
		}
		if args.Path == "" {
			return nil, fmt.Errorf("%w: processInfoFile needs a path", lifecycle.ErrConfigInvalid)
		}
		product := args.Product
		if product == "" {
			product = "lactoserv"
		}
		interval := time.Minute
		if args.UpdateInterval != "" {
			parsed, err := time.ParseDuration(args.UpdateInterval)
			if err != nil {
				return nil, fmt.Errorf("%w: bad updateInterval %q", lifecycle.ErrConfigInvalid, args.UpdateInterval)
			}
			interval = parsed
		}
		writer := procinfo.New(args.Path, product)
		var stopCh chan struct{}
		impl := &hooks{
			start: func(ctx context.Context, self *lifecycle.Component) error {
				prev, err := writer.CheckPreviousRun()
				if err != nil {
					self.Logger().EmitError("errorReadingPreviousInfo", err, nil)
				}
				var earlier []procinfo.Info
				if prev != nil {
					earlier = append(append(earlier, prev.EarlierRuns...), *prev)
				}
				if err := writer.WriteRunning(earlier); err != nil {
					return err
				}
				stopCh = make(chan struct{})
				go writer.Run(interval, stopCh)
				return nil
			},
			stop: func(ctx context.Context, self *lifecycle.Component, willReload bool) error {
				if stopCh != nil {
					close(stopCh)
				}
				return writer.WriteStopped(procinfo.Disposition{
					StoppedAt:         time.Now(),
					Reloading:         willReload,
					ShutdownRequested: !willReload,
				})
			},
		}
		return lifecycle.NewComponent(svc.Name, svc, impl)

	default:
		return nil, fmt.Errorf("%w: unknown service class %q", lifecycle.ErrConfigInvalid, svc.Class)
	}
}

type echoArgs struct {
	StatusCode int    `yaml:"statusCode"`
	Body       string `yaml:"body"`
}

type redirectArgs struct {
	Target     string `yaml:"target"`
	StatusCode int    `yaml:"statusCode"`
}

type etagArgs struct {
	Algorithm  string `yaml:"algorithm"`
	WeakLength int    `yaml:"weakLength"`
	CacheSize  int    `yaml:"cacheSize"`
}

type staticContentArgs struct {
	ContentType string    `yaml:"contentType"`
	Body        string    `yaml:"body"`
	Etag        *etagArgs `yaml:"etag"`
}

type middlewareArgs struct {
	Application       string `yaml:"application"`
	middleware.Config `yaml:",inline"`
}

// buildApplications resolves the applications list in two passes:
// plain applications first, then middleware wrappers, which reference
// other applications by name.
func (b *Builder) buildApplications(cfg *config.Config, state *built) error {
	var wrappers []config.ClassConfig

	for _, app := range cfg.Applications {
		switch app.Class {
		case "echo":
			var args echoArgs
			if err := config.DecodeArgs(app.Args, &args); err != nil {
				return fmt.Errorf("application %q: %w", app.Name, err)
			}
			state.apps[app.Name] = appkit.NewEcho(args.StatusCode, args.Body)

		case "redirect":
			var args redirectArgs
			if err := config.DecodeArgs(app.Args, &args); err != nil {
				return fmt.Errorf("application %q: %w", app.Name, err)
			}
			if args.Target == "" {
				return fmt.Errorf("%w: application %q needs a target", lifecycle.ErrConfigInvalid, app.Name)
			}
			state.apps[app.Name] = appkit.NewRedirector(args.Target, args.StatusCode)

		case "staticContent":
			var args staticContentArgs
			if err := config.DecodeArgs(app.Args, &args); err != nil {
				return fmt.Errorf("application %q: %w", app.Name, err)
			}
			var gen *etag.Generator
			if args.Etag != nil {
				var err error
				gen, err = etag.New(etag.Config{
					Algorithm:  etag.Algorithm(args.Etag.Algorithm),
					WeakLength: args.Etag.WeakLength,
					CacheSize:  args.Etag.CacheSize,
				})
				if err != nil {
					return fmt.Errorf("application %q: %w", app.Name, err)
				}
			}
			state.apps[app.Name] = appkit.NewStaticContent(args.ContentType, []byte(args.Body), gen, app.Name)

		case "middleware":
			wrappers = append(wrappers, app)

		default:
			return fmt.Errorf("%w: unknown application class %q", lifecycle.ErrConfigInvalid, app.Class)
		}
	}

	for _, app := range wrappers {
		var args middlewareArgs
		if err := config.DecodeArgs(app.Args, &args); err != nil {
			return fmt.Errorf("application %q: %w", app.Name, err)
		}
		inner, ok := state.apps[args.Application]
		if !ok {
			return fmt.Errorf("%w: middleware %q wraps unknown application %q", lifecycle.ErrConfigInvalid, app.Name, args.Application)
		}
		state.apps[app.Name] = middleware.Wrap(args.Config, inner)
	}

	return nil
}

func (b *Builder) buildEndpoints(cfg *config.Config, root *lifecycle.Component, state *built) error {
	container, err := lifecycle.NewComponent("endpoints", nil, nil)
	if err != nil {
		return err
	}
	if err := root.AddChild(container); err != nil {
		return err
	}

	for _, e := range cfg.Endpoints {
		comp, err := b.buildEndpoint(e, state)
		if err != nil {
			return fmt.Errorf("endpoint %q: %w", e.Name, err)
		}
		if err := container.AddChild(comp); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) buildEndpoint(e config.EndpointConfig, state *built) (*lifecycle.Component, error) {
	mounts := make([]endpoint.Mount, len(e.Mounts))
	for i, m := range e.Mounts {
		mounts[i] = endpoint.Mount{Application: m.Application, Hostname: m.Hostname, Path: m.Path}
	}

	router, err := endpoint.New(endpoint.Config{Name: e.Name, Mounts: mounts}, state.apps, b.logger)
	if err != nil {
		return nil, err
	}

	handler := router.HandleRequest
	if name := e.Services.AccessControl; name != "" {
		guard, ok := state.guards[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown accessControl service %q", lifecycle.ErrConfigInvalid, name)
		}
		inner := handler
		handler = func(req *request.IncomingRequest) request.HandlerResult {
			addr := req.Raw().RemoteAddr
			if ok, reason := guard.CheckAccess(addr); !ok {
				return request.Handled(&request.Response{StatusCode: http.StatusForbidden, Body: []byte(reason)})
			}
			if !guard.CheckRateLimit(addr) {
				return request.Handled(&request.Response{StatusCode: http.StatusTooManyRequests, Body: []byte("rate limit exceeded")})
			}
			return inner(req)
		}
	}

	var bucket *tokenbucket.Bucket
	if name := e.Services.RateLimiter; name != "" {
		var ok bool
		if bucket, ok = state.buckets[name]; !ok {
			return nil, fmt.Errorf("%w: unknown rateLimiter service %q", lifecycle.ErrConfigInvalid, name)
		}
	}

	var logFn wrangler.RequestLogFunc
	var reqLogger *requestlog.Logger
	if name := e.Services.RequestLogger; name != "" {
		var ok bool
		if reqLogger, ok = state.reqLoggers[name]; !ok {
			return nil, fmt.Errorf("%w: unknown requestLogger service %q", lifecycle.ErrConfigInvalid, name)
		}
	}
	if reqLogger != nil || b.metrics != nil {
		endpointName := e.Name
		logger := reqLogger
		metrics := b.metrics
		logFn = func(entry wrangler.LogEntry) {
			if logger != nil {
				logger.LogRequest(entry)
			}
			if metrics != nil && entry.Response != nil {
				metrics.ObserveRequest(endpointName, entry.Response.StatusCode, entry.Duration)
			}
		}
	}

	if (e.Protocol == "https" || e.Protocol == "http2") && state.hosts == nil {
		return nil, fmt.Errorf("%w: protocol %q needs configured hosts", lifecycle.ErrConfigInvalid, e.Protocol)
	}

	w := wrangler.New(wrangler.Config{
		Name:     e.Name,
		Address:  e.Interface.Address,
		Port:     e.Interface.Port,
		Protocol: wrangler.Protocol(e.Protocol),
	}, state.hosts, bucket, handler, logFn, b.logger)

	return lifecycle.NewComponent(e.Name, e, w)
}
