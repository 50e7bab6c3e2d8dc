// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package app wires together all agora components.
// This is the composition root: every dependency is created and connected here.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jllopis/agora/pkg/a2a"
	"github.com/jllopis/agora/pkg/a2a/agentcard"
	"github.com/jllopis/agora/pkg/a2a/jsonrpc"
	"github.com/jllopis/agora/pkg/audit"
	"github.com/jllopis/agora/pkg/catalog"
	"github.com/jllopis/agora/pkg/config"
	"github.com/jllopis/agora/pkg/provider"
	"github.com/jllopis/agora/pkg/provider/mcptool"
	"github.com/jllopis/agora/pkg/provider/ollama"
	"github.com/jllopis/agora/pkg/routing"
	"github.com/jllopis/agora/pkg/task"
	"github.com/jllopis/agora/pkg/telemetry"
)

// HealthInterval is the period of the background agent health checks.
const HealthInterval = 30 * time.Second

const shutdownTimeout = 5 * time.Second

// DefaultRegistry returns the registry of built-in provider types.
func DefaultRegistry() *provider.Registry {
	r := provider.NewRegistry()
	_ = r.Register("mock", provider.MockFactory)
	_ = r.Register("ollama", ollama.Factory)
	_ = r.Register("mcp", mcptool.Factory)
	_ = r.Alias("mcptool", "mcp")
	_ = r.Alias("local", "ollama")
	return r
}

// Option customizes New.
type Option func(*App)

// WithRegistry replaces DefaultRegistry.
func WithRegistry(r *provider.Registry) Option {
	return func(a *App) {
		if r != nil {
			a.registry = r
		}
	}
}

// WithLogOutput redirects logs, which go to stderr by default.
func WithLogOutput(w io.Writer) Option {
	return func(a *App) {
		if w != nil {
			a.logOut = w
		}
	}
}

// App holds the application state and components.
type App struct {
	cfg      *config.Config
	registry *provider.Registry
	logOut   io.Writer
	log      *slog.Logger
	level    *slog.LevelVar

	tel      *telemetry.Telemetry
	metrics  *telemetry.TaskMetrics
	catalog  *catalog.Catalog
	router   *routing.Router
	manager  *task.Manager
	sweeper  *task.Sweeper
	store    audit.Store
	recorder *audit.Recorder
	rpc      *jsonrpc.Server
	handler  http.Handler

	grpcServer *grpc.Server
	closers    []func() error
	closeOnce  sync.Once
}

// New creates the application with all components wired and every
// configured agent registered. Nothing is listening until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: DefaultRegistry(),
		logOut:   os.Stderr,
		level:    new(slog.LevelVar),
	}
	for _, opt := range opts {
		opt(a)
	}

	// 1. Logging and telemetry first
	a.level.Set(telemetry.ParseLevel(cfg.Log.Level))
	a.log = slog.New(telemetry.NewLeveledHandler(a.logOut, a.level, cfg.Log.Format))
	slog.SetDefault(a.log)

	tel, err := telemetry.InitWithConfig(cfg.Server.Name, cfg.Server.Version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.tel = tel
	a.metrics = telemetry.NewTaskMetrics()

	// 2. Catalog, with the gRPC health mirror attached before any agent
	a.catalog = catalog.New(catalog.WithMetrics(a.metrics))
	if cfg.GRPC.HealthAddr != "" {
		a.grpcServer = grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
		hs := health.NewServer()
		healthpb.RegisterHealthServer(a.grpcServer, hs)
		a.catalog.Observe(catalog.NewGRPCHealthReporter(hs).Observe)
	}
	if err := a.registerAgents(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	// 3. Routing
	kind, err := routing.ParseStrategy(cfg.Routing.Strategy)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.router, err = routing.NewRouter(a.catalog, kind,
		routing.WithHealthyOnly(cfg.Routing.HealthyOnly),
		routing.WithMetrics(a.metrics),
		routing.WithLogger(a.log),
	)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.applyWeightsFile(cfg.Routing.WeightsFile); err != nil {
		a.Close(ctx)
		return nil, err
	}

	// 4. Audit trail and task manager
	taskOpts := []task.Option{
		task.WithTimeout(cfg.Task.Timeout),
		task.WithMetrics(a.metrics),
		task.WithLogger(a.log),
	}
	if a.store, err = openAuditStore(cfg.Task); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if a.store != nil {
		if c, ok := a.store.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
		a.recorder = audit.NewRecorder(a.store, 0)
		taskOpts = append(taskOpts, task.WithTransitionObserver(a.recorder.Observe))
	}
	a.manager = task.NewManager(a.router, taskOpts...)
	a.sweeper = task.NewSweeper(a.manager, cfg.Task.CleanupInterval, cfg.Task.MaxAge)

	// 5. Transport
	a.rpc = jsonrpc.New(a.manager, jsonrpc.WithLogger(a.log), jsonrpc.WithMetrics(a.metrics))
	a.handler = a.routes()

	a.log.InfoContext(ctx, "app.ready",
		slog.String("name", cfg.Server.Name),
		slog.Int("agents", a.catalog.Len()),
		slog.String("strategy", string(a.router.Strategy())),
		slog.String("audit", cfg.Task.Audit),
		slog.String("telemetry", tel.Exporter()),
	)
	return a, nil
}

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler { return a.handler }

// Catalog returns the agent catalog.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// Manager returns the task manager.
func (a *App) Manager() *task.Manager { return a.manager }

// Router returns the agent router.
func (a *App) Router() *routing.Router { return a.router }

// AuditStore returns the transition store, or nil when auditing is off.
func (a *App) AuditStore() audit.Store { return a.store }

func (a *App) registerAgents(ctx context.Context) error {
	for _, ac := range a.cfg.Agents {
		pcfg := provider.Config{
			Name:        ac.Name,
			DisplayName: ac.DisplayName,
			Description: ac.Description,
			Model:       ac.Model,
			BaseURL:     ac.BaseURL,
			Command:     ac.Command,
			Args:        ac.Args,
			URL:         ac.URL,
			Tool:        ac.Tool,
			PromptArg:   ac.PromptArg,
			Timeout:     ac.Timeout,
			MaxRetries:  ac.MaxRetries,
			Extra:       ac.Extra,
		}
		if ac.SkillsFile != "" {
			skills, err := provider.LoadSkills(ac.SkillsFile)
			if err != nil {
				return fmt.Errorf("agent %s: %w", ac.Name, err)
			}
			pcfg.Skills = skills
		}
		p, err := a.registry.Create(ac.Type, pcfg)
		if err != nil {
			return fmt.Errorf("agent %s: %w", ac.Name, err)
		}
		if c, ok := p.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
		if _, err := a.catalog.Register(ctx, ac.Name, p, catalog.RegisterOptions{
			Initialize: true,
			Weight:     ac.Weight,
		}); err != nil {
			return fmt.Errorf("agent %s: %w", ac.Name, err)
		}
	}
	return nil
}

func (a *App) applyWeightsFile(path string) error {
	if path == "" {
		return nil
	}
	weights, err := routing.LoadWeights(path)
	if err != nil {
		return fmt.Errorf("routing weights: %w", err)
	}
	a.router.ApplyWeights(weights)
	return nil
}

func openAuditStore(cfg config.TaskConfig) (audit.Store, error) {
	switch cfg.Audit {
	case "", "none":
		return nil, nil
	case "memory":
		return audit.NewMemoryStore(), nil
	case "sqlite":
		store, err := audit.OpenSQLite(cfg.AuditDSN)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown audit store %q", cfg.Audit)
	}
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/a2a", a.rpc)
	mux.Handle("/a2a/stream", a.rpc.StreamHandler())
	mux.Handle(agentcard.WellKnownPath, agentcard.PublishHandler(a.card))
	mux.HandleFunc("/health", a.handleHealth)
	if h := a.tel.MetricsHandler(); h != nil {
		mux.Handle("/metrics", h)
	}
	mux.HandleFunc("/", a.handleRoot)
	return mux
}

func (a *App) card() *a2a.AgentCard {
	s := a.cfg.Server
	return agentcard.FromCatalog(agentcard.Config{
		Name:            s.Name,
		Description:     s.Description,
		URL:             s.PublicURL() + "/a2a",
		Version:         s.Version,
		Organization:    s.Organization,
		OrganizationURL: s.OrgURL,
	}, a.catalog)
}

type healthResponse struct {
	Status string          `json:"status"`
	Agents map[string]bool `json:"agents"`
	Tasks  int             `json:"tasks"`
	Stats  task.Stats      `json:"stats"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := a.manager.Stats()
	resp := healthResponse{Status: "unhealthy", Agents: map[string]bool{}, Tasks: stats.Total, Stats: stats}
	for _, e := range a.catalog.List(false) {
		resp.Agents[e.Name] = e.Healthy
		if e.Healthy {
			resp.Status = "healthy"
		}
	}
	writeJSON(w, resp)
}

func (a *App) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{
		"name":       a.cfg.Server.Name,
		"version":    a.cfg.Server.Version,
		"protocol":   "A2A v" + a2a.ProtocolVersion,
		"agent_card": agentcard.WellKnownPath,
		"endpoints": map[string]string{
			"jsonrpc": "/a2a",
			"stream":  "/a2a/stream",
			"health":  "/health",
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// applyConfig applies the settings that can change without a restart: the
// log level, the routing strategy and the routing weights.
func (a *App) applyConfig(cfg *config.Config) {
	a.level.Set(telemetry.ParseLevel(cfg.Log.Level))

	if kind, err := routing.ParseStrategy(cfg.Routing.Strategy); err != nil {
		a.log.Warn("app.config.strategy_invalid", telemetry.ErrorAttr(err))
	} else if err := a.router.SetStrategy(kind); err != nil {
		a.log.Warn("app.config.strategy_invalid", telemetry.ErrorAttr(err))
	}

	weights := make(map[string]int)
	for _, ac := range cfg.Agents {
		if ac.Weight > 0 && a.catalog.Contains(ac.Name) {
			weights[ac.Name] = ac.Weight
		}
	}
	if cfg.Routing.WeightsFile != "" {
		fromFile, err := routing.LoadWeights(cfg.Routing.WeightsFile)
		if err != nil {
			a.log.Warn("app.config.weights_invalid", telemetry.ErrorAttr(err))
		}
		for name, w := range fromFile {
			weights[name] = w
		}
	}
	a.router.ApplyWeights(weights)

	a.log.Info("app.config.applied",
		slog.String("log_level", a.level.Level().String()),
		slog.String("strategy", string(a.router.Strategy())),
		slog.Int("weights", len(weights)),
	)
}

// Run serves HTTP (and gRPC health when configured) until ctx is done, then
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	defer a.Close(context.Background())

	ln, err := net.Listen("tcp", a.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Addr(), err)
	}
	httpServer := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	a.log.Info("app.http.listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("url", a.cfg.Server.PublicURL()),
	)

	if a.grpcServer != nil {
		gln, err := net.Listen("tcp", a.cfg.GRPC.HealthAddr)
		if err != nil {
			_ = httpServer.Close()
			return fmt.Errorf("listen %s: %w", a.cfg.GRPC.HealthAddr, err)
		}
		go func() {
			if err := a.grpcServer.Serve(gln); err != nil && err != grpc.ErrServerStopped {
				errCh <- fmt.Errorf("grpc health server: %w", err)
			}
		}()
		a.log.Info("app.grpc.listening", slog.String("addr", gln.Addr().String()))
	}

	a.sweeper.Start()
	defer a.sweeper.Stop()

	if a.cfg.Path != "" {
		watcher, err := config.NewWatcher(a.cfg.Path,
			config.WithWatchProfile(a.cfg.Profile),
			config.WithWatchLogger(a.log),
		)
		if err != nil {
			a.log.Warn("app.config.watch_disabled", telemetry.ErrorAttr(err))
		} else {
			watcher.OnChange(a.applyConfig)
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	go a.healthLoop(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	a.log.Info("app.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("app.http.shutdown", telemetry.ErrorAttr(err))
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	return runErr
}

func (a *App) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.catalog.HealthCheckAll(ctx)
		}
	}
}

// Close releases the audit trail, providers and telemetry. It is safe to
// call more than once.
func (a *App) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		if a.sweeper != nil {
			a.sweeper.Stop()
		}
		if a.recorder != nil {
			a.recorder.Close()
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.log.Warn("app.close", telemetry.ErrorAttr(err))
			}
		}
		if err := a.tel.Shutdown(ctx); err != nil {
			a.log.Warn("app.telemetry.shutdown", telemetry.ErrorAttr(err))
		}
	})
}
