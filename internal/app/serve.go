package app

import (
	"context"
	"log"
	"net"
	"net/http"

	"google.golang.org/grpc"

	"kvcache/internal/admin"
	"kvcache/internal/config"
	"kvcache/internal/limits"
	"kvcache/internal/obs"
	"kvcache/internal/ratelimit"
	"kvcache/internal/rpc"
	"kvcache/internal/runtime"
	"kvcache/internal/server"
)

// Running is a started HTTP API and, when grpc_addr is set, gRPC API.
type Running struct {
	HTTPAddr string
	GRPCAddr string
	Metrics  *obs.Metrics

	server *server.Server
}

// Start flushes the store when configured to, installs the process metrics
// and starts the listeners.
func (a *App) Start(ctx context.Context) (*Running, error) {
	cfg := a.Config
	if cfg.FlushOnStart {
		if err := a.Store.FlushDB(ctx); err != nil {
			return nil, err
		}
		log.Printf("store flushed on start")
	}

	limitConfig, err := limits.FromConfig(cfg.Limits)
	if err != nil {
		return nil, err
	}
	shutdownConfig, err := runtime.ShutdownFromConfig(cfg.Shutdown)
	if err != nil {
		return nil, err
	}
	adminHandler, err := newAdminHandler(cfg, a)
	if err != nil {
		return nil, err
	}
	var fetchLimiter *ratelimit.Limiter
	if cfg.RateLimit.RPS > 0 {
		fetchLimiter = ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})
	}

	metrics := obs.NewMetrics(metricsConfig(cfg.Metrics))
	handler := server.NewHandler(server.HandlerConfig{
		Cache:        a.Cache,
		Replay:       a.Replay,
		Fetch:        a.Fetch,
		Store:        a.Store,
		Metrics:      metrics,
		MetricsToken: config.MetricsToken(cfg),
		MaxBodyBytes: limitConfig.MaxBodyBytes,
		FetchLimiter: fetchLimiter,
		Admin:        adminHandler,
	})

	running := &Running{Metrics: metrics}
	var stoppers []server.Stopper
	if cfg.GRPCAddr != "" {
		grpcServer, addr, err := startGRPC(cfg.GRPCAddr, a)
		if err != nil {
			metrics.Close()
			return nil, err
		}
		running.GRPCAddr = addr
		stoppers = append(stoppers, server.StopFunc(func(ctx context.Context) error {
			stopGRPC(ctx, grpcServer)
			return nil
		}))
	}

	srv, err := server.Start(handler, cfg.ListenAddr, server.Options{
		Limits:   limitConfig,
		Shutdown: shutdownConfig,
		Inflight: runtime.NewInflightTracker(),
		Stoppers: stoppers,
	})
	if err != nil {
		for _, stopper := range stoppers {
			_ = stopper.Stop(context.Background())
		}
		metrics.Close()
		return nil, err
	}
	obs.SetDefaultMetrics(metrics)
	running.HTTPAddr = srv.HTTPAddr
	running.server = srv
	return running, nil
}

// Shutdown drains the listeners and detaches the process metrics.
func (r *Running) Shutdown() error {
	if r == nil {
		return nil
	}
	err := r.server.Shutdown()
	if obs.DefaultMetrics() == r.Metrics {
		obs.SetDefaultMetrics(nil)
	}
	r.Metrics.Close()
	return err
}

func metricsConfig(cfg *config.MetricsConfig) obs.MetricsConfig {
	if cfg == nil {
		return obs.MetricsConfig{}
	}
	return obs.MetricsConfig{
		IdentityTopK:      cfg.IdentityTopK,
		HostTopK:          cfg.HostTopK,
		RecomputeInterval: cfg.RecomputeInterval(),
	}
}

// newAdminHandler returns nil when the admin API is disabled.
func newAdminHandler(cfg *config.Config, a *App) (http.Handler, error) {
	if cfg.Admin == nil || !cfg.Admin.Enabled {
		return nil, nil
	}
	auth, err := admin.NewAuthenticator(config.AdminToken(cfg))
	if err != nil {
		return nil, err
	}
	return admin.NewHandler(admin.HandlerConfig{
		Store:       a.Store,
		Auth:        auth,
		RateLimiter: ratelimit.New(ratelimit.Config{RPS: cfg.Admin.RPS, Burst: cfg.Admin.Burst}),
	}), nil
}

func startGRPC(addr string, a *App) (*grpc.Server, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}
	grpcServer := rpc.NewGRPCServer(rpc.NewServer(rpc.ServerConfig{
		Cache:  a.Cache,
		Replay: a.Replay,
		Fetch:  a.Fetch,
	}))
	go func() {
		if err := grpcServer.Serve(ln); err != nil {
			log.Printf("grpc server error: %v", err)
		}
	}()
	return grpcServer, ln.Addr().String(), nil
}

// stopGRPC drains in-flight calls until ctx expires, then closes the rest.
func stopGRPC(ctx context.Context, grpcServer *grpc.Server) {
	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		grpcServer.Stop()
	}
}
