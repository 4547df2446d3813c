package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"kvcache/internal/limits"
	"kvcache/internal/runtime"
)

type Server struct {
	HTTPAddr string

	httpServer   *http.Server
	httpLn       net.Listener
	limits       limits.Limits
	shutdown     runtime.ShutdownConfig
	inflight     *runtime.InflightTracker
	stoppers     []Stopper
	shutdownOnce sync.Once
	shutdownErr  error
}

type Stopper interface {
	Stop(ctx context.Context) error
}

type StopFunc func(ctx context.Context) error

func (s StopFunc) Stop(ctx context.Context) error {
	return s(ctx)
}

type Options struct {
	Limits   limits.Limits
	Shutdown runtime.ShutdownConfig
	Inflight *runtime.InflightTracker
	Stoppers []Stopper
}

func Start(handler http.Handler, httpAddr string, options Options) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is nil")
	}
	if httpAddr == "" {
		return nil, errors.New("no listeners configured")
	}

	limitConfig := options.Limits
	if limitConfig.MaxHeaderBytes == 0 {
		limitConfig = limits.Default()
	}
	shutdownConfig := runtime.ApplyShutdownDefaults(options.Shutdown)

	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, err
	}
	httpSrv := &http.Server{
		Handler:           trackInflight(handler, options.Inflight),
		MaxHeaderBytes:    limitConfig.MaxHeaderBytes,
		ReadHeaderTimeout: limitConfig.ReadHeaderTimeout,
		ReadTimeout:       limitConfig.ReadTimeout,
		WriteTimeout:      limitConfig.WriteTimeout,
		IdleTimeout:       limitConfig.IdleTimeout,
	}
	go serve(httpSrv, ln)

	return &Server{
		HTTPAddr:   ln.Addr().String(),
		httpServer: httpSrv,
		httpLn:     ln,
		limits:     limitConfig,
		shutdown:   shutdownConfig,
		inflight:   options.Inflight,
		stoppers:   options.Stoppers,
	}, nil
}

func serve(server *http.Server, ln net.Listener) {
	if server == nil || ln == nil {
		return
	}
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server error: %v", err)
	}
}

func trackInflight(handler http.Handler, inflight *runtime.InflightTracker) http.Handler {
	if inflight == nil {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inflight.Inc()
		defer inflight.Dec()
		handler.ServeHTTP(w, r)
	})
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	if s == nil {
		return nil
	}
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdownSequence()
	})
	return s.shutdownErr
}

func (s *Server) shutdownSequence() error {
	if s.httpLn != nil {
		_ = s.httpLn.Close()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), s.shutdown.GracefulTimeout)
	for _, stopper := range s.stoppers {
		if stopper == nil {
			continue
		}
		_ = stopper.Stop(stopCtx)
	}
	stopCancel()

	if s.shutdown.Drain > 0 {
		time.Sleep(s.shutdown.Drain)
	}

	gracefulCtx, gracefulCancel := context.WithTimeout(context.Background(), s.shutdown.GracefulTimeout)
	defer gracefulCancel()
	if s.inflight != nil {
		if err := s.inflight.Wait(gracefulCtx); err != nil {
			log.Printf("shutdown: %d requests still in flight: %v", s.inflight.Active(), err)
		}
	}
	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(gracefulCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			firstErr = err
		}
	}
	if gracefulCtx.Err() == nil {
		return firstErr
	}

	if s.shutdown.ForceClose > 0 {
		time.Sleep(s.shutdown.ForceClose)
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if firstErr != nil {
		return firstErr
	}
	return gracefulCtx.Err()
}
