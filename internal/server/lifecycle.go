package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/metrics"
)

// drainDelay lets load balancers notice /health/ready failing before the
// listener closes.
const drainDelay = 5 * time.Second

// Run serves until ctx is done, SIGINT or SIGTERM arrives, or the listener
// fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.serve(ctx, ln, drainDelay)
}

func (s *Server) serve(ctx context.Context, ln net.Listener, drain time.Duration) error {
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Lock and settle calls hold the connection until validation.
		WriteTimeout: s.cfg.ConfirmTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background workers outlive ctx so in-flight requests can still
	// publish events while the listener drains.
	bg, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go s.hub.Run(bg)
	go s.reconciler.Start(bg)

	if s.db != nil {
		if err := metrics.RegisterDBStats(s.db, "escrows"); err != nil {
			s.logger.Warn("db pool metrics unavailable", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", ln.Addr().String(), "env", s.cfg.Env)
		if err := s.httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown(drain, stopBackground)
	})

	s.ready.Store(true)
	s.logger.Info("server ready")
	return g.Wait()
}

// shutdown drains in-flight requests, then stops background work and
// closes storage. Ledger submissions cut off here stay pending for the
// next process's first reconciliation sweep.
func (s *Server) shutdown(drain time.Duration, stopBackground context.CancelFunc) error {
	s.ready.Store(false)
	s.logger.Info("shutting down", "drain", drain.String())
	time.Sleep(drain)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConfirmTimeout+30*time.Second)
	defer cancel()

	var errs []error
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	stopBackground()
	s.reconciler.Stop()
	s.limiter.Stop()

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Warn("tracing shutdown", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}
