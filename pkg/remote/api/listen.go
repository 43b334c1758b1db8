package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

// ListenAndServe runs the endpoint on addr until the context is cancelled, then shuts it down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve runs the endpoint on a listener until the context is cancelled
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	hsrv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.l.Info("shutting down metadata endpoint", zap.Stringer("address", listener.Addr()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		done <- hsrv.Shutdown(shutdownCtx)
	}()

	s.l.Info("serving metadata endpoint", zap.Stringer("address", listener.Addr()), zap.Bool("authentication", len(s.secret) > 0))
	if err := hsrv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-done
}
