package server

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// waitForShutdown returns a channel that is closed on the first interrupt or
// terminate signal.
func waitForShutdown() <-chan struct{} {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		<-quit
		signal.Stop(quit)
		close(done)
	}()
	return done
}

// Shutdown stops accepting requests, waits for in-flight ones and then runs
// the OnShutdown hooks.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.E.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	hooks := s.shutdown
	s.shutdown = nil
	s.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		slog.Error("Shutdown finished with errors", "error", err)
		return err
	}
	slog.Info("Server stopped")
	return nil
}
