package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
)

// Runner is anything with a blocking, context-aware run loop: the hub, the
// consumer and the health monitor.
type Runner func(ctx context.Context) error

// Service wraps a Runner as a named suture service.
type Service struct {
	name  string
	run   Runner
	fatal error
}

// NewService wraps run. Returning fatal (matched with errors.Is) from run
// terminates the whole tree instead of restarting the service.
func NewService(name string, run Runner, fatal error) *Service {
	return &Service{name: name, run: run, fatal: fatal}
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	err := s.run(ctx)
	if s.fatal != nil && errors.Is(err, s.fatal) {
		return fmt.Errorf("%s: %w: %w", s.name, err, suture.ErrTerminateSupervisorTree)
	}
	return err
}

// String implements fmt.Stringer. Suture uses it in log messages.
func (s *Service) String() string {
	return s.name
}

// HTTPServer matches the *http.Server lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server as a supervised service.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService wraps server.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		// The tree context is already cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer.
func (h *HTTPService) String() string {
	return "http-server"
}
