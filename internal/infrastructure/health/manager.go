package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"bitfinex-trader/internal/core"
)

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	if logger == nil {
		return &HealthManager{
			checks: make(map[string]func() error),
		}
	}
	return &HealthManager{
		logger: logger.WithField("component", "health_manager"),
		checks: make(map[string]func() error),
	}
}

// Register adds a new health check for a component
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := make(map[string]string)
	for component, check := range hm.checks {
		if err := check(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy returns true if all critical components are healthy
func (hm *HealthManager) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	for _, check := range hm.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}

// ServeHTTP reports per-component status as JSON, returning 503 if any
// registered component is unhealthy.
func (hm *HealthManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := hm.GetStatus()
	w.Header().Set("Content-Type", "application/json")
	if !hm.IsHealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Server exposes a HealthManager's status over HTTP at /healthz.
type Server struct {
	port int
	hm   *HealthManager
	srv  *http.Server
}

// NewServer builds a health Server bound to port.
func NewServer(port int, hm *HealthManager) *Server {
	return &Server{port: port, hm: hm}
}

// Run starts the health HTTP server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/healthz", s.hm)

	s.srv = &http.Server{Addr: fmt.Sprintf(":%d", s.port), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
