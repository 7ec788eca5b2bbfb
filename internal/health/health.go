package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CheckStatus represents the result of a health check
type CheckStatus string

const (
	StatusHealthy   CheckStatus = "healthy"
	StatusDegraded  CheckStatus = "degraded"
	StatusUnhealthy CheckStatus = "unhealthy"
)

// CheckResult contains the result of one health check
type CheckResult struct {
	Component string        `json:"component"`
	Status    CheckStatus   `json:"status"`
	Error     string        `json:"error,omitempty"`
	Critical  bool          `json:"critical"`
	Duration  time.Duration `json:"duration"`
}

// OverallHealth aggregates every check
type OverallHealth struct {
	Status    CheckStatus   `json:"status"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

// Checker probes one dependency
type Checker interface {
	Name() string
	Check(ctx context.Context) error
	// IsCritical marks checks whose failure makes the service unhealthy rather than degraded
	IsCritical() bool
}

// PingChecker adapts a ping function (Redis, database) to Checker
type PingChecker struct {
	Component string
	Critical  bool
	Ping      func(ctx context.Context) error
}

func (p PingChecker) Name() string                    { return p.Component }
func (p PingChecker) IsCritical() bool                { return p.Critical }
func (p PingChecker) Check(ctx context.Context) error { return p.Ping(ctx) }

// Manager runs registered checks
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	timeout  time.Duration
	logger   *zap.Logger
}

func NewManager(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{checkers: make(map[string]Checker), timeout: timeout, logger: logger}
}

// Register adds or replaces a checker by name
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[c.Name()] = c
}

// Check runs every checker concurrently, each under the manager timeout
func (m *Manager) Check(ctx context.Context) OverallHealth {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()
	sort.Slice(checkers, func(i, j int) bool { return checkers[i].Name() < checkers[j].Name() })

	results := make([]CheckResult, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{Component: c.Name(), Status: StatusHealthy, Critical: c.IsCritical(), Duration: time.Since(start)}
			if err != nil {
				res.Status = StatusDegraded
				if c.IsCritical() {
					res.Status = StatusUnhealthy
				}
				res.Error = err.Error()
				m.logger.Warn("Health check failed", zap.String("component", c.Name()), zap.Error(err))
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	overall := OverallHealth{Status: StatusHealthy, Checks: results, Timestamp: time.Now().UTC()}
	for _, r := range results {
		switch {
		case r.Status == StatusUnhealthy:
			overall.Status = StatusUnhealthy
		case r.Status == StatusDegraded && overall.Status == StatusHealthy:
			overall.Status = StatusDegraded
		}
	}
	return overall
}

// RegisterRoutes registers health endpoints on mux
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/health/ready", m.handleHealth)
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"alive"}`))
	})
}

func (m *Manager) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	overall := m.Check(r.Context())
	status := http.StatusOK
	if overall.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(overall)
}
