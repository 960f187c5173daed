// Package monitoring serves run health, progress and Prometheus metrics over HTTP.
package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/hopsurprisal/internal/logger"
)

// Run phases reported by /status.
const (
	PhaseStarting   = "starting"
	PhaseSampling   = "sampling"
	PhaseEvaluating = "evaluating"
	PhaseWriting    = "writing"
	PhaseDone       = "done"
	PhaseFailed     = "failed"
)

type Status struct {
	Status     string        `json:"status"`
	Phase      string        `json:"phase"`
	Model      string        `json:"model,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Uptime     time.Duration `json:"uptime"`
	Checkpoint int           `json:"checkpoint,omitempty"`
	Completed  int           `json:"checkpoints_completed"`
	Total      int           `json:"checkpoints_total"`
	Examples   int           `json:"examples"`
	LastError  string        `json:"last_error,omitempty"`
	System     SystemInfo    `json:"system"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	Goroutines   int    `json:"goroutines"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// Monitor tracks one run. All methods are safe for concurrent use.
type Monitor struct {
	start  time.Time
	server *http.Server

	mu     sync.RWMutex
	status Status
}

func NewMonitor(model string) *Monitor {
	return &Monitor{
		start:  time.Now(),
		status: Status{Phase: PhaseStarting, Model: model},
	}
}

// Handler exposes /health, /healthz, /status and /metrics.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/healthz", m.handleHealth)
	mux.HandleFunc("/status", m.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr uses port 0.
func (m *Monitor) Start(addr string) (string, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	m.server = &http.Server{
		Handler:      m.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := m.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("Monitor server stopped", "error", err)
		}
	}()
	logger.Log.Info("Monitor listening", "addr", lis.Addr().String())
	return lis.Addr().String(), nil
}

func (m *Monitor) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

func (m *Monitor) Phase(phase string) {
	m.mu.Lock()
	m.status.Phase = phase
	m.mu.Unlock()
}

// Plan records the size of the run once sampling has finished.
func (m *Monitor) Plan(examples, checkpoints int) {
	m.mu.Lock()
	m.status.Examples = examples
	m.status.Total = checkpoints
	m.mu.Unlock()
}

func (m *Monitor) CheckpointDone(ckpt int) {
	m.mu.Lock()
	m.status.Checkpoint = ckpt
	m.status.Completed++
	m.mu.Unlock()
}

func (m *Monitor) Fail(err error) {
	m.mu.Lock()
	m.status.Phase = PhaseFailed
	m.status.LastError = err.Error()
	m.mu.Unlock()
}

// Snapshot returns the current status.
func (m *Monitor) Snapshot() Status {
	m.mu.RLock()
	s := m.status
	m.mu.RUnlock()

	s.Status = "healthy"
	if s.Phase == PhaseFailed {
		s.Status = "failed"
	}
	s.Timestamp = time.Now()
	s.Uptime = time.Since(m.start)
	s.System = systemInfo()
	return s
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	s := m.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if s.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    s.Status,
		"timestamp": s.Timestamp.Format(time.RFC3339),
	})
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}

func systemInfo() SystemInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		Goroutines:   runtime.NumGoroutine(),
		MemoryMB:     int(ms.Sys / 1024 / 1024),
		MemoryUsedMB: int(ms.Alloc / 1024 / 1024),
	}
}
