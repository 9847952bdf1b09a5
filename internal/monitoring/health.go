package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-quant/internal/device"
	"github.com/23skdu/longbow-quant/internal/logger"
	"github.com/23skdu/longbow-quant/internal/metrics"
)

// HealthStatus represents the health status of the system
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version"`
	Uptime    time.Duration `json:"uptime"`
	System    SystemInfo    `json:"system"`
	Engine    EngineInfo    `json:"engine"`
	Alerts    []Alert       `json:"alerts"`
}

// SystemInfo contains system-level information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     int    `json:"memory_mb"`
	MemoryUsedMB int    `json:"memory_used_mb"`
}

// EngineInfo summarizes devices and the rounds run on them.
type EngineInfo struct {
	Devices           []string `json:"devices"`
	Rounds            int64    `json:"rounds"`
	Operations        int64    `json:"operations"`
	DeviceMemoryBytes int64    `json:"device_memory_bytes"`
}

// Alert represents a system alert
type Alert struct {
	Level      string     `json:"level"`     // info, warning, error, critical
	Component  string     `json:"component"` // device, flight, system
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// DeviceLister is satisfied by *registry.Environment.
type DeviceLister interface {
	AvailableDevices() []string
}

// HealthMonitor serves /health, /status and /metrics.
type HealthMonitor struct {
	Version string

	startTime time.Time
	devices   DeviceLister
	memLimit  int64
	server    *http.Server
	log       *logger.Logger

	mu      sync.RWMutex
	alerts  []Alert
	stopped bool
}

// NewHealthMonitor creates a monitor over devices. A positive memLimit
// reports device buffer usage above it as a warning.
func NewHealthMonitor(devices DeviceLister, memLimit int64) *HealthMonitor {
	return &HealthMonitor{
		Version:   "dev",
		startTime: time.Now(),
		devices:   devices,
		memLimit:  memLimit,
		alerts:    make([]Alert, 0),
		log:       logger.Log.With("monitoring"),
	}
}

func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", hm.handleDetailedStatus)
	mux.HandleFunc("/admin/alerts", hm.handleAlerts)
	mux.HandleFunc("/admin/clear-alerts", hm.handleClearAlerts)
	return mux
}

// Start serves on addr until Stop; it returns nil after a clean Stop.
func (hm *HealthMonitor) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return hm.Serve(ln)
}

// Serve serves on ln until Stop. A monitor stopped before it started
// serving closes ln and returns nil.
func (hm *HealthMonitor) Serve(ln net.Listener) error {
	hm.mu.Lock()
	if hm.stopped {
		hm.mu.Unlock()
		return ln.Close()
	}
	hm.server = &http.Server{
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	srv := hm.server
	hm.mu.Unlock()

	hm.log.Info("health monitor starting", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops health monitoring
func (hm *HealthMonitor) Stop(ctx context.Context) error {
	hm.mu.Lock()
	hm.stopped = true
	srv := hm.server
	hm.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// AddAlert adds a new alert
func (hm *HealthMonitor) AddAlert(level, component, message string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.alerts = append(hm.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	// keep the last 100
	if len(hm.alerts) > 100 {
		hm.alerts = hm.alerts[1:]
	}
	hm.log.Warn("alert", "level", level, "component", component, "message", message)
}

// ResolveAlert resolves an alert
func (hm *HealthMonitor) ResolveAlert(index int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if index >= 0 && index < len(hm.alerts) {
		now := time.Now()
		hm.alerts[index].Resolved = true
		hm.alerts[index].ResolvedAt = &now
	}
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.Status()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == "critical" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hm.Status())
}

func (hm *HealthMonitor) handleAlerts(w http.ResponseWriter, r *http.Request) {
	hm.mu.RLock()
	alerts := make([]Alert, len(hm.alerts))
	copy(alerts, hm.alerts)
	hm.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alerts)
}

func (hm *HealthMonitor) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hm.mu.Lock()
	hm.alerts = hm.alerts[:0]
	hm.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "alerts cleared"})
}

// Status is healthy unless an unresolved alert says otherwise: error alerts
// degrade it, critical ones make it critical.
func (hm *HealthMonitor) Status() HealthStatus {
	hm.mu.RLock()
	alerts := make([]Alert, len(hm.alerts))
	copy(alerts, hm.alerts)
	hm.mu.RUnlock()

	used := device.AllocatedBytes()
	if hm.memLimit > 0 && used > hm.memLimit {
		alerts = append(alerts, Alert{
			Level:     "warning",
			Component: "device",
			Message:   fmt.Sprintf("High device buffer usage: %d of %d bytes", used, hm.memLimit),
			Timestamp: time.Now(),
		})
	}

	status := "healthy"
	for _, alert := range alerts {
		if alert.Resolved {
			continue
		}
		if alert.Level == "critical" {
			status = "critical"
			break
		}
		if alert.Level == "error" {
			status = "degraded"
		}
	}

	var devices []string
	if hm.devices != nil {
		devices = hm.devices.AvailableDevices()
	}

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Version:   hm.Version,
		Uptime:    time.Since(hm.startTime),
		System:    systemInfo(),
		Engine: EngineInfo{
			Devices:           devices,
			Rounds:            metrics.TotalRounds(),
			Operations:        metrics.TotalOperations(),
			DeviceMemoryBytes: used,
		},
		Alerts: alerts,
	}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		MemoryMB:     int(m.Sys / 1024 / 1024),
		MemoryUsedMB: int(m.Alloc / 1024 / 1024),
	}
}
