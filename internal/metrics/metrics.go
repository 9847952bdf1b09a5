package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/23skdu/longbow-quant/internal/fault"
)

// Kernel phases.
const (
	PhaseBuild    = "build"
	PhaseTransfer = "transfer"
	PhaseCalc     = "calc"
	PhaseRegress  = "regression"
)

// Slot events.
const (
	SlotCreated  = "created"
	SlotRebuilt  = "rebuilt"
	SlotDisposed = "disposed"
)

var (
	totalRounds     atomic.Int64
	totalOperations atomic.Int64
)

var (
	RoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quant_rounds_total",
		Help: "Number of finalized calculation rounds",
	}, []string{"device"})

	RoundDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "quant_round_duration_seconds",
		Help: "Wall time of FinalizeCalculation",
	})

	OperationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quant_operations_total",
		Help: "Pathwise operations executed (statements times paths)",
	})

	DeviceBufferBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quant_device_buffer_bytes",
		Help: "Current bytes held in device buffers",
	})

	VariatePoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quant_variate_pool_size",
		Help: "Number of generated normal variates held in the shared pool",
	})

	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quant_kernel_duration_seconds",
		Help:    "Histogram of kernel phase times",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	KernelParts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quant_kernel_parts",
		Help:    "Number of kernel parts per compiled program",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	})

	SlotEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quant_calculation_slots_total",
		Help: "Calculation slot lifecycle events",
	}, []string{"event"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quant_errors_total",
		Help: "Errors returned by the compute protocol",
	}, []string{"operation", "kind"})

	PathsPerRound = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quant_paths_per_round",
		Help:    "Distribution of path counts per finalized round",
		Buckets: []float64{1, 100, 1000, 10000, 100000, 1000000},
	})
)

func RecordRound(device string, paths int, duration time.Duration) {
	RoundsTotal.WithLabelValues(device).Inc()
	totalRounds.Add(1)
	RoundDuration.Observe(duration.Seconds())
	PathsPerRound.Observe(float64(paths))
}

func RecordOperations(n int64) {
	OperationsTotal.Add(float64(n))
	totalOperations.Add(n)
}

func RecordDeviceMemory(bytes int64) {
	DeviceBufferBytes.Set(float64(bytes))
}

func RecordVariatePool(size int) {
	VariatePoolSize.Set(float64(size))
}

func RecordKernelDuration(phase string, duration time.Duration) {
	KernelDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

func RecordKernelParts(parts int) {
	KernelParts.Observe(float64(parts))
}

func RecordSlotEvent(event string) {
	SlotEvents.WithLabelValues(event).Inc()
}

// RecordError counts err under its fault kind. A nil error is ignored.
func RecordError(operation string, err error) {
	if err == nil {
		return
	}
	Errors.WithLabelValues(operation, fault.KindOf(err)).Inc()
}

// TotalRounds is the process-wide number of finalized rounds.
func TotalRounds() int64 { return totalRounds.Load() }

// TotalOperations is the process-wide number of pathwise operations.
func TotalOperations() int64 { return totalOperations.Load() }
