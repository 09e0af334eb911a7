package tasks

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — счётчики и длительности операций Service.
// Нулевой указатель допустим: метрики просто не пишутся.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics регистрирует метрики в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_operations_total",
				Help: "Task service operations by result",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tasks_operation_duration_seconds",
				Help:    "Time spent executing a task service operation, file I/O included",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"op"},
		),
	}
	reg.MustRegister(m.operations, m.duration)
	return m
}

func (m *Metrics) observe(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, resultLabel(err)).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func resultLabel(err error) string {
	var verrs ValidationErrors
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.As(err, &verrs), errors.Is(err, ErrInvalidTasks):
		return "invalid"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	default:
		return "error"
	}
}
