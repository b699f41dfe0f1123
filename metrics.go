package grid_go

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the broker's prometheus collectors.
type Metrics struct {
	Submitted   prometheus.Counter
	Dispatched  prometheus.Counter
	Completed   *prometheus.CounterVec
	QueueDepth  prometheus.Gauge
	IdleEngines prometheus.Gauge
	Engines     prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Submitted: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "grid_tasks_submitted_total", Help: "Descriptors accepted by ExecuteTask"},
		),
		Dispatched: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "grid_tasks_dispatched_total", Help: "Descriptors handed to an engine"},
		),
		Completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "grid_tasks_completed_total", Help: "Handles that reached a terminal status"},
			[]string{"status"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "grid_queue_depth", Help: "Descriptors waiting for an engine"},
		),
		IdleEngines: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "grid_engines_idle", Help: "Registered engines reporting Idle"},
		),
		Engines: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "grid_engines_registered", Help: "Registered engines"},
		),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Submitted, m.Dispatched, m.Completed, m.QueueDepth, m.IdleEngines, m.Engines}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
