package reminders

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the reminder engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// AlertsTotal is the total number of alerts emitted.
	AlertsTotal prometheus.Counter

	// AutoSnoozesTotal counts heartbeat snoozes.
	AutoSnoozesTotal prometheus.Counter

	// ActionsTotal counts user actions by action and result.
	ActionsTotal *prometheus.CounterVec

	// PendingRows is the number of rows inside the alert window.
	PendingRows prometheus.Gauge

	// PersistenceFailures counts reminder writes that did not reach storage.
	PersistenceFailures prometheus.Counter

	// UnsavedWrites is the number of writes waiting for a retry.
	UnsavedWrites prometheus.Gauge
}

// NewMetrics creates metrics and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AlertsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminder_alerts_total",
				Help:      "Total number of reminder alerts emitted",
			},
		),

		AutoSnoozesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminder_auto_snoozes_total",
				Help:      "Total number of heartbeat snoozes applied after an alert",
			},
		),

		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminder_actions_total",
				Help:      "Total number of reminder actions",
			},
			[]string{"action", "result"},
		),

		PendingRows: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reminder_pending_rows",
				Help:      "Rows currently inside the reminder window",
			},
		),

		PersistenceFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminder_persistence_failures_total",
				Help:      "Total number of reminder writes that failed to persist",
			},
		),

		UnsavedWrites: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reminder_unsaved_writes",
				Help:      "Reminder writes waiting to be retried",
			},
		),
	}
}

// IncAlerts adds n emitted alerts.
func (m *Metrics) IncAlerts(n int) {
	if m == nil || n == 0 {
		return
	}
	m.AlertsTotal.Add(float64(n))
}

func (m *Metrics) IncAutoSnoozes(n int) {
	if m == nil || n == 0 {
		return
	}
	m.AutoSnoozesTotal.Add(float64(n))
}

// IncAction records one user action.
func (m *Metrics) IncAction(action, result string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, result).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRows.Set(float64(n))
}

func (m *Metrics) IncPersistenceFailures() {
	if m == nil {
		return
	}
	m.PersistenceFailures.Inc()
}

func (m *Metrics) SetUnsaved(n int) {
	if m == nil {
		return
	}
	m.UnsavedWrites.Set(float64(n))
}
