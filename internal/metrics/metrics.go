// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xkilldash9x/trialctl/internal/lifecycle"
	"github.com/xkilldash9x/trialctl/internal/provision"
)

const namespace = "trialctl"

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics tracks provisioning runs and lifecycle sweeps.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	StageDuration      *prometheus.HistogramVec
	StageFailures      *prometheus.CounterVec
	AccountsCreated    prometheus.Counter
	CreationsDenied    *prometheus.CounterVec
	SweepsTotal        *prometheus.CounterVec
	ExpiringAccounts   prometheus.Counter
	NotificationsSent  prometheus.Counter
	LastSweepTimestamp prometheus.Gauge
}

var (
	_ provision.Recorder      = (*Metrics)(nil)
	_ lifecycle.SweepObserver = (*Metrics)(nil)
)

// New registers every metric with reg. A nil reg falls back to the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provision_runs_total",
			Help:      "Total number of provisioning runs by result",
		}, []string{"result"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provision_run_duration_seconds",
			Help:      "Duration of complete provisioning runs",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180, 300},
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provision_stage_duration_seconds",
			Help:      "Duration of individual provisioning stages",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provision_stage_failures_total",
			Help:      "Total number of failed provisioning stages",
		}, []string{"stage"}),
		AccountsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_created_total",
			Help:      "Total number of accounts recorded by the lifecycle store",
		}),
		CreationsDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "creations_denied_total",
			Help:      "Total number of refused creation requests by reason",
		}, []string{"reason"}),
		SweepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Total number of expiry sweeps by result",
		}, []string{"result"}),
		ExpiringAccounts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_expiring_accounts_total",
			Help:      "Total number of accounts reported as expiring soon",
		}),
		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_notifications_sent_total",
			Help:      "Total number of expiry notifications delivered",
		}),
		LastSweepTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time of the last completed sweep",
		}),
	}
}

// ObserveStage records the duration of one orchestrator stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

// ObserveRun records the outcome of one provisioning attempt.
func (m *Metrics) ObserveRun(d time.Duration, err error) {
	m.RunDuration.Observe(d.Seconds())
	m.RunsTotal.WithLabelValues(result(err)).Inc()
}

// ObserveSweep records one sweep pass.
func (m *Metrics) ObserveSweep(expiring, notified int, err error) {
	m.SweepsTotal.WithLabelValues(result(err)).Inc()
	m.ExpiringAccounts.Add(float64(expiring))
	m.NotificationsSent.Add(float64(notified))
	m.LastSweepTimestamp.SetToCurrentTime()
}

// IncrementAccountsCreated records an account persisted after a successful run.
func (m *Metrics) IncrementAccountsCreated() {
	m.AccountsCreated.Inc()
}

// IncrementDenied records a refused creation request.
func (m *Metrics) IncrementDenied(reason string) {
	m.CreationsDenied.WithLabelValues(reason).Inc()
}

func result(err error) string {
	if err != nil {
		return resultFailure
	}
	return resultSuccess
}
