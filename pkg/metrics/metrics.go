// Package metrics exposes per-group Prometheus counters/gauges, grounded
// on marmos91-dittofs's adapter-level Metrics structs: one struct holding
// pre-registered collectors, a constructor taking a prometheus.Registerer,
// and nil-receiver-safe Record*/Set* methods so metrics are optional
// without littering call sites with nil checks.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks the core's realtime-subsystem health: frame throughput,
// diagnostic outcomes, slot status distribution and scheduler overruns.
//
// All metrics use the aging_ prefix.
type Metrics struct {
	FramesTotal   *prometheus.CounterVec
	FramesDropped prometheus.Counter

	DiagAttemptsTotal *prometheus.CounterVec

	SlotStatus *prometheus.GaugeVec

	SchedulerJobDuration *prometheus.HistogramVec
	SchedulerJobOverruns *prometheus.CounterVec
}

// NewMetrics creates the core's metrics with the aging_ prefix and
// registers them against reg (typically prometheus.DefaultRegisterer).
// Panics if registration fails, expected only during initialization.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aging_frames_total",
				Help: "Total CAN frames received by stream",
			},
			[]string{"stream"},
		),
		FramesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aging_frames_dropped_total",
				Help: "Total inbound frames dropped by the receive dispatcher (unrecognized ID/offset)",
			},
		),
		DiagAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aging_diag_attempts_total",
				Help: "Total diagnostic attempts by flow and outcome",
			},
			[]string{"flow", "outcome"}, // flow: pending|periodic, outcome: ok|fail
		),
		SlotStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aging_slot_status",
				Help: "Current latched status code per slot",
			},
			[]string{"slot"},
		),
		SchedulerJobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aging_scheduler_job_duration_seconds",
				Help:    "Scheduled job execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		SchedulerJobOverruns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aging_scheduler_job_overruns_total",
				Help: "Total times a scheduled job started a full interval or more after it was due",
			},
			[]string{"job"},
		),
	}

	reg.MustRegister(
		m.FramesTotal,
		m.FramesDropped,
		m.DiagAttemptsTotal,
		m.SlotStatus,
		m.SchedulerJobDuration,
		m.SchedulerJobOverruns,
	)
	return m
}

// RecordFrame increments the per-stream inbound frame counter.
func (m *Metrics) RecordFrame(stream string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(stream).Inc()
}

// RecordDrop increments the dropped-frame counter.
func (m *Metrics) RecordDrop() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// RecordDiagAttempt records one diagnostic attempt's outcome.
func (m *Metrics) RecordDiagAttempt(flow, outcome string) {
	if m == nil {
		return
	}
	m.DiagAttemptsTotal.WithLabelValues(flow, outcome).Inc()
}

// SetSlotStatus updates the gauge for one slot's latched status code.
func (m *Metrics) SetSlotStatus(slot int, code int) {
	if m == nil {
		return
	}
	m.SlotStatus.WithLabelValues(strconv.Itoa(slot)).Set(float64(code))
}

// RecordJobDuration observes one scheduled job's execution duration.
func (m *Metrics) RecordJobDuration(job string, seconds float64) {
	if m == nil {
		return
	}
	m.SchedulerJobDuration.WithLabelValues(job).Observe(seconds)
}

// RecordJobOverrun increments the overrun counter for job.
func (m *Metrics) RecordJobOverrun(job string) {
	if m == nil {
		return
	}
	m.SchedulerJobOverruns.WithLabelValues(job).Inc()
}
