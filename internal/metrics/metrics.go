// Package metrics holds the Prometheus collectors for the law ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	votes          *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	lawsFinalized  *prometheus.CounterVec
	tiebreakClosed prometheus.Counter
	sweeps         prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		votes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "civic_votes_total",
				Help: "vote actions accepted, by action (cast, retract)",
			},
			[]string{"action"},
		),
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "civic_submissions_total",
				Help: "law submissions, by result (accepted, rejected)",
			},
			[]string{"result"},
		),
		lawsFinalized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "civic_laws_finalized_total",
				Help: "laws closed at the end of their voting window, by outcome",
			},
			[]string{"outcome"},
		),
		tiebreakClosed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "civic_tiebreaks_closed_total",
				Help: "tied laws resolved by a later vote",
			},
		),
		sweeps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "civic_sweeps_total",
				Help: "background finalization sweeps completed",
			},
		),
	}
}

func (m *Metrics) VoteRecorded(action string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(action).Inc()
}

func (m *Metrics) SubmissionRecorded(accepted bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) LawFinalized(outcome string) {
	if m == nil {
		return
	}
	m.lawsFinalized.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TiebreakClosed() {
	if m == nil {
		return
	}
	m.tiebreakClosed.Inc()
}

func (m *Metrics) SweepCompleted() {
	if m == nil {
		return
	}
	m.sweeps.Inc()
}
