package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.VoteRecorded("cast")
	m.VoteRecorded("cast")
	m.VoteRecorded("retract")
	m.SubmissionRecorded(true)
	m.SubmissionRecorded(false)
	m.LawFinalized("passed")
	m.TiebreakClosed()
	m.SweepCompleted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.votes.WithLabelValues("cast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.votes.WithLabelValues("retract")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lawsFinalized.WithLabelValues("passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tiebreakClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweeps))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.VoteRecorded("cast")
		m.SubmissionRecorded(true)
		m.LawFinalized("rejected")
		m.TiebreakClosed()
		m.SweepCompleted()
	})
}
