package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic/api/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newLaw(mutate ...func(*store.Law)) store.Law {
	law := store.Law{
		ID:          "law-1",
		Title:       "Community gardens",
		Status:      store.StatusActive,
		PublishedAt: t0,
	}
	for _, fn := range mutate {
		fn(&law)
	}
	return law
}

func closedAt(at time.Time) func(*store.Law) {
	return func(law *store.Law) { law.VotingClosedAt = &at }
}

func TestEvaluatePhases(t *testing.T) {
	cases := []struct {
		name     string
		law      store.Law
		now      time.Time
		phase    Phase
		votable  bool
		finalize bool
	}{
		{name: "just published", law: newLaw(), now: t0, phase: PhasePending},
		{name: "one hour before opening", law: newLaw(), now: t0.Add(23 * time.Hour), phase: PhasePending},
		{name: "opening instant", law: newLaw(), now: t0.Add(VotingDelay), phase: PhaseOpen, votable: true},
		{name: "mid window", law: newLaw(), now: t0.Add(25 * time.Hour), phase: PhaseOpen, votable: true},
		{name: "last nanosecond", law: newLaw(), now: t0.Add(VotingDelay + VotingDuration - time.Nanosecond), phase: PhaseOpen, votable: true},
		{name: "window end", law: newLaw(), now: t0.Add(VotingDelay + VotingDuration), phase: PhaseClosed, finalize: true},
		{name: "long elapsed", law: newLaw(), now: t0.Add(90 * 24 * time.Hour), phase: PhaseClosed, finalize: true},
		{
			name:    "tie-break long after window",
			law:     newLaw(func(l *store.Law) { l.Status = store.StatusPending; l.IsInTiebreak = true }, closedAt(t0.Add(192*time.Hour))),
			now:     t0.Add(365 * 24 * time.Hour),
			phase:   PhaseTiebreak,
			votable: true,
		},
		{name: "passed", law: newLaw(func(l *store.Law) { l.Status = store.StatusPassed }), now: t0.Add(30 * time.Hour), phase: PhaseClosed},
		{name: "rejected before window", law: newLaw(func(l *store.Law) { l.Status = store.StatusRejected }), now: t0, phase: PhaseClosed},
		{name: "closed without outcome", law: newLaw(closedAt(t0.Add(200 * time.Hour))), now: t0.Add(25 * time.Hour), phase: PhaseClosed},
		{name: "seeded pending status follows the clock", law: newLaw(func(l *store.Law) { l.Status = store.StatusPending }), now: t0.Add(48 * time.Hour), phase: PhaseOpen, votable: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eval := Evaluate(tc.law, tc.now)
			assert.Equal(t, tc.phase, eval.Phase)
			assert.Equal(t, tc.votable, eval.Votable)
			assert.Equal(t, tc.finalize, eval.NeedsFinalization)
			assert.Equal(t, tc.votable, IsVotable(tc.law, tc.now))
		})
	}
}

func TestVotingWindowStartsAfterDelay(t *testing.T) {
	start, end := VotingWindow(newLaw())
	assert.Equal(t, t0.Add(24*time.Hour), start)
	assert.Equal(t, t0.Add(24*time.Hour+168*time.Hour), end)
}

func TestNeverVotableOutsideWindowUnlessTiebreak(t *testing.T) {
	law := newLaw()
	for offset := time.Duration(0); offset < 400*time.Hour; offset += 30 * time.Minute {
		now := t0.Add(offset)
		inWindow := offset >= VotingDelay && offset < VotingDelay+VotingDuration
		require.Equal(t, inWindow, IsVotable(law, now), "offset %s", offset)
	}
}

func TestFinalizeOutcomes(t *testing.T) {
	now := t0.Add(200 * time.Hour)

	passed := Finalize(store.Tally{Up: 3, Down: 1}, now)
	assert.Equal(t, store.Closure{Status: store.StatusPassed, ClosedAt: now}, passed)

	rejected := Finalize(store.Tally{Up: 0, Down: 2}, now)
	assert.Equal(t, store.Closure{Status: store.StatusRejected, ClosedAt: now}, rejected)

	tied := Finalize(store.Tally{Up: 1, Down: 1}, now)
	assert.Equal(t, store.StatusPending, tied.Status)
	assert.True(t, tied.Tiebreak)
	assert.False(t, tied.Status.Terminal())

	empty := Finalize(store.Tally{}, now)
	assert.True(t, empty.Tiebreak, "no votes at all is a tie")
}

func TestBreakTie(t *testing.T) {
	now := t0.Add(300 * time.Hour)

	_, ok := BreakTie(store.Tally{Up: 2, Down: 2}, now)
	assert.False(t, ok)

	closure, ok := BreakTie(store.Tally{Up: 2, Down: 1}, now)
	require.True(t, ok)
	assert.Equal(t, store.StatusPassed, closure.Status)
	assert.False(t, closure.Tiebreak)
	assert.Equal(t, now, closure.ClosedAt)

	closure, ok = BreakTie(store.Tally{Up: 1, Down: 2}, now)
	require.True(t, ok)
	assert.Equal(t, store.StatusRejected, closure.Status)
}
