// Package lifecycle derives a law's voting phase from wall-clock time and
// decides the closure to write when its voting ends. Nothing here touches
// storage; callers apply the returned closures under the law's lock.
package lifecycle

import (
	"time"

	"civic/api/internal/store"
)

const (
	// VotingDelay is the grace period between publication and the opening of the vote.
	VotingDelay = 24 * time.Hour
	// VotingDuration is measured from the end of VotingDelay.
	VotingDuration = 168 * time.Hour
)

type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseOpen     Phase = "open"
	PhaseTiebreak Phase = "tiebreak"
	PhaseClosed   Phase = "closed"
)

type Evaluation struct {
	Phase   Phase
	Votable bool
	// NeedsFinalization is set when the window elapsed but the law was never
	// closed. Phase is reported as closed until the closure is written.
	NeedsFinalization bool
	VotingStartsAt    time.Time
	VotingEndsAt      time.Time
}

func VotingWindow(law store.Law) (start, end time.Time) {
	start = law.PublishedAt.Add(VotingDelay)
	return start, start.Add(VotingDuration)
}

func Evaluate(law store.Law, now time.Time) Evaluation {
	start, end := VotingWindow(law)
	eval := Evaluation{VotingStartsAt: start, VotingEndsAt: end}

	switch {
	case law.Status.Terminal():
		eval.Phase = PhaseClosed
	case law.IsInTiebreak:
		eval.Phase = PhaseTiebreak
		eval.Votable = true
	case law.VotingClosedAt != nil:
		eval.Phase = PhaseClosed
	case now.Before(start):
		eval.Phase = PhasePending
	case now.Before(end):
		eval.Phase = PhaseOpen
		eval.Votable = true
	default:
		eval.Phase = PhaseClosed
		eval.NeedsFinalization = true
	}
	return eval
}

func IsVotable(law store.Law, now time.Time) bool {
	return Evaluate(law, now).Votable
}

// Finalize decides the closure for a law whose window has elapsed.
// A tie keeps the law non-terminal and opens the tie-break.
func Finalize(tally store.Tally, now time.Time) store.Closure {
	switch {
	case tally.Up > tally.Down:
		return store.Closure{Status: store.StatusPassed, ClosedAt: now}
	case tally.Down > tally.Up:
		return store.Closure{Status: store.StatusRejected, ClosedAt: now}
	default:
		return store.Closure{Status: store.StatusPending, Tiebreak: true, ClosedAt: now}
	}
}

// BreakTie returns the closure for a tie-break law once the tally is no
// longer level. ok is false while the tie holds.
func BreakTie(tally store.Tally, now time.Time) (closure store.Closure, ok bool) {
	if tally.Tied() {
		return store.Closure{}, false
	}
	return Finalize(tally, now), true
}
