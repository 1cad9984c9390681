package store

import (
	"context"
	"time"
)

// LawTx is a law held under its lock together with its vote ledger.
type LawTx interface {
	Law() Law
	Tally(ctx context.Context) (Tally, error)
	Vote(ctx context.Context, voterID string) (*Vote, error)
	// CastVote creates the voter's vote or overwrites its direction and time.
	CastVote(ctx context.Context, voterID string, direction Direction, at time.Time) (Vote, error)
	// RetractVote deletes the voter's vote and reports whether one existed.
	RetractVote(ctx context.Context, voterID string) (bool, error)
	Close(ctx context.Context, closure Closure) (Law, error)
}

type lawLocker interface {
	WithLaw(ctx context.Context, lawID string, fn func(LawTx) error) error
}

func castVote(ctx context.Context, locker lawLocker, lawID, voterID string, direction Direction, at time.Time) (Vote, error) {
	if direction != DirectionUp && direction != DirectionDown {
		return Vote{}, ErrInvalidDirection
	}
	var vote Vote
	err := locker.WithLaw(ctx, lawID, func(tx LawTx) error {
		cast, err := tx.CastVote(ctx, voterID, direction, at)
		if err != nil {
			return err
		}
		vote = cast
		return nil
	})
	return vote, err
}

func retractVote(ctx context.Context, locker lawLocker, lawID, voterID string) error {
	return locker.WithLaw(ctx, lawID, func(tx LawTx) error {
		_, err := tx.RetractVote(ctx, voterID)
		return err
	})
}
