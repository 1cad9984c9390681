// Package events announces law outcomes on a Redis stream so other services
// (notifications, the grid renderer) can react without polling.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	TypeFinalized      = "law.finalized"
	TypeTiebreak       = "law.tiebreak"
	TypeTiebreakClosed = "law.tiebreak_closed"
)

type Outcome struct {
	Type     string
	LawID    string
	Status   string
	Up       int
	Down     int
	ClosedAt time.Time
}

type Publisher interface {
	Publish(ctx context.Context, outcome Outcome) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Outcome) error { return nil }

type StreamPublisher struct {
	rdb    *redis.Client
	stream string
}

func NewStreamPublisher(rdb *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, stream: stream}
}

func (p *StreamPublisher) Publish(ctx context.Context, outcome Outcome) error {
	_, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"type":     outcome.Type,
			"lawId":    outcome.LawID,
			"status":   outcome.Status,
			"up":       outcome.Up,
			"down":     outcome.Down,
			"closedAt": outcome.ClosedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish %s for %s: %w", outcome.Type, outcome.LawID, err)
	}
	return nil
}
