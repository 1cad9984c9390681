package store

import (
	"errors"
	"strings"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusPending  Status = "pending"
	StatusPassed   Status = "passed"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further lifecycle transition may touch the law.
func (s Status) Terminal() bool {
	return s == StatusPassed || s == StatusRejected
}

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusPassed, StatusRejected:
		return true
	default:
		return false
	}
}

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("concurrent update")
	ErrInvalidDirection = errors.New("direction must be 'up' or 'down'")
)

// ParseDirection accepts "up" or "down" in any case.
func ParseDirection(value string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(value))) {
	case DirectionUp:
		return DirectionUp, nil
	case DirectionDown:
		return DirectionDown, nil
	default:
		return "", ErrInvalidDirection
	}
}

type Law struct {
	ID             string
	AuthorID       *string
	Title          string
	Description    string
	FullText       string
	Status         Status
	PublishedAt    time.Time
	VotingClosedAt *time.Time
	IsInTiebreak   bool
	Version        int64
}

type Vote struct {
	ID        string
	LawID     string
	VoterID   string
	Direction Direction
	VotedAt   time.Time
}

// Suggestion is the submission record kept next to the law it produced.
type Suggestion struct {
	ID          string
	AuthorID    string
	LawID       string
	Title       string
	Text        string
	SubmittedAt time.Time
}

type House struct {
	UserID   string
	X        int
	Y        int
	PlacedAt time.Time
}

type Tally struct {
	Up   int
	Down int
}

func (t Tally) Tied() bool {
	return t.Up == t.Down
}

// Closure is the lifecycle write applied when voting on a law ends,
// either at window end or when a tie-break is broken.
type Closure struct {
	Status   Status
	Tiebreak bool
	ClosedAt time.Time
}
