package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"civic/api/internal/util"
)

type voteKey struct {
	lawID   string
	voterID string
}

// MemoryStore keeps laws, votes, suggestions and houses in process memory.
// A single mutex serializes every law transaction.
type MemoryStore struct {
	mu          sync.Mutex
	laws        map[string]Law
	votes       map[voteKey]Vote
	suggestions []Suggestion
	houses      map[string]House
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		laws:   make(map[string]Law),
		votes:  make(map[voteKey]Vote),
		houses: make(map[string]House),
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) PlaceHouse(house House) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if house.PlacedAt.IsZero() {
		house.PlacedAt = time.Now()
	}
	s.houses[house.UserID] = house
}

func (s *MemoryStore) RemoveHouse(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.houses, userID)
}

func (s *MemoryStore) HasHouse(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.houses[userID]
	return ok, nil
}

func (s *MemoryStore) ListLaws(context.Context) ([]Law, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Law, 0, len(s.laws))
	for _, law := range s.laws {
		items = append(items, law)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].PublishedAt.Equal(items[j].PublishedAt) {
			return items[i].PublishedAt.After(items[j].PublishedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) GetLaw(_ context.Context, lawID string) (Law, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	law, ok := s.laws[lawID]
	if !ok {
		return Law{}, ErrNotFound
	}
	return law, nil
}

func (s *MemoryStore) CountLaws(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.laws), nil
}

func (s *MemoryStore) CreateLaw(_ context.Context, law Law, suggestion *Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.laws[law.ID]; exists {
		return ErrConflict
	}
	s.laws[law.ID] = law
	if suggestion != nil {
		s.suggestions = append(s.suggestions, *suggestion)
	}
	return nil
}

func (s *MemoryStore) ListSuggestions(_ context.Context, authorID string) ([]Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Suggestion, 0)
	for i := len(s.suggestions) - 1; i >= 0; i-- {
		if s.suggestions[i].AuthorID == authorID {
			items = append(items, s.suggestions[i])
		}
	}
	return items, nil
}

func (s *MemoryStore) ListVotes(context.Context) ([]Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedVotes(""), nil
}

func (s *MemoryStore) ListVotesForLaw(_ context.Context, lawID string) ([]Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedVotes(lawID), nil
}

func (s *MemoryStore) CountVotes(_ context.Context, lawID string) (Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tally(lawID), nil
}

func (s *MemoryStore) CastVote(ctx context.Context, lawID, voterID string, direction Direction, at time.Time) (Vote, error) {
	return castVote(ctx, s, lawID, voterID, direction, at)
}

func (s *MemoryStore) RetractVote(ctx context.Context, lawID, voterID string) error {
	return retractVote(ctx, s, lawID, voterID)
}

// WithLaw holds the store lock for the duration of fn. Changes made through
// the LawTx are rolled back when fn returns an error.
func (s *MemoryStore) WithLaw(ctx context.Context, lawID string, fn func(LawTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	law, ok := s.laws[lawID]
	if !ok {
		return ErrNotFound
	}
	savedVotes := make(map[voteKey]Vote)
	for key, vote := range s.votes {
		if key.lawID == lawID {
			savedVotes[key] = vote
		}
	}

	if err := fn(&memLawTx{store: s, law: law}); err != nil {
		s.laws[lawID] = law
		for key := range s.votes {
			if key.lawID == lawID {
				delete(s.votes, key)
			}
		}
		for key, vote := range savedVotes {
			s.votes[key] = vote
		}
		return err
	}
	return nil
}

func (s *MemoryStore) sortedVotes(lawID string) []Vote {
	items := make([]Vote, 0, len(s.votes))
	for key, vote := range s.votes {
		if lawID != "" && key.lawID != lawID {
			continue
		}
		items = append(items, vote)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].VotedAt.Equal(items[j].VotedAt) {
			return items[i].VotedAt.Before(items[j].VotedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items
}

func (s *MemoryStore) tally(lawID string) Tally {
	var tally Tally
	for key, vote := range s.votes {
		if key.lawID != lawID {
			continue
		}
		switch vote.Direction {
		case DirectionUp:
			tally.Up++
		case DirectionDown:
			tally.Down++
		}
	}
	return tally
}

type memLawTx struct {
	store *MemoryStore
	law   Law
}

func (t *memLawTx) Law() Law {
	return t.law
}

func (t *memLawTx) Tally(context.Context) (Tally, error) {
	return t.store.tally(t.law.ID), nil
}

func (t *memLawTx) Vote(_ context.Context, voterID string) (*Vote, error) {
	vote, ok := t.store.votes[voteKey{lawID: t.law.ID, voterID: voterID}]
	if !ok {
		return nil, nil
	}
	return &vote, nil
}

func (t *memLawTx) CastVote(_ context.Context, voterID string, direction Direction, at time.Time) (Vote, error) {
	if direction != DirectionUp && direction != DirectionDown {
		return Vote{}, ErrInvalidDirection
	}
	key := voteKey{lawID: t.law.ID, voterID: voterID}
	vote, ok := t.store.votes[key]
	if !ok {
		vote = Vote{ID: util.NewID(), LawID: t.law.ID, VoterID: voterID}
	}
	vote.Direction = direction
	vote.VotedAt = at
	t.store.votes[key] = vote
	return vote, nil
}

func (t *memLawTx) RetractVote(_ context.Context, voterID string) (bool, error) {
	key := voteKey{lawID: t.law.ID, voterID: voterID}
	if _, ok := t.store.votes[key]; !ok {
		return false, nil
	}
	delete(t.store.votes, key)
	return true, nil
}

func (t *memLawTx) Close(_ context.Context, closure Closure) (Law, error) {
	current := t.store.laws[t.law.ID]
	if current.Version != t.law.Version || current.Status.Terminal() {
		return Law{}, ErrConflict
	}
	closedAt := closure.ClosedAt
	current.Status = closure.Status
	current.IsInTiebreak = closure.Tiebreak
	current.VotingClosedAt = &closedAt
	current.Version++
	t.store.laws[t.law.ID] = current
	t.law = current
	return current, nil
}
