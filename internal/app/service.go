package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"civic/api/internal/auth"
	"civic/api/internal/config"
	"civic/api/internal/events"
	"civic/api/internal/lifecycle"
	"civic/api/internal/metrics"
	"civic/api/internal/rbac"
	"civic/api/internal/store"
	"civic/api/internal/util"
)

const (
	minTitleLength     = 5
	minTextLength      = 50
	maxTextLength      = 2000
	descriptionMaxRune = 200
)

// Viewer is the caller identity taken from a bearer token. The zero value is
// an anonymous reader.
type Viewer struct {
	UserID string
	Role   rbac.Role
}

func (v Viewer) Authenticated() bool {
	return v.UserID != ""
}

type SubmitInput struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type UserStatus struct {
	Authenticated bool    `json:"authenticated"`
	HasHouse      bool    `json:"hasHouse"`
	UserID        *string `json:"userId"`
}

type SeedResult struct {
	Created bool `json:"created"`
	Count   int  `json:"count"`
}

type dataStore interface {
	Ping(context.Context) error
	ListLaws(context.Context) ([]store.Law, error)
	GetLaw(context.Context, string) (store.Law, error)
	CountLaws(context.Context) (int, error)
	CreateLaw(context.Context, store.Law, *store.Suggestion) error
	ListVotes(context.Context) ([]store.Vote, error)
	ListVotesForLaw(context.Context, string) ([]store.Vote, error)
	WithLaw(context.Context, string, func(store.LawTx) error) error
}

// houseDirectory answers whether a user holds a house on the grid.
type houseDirectory interface {
	HasHouse(context.Context, string) (bool, error)
}

type Option func(*Service)

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) { s.events = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	cfg     config.Config
	store   dataStore
	houses  houseDirectory
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg config.Config, dataStore dataStore, houses houseDirectory, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  dataStore,
		houses: houses,
		events: events.Nop{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ViewerFromToken(token string) (Viewer, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Viewer{}, err
	}
	return Viewer{UserID: claims.UserID(), Role: rbac.Normalize(claims.Role)}, nil
}

func (s *Service) Can(viewer Viewer, action rbac.Action) bool {
	if !viewer.Authenticated() {
		return action == rbac.ActionRead
	}
	return rbac.Can(viewer.Role, action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Submit turns a citizen suggestion into an active law. Nothing is written
// unless every check passes.
func (s *Service) Submit(ctx context.Context, authorID string, input SubmitInput) (lifecycle.Projection, error) {
	if err := s.requireHouse(ctx, authorID, "A house is required to submit a law"); err != nil {
		s.metrics.SubmissionRecorded(false)
		return lifecycle.Projection{}, err
	}

	title := strings.TrimSpace(input.Title)
	text := strings.TrimSpace(input.Text)
	if err := validateSubmission(title, text); err != nil {
		s.metrics.SubmissionRecorded(false)
		return lifecycle.Projection{}, err
	}

	now := s.now().UTC()
	author := authorID
	law := store.Law{
		ID:          util.NewID(),
		AuthorID:    &author,
		Title:       title,
		Description: summarize(text, descriptionMaxRune),
		FullText:    text,
		Status:      store.StatusActive,
		PublishedAt: now,
	}
	suggestion := &store.Suggestion{
		ID:          util.NewID(),
		AuthorID:    authorID,
		LawID:       law.ID,
		Title:       title,
		Text:        text,
		SubmittedAt: now,
	}
	if err := s.store.CreateLaw(ctx, law, suggestion); err != nil {
		return lifecycle.Projection{}, fmt.Errorf("create law: %w", err)
	}
	s.metrics.SubmissionRecorded(true)
	s.logger.InfoContext(ctx, "law submitted", "law_id", law.ID, "author_id", authorID)
	return lifecycle.Project(law, nil, authorID, now), nil
}

func validateSubmission(title, text string) error {
	if n := utf8.RuneCountInString(title); n < minTitleLength {
		return validationError(
			fmt.Sprintf("Title must be at least %d characters", minTitleLength),
			map[string]any{"field": "title", "min": minTitleLength, "length": n},
		)
	}
	n := utf8.RuneCountInString(text)
	if n < minTextLength {
		return validationError(
			fmt.Sprintf("Text must be at least %d characters", minTextLength),
			map[string]any{"field": "text", "min": minTextLength, "length": n},
		)
	}
	if n > maxTextLength {
		return validationError(
			fmt.Sprintf("Text must be at most %d characters", maxTextLength),
			map[string]any{"field": "text", "max": maxTextLength, "length": n},
		)
	}
	return nil
}

// summarize cuts text to at most limit runes, backing up to the last word
// boundary and appending an ellipsis when anything was dropped.
func summarize(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := runes[:limit]
	if !unicode.IsSpace(runes[limit]) {
		for i := len(cut) - 1; i > 0; i-- {
			if unicode.IsSpace(cut[i]) {
				cut = cut[:i]
				break
			}
		}
	}
	return strings.TrimRightFunc(string(cut), unicode.IsSpace) + "…"
}

// Vote casts, overwrites or (with a nil direction) retracts the voter's vote
// and returns the law as the voter now sees it.
func (s *Service) Vote(ctx context.Context, lawID, voterID string, direction *store.Direction) (lifecycle.Projection, error) {
	if direction != nil && *direction != store.DirectionUp && *direction != store.DirectionDown {
		return lifecycle.Projection{}, invalidArgument(`vote must be "up", "down" or null`)
	}
	if err := s.requireHouse(ctx, voterID, "A house is required to vote"); err != nil {
		return lifecycle.Projection{}, err
	}

	now := s.now().UTC()
	var (
		law      store.Law
		outcomes []events.Outcome
		action   string
		closed   bool
	)
	err := s.store.WithLaw(ctx, lawID, func(tx store.LawTx) error {
		outcomes = outcomes[:0]
		current := tx.Law()
		if lifecycle.Evaluate(current, now).NeedsFinalization {
			finalized, outcome, err := closeElapsed(ctx, tx, now)
			if err != nil {
				return err
			}
			current = finalized
			outcomes = append(outcomes, outcome)
		}
		if !lifecycle.IsVotable(current, now) {
			// Commit any finalization done above; the vote itself is refused.
			closed = true
			return nil
		}

		if direction == nil {
			if _, err := tx.RetractVote(ctx, voterID); err != nil {
				return err
			}
			action = "retract"
		} else {
			if _, err := tx.CastVote(ctx, voterID, *direction, now); err != nil {
				return err
			}
			action = "cast"
		}

		if current.IsInTiebreak {
			tally, err := tx.Tally(ctx)
			if err != nil {
				return err
			}
			if closure, ok := lifecycle.BreakTie(tally, now); ok {
				broken, err := tx.Close(ctx, closure)
				if err != nil {
					return err
				}
				current = broken
				outcomes = append(outcomes, outcomeFor(events.TypeTiebreakClosed, broken, tally))
			}
		}
		law = current
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return lifecycle.Projection{}, lawNotFound(lawID)
	}
	if errors.Is(err, store.ErrInvalidDirection) {
		return lifecycle.Projection{}, invalidArgument(`vote must be "up", "down" or null`)
	}
	if err != nil {
		return lifecycle.Projection{}, fmt.Errorf("vote on %s: %w", lawID, err)
	}

	s.announce(ctx, outcomes)
	if closed {
		return lifecycle.Projection{}, votingClosed(lawID)
	}
	s.metrics.VoteRecorded(action)

	votes, err := s.store.ListVotesForLaw(ctx, lawID)
	if err != nil {
		return lifecycle.Projection{}, fmt.Errorf("list votes: %w", err)
	}
	return lifecycle.Project(law, votes, voterID, now), nil
}

// List finalizes every law whose window elapsed and returns the laws in
// display order, scoped to viewerID when it is set.
func (s *Service) List(ctx context.Context, viewerID string) ([]lifecycle.Projection, error) {
	now := s.now().UTC()
	laws, err := s.store.ListLaws(ctx)
	if err != nil {
		return nil, fmt.Errorf("list laws: %w", err)
	}
	for i, law := range laws {
		if !lifecycle.Evaluate(law, now).NeedsFinalization {
			continue
		}
		finalized, _, err := s.finalize(ctx, law.ID, now)
		if err != nil {
			return nil, err
		}
		laws[i] = finalized
	}

	votes, err := s.store.ListVotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	return lifecycle.ProjectAll(laws, votes, viewerID, now), nil
}

func (s *Service) Get(ctx context.Context, lawID, viewerID string) (lifecycle.Projection, error) {
	now := s.now().UTC()
	law, err := s.store.GetLaw(ctx, lawID)
	if errors.Is(err, store.ErrNotFound) {
		return lifecycle.Projection{}, lawNotFound(lawID)
	}
	if err != nil {
		return lifecycle.Projection{}, fmt.Errorf("get law: %w", err)
	}
	if lifecycle.Evaluate(law, now).NeedsFinalization {
		if law, _, err = s.finalize(ctx, lawID, now); err != nil {
			return lifecycle.Projection{}, err
		}
	}
	votes, err := s.store.ListVotesForLaw(ctx, lawID)
	if err != nil {
		return lifecycle.Projection{}, fmt.Errorf("list votes: %w", err)
	}
	return lifecycle.Project(law, votes, viewerID, now), nil
}

// Sweep finalizes every law whose window elapsed and reports how many it
// closed itself.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	laws, err := s.store.ListLaws(ctx)
	if err != nil {
		return 0, fmt.Errorf("list laws: %w", err)
	}
	closed := 0
	for _, law := range laws {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		if !lifecycle.Evaluate(law, now).NeedsFinalization {
			continue
		}
		_, applied, err := s.finalize(ctx, law.ID, now)
		if err != nil {
			return closed, err
		}
		if applied {
			closed++
		}
	}
	s.metrics.SweepCompleted()
	return closed, nil
}

func (s *Service) UserStatus(ctx context.Context, viewer Viewer) (UserStatus, error) {
	if !viewer.Authenticated() {
		return UserStatus{}, nil
	}
	hasHouse, err := s.houses.HasHouse(ctx, viewer.UserID)
	if err != nil {
		return UserStatus{}, fmt.Errorf("lookup house: %w", err)
	}
	userID := viewer.UserID
	return UserStatus{Authenticated: true, HasHouse: hasHouse, UserID: &userID}, nil
}

// SeedLaws inserts seeds when the ledger holds no laws yet. Seeds carrying a
// terminal status are recorded as closed at seeding time.
func (s *Service) SeedLaws(ctx context.Context, seeds []LawSeed) (SeedResult, error) {
	count, err := s.store.CountLaws(ctx)
	if err != nil {
		return SeedResult{}, fmt.Errorf("count laws: %w", err)
	}
	if count > 0 {
		return SeedResult{Created: false, Count: count}, nil
	}

	now := s.now().UTC()
	for _, seed := range seeds {
		text := strings.TrimSpace(seed.FullText)
		description := strings.TrimSpace(seed.Description)
		if description == "" {
			description = summarize(text, descriptionMaxRune)
		}
		status := seed.Status
		if status == "" {
			status = store.StatusActive
		}
		law := store.Law{
			ID:          util.NewID(),
			Title:       strings.TrimSpace(seed.Title),
			Description: description,
			FullText:    text,
			Status:      status,
			PublishedAt: now,
		}
		if status.Terminal() {
			closedAt := now
			law.VotingClosedAt = &closedAt
		}
		if err := s.store.CreateLaw(ctx, law, nil); err != nil {
			return SeedResult{}, fmt.Errorf("seed law %q: %w", law.Title, err)
		}
	}
	s.logger.InfoContext(ctx, "seeded laws", "count", len(seeds))
	return SeedResult{Created: true, Count: len(seeds)}, nil
}

// Bootstrap seeds the ledger on startup when it is empty.
func (s *Service) Bootstrap(ctx context.Context, seeds []LawSeed) error {
	_, err := s.SeedLaws(ctx, seeds)
	return err
}

// finalize closes an elapsed law under its lock and reports whether this call
// wrote the closure. A law already closed by a concurrent caller is returned
// as stored.
func (s *Service) finalize(ctx context.Context, lawID string, now time.Time) (store.Law, bool, error) {
	var (
		law      store.Law
		outcomes []events.Outcome
	)
	err := s.store.WithLaw(ctx, lawID, func(tx store.LawTx) error {
		outcomes = outcomes[:0]
		law = tx.Law()
		if !lifecycle.Evaluate(law, now).NeedsFinalization {
			return nil
		}
		closed, outcome, err := closeElapsed(ctx, tx, now)
		if err != nil {
			return err
		}
		law = closed
		outcomes = append(outcomes, outcome)
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		law, err = s.store.GetLaw(ctx, lawID)
		if err != nil {
			return store.Law{}, false, fmt.Errorf("reread law %s: %w", lawID, err)
		}
		return law, false, nil
	}
	if err != nil {
		return store.Law{}, false, fmt.Errorf("finalize law %s: %w", lawID, err)
	}
	s.announce(ctx, outcomes)
	return law, len(outcomes) > 0, nil
}

func closeElapsed(ctx context.Context, tx store.LawTx, now time.Time) (store.Law, events.Outcome, error) {
	tally, err := tx.Tally(ctx)
	if err != nil {
		return store.Law{}, events.Outcome{}, err
	}
	closure := lifecycle.Finalize(tally, now)
	closed, err := tx.Close(ctx, closure)
	if err != nil {
		return store.Law{}, events.Outcome{}, err
	}
	kind := events.TypeFinalized
	if closure.Tiebreak {
		kind = events.TypeTiebreak
	}
	return closed, outcomeFor(kind, closed, tally), nil
}

func outcomeFor(kind string, law store.Law, tally store.Tally) events.Outcome {
	closedAt := time.Time{}
	if law.VotingClosedAt != nil {
		closedAt = *law.VotingClosedAt
	}
	return events.Outcome{
		Type:     kind,
		LawID:    law.ID,
		Status:   string(law.Status),
		Up:       tally.Up,
		Down:     tally.Down,
		ClosedAt: closedAt,
	}
}

// announce records committed outcomes. Publishing failures are logged and
// never undo the closure.
func (s *Service) announce(ctx context.Context, outcomes []events.Outcome) {
	for _, outcome := range outcomes {
		switch outcome.Type {
		case events.TypeFinalized:
			s.metrics.LawFinalized(outcome.Status)
		case events.TypeTiebreak:
			s.metrics.LawFinalized("tiebreak")
		case events.TypeTiebreakClosed:
			s.metrics.TiebreakClosed()
		}
		s.logger.InfoContext(ctx, "law closed",
			"law_id", outcome.LawID,
			"status", outcome.Status,
			"event", outcome.Type,
			"up", outcome.Up,
			"down", outcome.Down,
		)
		if err := s.events.Publish(ctx, outcome); err != nil {
			s.logger.WarnContext(ctx, "publish law outcome failed", "law_id", outcome.LawID, "error", err)
		}
	}
}

func (s *Service) requireHouse(ctx context.Context, userID, message string) error {
	hasHouse, err := s.houses.HasHouse(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup house: %w", err)
	}
	if !hasHouse {
		return ineligible(message)
	}
	return nil
}
