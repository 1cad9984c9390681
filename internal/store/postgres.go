package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"civic/api/internal/util"
)

const lawColumns = `id, author_id, title, description, full_text, status, published_at, voting_closed_at, is_in_tiebreak, version`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) ListLaws(ctx context.Context) ([]Law, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+lawColumns+` FROM laws ORDER BY published_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list laws: %w", err)
	}
	defer rows.Close()

	items := make([]Law, 0)
	for rows.Next() {
		item, err := scanLaw(rows)
		if err != nil {
			return nil, fmt.Errorf("scan law: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate laws: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetLaw(ctx context.Context, lawID string) (Law, error) {
	item, err := scanLaw(s.db.QueryRowContext(ctx, `SELECT `+lawColumns+` FROM laws WHERE id=$1`, lawID))
	if errors.Is(err, sql.ErrNoRows) {
		return Law{}, ErrNotFound
	}
	if err != nil {
		return Law{}, fmt.Errorf("get law: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) CountLaws(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM laws`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count laws: %w", err)
	}
	return count, nil
}

// CreateLaw inserts the law and, when given, the suggestion that produced it
// in one transaction.
func (s *PostgresStore) CreateLaw(ctx context.Context, law Law, suggestion *Suggestion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create law: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO laws (id, author_id, title, description, full_text, status, published_at, voting_closed_at, is_in_tiebreak)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, law.ID, law.AuthorID, law.Title, law.Description, law.FullText, string(law.Status), law.PublishedAt, law.VotingClosedAt, law.IsInTiebreak); err != nil {
		return fmt.Errorf("insert law: %w", err)
	}

	if suggestion != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO suggestions (id, author_id, law_id, title, body, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, suggestion.ID, suggestion.AuthorID, suggestion.LawID, suggestion.Title, suggestion.Text, suggestion.SubmittedAt); err != nil {
			return fmt.Errorf("insert suggestion: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create law: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSuggestions(ctx context.Context, authorID string) ([]Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author_id, law_id, title, body, submitted_at
		FROM suggestions
		WHERE author_id=$1
		ORDER BY submitted_at DESC
	`, authorID)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	items := make([]Suggestion, 0)
	for rows.Next() {
		var item Suggestion
		if err := rows.Scan(&item.ID, &item.AuthorID, &item.LawID, &item.Title, &item.Text, &item.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListVotes(ctx context.Context) ([]Vote, error) {
	return listVotes(ctx, s.db, `SELECT id, law_id, voter_id, direction, voted_at FROM votes ORDER BY voted_at ASC`)
}

func (s *PostgresStore) ListVotesForLaw(ctx context.Context, lawID string) ([]Vote, error) {
	return listVotes(ctx, s.db, `SELECT id, law_id, voter_id, direction, voted_at FROM votes WHERE law_id=$1 ORDER BY voted_at ASC`, lawID)
}

func (s *PostgresStore) CountVotes(ctx context.Context, lawID string) (Tally, error) {
	return countVotes(ctx, s.db, lawID)
}

func (s *PostgresStore) CastVote(ctx context.Context, lawID, voterID string, direction Direction, at time.Time) (Vote, error) {
	return castVote(ctx, s, lawID, voterID, direction, at)
}

func (s *PostgresStore) RetractVote(ctx context.Context, lawID, voterID string) error {
	return retractVote(ctx, s, lawID, voterID)
}

func (s *PostgresStore) HasHouse(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM houses WHERE user_id=$1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check house: %w", err)
	}
	return exists, nil
}

// WithLaw runs fn while holding the row lock of the law. Every write to a
// law or its votes goes through here so they serialize per law.
func (s *PostgresStore) WithLaw(ctx context.Context, lawID string, fn func(LawTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin law tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	law, err := scanLaw(tx.QueryRowContext(ctx, `SELECT `+lawColumns+` FROM laws WHERE id=$1 FOR UPDATE`, lawID))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock law: %w", err)
	}

	if err := fn(&pgLawTx{tx: tx, law: law}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit law tx: %w", err)
	}
	return nil
}

type pgLawTx struct {
	tx  *sql.Tx
	law Law
}

func (t *pgLawTx) Law() Law {
	return t.law
}

func (t *pgLawTx) Tally(ctx context.Context) (Tally, error) {
	return countVotes(ctx, t.tx, t.law.ID)
}

func (t *pgLawTx) Vote(ctx context.Context, voterID string) (*Vote, error) {
	var item Vote
	var direction string
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, law_id, voter_id, direction, voted_at
		FROM votes
		WHERE law_id=$1 AND voter_id=$2
	`, t.law.ID, voterID).Scan(&item.ID, &item.LawID, &item.VoterID, &direction, &item.VotedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vote: %w", err)
	}
	item.Direction = Direction(direction)
	return &item, nil
}

func (t *pgLawTx) CastVote(ctx context.Context, voterID string, direction Direction, at time.Time) (Vote, error) {
	if direction != DirectionUp && direction != DirectionDown {
		return Vote{}, ErrInvalidDirection
	}
	var item Vote
	var stored string
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO votes (id, law_id, voter_id, direction, voted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (law_id, voter_id)
		DO UPDATE SET direction=EXCLUDED.direction, voted_at=EXCLUDED.voted_at
		RETURNING id, law_id, voter_id, direction, voted_at
	`, util.NewID(), t.law.ID, voterID, string(direction), at).Scan(&item.ID, &item.LawID, &item.VoterID, &stored, &item.VotedAt)
	if err != nil {
		return Vote{}, fmt.Errorf("upsert vote: %w", err)
	}
	item.Direction = Direction(stored)
	return item, nil
}

func (t *pgLawTx) RetractVote(ctx context.Context, voterID string) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM votes WHERE law_id=$1 AND voter_id=$2`, t.law.ID, voterID)
	if err != nil {
		return false, fmt.Errorf("delete vote: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete vote rows: %w", err)
	}
	return affected > 0, nil
}

// Close applies closure only if the law still carries the version read under
// the lock and is not already terminal.
func (t *pgLawTx) Close(ctx context.Context, closure Closure) (Law, error) {
	law, err := scanLaw(t.tx.QueryRowContext(ctx, `
		UPDATE laws
		SET status=$3, is_in_tiebreak=$4, voting_closed_at=$5, version=version+1
		WHERE id=$1 AND version=$2 AND status NOT IN ('passed', 'rejected')
		RETURNING `+lawColumns,
		t.law.ID, t.law.Version, string(closure.Status), closure.Tiebreak, closure.ClosedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return Law{}, ErrConflict
	}
	if err != nil {
		return Law{}, fmt.Errorf("close law: %w", err)
	}
	t.law = law
	return law, nil
}

func scanLaw(row rowScanner) (Law, error) {
	var item Law
	var authorID sql.NullString
	var closedAt sql.NullTime
	var status string
	if err := row.Scan(
		&item.ID,
		&authorID,
		&item.Title,
		&item.Description,
		&item.FullText,
		&status,
		&item.PublishedAt,
		&closedAt,
		&item.IsInTiebreak,
		&item.Version,
	); err != nil {
		return Law{}, err
	}
	item.Status = Status(status)
	if authorID.Valid {
		value := authorID.String
		item.AuthorID = &value
	}
	if closedAt.Valid {
		value := closedAt.Time
		item.VotingClosedAt = &value
	}
	return item, nil
}

func listVotes(ctx context.Context, q querier, query string, args ...any) ([]Vote, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	items := make([]Vote, 0)
	for rows.Next() {
		var item Vote
		var direction string
		if err := rows.Scan(&item.ID, &item.LawID, &item.VoterID, &direction, &item.VotedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		item.Direction = Direction(direction)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return items, nil
}

func countVotes(ctx context.Context, q querier, lawID string) (Tally, error) {
	var tally Tally
	err := q.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE direction='up'),
			COUNT(*) FILTER (WHERE direction='down')
		FROM votes
		WHERE law_id=$1
	`, lawID).Scan(&tally.Up, &tally.Down)
	if err != nil {
		return Tally{}, fmt.Errorf("count votes: %w", err)
	}
	return tally, nil
}
