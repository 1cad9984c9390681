package lifecycle

import (
	"sort"
	"time"

	"civic/api/internal/store"
)

// Projection is the viewer-scoped, time-scoped view of a law. It is the only
// way tallies leave the service.
type Projection struct {
	ID             string           `json:"id"`
	AuthorID       *string          `json:"authorId"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	FullText       string           `json:"fullText"`
	Status         store.Status     `json:"status"`
	Phase          Phase            `json:"phase"`
	PublishedAt    time.Time        `json:"publishedAt"`
	VotingClosedAt *time.Time       `json:"votingClosedAt"`
	IsInTiebreak   bool             `json:"isInTiebreak"`
	Upvotes        int              `json:"upvotes"`
	Downvotes      int              `json:"downvotes"`
	UserVote       *store.Direction `json:"userVote"`
	UserVotedAt    *time.Time       `json:"userVotedAt,omitempty"`
	IsVotable      bool             `json:"isVotable"`
	VotingStartsAt time.Time        `json:"votingStartsAt"`
	VotingEndsAt   *time.Time       `json:"votingEndsAt"`
}

// Project builds the projection of law from votes, which may include votes on
// other laws. viewerID may be empty.
func Project(law store.Law, votes []store.Vote, viewerID string, now time.Time) Projection {
	eval := Evaluate(law, now)
	item := Projection{
		ID:             law.ID,
		AuthorID:       law.AuthorID,
		Title:          law.Title,
		Description:    law.Description,
		FullText:       law.FullText,
		Status:         law.Status,
		Phase:          eval.Phase,
		PublishedAt:    law.PublishedAt,
		VotingClosedAt: law.VotingClosedAt,
		IsInTiebreak:   law.IsInTiebreak,
		IsVotable:      eval.Votable,
		VotingStartsAt: eval.VotingStartsAt,
	}
	if eval.Phase == PhasePending || eval.Phase == PhaseOpen {
		ends := eval.VotingEndsAt
		item.VotingEndsAt = &ends
	}

	for _, vote := range votes {
		if vote.LawID != law.ID {
			continue
		}
		switch vote.Direction {
		case store.DirectionUp:
			item.Upvotes++
		case store.DirectionDown:
			item.Downvotes++
		}
		if viewerID != "" && vote.VoterID == viewerID {
			direction := vote.Direction
			votedAt := vote.VotedAt
			item.UserVote = &direction
			item.UserVotedAt = &votedAt
		}
	}
	return item
}

// ProjectAll projects every law and returns them in display order.
func ProjectAll(laws []store.Law, votes []store.Vote, viewerID string, now time.Time) []Projection {
	byLaw := make(map[string][]store.Vote, len(laws))
	for _, vote := range votes {
		byLaw[vote.LawID] = append(byLaw[vote.LawID], vote)
	}
	items := make([]Projection, 0, len(laws))
	for _, law := range laws {
		items = append(items, Project(law, byLaw[law.ID], viewerID, now))
	}
	Sort(items)
	return items
}

// Sort puts laws still awaiting resolution first, then terminal ones.
// Each group is ordered newest publication first.
func Sort(items []Projection) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, tj := items[i].Status.Terminal(), items[j].Status.Terminal()
		if ti != tj {
			return !ti
		}
		if !items[i].PublishedAt.Equal(items[j].PublishedAt) {
			return items[i].PublishedAt.After(items[j].PublishedAt)
		}
		return items[i].ID < items[j].ID
	})
}
