package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/db"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/stage"
)

// AttemptSummary is an attempt without its conversation.
type AttemptSummary struct {
	ID              string               `json:"id"`
	CaseID          string               `json:"case_id"`
	Summary         clinical.SummaryNote `json:"summary"`
	CompletedStages []stage.Stage        `json:"completed_stages"`
	IsCompleted     bool                 `json:"is_completed"`
	CreatedAt       int64                `json:"created_at"`
}

// AttemptDetail is a full attempt with its case.
type AttemptDetail struct {
	AttemptSummary
	Case  clinical.CaseSummary `json:"case"`
	Chats clinical.Chats       `json:"chats"`
}

func toAttemptSummary(a *clinical.Attempt) AttemptSummary {
	completed := a.CompletedStages
	if completed == nil {
		completed = []stage.Stage{}
	}
	return AttemptSummary{
		ID:              a.ID,
		CaseID:          a.CaseID,
		Summary:         a.Summary,
		CompletedStages: completed,
		IsCompleted:     a.IsCompleted,
		CreatedAt:       a.CreatedAt,
	}
}

// ListAttemptGroups returns a user's attempts aggregated per case, ordered by
// case name.
func ListAttemptGroups(ctx context.Context, database *sql.DB, userID string) ([]clinical.AttemptGroup, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.NewUnauthorized("login required")
	}
	groups, err := db.ListAttemptGroups(ctx, database, userID)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []clinical.AttemptGroup{}
	}
	return groups, nil
}

// ListAttemptsOutput contains a user's attempts for one case.
type ListAttemptsOutput struct {
	Case  clinical.CaseSummary `json:"case"`
	Items []AttemptSummary     `json:"items"`
}

// ListAttempts returns a user's attempts for the case with the given slug,
// newest first.
func ListAttempts(ctx context.Context, database *sql.DB, userID, caseSlug string) (*ListAttemptsOutput, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.NewUnauthorized("login required")
	}
	c, err := getCase(ctx, database, "", caseSlug)
	if err != nil {
		return nil, err
	}
	attempts, err := db.ListAttemptsForCase(ctx, database, userID, c.ID)
	if err != nil {
		return nil, err
	}

	items := make([]AttemptSummary, 0, len(attempts))
	for _, a := range attempts {
		items = append(items, toAttemptSummary(a))
	}
	return &ListAttemptsOutput{Case: c.ToSummary(), Items: items}, nil
}

// GetAttempt returns one of the user's attempts. Attempts of other users are
// reported as not found.
func GetAttempt(ctx context.Context, database *sql.DB, userID, id string) (*AttemptDetail, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.NewUnauthorized("login required")
	}
	if strings.TrimSpace(id) == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	a, err := db.GetAttempt(ctx, database, id, userID)
	if err != nil {
		return nil, err
	}
	c, err := db.GetCaseByID(ctx, database, a.CaseID)
	if err != nil {
		return nil, err
	}
	chats := a.Chats
	if chats == nil {
		chats = clinical.Chats{}
	}
	return &AttemptDetail{
		AttemptSummary: toAttemptSummary(a),
		Case:           c.ToSummary(),
		Chats:          chats,
	}, nil
}

// UserAttemptsOutput is an operator's view of one user's history.
type UserAttemptsOutput struct {
	User   UserOutput              `json:"user"`
	Groups []clinical.AttemptGroup `json:"groups"`
}

// ListUserAttempts returns the attempt groups of the user with the given
// username, matched case-insensitively.
func ListUserAttempts(ctx context.Context, database *sql.DB, username string) (*UserAttemptsOutput, error) {
	norm := clinical.Normalize(username)
	if norm == "" {
		return nil, errors.NewInvalidRequest("username is required")
	}
	u, err := db.GetUserByUsername(ctx, database, norm)
	if err != nil {
		return nil, err
	}
	groups, err := ListAttemptGroups(ctx, database, u.ID)
	if err != nil {
		return nil, err
	}
	return &UserAttemptsOutput{
		User:   UserOutput{ID: u.ID, Username: u.Username},
		Groups: groups,
	}, nil
}
