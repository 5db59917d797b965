package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/stage"
)

// InsertUser stores a new user. Returns ErrUniqueConstraint for a taken username.
func InsertUser(ctx context.Context, q Querier, u *clinical.User) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO users (id, username, username_norm, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.UsernameNorm, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetUserByUsername retrieves a user by normalized username.
func GetUserByUsername(ctx context.Context, q Querier, usernameNorm string) (*clinical.User, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, username, username_norm, password_hash, created_at
		FROM users WHERE username_norm = ?
	`, usernameNorm)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("user", usernameNorm)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return u, nil
}

// GetUserByID retrieves a user by ULID.
func GetUserByID(ctx context.Context, q Querier, id string) (*clinical.User, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, username, username_norm, password_hash, created_at
		FROM users WHERE id = ?
	`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("user", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return u, nil
}

func scanUser(row scanner) (*clinical.User, error) {
	var u clinical.User
	if err := row.Scan(&u.ID, &u.Username, &u.UsernameNorm, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

const attemptColumns = `id, user_id, case_id, chats_json, summary_json, completed_stages_json, is_completed, created_at`

// InsertAttempt stores a finished case run. Attempts are never updated.
func InsertAttempt(ctx context.Context, q Querier, a *clinical.Attempt) error {
	chats := a.Chats
	if chats == nil {
		chats = clinical.Chats{}
	}
	chatsJSON, err := json.Marshal(chats)
	if err != nil {
		return errors.NewInternal(err)
	}
	summaryJSON, err := json.Marshal(a.Summary)
	if err != nil {
		return errors.NewInternal(err)
	}
	completed := a.CompletedStages
	if completed == nil {
		completed = []stage.Stage{}
	}
	completedJSON, err := json.Marshal(completed)
	if err != nil {
		return errors.NewInternal(err)
	}

	_, err = q.ExecContext(ctx, `INSERT INTO case_attempts (`+attemptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.CaseID, string(chatsJSON), string(summaryJSON), string(completedJSON),
		a.IsCompleted, a.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetAttempt retrieves an attempt owned by userID.
func GetAttempt(ctx context.Context, q Querier, id, userID string) (*clinical.Attempt, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM case_attempts WHERE id = ? AND user_id = ?`, id, userID)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("attempt", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return a, nil
}

// ListAttemptsForCase returns a user's attempts for one case, newest first.
func ListAttemptsForCase(ctx context.Context, q Querier, userID, caseID string) ([]*clinical.Attempt, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM case_attempts
		WHERE user_id = ? AND case_id = ?
		ORDER BY created_at DESC, id DESC
	`, userID, caseID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var list []*clinical.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return list, nil
}

// ListAttemptGroups aggregates a user's attempts per case, ordered by case name.
func ListAttemptGroups(ctx context.Context, q Querier, userID string) ([]clinical.AttemptGroup, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.id, c.slug, c.name, COUNT(a.id), MAX(a.created_at)
		FROM case_attempts a
		JOIN cases c ON c.id = a.case_id
		WHERE a.user_id = ?
		GROUP BY c.id, c.slug, c.name
		ORDER BY c.name ASC
	`, userID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var groups []clinical.AttemptGroup
	for rows.Next() {
		var g clinical.AttemptGroup
		if err := rows.Scan(&g.CaseID, &g.CaseSlug, &g.CaseName, &g.Count, &g.LastAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return groups, nil
}

func scanAttempt(row scanner) (*clinical.Attempt, error) {
	var (
		a             clinical.Attempt
		chatsJSON     string
		summaryJSON   string
		completedJSON string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.CaseID, &chatsJSON, &summaryJSON, &completedJSON, &a.IsCompleted, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(chatsJSON), &a.Chats); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(summaryJSON), &a.Summary); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(completedJSON), &a.CompletedStages); err != nil {
		return nil, err
	}
	return &a, nil
}
