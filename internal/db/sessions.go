package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/medcase/internal/errors"
)

// LoadSession returns the stored session payload, or ok=false when the
// session does not exist or has expired.
func LoadSession(ctx context.Context, q Querier, id string, now int64) (data []byte, ok bool, err error) {
	var payload string
	err = q.QueryRowContext(ctx,
		`SELECT data_json FROM sessions WHERE id = ? AND expires_at > ?`, id, now,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewInternal(err)
	}
	return []byte(payload), true, nil
}

// SaveSession upserts a session payload with its expiry.
func SaveSession(ctx context.Context, q Querier, id string, data []byte, expiresAt int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sessions (id, data_json, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  data_json = excluded.data_json,
		  expires_at = excluded.expires_at,
		  updated_at = excluded.updated_at
	`, id, string(data), expiresAt, Now())
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func DeleteSession(ctx context.Context, q Querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// PurgeExpiredSessions deletes sessions that expired before now and returns
// how many were removed.
func PurgeExpiredSessions(ctx context.Context, q Querier, now int64) (int, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}
