package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.MedcaseError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// Now returns the current time as Unix milliseconds, the resolution of every
// timestamp column.
func Now() int64 {
	return time.Now().UnixMilli()
}

const caseColumns = `
	id, slug, name, content, diagnostics_norm, prelim_dx_raw,
	meds_norm, reco_norm, dispo_norm, created_at, updated_at
`

// InsertCase stores a new case.
func InsertCase(ctx context.Context, q Querier, c *clinical.Case) error {
	query := `INSERT INTO cases (` + caseColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		c.ID, c.Slug, c.Name, c.Content, c.DiagnosticsNorm, c.PrelimDxRaw,
		c.MedsNorm, c.RecoNorm, c.DispoNorm, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// UpdateCase updates the mutable fields of a case and sets updated_at.
// Does NOT change: id, slug
func UpdateCase(ctx context.Context, q Querier, c *clinical.Case) error {
	now := Now()

	query := `
		UPDATE cases
		SET name = ?, content = ?, diagnostics_norm = ?, prelim_dx_raw = ?,
			meds_norm = ?, reco_norm = ?, dispo_norm = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := q.ExecContext(ctx, query,
		c.Name, c.Content, c.DiagnosticsNorm, c.PrelimDxRaw,
		c.MedsNorm, c.RecoNorm, c.DispoNorm, now,
		c.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("case", c.ID)
	}

	c.UpdatedAt = now
	return nil
}

// DeleteCase removes a case by ID. Instructions and attempts cascade.
func DeleteCase(ctx context.Context, q Querier, id string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("case", id)
	}
	return nil
}

// GetCaseByID retrieves a case by its ULID.
func GetCaseByID(ctx context.Context, q Querier, id string) (*clinical.Case, error) {
	row := q.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("case", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// GetCaseBySlug retrieves a case by its slug.
func GetCaseBySlug(ctx context.Context, q Querier, slug string) (*clinical.Case, error) {
	row := q.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE slug = ?`, slug)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("case", slug)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// CheckCaseNameExists reports whether a case other than excludeID uses name.
func CheckCaseNameExists(ctx context.Context, q Querier, name, excludeID string) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM cases WHERE name = ? AND id != ? LIMIT 1`, name, excludeID,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// ListCases returns cases ordered by name with the total count.
func ListCases(ctx context.Context, q Querier, limit, offset int) ([]*clinical.Case, int, error) {
	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases`).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+caseColumns+` FROM cases ORDER BY name ASC, id ASC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	cases, err := collectCases(rows)
	if err != nil {
		return nil, 0, err
	}
	return cases, total, nil
}

// SearchCases returns cases whose name, slug, content or preliminary diagnosis
// contains query (case-insensitive for ASCII).
func SearchCases(ctx context.Context, q Querier, query string, limit int) ([]*clinical.Case, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := q.QueryContext(ctx, `
		SELECT `+caseColumns+`
		FROM cases
		WHERE name LIKE ? ESCAPE '\'
		   OR slug LIKE ? ESCAPE '\'
		   OR content LIKE ? ESCAPE '\'
		   OR prelim_dx_raw LIKE ? ESCAPE '\'
		ORDER BY name ASC
		LIMIT ?
	`, pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return collectCases(rows)
}

// StreamCases calls fn for every case in name order.
func StreamCases(ctx context.Context, q Querier, fn func(*clinical.Case) error) error {
	rows, err := q.QueryContext(ctx, `SELECT `+caseColumns+` FROM cases ORDER BY name ASC`)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return errors.NewInternal(err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func collectCases(rows *sql.Rows) ([]*clinical.Case, error) {
	defer rows.Close()

	var cases []*clinical.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return cases, nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanCase scans a single row into a Case struct.
func scanCase(row scanner) (*clinical.Case, error) {
	var c clinical.Case
	err := row.Scan(
		&c.ID, &c.Slug, &c.Name, &c.Content, &c.DiagnosticsNorm, &c.PrelimDxRaw,
		&c.MedsNorm, &c.RecoNorm, &c.DispoNorm, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
