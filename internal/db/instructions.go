package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/stage"
)

const instructionColumns = `id, case_id, stage, body, active, version, created_at, updated_at`

// InstructionFilter narrows ListInstructions. Zero values mean "any".
type InstructionFilter struct {
	CaseID     *string
	GlobalOnly bool
	Stage      *stage.Stage
	Active     *bool
	Limit      int
	Offset     int
}

// InsertInstruction stores a new instruction.
func InsertInstruction(ctx context.Context, q Querier, i *clinical.Instruction) error {
	query := `INSERT INTO instructions (` + instructionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		i.ID, toNullString(i.CaseID), i.Stage.String(), i.Body, i.Active,
		i.Version, i.CreatedAt, i.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// UpdateInstruction updates body, active flag and version, and sets updated_at.
// Does NOT change: id, case, stage
func UpdateInstruction(ctx context.Context, q Querier, i *clinical.Instruction) error {
	now := Now()

	result, err := q.ExecContext(ctx, `
		UPDATE instructions
		SET body = ?, active = ?, version = ?, updated_at = ?
		WHERE id = ?
	`, i.Body, i.Active, i.Version, now, i.ID)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("instruction", i.ID)
	}

	i.UpdatedAt = now
	return nil
}

// GetInstruction retrieves an instruction by its ULID.
func GetInstruction(ctx context.Context, q Querier, id string) (*clinical.Instruction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+instructionColumns+` FROM instructions WHERE id = ?`, id)
	i, err := scanInstruction(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("instruction", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return i, nil
}

// ListResolveCandidates returns every active instruction for the stage that is
// either global or owned by caseID. Ranking is left to the caller.
func ListResolveCandidates(ctx context.Context, q Querier, caseID string, st stage.Stage) ([]*clinical.Instruction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+instructionColumns+`
		FROM instructions
		WHERE stage = ? AND active = 1 AND (case_id IS NULL OR case_id = ?)
	`, st.String(), caseID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return collectInstructions(rows)
}

// NextInstructionVersion returns one more than the highest version in the
// (case, stage) scope, or 1 if the scope is empty. A nil caseID is the global scope.
func NextInstructionVersion(ctx context.Context, q Querier, caseID *string, st stage.Stage) (int, error) {
	var maxVersion sql.NullInt64
	var err error
	if caseID == nil {
		err = q.QueryRowContext(ctx,
			`SELECT MAX(version) FROM instructions WHERE stage = ? AND case_id IS NULL`, st.String(),
		).Scan(&maxVersion)
	} else {
		err = q.QueryRowContext(ctx,
			`SELECT MAX(version) FROM instructions WHERE stage = ? AND case_id = ?`, st.String(), *caseID,
		).Scan(&maxVersion)
	}
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(maxVersion.Int64) + 1, nil
}

// ListInstructions returns instructions matching the filter, newest version
// first within each (case, stage) scope, with the total count.
func ListInstructions(ctx context.Context, q Querier, f InstructionFilter) ([]*clinical.Instruction, int, error) {
	var (
		where []string
		args  []any
	)
	switch {
	case f.GlobalOnly:
		where = append(where, "case_id IS NULL")
	case f.CaseID != nil:
		where = append(where, "case_id = ?")
		args = append(args, *f.CaseID)
	}
	if f.Stage != nil {
		where = append(where, "stage = ?")
		args = append(args, f.Stage.String())
	}
	if f.Active != nil {
		where = append(where, "active = ?")
		args = append(args, *f.Active)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM instructions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + instructionColumns + ` FROM instructions` + clause +
		` ORDER BY case_id IS NOT NULL, case_id, stage, version DESC, updated_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	list, err := collectInstructions(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func collectInstructions(rows *sql.Rows) ([]*clinical.Instruction, error) {
	defer rows.Close()

	var list []*clinical.Instruction
	for rows.Next() {
		i, err := scanInstruction(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		list = append(list, i)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return list, nil
}

// scanInstruction scans a single row into an Instruction struct.
func scanInstruction(row scanner) (*clinical.Instruction, error) {
	var (
		i         clinical.Instruction
		caseID    sql.NullString
		stageName string
	)
	err := row.Scan(&i.ID, &caseID, &stageName, &i.Body, &i.Active, &i.Version, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := i.Stage.UnmarshalText([]byte(stageName)); err != nil {
		return nil, err
	}
	i.CaseID = fromNullString(caseID)
	return &i, nil
}
