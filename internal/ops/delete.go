package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/medcase/internal/db"
)

// DeleteCaseInput contains parameters for the DeleteCase operation.
type DeleteCaseInput struct {
	ID   string
	Slug string
}

// DeleteCaseOutput contains the result of the DeleteCase operation.
type DeleteCaseOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
	Slug    string `json:"slug"`
}

// DeleteCase removes a case together with its instructions and attempts.
func DeleteCase(ctx context.Context, database *sql.DB, input DeleteCaseInput) (*DeleteCaseOutput, error) {
	c, err := getCase(ctx, database, input.ID, input.Slug)
	if err != nil {
		return nil, err
	}
	if err := db.DeleteCase(ctx, database, c.ID); err != nil {
		return nil, err
	}
	return &DeleteCaseOutput{Deleted: true, ID: c.ID, Slug: c.Slug}, nil
}
