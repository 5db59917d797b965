package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/db"
)

// ListCasesInput contains parameters for the ListCases operation.
type ListCasesInput struct {
	Limit  int // default: 20, max: 100
	Offset int // default: 0
}

// ListCasesOutput contains the result of the ListCases operation.
type ListCasesOutput struct {
	Items      []clinical.CaseSummary `json:"items"`
	Pagination Pagination             `json:"pagination"`
	Sort       string                 `json:"sort"`
}

// ListCases retrieves case summaries ordered by name with pagination.
func ListCases(ctx context.Context, database *sql.DB, input ListCasesInput) (*ListCasesOutput, error) {
	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)

	// Ensure offset is non-negative
	offset := max(input.Offset, 0)

	cases, total, err := db.ListCases(ctx, database, limit, offset)
	if err != nil {
		return nil, err
	}

	items := caseSummaries(cases)
	hasMore := offset+len(items) < total

	return &ListCasesOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: hasMore,
			Total:   total,
		},
		Sort: "name_asc",
	}, nil
}
