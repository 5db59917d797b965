package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/medcase/internal/clinical"
)

// GetCaseInput contains parameters for the GetCase operation.
type GetCaseInput struct {
	ID   string
	Slug string
}

// CaseDetail is a full case as returned to operators.
type CaseDetail struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	CaseFields
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// GetCase retrieves a case by ID or slug.
func GetCase(ctx context.Context, database *sql.DB, input GetCaseInput) (*CaseDetail, error) {
	c, err := getCase(ctx, database, input.ID, input.Slug)
	if err != nil {
		return nil, err
	}
	return toCaseDetail(c), nil
}

// LoadCase returns the case model behind a slug, for the conversational flow.
func LoadCase(ctx context.Context, database *sql.DB, slug string) (*clinical.Case, error) {
	return getCase(ctx, database, "", slug)
}

func toCaseDetail(c *clinical.Case) *CaseDetail {
	return &CaseDetail{
		ID:   c.ID,
		Slug: c.Slug,
		Name: c.Name,
		CaseFields: CaseFields{
			Content:         c.Content,
			DiagnosticsNorm: c.DiagnosticsNorm,
			PrelimDxRaw:     c.PrelimDxRaw,
			MedsNorm:        c.MedsNorm,
			RecoNorm:        c.RecoNorm,
			DispoNorm:       c.DispoNorm,
		},
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
