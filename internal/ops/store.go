package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/db"
	"github.com/hpungsan/medcase/internal/errors"
)

// CaseFields are the editable fields of a case.
type CaseFields struct {
	Content         string `json:"content"`
	DiagnosticsNorm string `json:"diagnostics_norm"`
	PrelimDxRaw     string `json:"prelim_dx_raw"`
	MedsNorm        string `json:"meds_norm"`
	RecoNorm        string `json:"reco_norm"`
	DispoNorm       string `json:"dispo_norm"`
}

// CreateCaseInput contains parameters for the CreateCase operation.
type CreateCaseInput struct {
	Name string // required, unique
	Slug string // optional, derived from Name when empty
	CaseFields
}

// CaseOutput identifies a stored case.
type CaseOutput struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// CreateCase stores a new case. The slug is fixed at creation.
func CreateCase(ctx context.Context, database *sql.DB, input CreateCaseInput) (*CaseOutput, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}

	slugSource := input.Slug
	if strings.TrimSpace(slugSource) == "" {
		slugSource = name
	}
	slug := clinical.Slugify(slugSource)
	if slug == "" {
		return nil, errors.NewInvalidRequest("name must contain at least one letter or digit")
	}

	exists, err := db.CheckCaseNameExists(ctx, database, name, "")
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.NewNameAlreadyExists("case", name)
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := db.Now()

	c := &clinical.Case{
		ID:              id,
		Slug:            slug,
		Name:            name,
		Content:         input.Content,
		DiagnosticsNorm: input.DiagnosticsNorm,
		PrelimDxRaw:     input.PrelimDxRaw,
		MedsNorm:        input.MedsNorm,
		RecoNorm:        input.RecoNorm,
		DispoNorm:       input.DispoNorm,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := db.InsertCase(ctx, database, c); err != nil {
		if err == db.ErrUniqueConstraint {
			// the name was checked above, so the slug collided
			return nil, errors.NewConflict(fmt.Sprintf("slug %q is already used by another case", slug))
		}
		return nil, err
	}

	return &CaseOutput{ID: c.ID, Slug: c.Slug, Name: c.Name}, nil
}
