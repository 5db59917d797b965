package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/db"
	"github.com/hpungsan/medcase/internal/errors"
)

// UpdateCaseInput contains parameters for the UpdateCase operation.
type UpdateCaseInput struct {
	// Addressing
	ID   string
	Slug string

	// Editable fields (nil = don't change)
	Name            *string
	Content         *string
	DiagnosticsNorm *string
	PrelimDxRaw     *string
	MedsNorm        *string
	RecoNorm        *string
	DispoNorm       *string
}

// UpdateCase modifies an existing case. Renaming keeps the slug.
func UpdateCase(ctx context.Context, database *sql.DB, input UpdateCaseInput) (*CaseOutput, error) {
	c, err := getCase(ctx, database, input.ID, input.Slug)
	if err != nil {
		return nil, err
	}

	if input.Name == nil && input.Content == nil && input.DiagnosticsNorm == nil &&
		input.PrelimDxRaw == nil && input.MedsNorm == nil && input.RecoNorm == nil && input.DispoNorm == nil {
		return nil, errors.NewInvalidRequest("at least one editable field must be provided")
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, errors.NewInvalidRequest("name must not be empty")
		}
		exists, err := db.CheckCaseNameExists(ctx, database, name, c.ID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, errors.NewNameAlreadyExists("case", name)
		}
		c.Name = name
	}

	apply(&c.Content, input.Content)
	apply(&c.DiagnosticsNorm, input.DiagnosticsNorm)
	apply(&c.PrelimDxRaw, input.PrelimDxRaw)
	apply(&c.MedsNorm, input.MedsNorm)
	apply(&c.RecoNorm, input.RecoNorm)
	apply(&c.DispoNorm, input.DispoNorm)

	if err := db.UpdateCase(ctx, database, c); err != nil {
		if err == db.ErrUniqueConstraint {
			return nil, errors.NewNameAlreadyExists("case", c.Name)
		}
		return nil, err
	}

	return &CaseOutput{ID: c.ID, Slug: c.Slug, Name: c.Name}, nil
}

func apply(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// getCase loads a case by exactly one of id or slug.
func getCase(ctx context.Context, database *sql.DB, id, slug string) (*clinical.Case, error) {
	addr, err := ValidateAddress(id, slug)
	if err != nil {
		return nil, err
	}
	if addr.ByID {
		return db.GetCaseByID(ctx, database, addr.ID)
	}
	return db.GetCaseBySlug(ctx, database, addr.Slug)
}
