package ops

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hpungsan/medcase/internal/db"
	"github.com/hpungsan/medcase/internal/errors"
)

func TestCreateCase_DerivesSlug(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	out, err := CreateCase(ctx, database, chestPain)
	if err != nil {
		t.Fatalf("CreateCase failed: %v", err)
	}
	if out.ID == "" {
		t.Error("ID should not be empty")
	}
	if out.Slug != "bol-w-klatce-piersiowej" {
		t.Errorf("Slug = %q, want %q", out.Slug, "bol-w-klatce-piersiowej")
	}

	detail, err := GetCase(ctx, database, GetCaseInput{Slug: out.Slug})
	if err != nil {
		t.Fatalf("GetCase failed: %v", err)
	}
	if detail.MedsNorm != chestPain.MedsNorm {
		t.Errorf("MedsNorm = %q, want %q", detail.MedsNorm, chestPain.MedsNorm)
	}
	if detail.CreatedAt == 0 || detail.CreatedAt != detail.UpdatedAt {
		t.Errorf("timestamps = %d/%d, want equal and non-zero", detail.CreatedAt, detail.UpdatedAt)
	}
}

func TestCreateCase_ExplicitSlug(t *testing.T) {
	database := setupDB(t)

	input := chestPain
	input.Slug = "OZW Przypadek 1"
	out, err := CreateCase(context.Background(), database, input)
	if err != nil {
		t.Fatalf("CreateCase failed: %v", err)
	}
	if out.Slug != "ozw-przypadek-1" {
		t.Errorf("Slug = %q, want %q", out.Slug, "ozw-przypadek-1")
	}
}

func TestCreateCase_Validation(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateCaseInput
	}{
		{"empty name", CreateCaseInput{Name: "  "}},
		{"no slug characters", CreateCaseInput{Name: "!!!"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CreateCase(ctx, database, tc.input)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("CreateCase error = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestCreateCase_DuplicateName(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	seedCase(t, database, chestPain)

	_, err := CreateCase(ctx, database, chestPain)
	if !errors.Is(err, errors.ErrNameAlreadyExists) {
		t.Errorf("CreateCase error = %v, want NAME_ALREADY_EXISTS", err)
	}
}

func TestCreateCase_SlugCollision(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	seedCase(t, database, chestPain)

	// a different name that folds to the same slug
	input := chestPain
	input.Name = "Bol w klatce piersiowej"
	_, err := CreateCase(ctx, database, input)
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("CreateCase error = %v, want CONFLICT", err)
	}
}

func TestUpdateCase_KeepsSlug(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	c := seedCase(t, database, chestPain)

	out, err := UpdateCase(ctx, database, UpdateCaseInput{
		ID:       c.ID,
		Name:     stringPtr("Ból zamostkowy"),
		MedsNorm: stringPtr("ASA 300 mg"),
	})
	if err != nil {
		t.Fatalf("UpdateCase failed: %v", err)
	}
	if out.Slug != c.Slug {
		t.Errorf("Slug = %q, want unchanged %q", out.Slug, c.Slug)
	}
	if out.Name != "Ból zamostkowy" {
		t.Errorf("Name = %q, want %q", out.Name, "Ból zamostkowy")
	}

	detail, err := GetCase(ctx, database, GetCaseInput{ID: c.ID})
	if err != nil {
		t.Fatalf("GetCase failed: %v", err)
	}
	if detail.MedsNorm != "ASA 300 mg" {
		t.Errorf("MedsNorm = %q, want %q", detail.MedsNorm, "ASA 300 mg")
	}
	if detail.RecoNorm != chestPain.RecoNorm {
		t.Errorf("RecoNorm changed to %q", detail.RecoNorm)
	}
}

func TestUpdateCase_Errors(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	c := seedCase(t, database, chestPain)
	other := chestPain
	other.Name = "Duszność"
	seedCase(t, database, other)

	tests := []struct {
		name  string
		input UpdateCaseInput
		code  errors.ErrorCode
	}{
		{"no fields", UpdateCaseInput{ID: c.ID}, errors.ErrInvalidRequest},
		{"empty name", UpdateCaseInput{ID: c.ID, Name: stringPtr(" ")}, errors.ErrInvalidRequest},
		{"name taken", UpdateCaseInput{ID: c.ID, Name: stringPtr("Duszność")}, errors.ErrNameAlreadyExists},
		{"missing case", UpdateCaseInput{Slug: "brak", Content: stringPtr("x")}, errors.ErrNotFound},
		{"ambiguous", UpdateCaseInput{ID: c.ID, Slug: c.Slug, Content: stringPtr("x")}, errors.ErrAmbiguousAddressing},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := UpdateCase(ctx, database, tc.input)
			if !errors.Is(err, tc.code) {
				t.Errorf("UpdateCase error = %v, want %s", err, tc.code)
			}
		})
	}
}

func TestListCases_Pagination(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	for i := range 5 {
		input := chestPain
		input.Name = fmt.Sprintf("Przypadek %d", i)
		seedCase(t, database, input)
	}

	out, err := ListCases(ctx, database, ListCasesInput{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListCases failed: %v", err)
	}
	if len(out.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(out.Items))
	}
	if out.Items[0].Name != "Przypadek 1" {
		t.Errorf("Items[0].Name = %q, want %q", out.Items[0].Name, "Przypadek 1")
	}
	if out.Pagination.Total != 5 || !out.Pagination.HasMore {
		t.Errorf("Pagination = %+v, want total 5 with more", out.Pagination)
	}

	out, err = ListCases(ctx, database, ListCasesInput{Offset: -3})
	if err != nil {
		t.Fatalf("ListCases failed: %v", err)
	}
	if out.Pagination.Offset != 0 || out.Pagination.Limit != DefaultListLimit {
		t.Errorf("Pagination = %+v, want offset 0 and default limit", out.Pagination)
	}
	if out.Pagination.HasMore {
		t.Error("HasMore = true on the last page")
	}
}

func TestSearchCases_Snippet(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	input := chestPain
	input.Content = "Pacjent <po zabiegu> zgłasza ból zamostkowy promieniujący do żuchwy."
	seedCase(t, database, input)

	out, err := SearchCases(ctx, database, SearchCasesInput{Query: "zamostkowy"})
	if err != nil {
		t.Fatalf("SearchCases failed: %v", err)
	}
	if len(out.Items) != 1 {
		t.Fatalf("len(Items) = %d, want 1", len(out.Items))
	}
	snippet := out.Items[0].Snippet
	if !strings.Contains(snippet, "<b>zamostkowy</b>") {
		t.Errorf("Snippet = %q, want highlighted match", snippet)
	}
	if !strings.Contains(snippet, "&lt;po zabiegu&gt;") {
		t.Errorf("Snippet = %q, want escaped content", snippet)
	}
}

func TestSearchCases_Validation(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	if _, err := SearchCases(ctx, database, SearchCasesInput{Query: " "}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("empty query error = %v, want INVALID_REQUEST", err)
	}
	long := strings.Repeat("ą", MaxQueryLength+1)
	if _, err := SearchCases(ctx, database, SearchCasesInput{Query: long}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("long query error = %v, want INVALID_REQUEST", err)
	}
}

func TestTruncateSnippet_ClosesTags(t *testing.T) {
	s := "początek <b>bardzo długie dopasowanie które się nie mieści</b> koniec"
	got := truncateSnippet(s, 30)
	if !strings.HasSuffix(got, "</b>...") {
		t.Errorf("truncateSnippet = %q, want closed tag before ellipsis", got)
	}
	if strings.Count(got, "<b>") != strings.Count(got, "</b>") {
		t.Errorf("truncateSnippet = %q, unbalanced tags", got)
	}
}

func TestDeleteCase_Cascades(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	c := seedCase(t, database, chestPain)
	inst := seedInstruction(t, database, c.Slug, "diagnostics", "Norma: {case_norm}")

	out, err := DeleteCase(ctx, database, DeleteCaseInput{Slug: c.Slug})
	if err != nil {
		t.Fatalf("DeleteCase failed: %v", err)
	}
	if !out.Deleted || out.ID != c.ID {
		t.Errorf("DeleteCase = %+v, want deleted %s", out, c.ID)
	}

	if _, err := db.GetCaseByID(ctx, database, c.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("case still present: %v", err)
	}
	if _, err := db.GetInstruction(ctx, database, inst.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("instruction still present: %v", err)
	}
	if _, err := DeleteCase(ctx, database, DeleteCaseInput{Slug: c.Slug}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second delete error = %v, want NOT_FOUND", err)
	}
}
