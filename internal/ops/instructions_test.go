package ops

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/hpungsan/medcase/internal/config"
	"github.com/hpungsan/medcase/internal/errors"
)

func TestStoreInstruction_AutoVersion(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	cfg := config.DefaultConfig()
	c := seedCase(t, database, chestPain)

	first := seedInstruction(t, database, c.Slug, "meds", "v1 {case_norm}")
	second := seedInstruction(t, database, c.Slug, "meds", "v2 {case_norm}")
	global, err := StoreInstruction(ctx, database, cfg, StoreInstructionInput{Stage: "meds", Body: "global"})
	if err != nil {
		t.Fatalf("StoreInstruction failed: %v", err)
	}

	if first.Version != 1 || second.Version != 2 {
		t.Errorf("case versions = %d, %d; want 1, 2", first.Version, second.Version)
	}
	if global.Version != 1 || global.CaseID != nil {
		t.Errorf("global = %+v, want version 1 without case", global)
	}
	if !first.Active {
		t.Error("Active = false, want true by default")
	}
}

func TestStoreInstruction_ExplicitVersion(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	cfg := config.DefaultConfig()
	c := seedCase(t, database, chestPain)

	out, err := StoreInstruction(ctx, database, cfg, StoreInstructionInput{CaseID: c.ID, Stage: "reco", Body: "x", Version: 5})
	if err != nil {
		t.Fatalf("StoreInstruction failed: %v", err)
	}
	if out.Version != 5 {
		t.Errorf("Version = %d, want 5", out.Version)
	}

	_, err = StoreInstruction(ctx, database, cfg, StoreInstructionInput{CaseID: c.ID, Stage: "reco", Body: "y", Version: 3})
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("StoreInstruction error = %v, want CONFLICT", err)
	}
}

func TestStoreInstruction_Validation(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.InstructionMaxChars = 50

	tests := []struct {
		name  string
		input StoreInstructionInput
		code  errors.ErrorCode
	}{
		{"unknown stage", StoreInstructionInput{Stage: "triage", Body: "x"}, errors.ErrInvalidRequest},
		{"summary stage", StoreInstructionInput{Stage: "summary", Body: "x"}, errors.ErrInvalidRequest},
		{"empty body", StoreInstructionInput{Stage: "meds", Body: "  "}, errors.ErrInvalidRequest},
		{"too large", StoreInstructionInput{Stage: "meds", Body: strings.Repeat("ż", 51)}, errors.ErrInstructionTooLarge},
		{"unknown placeholder", StoreInstructionInput{Stage: "meds", Body: "{patient_name}"}, errors.ErrTemplate},
		{"stray brace", StoreInstructionInput{Stage: "meds", Body: "oceń }"}, errors.ErrTemplate},
		{"missing case", StoreInstructionInput{CaseSlug: "brak", Stage: "meds", Body: "x"}, errors.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := StoreInstruction(ctx, database, cfg, tc.input)
			if !errors.Is(err, tc.code) {
				t.Errorf("StoreInstruction error = %v, want %s", err, tc.code)
			}
		})
	}
}

func TestStoreInstruction_TemplateDetails(t *testing.T) {
	database := setupDB(t)
	_, err := StoreInstruction(context.Background(), database, config.DefaultConfig(),
		StoreInstructionInput{Stage: "dispo", Body: "{case_norm} {foo} {bar}"})

	var mErr *errors.MedcaseError
	if !stderrors.As(err, &mErr) {
		t.Fatalf("error = %v, want *MedcaseError", err)
	}
	unknown, ok := mErr.Details["unknown_fields"].([]string)
	if !ok || len(unknown) != 2 {
		t.Errorf("unknown_fields = %v, want [foo bar]", mErr.Details["unknown_fields"])
	}
	if _, ok := mErr.Details["allowed_fields"]; !ok {
		t.Error("allowed_fields missing from details")
	}
}

func TestUpdateInstruction_EditsInPlace(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	cfg := config.DefaultConfig()
	c := seedCase(t, database, chestPain)
	stored := seedInstruction(t, database, c.Slug, "diagnostics", "stara treść")

	detail, err := UpdateInstruction(ctx, database, cfg, UpdateInstructionInput{ID: stored.ID, Body: stringPtr("nowa {actual_msg}")})
	if err != nil {
		t.Fatalf("UpdateInstruction failed: %v", err)
	}
	if detail.Body != "nowa {actual_msg}" {
		t.Errorf("Body = %q", detail.Body)
	}
	if detail.Version != stored.Version {
		t.Errorf("Version = %d, want unchanged %d", detail.Version, stored.Version)
	}

	if _, err := UpdateInstruction(ctx, database, cfg, UpdateInstructionInput{ID: stored.ID}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("no-field update error = %v, want INVALID_REQUEST", err)
	}
	if _, err := UpdateInstruction(ctx, database, cfg, UpdateInstructionInput{ID: stored.ID, Body: stringPtr("{x}")}); !errors.Is(err, errors.ErrTemplate) {
		t.Errorf("bad body error = %v, want TEMPLATE_ERROR", err)
	}
	if _, err := UpdateInstruction(ctx, database, cfg, UpdateInstructionInput{ID: "missing", Active: boolPtr(true)}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing id error = %v, want NOT_FOUND", err)
	}
}

func TestResolveInstruction_CaseBeatsGlobal(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	cfg := config.DefaultConfig()
	c := seedCase(t, database, chestPain)

	if _, err := StoreInstruction(ctx, database, cfg, StoreInstructionInput{Stage: "meds", Body: "global v1"}); err != nil {
		t.Fatalf("StoreInstruction failed: %v", err)
	}
	if _, err := StoreInstruction(ctx, database, cfg, StoreInstructionInput{Stage: "meds", Body: "global v2"}); err != nil {
		t.Fatalf("StoreInstruction failed: %v", err)
	}

	out, err := ResolveInstruction(ctx, database, ResolveInstructionInput{CaseSlug: c.Slug, Stage: "meds"})
	if err != nil {
		t.Fatalf("ResolveInstruction failed: %v", err)
	}
	if !out.Found || out.Instruction.Body != "global v2" {
		t.Fatalf("resolved = %+v, want latest global", out.Instruction)
	}

	own := seedInstruction(t, database, c.Slug, "meds", "case v1")
	out, err = ResolveInstruction(ctx, database, ResolveInstructionInput{CaseSlug: c.Slug, Stage: "meds"})
	if err != nil {
		t.Fatalf("ResolveInstruction failed: %v", err)
	}
	if out.Instruction.ID != own.ID {
		t.Errorf("resolved %s, want case-specific %s", out.Instruction.ID, own.ID)
	}

	if _, err := DeactivateInstruction(ctx, database, own.ID); err != nil {
		t.Fatalf("DeactivateInstruction failed: %v", err)
	}
	out, err = ResolveInstruction(ctx, database, ResolveInstructionInput{CaseSlug: c.Slug, Stage: "meds"})
	if err != nil {
		t.Fatalf("ResolveInstruction failed: %v", err)
	}
	if out.Instruction.Body != "global v2" {
		t.Errorf("after deactivation resolved %q, want global v2", out.Instruction.Body)
	}

	out, err = ResolveInstruction(ctx, database, ResolveInstructionInput{CaseSlug: c.Slug, Stage: "dispo"})
	if err != nil {
		t.Fatalf("ResolveInstruction failed: %v", err)
	}
	if out.Found {
		t.Error("Found = true for a stage without instructions")
	}
}

func TestListInstructions_Filters(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	cfg := config.DefaultConfig()
	c := seedCase(t, database, chestPain)

	seedInstruction(t, database, c.Slug, "meds", "a")
	inactive := seedInstruction(t, database, c.Slug, "reco", "b")
	if _, err := StoreInstruction(ctx, database, cfg, StoreInstructionInput{Stage: "meds", Body: "g"}); err != nil {
		t.Fatalf("StoreInstruction failed: %v", err)
	}
	if _, err := DeactivateInstruction(ctx, database, inactive.ID); err != nil {
		t.Fatalf("DeactivateInstruction failed: %v", err)
	}

	tests := []struct {
		name  string
		input ListInstructionsInput
		want  int
	}{
		{"all", ListInstructionsInput{}, 3},
		{"case", ListInstructionsInput{CaseSlug: c.Slug}, 2},
		{"global", ListInstructionsInput{GlobalOnly: true}, 1},
		{"stage", ListInstructionsInput{Stage: "meds"}, 2},
		{"active", ListInstructionsInput{Active: boolPtr(true)}, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := ListInstructions(ctx, database, tc.input)
			if err != nil {
				t.Fatalf("ListInstructions failed: %v", err)
			}
			if out.Pagination.Total != tc.want || len(out.Items) != tc.want {
				t.Errorf("got %d items (total %d), want %d", len(out.Items), out.Pagination.Total, tc.want)
			}
		})
	}

	_, err := ListInstructions(ctx, database, ListInstructionsInput{GlobalOnly: true, CaseSlug: c.Slug})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("global+case error = %v, want INVALID_REQUEST", err)
	}
}

func TestPreviewInstruction(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	c := seedCase(t, database, chestPain)
	seedInstruction(t, database, c.Slug, "meds", "Norma: {case_norm}\nDotąd: {user_answers}\nTeraz: {actual_msg}")

	out, err := PreviewInstruction(ctx, database, PreviewInstructionInput{
		CaseSlug:    c.Slug,
		Stage:       "meds",
		UserAnswers: []string{"aspiryna", "heparyna"},
		Message:     "tikagrelor",
	})
	if err != nil {
		t.Fatalf("PreviewInstruction failed: %v", err)
	}
	want := "Norma: " + chestPain.MedsNorm + "\nDotąd: aspiryna\nheparyna\nTeraz: tikagrelor"
	if out.Rendered != want {
		t.Errorf("Rendered = %q, want %q", out.Rendered, want)
	}
	if out.Scope != c.ID || out.Version != 1 {
		t.Errorf("Scope/Version = %s/%d, want %s/1", out.Scope, out.Version, c.ID)
	}

	draft, err := PreviewInstruction(ctx, database, PreviewInstructionInput{
		CaseSlug: c.Slug,
		Stage:    "first_exam",
		Body:     stringPtr("Rozpoznanie: {prelim_dx} {{JSON}}"),
	})
	if err != nil {
		t.Fatalf("PreviewInstruction draft failed: %v", err)
	}
	if draft.Scope != "DRAFT" || draft.Rendered != "Rozpoznanie: "+chestPain.PrelimDxRaw+" {JSON}" {
		t.Errorf("draft = %+v", draft)
	}

	_, err = PreviewInstruction(ctx, database, PreviewInstructionInput{CaseSlug: c.Slug, Stage: "dispo"})
	if !errors.Is(err, errors.ErrNoInstruction) {
		t.Errorf("missing instruction error = %v, want NO_INSTRUCTION", err)
	}
}
