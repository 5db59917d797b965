package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/stage"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestCase creates a case with default values for testing.
func newTestCase(id, name string) *clinical.Case {
	return &clinical.Case{
		ID:              id,
		Slug:            clinical.Slugify(name),
		Name:            name,
		Content:         "Opis przypadku",
		DiagnosticsNorm: "EKG",
		PrelimDxRaw:     "Zawał",
		MedsNorm:        "ASA",
		RecoNorm:        "Kontrola",
		DispoNorm:       "Kardiologia",
		CreatedAt:       1000,
		UpdatedAt:       1000,
	}
}

func newTestInstruction(id string, caseID *string, st stage.Stage, version int, updatedAt int64) *clinical.Instruction {
	return &clinical.Instruction{
		ID:        id,
		CaseID:    caseID,
		Stage:     st,
		Body:      "body " + id,
		Active:    true,
		Version:   version,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func stringPtr(s string) *string {
	return &s
}

func TestInsertAndGetCase(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	c := newTestCase("01CASE1", "Pacjent z bólem w klatce piersiowej")
	if err := InsertCase(ctx, db, c); err != nil {
		t.Fatalf("InsertCase failed: %v", err)
	}

	byID, err := GetCaseByID(ctx, db, "01CASE1")
	if err != nil {
		t.Fatalf("GetCaseByID failed: %v", err)
	}
	if *byID != *c {
		t.Errorf("GetCaseByID = %+v, want %+v", byID, c)
	}

	bySlug, err := GetCaseBySlug(ctx, db, "pacjent-z-bolem-w-klatce-piersiowej")
	if err != nil {
		t.Fatalf("GetCaseBySlug failed: %v", err)
	}
	if bySlug.ID != c.ID {
		t.Errorf("GetCaseBySlug ID = %q", bySlug.ID)
	}
}

func TestGetCase_NotFound(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := GetCaseByID(ctx, db, "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetCaseByID error = %v, want NOT_FOUND", err)
	}
	_, err = GetCaseBySlug(ctx, db, "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetCaseBySlug error = %v, want NOT_FOUND", err)
	}
}

func TestInsertCase_UniqueName(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	if err := InsertCase(ctx, db, newTestCase("01A", "Ból brzucha")); err != nil {
		t.Fatalf("InsertCase failed: %v", err)
	}
	dup := newTestCase("01B", "Ból brzucha")
	dup.Slug = "other-slug"
	if err := InsertCase(ctx, db, dup); err != ErrUniqueConstraint {
		t.Errorf("InsertCase duplicate name error = %v, want ErrUniqueConstraint", err)
	}
}

func TestUpdateCase_KeepsSlug(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	c := newTestCase("01A", "Ból brzucha")
	if err := InsertCase(ctx, db, c); err != nil {
		t.Fatalf("InsertCase failed: %v", err)
	}

	c.Name = "Ostry ból brzucha"
	c.Slug = "should-be-ignored"
	if err := UpdateCase(ctx, db, c); err != nil {
		t.Fatalf("UpdateCase failed: %v", err)
	}

	got, err := GetCaseByID(ctx, db, "01A")
	if err != nil {
		t.Fatalf("GetCaseByID failed: %v", err)
	}
	if got.Name != "Ostry ból brzucha" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.Slug != "bol-brzucha" {
		t.Errorf("Slug = %q, want unchanged", got.Slug)
	}
	if got.UpdatedAt <= 1000 {
		t.Errorf("UpdatedAt = %d, want bumped", got.UpdatedAt)
	}

	missing := newTestCase("nope", "x")
	if err := UpdateCase(ctx, db, missing); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("UpdateCase missing error = %v", err)
	}
}

func TestListAndSearchCases(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	for i, name := range []string{"Zawał serca", "Ból brzucha", "Duszność 100%"} {
		c := newTestCase(string(rune('A'+i)), name)
		if err := InsertCase(ctx, db, c); err != nil {
			t.Fatalf("InsertCase failed: %v", err)
		}
	}

	list, total, err := ListCases(ctx, db, 2, 0)
	if err != nil {
		t.Fatalf("ListCases failed: %v", err)
	}
	if total != 3 || len(list) != 2 {
		t.Fatalf("ListCases total=%d len=%d", total, len(list))
	}
	if list[0].Name != "Ból brzucha" {
		t.Errorf("first case = %q, want name order", list[0].Name)
	}

	found, err := SearchCases(ctx, db, "serca", 10)
	if err != nil {
		t.Fatalf("SearchCases failed: %v", err)
	}
	if len(found) != 1 || found[0].Name != "Zawał serca" {
		t.Errorf("SearchCases = %v", found)
	}

	// Wildcards in the query are literal
	found, err = SearchCases(ctx, db, "100%", 10)
	if err != nil {
		t.Fatalf("SearchCases failed: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("SearchCases(100%%) len = %d, want 1", len(found))
	}
	found, err = SearchCases(ctx, db, "%", 10)
	if err != nil {
		t.Fatalf("SearchCases failed: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("SearchCases(%%) len = %d, want 1", len(found))
	}
}

func TestDeleteCase_CascadesInstructions(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	c := newTestCase("01A", "Ból brzucha")
	if err := InsertCase(ctx, db, c); err != nil {
		t.Fatalf("InsertCase failed: %v", err)
	}
	inst := newTestInstruction("I1", &c.ID, stage.Meds, 1, 1000)
	if err := InsertInstruction(ctx, db, inst); err != nil {
		t.Fatalf("InsertInstruction failed: %v", err)
	}

	if err := DeleteCase(ctx, db, "01A"); err != nil {
		t.Fatalf("DeleteCase failed: %v", err)
	}
	if _, err := GetInstruction(ctx, db, "I1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("instruction should cascade, got %v", err)
	}
}

func TestInstructions_ResolveCandidates(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	a := newTestCase("CA", "Przypadek A")
	b := newTestCase("CB", "Przypadek B")
	for _, c := range []*clinical.Case{a, b} {
		if err := InsertCase(ctx, db, c); err != nil {
			t.Fatalf("InsertCase failed: %v", err)
		}
	}

	rows := []*clinical.Instruction{
		newTestInstruction("G1", nil, stage.Meds, 1, 1000),
		newTestInstruction("A1", &a.ID, stage.Meds, 1, 1000),
		newTestInstruction("B1", &b.ID, stage.Meds, 5, 1000),
		newTestInstruction("A2", &a.ID, stage.Reco, 1, 1000),
	}
	inactive := newTestInstruction("A3", &a.ID, stage.Meds, 9, 1000)
	inactive.Active = false
	rows = append(rows, inactive)

	for _, inst := range rows {
		if err := InsertInstruction(ctx, db, inst); err != nil {
			t.Fatalf("InsertInstruction failed: %v", err)
		}
	}

	got, err := ListResolveCandidates(ctx, db, "CA", stage.Meds)
	if err != nil {
		t.Fatalf("ListResolveCandidates failed: %v", err)
	}
	ids := map[string]bool{}
	for _, inst := range got {
		ids[inst.ID] = true
	}
	if len(ids) != 2 || !ids["G1"] || !ids["A1"] {
		t.Errorf("candidates = %v, want G1 and A1", ids)
	}
}

func TestInstructions_UpdateAndVersion(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	v, err := NextInstructionVersion(ctx, db, nil, stage.Dispo)
	if err != nil {
		t.Fatalf("NextInstructionVersion failed: %v", err)
	}
	if v != 1 {
		t.Errorf("empty scope version = %d, want 1", v)
	}

	inst := newTestInstruction("G1", nil, stage.Dispo, 3, 1000)
	if err := InsertInstruction(ctx, db, inst); err != nil {
		t.Fatalf("InsertInstruction failed: %v", err)
	}
	v, err = NextInstructionVersion(ctx, db, nil, stage.Dispo)
	if err != nil {
		t.Fatalf("NextInstructionVersion failed: %v", err)
	}
	if v != 4 {
		t.Errorf("version = %d, want 4", v)
	}

	inst.Active = false
	inst.Body = "new body"
	if err := UpdateInstruction(ctx, db, inst); err != nil {
		t.Fatalf("UpdateInstruction failed: %v", err)
	}
	got, err := GetInstruction(ctx, db, "G1")
	if err != nil {
		t.Fatalf("GetInstruction failed: %v", err)
	}
	if got.Active || got.Body != "new body" || got.Stage != stage.Dispo || got.CaseID != nil {
		t.Errorf("GetInstruction = %+v", got)
	}
}

func TestListInstructions_Filters(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	c := newTestCase("CA", "Przypadek A")
	if err := InsertCase(ctx, db, c); err != nil {
		t.Fatalf("InsertCase failed: %v", err)
	}
	for _, inst := range []*clinical.Instruction{
		newTestInstruction("G1", nil, stage.Meds, 1, 1000),
		newTestInstruction("G2", nil, stage.Reco, 1, 1000),
		newTestInstruction("A1", stringPtr("CA"), stage.Meds, 1, 1000),
	} {
		if err := InsertInstruction(ctx, db, inst); err != nil {
			t.Fatalf("InsertInstruction failed: %v", err)
		}
	}

	_, total, err := ListInstructions(ctx, db, InstructionFilter{})
	if err != nil || total != 3 {
		t.Fatalf("ListInstructions total = %d, err = %v", total, err)
	}

	list, _, err := ListInstructions(ctx, db, InstructionFilter{GlobalOnly: true})
	if err != nil || len(list) != 2 {
		t.Errorf("GlobalOnly len = %d, err = %v", len(list), err)
	}

	meds := stage.Meds
	list, _, err = ListInstructions(ctx, db, InstructionFilter{Stage: &meds})
	if err != nil || len(list) != 2 {
		t.Errorf("Stage filter len = %d, err = %v", len(list), err)
	}

	list, _, err = ListInstructions(ctx, db, InstructionFilter{CaseID: stringPtr("CA")})
	if err != nil || len(list) != 1 || list[0].ID != "A1" {
		t.Errorf("CaseID filter = %v, err = %v", list, err)
	}

	list, _, err = ListInstructions(ctx, db, InstructionFilter{Limit: 1})
	if err != nil || len(list) != 1 {
		t.Errorf("Limit len = %d, err = %v", len(list), err)
	}
}

func TestUsersAndAttempts(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	u := &clinical.User{ID: "U1", Username: "Anna", UsernameNorm: "anna", PasswordHash: "x", CreatedAt: 1}
	if err := InsertUser(ctx, db, u); err != nil {
		t.Fatalf("InsertUser failed: %v", err)
	}
	dup := *u
	dup.ID = "U2"
	if err := InsertUser(ctx, db, &dup); err != ErrUniqueConstraint {
		t.Errorf("duplicate user error = %v", err)
	}
	got, err := GetUserByUsername(ctx, db, "anna")
	if err != nil || got.ID != "U1" {
		t.Fatalf("GetUserByUsername = %v, %v", got, err)
	}
	if _, err := GetUserByID(ctx, db, "U1"); err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}

	c := newTestCase("CA", "Przypadek A")
	if err := InsertCase(ctx, db, c); err != nil {
		t.Fatalf("InsertCase failed: %v", err)
	}

	score := 80
	chats := clinical.Chats{}
	chats.Append(stage.Diagnostics, clinical.RoleUser, "EKG")
	chats.Append(stage.Diagnostics, clinical.RoleAssistant, "Zaliczam")
	for i, id := range []string{"AT1", "AT2"} {
		a := &clinical.Attempt{
			ID:              id,
			UserID:          "U1",
			CaseID:          "CA",
			Chats:           chats,
			Summary:         clinical.SummaryNote{Score: &score, Verdict: "zaliczone", Summary: "ok"},
			CompletedStages: stage.Core(),
			IsCompleted:     true,
			CreatedAt:       int64(100 + i),
		}
		if err := InsertAttempt(ctx, db, a); err != nil {
			t.Fatalf("InsertAttempt failed: %v", err)
		}
	}

	groups, err := ListAttemptGroups(ctx, db, "U1")
	if err != nil {
		t.Fatalf("ListAttemptGroups failed: %v", err)
	}
	if len(groups) != 1 || groups[0].Count != 2 || groups[0].LastAt != 101 || groups[0].CaseSlug != c.Slug {
		t.Errorf("groups = %+v", groups)
	}

	list, err := ListAttemptsForCase(ctx, db, "U1", "CA")
	if err != nil || len(list) != 2 || list[0].ID != "AT2" {
		t.Fatalf("ListAttemptsForCase = %v, %v", list, err)
	}

	a, err := GetAttempt(ctx, db, "AT1", "U1")
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if *a.Summary.Score != 80 || a.Summary.Verdict != "zaliczone" {
		t.Errorf("Summary = %+v", a.Summary)
	}
	if len(a.Chats[stage.Diagnostics]) != 2 || len(a.CompletedStages) != 5 {
		t.Errorf("attempt chats/stages = %+v / %v", a.Chats, a.CompletedStages)
	}

	// Other users cannot read the attempt
	if _, err := GetAttempt(ctx, db, "AT1", "U2"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetAttempt other user error = %v", err)
	}
}

func TestSessions(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	if err := SaveSession(ctx, db, "S1", []byte(`{"a":1}`), 2000); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	data, ok, err := LoadSession(ctx, db, "S1", 1000)
	if err != nil || !ok || string(data) != `{"a":1}` {
		t.Fatalf("LoadSession = %s, %v, %v", data, ok, err)
	}

	// Upsert
	if err := SaveSession(ctx, db, "S1", []byte(`{"a":2}`), 3000); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	data, _, _ = LoadSession(ctx, db, "S1", 1000)
	if string(data) != `{"a":2}` {
		t.Errorf("after upsert = %s", data)
	}

	// Expired
	if _, ok, _ := LoadSession(ctx, db, "S1", 5000); ok {
		t.Error("expired session should not load")
	}
	n, err := PurgeExpiredSessions(ctx, db, 5000)
	if err != nil || n != 1 {
		t.Errorf("PurgeExpiredSessions = %d, %v", n, err)
	}

	if err := DeleteSession(ctx, db, "missing"); err != nil {
		t.Errorf("DeleteSession missing = %v", err)
	}
}
