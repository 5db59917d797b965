package ops

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hpungsan/medcase/internal/assessment"
	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/llm"
	"github.com/hpungsan/medcase/internal/session"
	"github.com/hpungsan/medcase/internal/stage"
)

const assessmentJSON = "```json\n" + `{"score": 80, "verdict": "Zaliczone", "summary": "Dobre postępowanie.", "positives": ["EKG"], "negatives": []}` + "\n```"

func finishedState(userID string) *session.State {
	state := session.NewState()
	state.UserID = userID
	for _, st := range stage.Core() {
		state.Chats.Append(st, clinical.RoleUser, "odpowiedź "+st.String())
		state.Chats.Append(st, clinical.RoleAssistant, "zaliczam")
		state.MarkCompleted(st)
	}
	return state
}

func TestSummarize_ParsesAssessment(t *testing.T) {
	stub := llm.NewStub(assessmentJSON)
	tutor, c := newTutor(t, stub)
	state := finishedState("")

	result := Summarize(context.Background(), tutor, c, state.Chats)
	if !result.OK() {
		t.Fatalf("Summarize failed: %s", result.Error)
	}
	if result.Assessment.Score == nil || *result.Assessment.Score != 80 {
		t.Errorf("Score = %v, want 80", result.Assessment.Score)
	}
	if result.Assessment.Verdict != "Zaliczone" {
		t.Errorf("Verdict = %q", result.Assessment.Verdict)
	}

	req := stub.Requests[0]
	if req.MaxTokens != 700 {
		t.Errorf("MaxTokens = %d, want 700", req.MaxTokens)
	}
	if !strings.Contains(req.Instructions, c.Name) {
		t.Error("summary instructions do not mention the case name")
	}
	if !strings.Contains(req.Input, "odpowiedź meds") {
		t.Errorf("transcript = %q, want the user's answers", req.Input)
	}
}

func TestSummarize_Failures(t *testing.T) {
	tests := []struct {
		name   string
		client llm.Client
		want   string
	}{
		{"auth", llm.NewFailingStub(errors.NewLLMAuth(fmt.Errorf("401"))), SummaryAuthFailed},
		{"service", llm.NewFailingStub(errors.NewLLMService(fmt.Errorf("500"))), SummaryServiceFailed},
		{"other", llm.NewFailingStub(fmt.Errorf("boom")), SummaryInternal},
		{"unparseable", llm.NewStub("Nie potrafię ocenić."), assessment.UnparseableMessage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tutor, c := newTutor(t, tc.client)
			result := Summarize(context.Background(), tutor, c, clinical.Chats{})
			if result.OK() {
				t.Fatal("OK = true, want failure")
			}
			if result.Error != tc.want {
				t.Errorf("Error = %q, want %q", result.Error, tc.want)
			}
		})
	}
}

func TestFirstMissingStage(t *testing.T) {
	st, missing := FirstMissingStage([]stage.Stage{stage.Diagnostics, stage.Meds})
	if !missing || st != stage.FirstExam {
		t.Errorf("FirstMissingStage = %s, %v; want first_exam, true", st, missing)
	}

	_, missing = FirstMissingStage(stage.Core())
	if missing {
		t.Error("missing = true with every stage completed")
	}
}

func TestFinishAttempt_SavesOnce(t *testing.T) {
	tutor, c := newTutor(t, llm.NewStub(assessmentJSON))
	ctx := context.Background()
	user, err := Register(ctx, tutor.DB, RegisterInput{Username: "anna", Password: "tajnehaslo", Confirm: "tajnehaslo"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	state := finishedState(user.ID)
	result := Summarize(ctx, tutor, c, state.Chats)

	out, err := FinishAttempt(ctx, tutor.DB, state, c, result)
	if err != nil {
		t.Fatalf("FinishAttempt failed: %v", err)
	}
	if !out.Saved || out.AttemptID == "" {
		t.Fatalf("FinishAttempt = %+v, want saved", out)
	}
	if !state.CaseSaved {
		t.Error("CaseSaved = false after saving")
	}

	again, err := FinishAttempt(ctx, tutor.DB, state, c, result)
	if err != nil {
		t.Fatalf("FinishAttempt failed: %v", err)
	}
	if again.Saved {
		t.Error("second FinishAttempt saved a duplicate")
	}

	detail, err := GetAttempt(ctx, tutor.DB, user.ID, out.AttemptID)
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if detail.Summary.Verdict != "Zaliczone" || detail.Summary.Score == nil || *detail.Summary.Score != 80 {
		t.Errorf("Summary = %+v", detail.Summary)
	}
	if len(detail.CompletedStages) != len(stage.Core()) || !detail.IsCompleted {
		t.Errorf("CompletedStages = %v", detail.CompletedStages)
	}
	if detail.Chats.LastText(stage.Dispo, clinical.RoleUser) != "odpowiedź dispo" {
		t.Errorf("chats not stored: %+v", detail.Chats)
	}
	if detail.Case.Slug != c.Slug {
		t.Errorf("Case.Slug = %q", detail.Case.Slug)
	}
}

func TestFinishAttempt_AnonymousNotSaved(t *testing.T) {
	tutor, c := newTutor(t, llm.NewStub())
	out, err := FinishAttempt(context.Background(), tutor.DB, finishedState(""), c, assessment.Failure("x"))
	if err != nil {
		t.Fatalf("FinishAttempt failed: %v", err)
	}
	if out.Saved {
		t.Error("Saved = true for an anonymous session")
	}
}

func TestFinishAttempt_StoresFailureNote(t *testing.T) {
	tutor, c := newTutor(t, llm.NewStub())
	ctx := context.Background()
	user, err := Register(ctx, tutor.DB, RegisterInput{Username: "piotr", Password: "tajnehaslo", Confirm: "tajnehaslo"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	out, err := FinishAttempt(ctx, tutor.DB, finishedState(user.ID), c, assessment.Failure(SummaryServiceFailed))
	if err != nil {
		t.Fatalf("FinishAttempt failed: %v", err)
	}
	detail, err := GetAttempt(ctx, tutor.DB, user.ID, out.AttemptID)
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if detail.Summary.Summary != SummaryServiceFailed || detail.Summary.Score != nil {
		t.Errorf("Summary = %+v, want the failure message without a score", detail.Summary)
	}
}

func TestAttempts_ScopedToUser(t *testing.T) {
	tutor, c := newTutor(t, llm.NewStub())
	ctx := context.Background()
	anna, err := Register(ctx, tutor.DB, RegisterInput{Username: "anna", Password: "tajnehaslo", Confirm: "tajnehaslo"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	piotr, err := Register(ctx, tutor.DB, RegisterInput{Username: "piotr", Password: "tajnehaslo", Confirm: "tajnehaslo"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var annaAttempt string
	for range 2 {
		out, err := FinishAttempt(ctx, tutor.DB, finishedState(anna.ID), c, assessment.Failure("x"))
		if err != nil {
			t.Fatalf("FinishAttempt failed: %v", err)
		}
		annaAttempt = out.AttemptID
	}

	groups, err := ListAttemptGroups(ctx, tutor.DB, anna.ID)
	if err != nil {
		t.Fatalf("ListAttemptGroups failed: %v", err)
	}
	if len(groups) != 1 || groups[0].Count != 2 || groups[0].CaseSlug != c.Slug {
		t.Errorf("groups = %+v, want one group of 2", groups)
	}

	list, err := ListAttempts(ctx, tutor.DB, anna.ID, c.Slug)
	if err != nil {
		t.Fatalf("ListAttempts failed: %v", err)
	}
	if len(list.Items) != 2 {
		t.Errorf("len(Items) = %d, want 2", len(list.Items))
	}

	groups, err = ListAttemptGroups(ctx, tutor.DB, piotr.ID)
	if err != nil {
		t.Fatalf("ListAttemptGroups failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("piotr sees %d groups, want 0", len(groups))
	}
	if _, err := GetAttempt(ctx, tutor.DB, piotr.ID, annaAttempt); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("cross-user GetAttempt error = %v, want NOT_FOUND", err)
	}
	if _, err := ListAttemptGroups(ctx, tutor.DB, ""); !errors.Is(err, errors.ErrUnauthorized) {
		t.Errorf("anonymous ListAttemptGroups error = %v, want UNAUTHORIZED", err)
	}
}

func TestListUserAttempts(t *testing.T) {
	tutor, c := newTutor(t, llm.NewStub())
	ctx := context.Background()
	anna, err := Register(ctx, tutor.DB, RegisterInput{Username: "Anna", Password: "tajnehaslo", Confirm: "tajnehaslo"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := FinishAttempt(ctx, tutor.DB, finishedState(anna.ID), c, assessment.Failure("x")); err != nil {
		t.Fatalf("FinishAttempt failed: %v", err)
	}

	out, err := ListUserAttempts(ctx, tutor.DB, " ANNA ")
	if err != nil {
		t.Fatalf("ListUserAttempts failed: %v", err)
	}
	if out.User.ID != anna.ID || len(out.Groups) != 1 {
		t.Errorf("ListUserAttempts = %+v", out)
	}

	if _, err := ListUserAttempts(ctx, tutor.DB, "nikt"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("unknown user error = %v, want NOT_FOUND", err)
	}
	if _, err := ListUserAttempts(ctx, tutor.DB, "  "); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("empty username error = %v, want INVALID_REQUEST", err)
	}
}
