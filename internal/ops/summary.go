package ops

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/hpungsan/medcase/internal/assessment"
	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/db"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/llm"
	"github.com/hpungsan/medcase/internal/prompt"
	"github.com/hpungsan/medcase/internal/session"
	"github.com/hpungsan/medcase/internal/stage"
)

// Readable assessment failures.
const (
	SummaryAuthFailed    = "Błąd uwierzytelnienia z OpenAI. Sprawdź `OPENAI_API_KEY` i dostęp do modelu."
	SummaryServiceFailed = "Błąd usługi OpenAI. Spróbuj ponownie później."
	SummaryInternal      = "Wewnętrzny błąd podczas generowania podsumowania."
)

const defaultSummaryMaxTokens = 700

// Summarize asks the model to assess a finished run. Failures never escape:
// they come back as a Result with Error set.
func Summarize(ctx context.Context, t *Tutor, c *clinical.Case, chats clinical.Chats) *assessment.Result {
	log := t.log()

	summary, err := prompt.AssembleSummary(c, chats)
	if err != nil {
		log.Error("summary prompt assembly failed", "case", c.Slug, "error", err.Error())
		return assessment.Failure(SummaryInternal)
	}
	if t.Config != nil && t.Config.DebugPrompts {
		log.Debug("rendered summary prompt", "case", c.Slug, "prompt", summary.Instructions)
	}

	client, err := t.client()
	if err != nil {
		return assessment.Failure(summaryFailure(err))
	}

	maxTokens := defaultSummaryMaxTokens
	if t.Config != nil && t.Config.SummaryMaxTokens > 0 {
		maxTokens = t.Config.SummaryMaxTokens
	}
	raw, err := client.Generate(ctx, llm.Request{
		Instructions: summary.Instructions,
		Input:        summary.Transcript,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		log.Warn("summary generation failed", "case", c.Slug, "code", string(errors.CodeOf(err)), "error", err.Error())
		return assessment.Failure(summaryFailure(err))
	}

	result := assessment.Parse(raw)
	if !result.OK() {
		log.Warn("summary reply unparseable", "case", c.Slug, "raw_chars", clinical.CountChars(raw))
	}
	return result
}

func summaryFailure(err error) string {
	var mErr *errors.MedcaseError
	if !stderrors.As(err, &mErr) {
		return SummaryInternal
	}
	switch mErr.Code {
	case errors.ErrLLMAuth:
		return SummaryAuthFailed
	case errors.ErrLLMService:
		return SummaryServiceFailed
	case errors.ErrCancelled:
		return ReplyCancelled
	case errors.ErrConfiguration:
		return replyConfigPrefix + mErr.Message
	default:
		return SummaryInternal
	}
}

// FirstMissingStage returns the first conversational stage not yet
// completed, or false when every one is done.
func FirstMissingStage(completed []stage.Stage) (stage.Stage, bool) {
	done := make(map[stage.Stage]bool, len(completed))
	for _, s := range completed {
		done[s] = true
	}
	for _, s := range stage.Core() {
		if !done[s] {
			return s, true
		}
	}
	return 0, false
}

// FinishAttemptOutput reports whether an attempt was recorded.
type FinishAttemptOutput struct {
	Saved     bool   `json:"saved"`
	AttemptID string `json:"attempt_id,omitempty"`
}

// FinishAttempt records the session's run as an attempt, at most once per
// run and only for a logged-in user. The assessment is stored as a summary
// note; the raw model text is not.
func FinishAttempt(ctx context.Context, database *sql.DB, state *session.State, c *clinical.Case, result *assessment.Result) (*FinishAttemptOutput, error) {
	if !state.LoggedIn() || state.CaseSaved {
		return &FinishAttemptOutput{Saved: false}, nil
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	note := clinical.SummaryNote{}
	if result != nil {
		note = result.Note()
	}

	a := &clinical.Attempt{
		ID:              id,
		UserID:          state.UserID,
		CaseID:          c.ID,
		Chats:           state.Chats.Clone(),
		Summary:         note,
		CompletedStages: append([]stage.Stage(nil), state.CompletedStages...),
		IsCompleted:     true,
		CreatedAt:       db.Now(),
	}
	if err := db.InsertAttempt(ctx, database, a); err != nil {
		return nil, err
	}

	state.CaseSaved = true
	return &FinishAttemptOutput{Saved: true, AttemptID: a.ID}, nil
}
