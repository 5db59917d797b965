package ops

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/llm"
	"github.com/hpungsan/medcase/internal/prompt"
	"github.com/hpungsan/medcase/internal/session"
	"github.com/hpungsan/medcase/internal/stage"
)

// Readable replies shown in place of a tutor answer when a turn fails.
const (
	ReplyAuthFailed    = "Błąd uwierzytelnienia z OpenAI. Sprawdź `OPENAI_API_KEY` w .env i uprawnienia do modelu w konsoli OpenAI."
	ReplyServiceFailed = "Błąd usługi OpenAI. Spróbuj ponownie za chwilę."
	ReplyCancelled     = "Żądanie zostało przerwane. Spróbuj ponownie."
	ReplyInternal      = "Wewnętrzny błąd bota. Spróbuj ponownie."

	replyConfigPrefix   = "Konfiguracja: "
	replyTemplatePrefix = "Błąd szablonu instrukcji: "
)

const defaultStageMaxTokens = 500

// ReplyInput contains parameters for the Reply operation.
type ReplyInput struct {
	Case    *clinical.Case
	Stage   stage.Stage
	Message string

	// Chats is the conversation before Message was sent.
	Chats clinical.Chats
}

// ReplyOutput is the tutor's answer. On failure Text holds a readable
// message and Code the failure class.
type ReplyOutput struct {
	Text string
	Code errors.ErrorCode
}

// Failed reports whether the reply is a degraded error message.
func (r *ReplyOutput) Failed() bool {
	return r.Code != ""
}

// Reply produces the tutor's answer to one user message. It never returns an
// error: every failure becomes a readable message and is logged.
func Reply(ctx context.Context, t *Tutor, input ReplyInput) *ReplyOutput {
	text, err := reply(ctx, t, input)
	if err == nil {
		return &ReplyOutput{Text: text}
	}

	code := errors.CodeOf(err)
	log := t.log()
	fields := []any{"code", string(code), "stage", input.Stage.String(), "case", input.Case.Slug, "error", err.Error()}
	switch code {
	case errors.ErrLLMAuth, errors.ErrConfiguration, errors.ErrNoInstruction, errors.ErrTemplate, errors.ErrCancelled:
		log.Warn("tutor reply degraded", fields...)
	default:
		log.Error("tutor reply failed", fields...)
	}
	return &ReplyOutput{Text: degradedReply(err), Code: code}
}

func reply(ctx context.Context, t *Tutor, input ReplyInput) (string, error) {
	inst, err := resolve(ctx, t.DB, input.Case, input.Stage)
	if err != nil {
		return "", err
	}
	if inst == nil {
		return "", errors.NewNoInstruction(input.Stage.String(), input.Case.Slug)
	}

	instructions, err := prompt.Render(inst, input.Case, prompt.RenderInput{
		UserAnswers: prompt.Lines(input.Chats.UserTexts(input.Stage)),
		BotAnswers:  prompt.Lines(input.Chats.AssistantTexts(input.Stage)),
		ActualMsg:   input.Message,
	})
	if err != nil {
		return "", errors.NewTemplate(err)
	}

	if t.Config != nil && t.Config.DebugPrompts {
		t.log().Debug("rendered stage prompt",
			"stage", input.Stage.String(), "case", input.Case.Slug,
			"instruction_id", inst.ID, "version", inst.Version, "prompt", instructions)
	}

	client, err := t.client()
	if err != nil {
		return "", err
	}

	maxTokens := defaultStageMaxTokens
	if t.Config != nil && t.Config.StageMaxTokens > 0 {
		maxTokens = t.Config.StageMaxTokens
	}
	return client.Generate(ctx, llm.Request{
		Instructions: instructions,
		Input:        input.Message,
		MaxTokens:    maxTokens,
	})
}

// degradedReply maps a failure to the text shown in the chat.
func degradedReply(err error) string {
	var mErr *errors.MedcaseError
	if !stderrors.As(err, &mErr) {
		return ReplyInternal
	}
	switch mErr.Code {
	case errors.ErrLLMAuth:
		return ReplyAuthFailed
	case errors.ErrLLMService:
		return ReplyServiceFailed
	case errors.ErrCancelled:
		return ReplyCancelled
	case errors.ErrConfiguration:
		return replyConfigPrefix + mErr.Message
	case errors.ErrNoInstruction:
		return replyConfigPrefix + "brak aktywnej instrukcji dla etapu „" + stageLabel(mErr) + "”."
	case errors.ErrTemplate:
		return replyTemplatePrefix + mErr.Message
	default:
		return ReplyInternal
	}
}

func stageLabel(e *errors.MedcaseError) string {
	if name, ok := e.Details["stage"].(string); ok {
		if st, ok := stage.Parse(name); ok {
			return st.Label()
		}
		return name
	}
	return ""
}

// SendMessageOutput is the outcome of one conversational turn.
type SendMessageOutput struct {
	BotText        string `json:"bot_text"`
	StageCompleted bool   `json:"stage_completed"`
	Failed         bool   `json:"-"`
}

// SendMessage applies one user message to the session: the user turn and the
// tutor's reply are appended together, and the stage closes when the reply
// contains a pass phrase. A completed stage refuses further messages; an
// empty message changes nothing.
func SendMessage(ctx context.Context, t *Tutor, state *session.State, c *clinical.Case, st stage.Stage, message string) (*SendMessageOutput, error) {
	if st.IsTerminal() {
		return nil, errors.NewInvalidRequest("messages cannot be sent to the summary stage")
	}
	state.Activate(c.Slug)
	if state.IsCompleted(st) {
		return nil, errors.NewStageCompleted(st.String())
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return &SendMessageOutput{StageCompleted: state.IsCompleted(st)}, nil
	}

	out := Reply(ctx, t, ReplyInput{Case: c, Stage: st, Message: message, Chats: state.Chats})

	state.Chats.Append(st, clinical.RoleUser, message)
	state.Chats.Append(st, clinical.RoleAssistant, out.Text)

	if !out.Failed() && clinical.MatchesAny(out.Text, st.PassPhrases()) {
		state.MarkCompleted(st)
	}

	return &SendMessageOutput{
		BotText:        out.Text,
		StageCompleted: state.IsCompleted(st),
		Failed:         out.Failed(),
	}, nil
}
