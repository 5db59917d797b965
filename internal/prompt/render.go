package prompt

import (
	"strings"

	"github.com/hpungsan/medcase/internal/clinical"
)

// Placeholder names available to instruction bodies.
const (
	FieldCaseNorm    = "case_norm"
	FieldPrelimDx    = "prelim_dx"
	FieldUserAnswers = "user_answers"
	FieldBotAnswers  = "bot_answers"
	FieldActualMsg   = "actual_msg"
)

// Fields lists every placeholder an instruction body may use.
var Fields = []string{FieldCaseNorm, FieldPrelimDx, FieldUserAnswers, FieldBotAnswers, FieldActualMsg}

// Answers is prior conversation text: either a sequence of messages or an
// already-joined string. The zero value renders as "".
type Answers struct {
	lines  []string
	text   string
	joined bool
}

// Lines builds Answers from a sequence, rendered newline-joined.
func Lines(lines []string) Answers {
	return Answers{lines: lines}
}

// Text builds Answers from an already-joined string.
func Text(s string) Answers {
	return Answers{text: s, joined: true}
}

// String renders the answers.
func (a Answers) String() string {
	if a.joined {
		return a.text
	}
	return strings.Join(a.lines, "\n")
}

// RenderInput is the conversation context for a render.
type RenderInput struct {
	UserAnswers Answers
	BotAnswers  Answers
	ActualMsg   string
}

// Render fills an instruction body for a case. It fails with *TemplateError
// when the body uses a placeholder outside Fields or has malformed braces;
// no partial output is returned in that case.
func Render(inst *clinical.Instruction, c *clinical.Case, in RenderInput) (string, error) {
	values := map[string]string{
		FieldCaseNorm:    c.NormFor(inst.Stage),
		FieldPrelimDx:    c.PrelimDxRaw,
		FieldUserAnswers: in.UserAnswers.String(),
		FieldBotAnswers:  in.BotAnswers.String(),
		FieldActualMsg:   in.ActualMsg,
	}
	return format(inst.Body, values)
}
