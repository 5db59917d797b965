package clinical

import "github.com/hpungsan/medcase/internal/stage"

// Roles of a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a stage conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Chats holds the conversation of each stage. Only stages with at least one
// turn have an entry.
type Chats map[stage.Stage][]Turn

// Texts returns the texts of all turns with the given role, in order.
func (c Chats) Texts(s stage.Stage, role string) []string {
	var out []string
	for _, t := range c[s] {
		if t.Role == role {
			out = append(out, t.Text)
		}
	}
	return out
}

// UserTexts returns the user's messages for a stage.
func (c Chats) UserTexts(s stage.Stage) []string {
	return c.Texts(s, RoleUser)
}

// AssistantTexts returns the tutor's replies for a stage.
func (c Chats) AssistantTexts(s stage.Stage) []string {
	return c.Texts(s, RoleAssistant)
}

// LastText returns the most recent text with the given role, or "".
func (c Chats) LastText(s stage.Stage, role string) string {
	turns := c[s]
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == role {
			return turns[i].Text
		}
	}
	return ""
}

// Append adds a turn to a stage.
func (c Chats) Append(s stage.Stage, role, text string) {
	c[s] = append(c[s], Turn{Role: role, Text: text})
}

// Clone returns a deep copy.
func (c Chats) Clone() Chats {
	out := make(Chats, len(c))
	for s, turns := range c {
		out[s] = append([]Turn(nil), turns...)
	}
	return out
}

// SummaryNote is the scored assessment stored with a finished attempt.
type SummaryNote struct {
	Score   *int   `json:"score"`
	Verdict string `json:"verdict"`
	Summary string `json:"summary"`
}

// Attempt is an immutable record of one finished case run.
type Attempt struct {
	ID              string
	UserID          string
	CaseID          string
	Chats           Chats
	Summary         SummaryNote
	CompletedStages []stage.Stage
	IsCompleted     bool
	CreatedAt       int64
}

// AttemptGroup aggregates a user's attempts for one case.
type AttemptGroup struct {
	CaseID   string `json:"case_id"`
	CaseSlug string `json:"case_slug"`
	CaseName string `json:"case_name"`
	Count    int    `json:"count"`
	LastAt   int64  `json:"last_at"`
}
