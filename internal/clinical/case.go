package clinical

import (
	"fmt"

	"github.com/hpungsan/medcase/internal/stage"
)

// Case is a clinical scenario a user works through.
type Case struct {
	// ID is a ULID that uniquely identifies this case
	ID string

	// Slug is derived from Name on creation and never changes afterwards
	Slug string

	// Name is the unique display name
	Name string

	// Content is the case description shown to the user (Markdown)
	Content string

	// DiagnosticsNorm is the canonical answer for the diagnostics stage
	DiagnosticsNorm string

	// PrelimDxRaw is the reference preliminary diagnosis, used for the first exam
	PrelimDxRaw string

	// MedsNorm is the canonical answer for the acute treatment stage
	MedsNorm string

	// RecoNorm is the canonical answer for the recommendations stage
	RecoNorm string

	// DispoNorm is the canonical answer for the disposition stage
	DispoNorm string

	// CreatedAt is the Unix millisecond timestamp when the case was created
	CreatedAt int64

	// UpdatedAt is the Unix millisecond timestamp when the case was last updated
	UpdatedAt int64
}

// NormFor returns the canonical answer used as {case_norm} for a stage.
// The first exam and summary stages have no normalized answer and get "".
func (c *Case) NormFor(s stage.Stage) string {
	switch s {
	case stage.Diagnostics:
		return c.DiagnosticsNorm
	case stage.Meds:
		return c.MedsNorm
	case stage.Reco:
		return c.RecoNorm
	case stage.Dispo:
		return c.DispoNorm
	default:
		return ""
	}
}

// Instruction is a stage-scoped prompt template. A nil CaseID makes it global.
type Instruction struct {
	ID        string
	CaseID    *string
	Stage     stage.Stage
	Body      string
	Active    bool
	Version   int
	CreatedAt int64
	UpdatedAt int64
}

// IsGlobal reports whether the instruction applies to every case.
func (i *Instruction) IsGlobal() bool {
	return i.CaseID == nil
}

// Scope returns "GLOBAL" or the owning case ID.
func (i *Instruction) Scope() string {
	if i.CaseID == nil {
		return "GLOBAL"
	}
	return *i.CaseID
}

// String formats the instruction for listings, e.g. "[GLOBAL] Diagnostyka v2 (active)".
func (i *Instruction) String() string {
	state := "inactive"
	if i.Active {
		state = "active"
	}
	return fmt.Sprintf("[%s] %s v%d (%s)", i.Scope(), i.Stage.Label(), i.Version, state)
}

// User is a registered account.
type User struct {
	ID           string
	Username     string
	UsernameNorm string
	PasswordHash string
	CreatedAt    int64
}
