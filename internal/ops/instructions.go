package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/config"
	"github.com/hpungsan/medcase/internal/db"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/prompt"
	"github.com/hpungsan/medcase/internal/stage"
)

// InstructionDetail is a full instruction as returned to operators.
type InstructionDetail struct {
	ID        string  `json:"id"`
	CaseID    *string `json:"case_id"`
	Scope     string  `json:"scope"`
	Stage     string  `json:"stage"`
	Label     string  `json:"label"`
	Body      string  `json:"body"`
	Active    bool    `json:"active"`
	Version   int     `json:"version"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

func toInstructionDetail(i *clinical.Instruction) *InstructionDetail {
	return &InstructionDetail{
		ID:        i.ID,
		CaseID:    i.CaseID,
		Scope:     i.Scope(),
		Stage:     i.Stage.String(),
		Label:     i.Stage.Label(),
		Body:      i.Body,
		Active:    i.Active,
		Version:   i.Version,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
}

// StoreInstructionInput contains parameters for the StoreInstruction operation.
type StoreInstructionInput struct {
	// Owning case; both empty stores a global instruction.
	CaseID   string
	CaseSlug string

	Stage   string // required
	Body    string // required
	Active  *bool  // default: true
	Version int    // 0 = next version in the (case, stage) scope
}

// StoreInstructionOutput contains the result of the StoreInstruction operation.
type StoreInstructionOutput struct {
	ID      string  `json:"id"`
	CaseID  *string `json:"case_id"`
	Stage   string  `json:"stage"`
	Version int     `json:"version"`
	Active  bool    `json:"active"`
}

// StoreInstruction lints and stores a new instruction version.
func StoreInstruction(ctx context.Context, database *sql.DB, cfg *config.Config, input StoreInstructionInput) (*StoreInstructionOutput, error) {
	st, err := parseStage(input.Stage)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Body) == "" {
		return nil, errors.NewInvalidRequest("body is required")
	}
	if err := lintBody(input.Body, cfg); err != nil {
		return nil, err
	}

	caseID, err := resolveCaseScope(ctx, database, input.CaseID, input.CaseSlug)
	if err != nil {
		return nil, err
	}

	next, err := db.NextInstructionVersion(ctx, database, caseID, st)
	if err != nil {
		return nil, err
	}
	version := next
	if input.Version != 0 {
		if input.Version < next {
			return nil, errors.NewConflict(fmt.Sprintf("version %d is taken in this scope; next free version is %d", input.Version, next))
		}
		version = input.Version
	}

	active := true
	if input.Active != nil {
		active = *input.Active
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := db.Now()

	inst := &clinical.Instruction{
		ID:        id,
		CaseID:    caseID,
		Stage:     st,
		Body:      input.Body,
		Active:    active,
		Version:   version,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.InsertInstruction(ctx, database, inst); err != nil {
		return nil, err
	}

	return &StoreInstructionOutput{
		ID:      inst.ID,
		CaseID:  inst.CaseID,
		Stage:   inst.Stage.String(),
		Version: inst.Version,
		Active:  inst.Active,
	}, nil
}

// UpdateInstructionInput contains parameters for the UpdateInstruction operation.
type UpdateInstructionInput struct {
	ID string // required

	// Editable fields (nil = don't change)
	Body   *string
	Active *bool
}

// UpdateInstruction edits an instruction in place. Body edits are linted.
func UpdateInstruction(ctx context.Context, database *sql.DB, cfg *config.Config, input UpdateInstructionInput) (*InstructionDetail, error) {
	if strings.TrimSpace(input.ID) == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	if input.Body == nil && input.Active == nil {
		return nil, errors.NewInvalidRequest("at least one editable field must be provided")
	}

	inst, err := db.GetInstruction(ctx, database, input.ID)
	if err != nil {
		return nil, err
	}

	if input.Body != nil {
		if strings.TrimSpace(*input.Body) == "" {
			return nil, errors.NewInvalidRequest("body must not be empty")
		}
		if err := lintBody(*input.Body, cfg); err != nil {
			return nil, err
		}
		inst.Body = *input.Body
	}
	if input.Active != nil {
		inst.Active = *input.Active
	}

	if err := db.UpdateInstruction(ctx, database, inst); err != nil {
		return nil, err
	}
	return toInstructionDetail(inst), nil
}

// DeactivateInstruction soft-disables an instruction so resolution skips it.
func DeactivateInstruction(ctx context.Context, database *sql.DB, id string) (*InstructionDetail, error) {
	inactive := false
	return UpdateInstruction(ctx, database, nil, UpdateInstructionInput{ID: id, Active: &inactive})
}

// GetInstruction returns one instruction by ID.
func GetInstruction(ctx context.Context, database *sql.DB, id string) (*InstructionDetail, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	inst, err := db.GetInstruction(ctx, database, id)
	if err != nil {
		return nil, err
	}
	return toInstructionDetail(inst), nil
}

// ListInstructionsInput contains parameters for the ListInstructions operation.
type ListInstructionsInput struct {
	CaseID     string
	CaseSlug   string
	GlobalOnly bool
	Stage      string
	Active     *bool
	Limit      int // default: 20, max: 100
	Offset     int
}

// ListInstructionsOutput contains the result of the ListInstructions operation.
type ListInstructionsOutput struct {
	Items      []clinical.InstructionSummary `json:"items"`
	Pagination Pagination                    `json:"pagination"`
	Sort       string                        `json:"sort"`
}

// ListInstructions lists instruction summaries filtered by scope, stage and
// active flag.
func ListInstructions(ctx context.Context, database *sql.DB, input ListInstructionsInput) (*ListInstructionsOutput, error) {
	filter := db.InstructionFilter{
		GlobalOnly: input.GlobalOnly,
		Active:     input.Active,
		Limit:      clampLimit(input.Limit, DefaultListLimit, MaxListLimit),
		Offset:     max(input.Offset, 0),
	}

	if input.GlobalOnly && (input.CaseID != "" || input.CaseSlug != "") {
		return nil, errors.NewInvalidRequest("global_only cannot be combined with a case")
	}
	caseID, err := resolveCaseScope(ctx, database, input.CaseID, input.CaseSlug)
	if err != nil {
		return nil, err
	}
	filter.CaseID = caseID

	if strings.TrimSpace(input.Stage) != "" {
		st, err := parseStage(input.Stage)
		if err != nil {
			return nil, err
		}
		filter.Stage = &st
	}

	list, total, err := db.ListInstructions(ctx, database, filter)
	if err != nil {
		return nil, err
	}

	items := make([]clinical.InstructionSummary, 0, len(list))
	for _, inst := range list {
		items = append(items, inst.ToSummary())
	}

	return &ListInstructionsOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   filter.Limit,
			Offset:  filter.Offset,
			HasMore: filter.Offset+len(items) < total,
			Total:   total,
		},
		Sort: "scope_stage_version_desc",
	}, nil
}

// ResolveInstructionInput contains parameters for the ResolveInstruction operation.
type ResolveInstructionInput struct {
	CaseID   string
	CaseSlug string
	Stage    string
}

// ResolveInstructionOutput reports the instruction a conversation would use.
type ResolveInstructionOutput struct {
	Found       bool               `json:"found"`
	Instruction *InstructionDetail `json:"instruction,omitempty"`
}

// ResolveInstruction returns the instruction in effect for (case, stage).
// Absence is a normal result, not an error.
func ResolveInstruction(ctx context.Context, database *sql.DB, input ResolveInstructionInput) (*ResolveInstructionOutput, error) {
	st, err := parseStage(input.Stage)
	if err != nil {
		return nil, err
	}
	c, err := getCase(ctx, database, input.CaseID, input.CaseSlug)
	if err != nil {
		return nil, err
	}

	inst, err := resolve(ctx, database, c, st)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return &ResolveInstructionOutput{Found: false}, nil
	}
	return &ResolveInstructionOutput{Found: true, Instruction: toInstructionDetail(inst)}, nil
}

// PreviewInstructionInput contains parameters for the PreviewInstruction operation.
type PreviewInstructionInput struct {
	CaseID   string
	CaseSlug string
	Stage    string

	// Body previews an unsaved template instead of the resolved one.
	Body *string

	UserAnswers []string
	BotAnswers  []string
	Message     string
}

// PreviewInstructionOutput contains the rendered instruction.
type PreviewInstructionOutput struct {
	InstructionID string `json:"instruction_id,omitempty"`
	Version       int    `json:"version,omitempty"`
	Scope         string `json:"scope"`
	Rendered      string `json:"rendered"`
}

// PreviewInstruction renders the instruction for (case, stage) with sample
// answers, exactly as a conversation turn would.
func PreviewInstruction(ctx context.Context, database *sql.DB, input PreviewInstructionInput) (*PreviewInstructionOutput, error) {
	st, err := parseStage(input.Stage)
	if err != nil {
		return nil, err
	}
	c, err := getCase(ctx, database, input.CaseID, input.CaseSlug)
	if err != nil {
		return nil, err
	}

	var inst *clinical.Instruction
	out := &PreviewInstructionOutput{}
	if input.Body != nil {
		inst = &clinical.Instruction{Stage: st, Body: *input.Body, Active: true}
		out.Scope = "DRAFT"
	} else {
		inst, err = resolve(ctx, database, c, st)
		if err != nil {
			return nil, err
		}
		if inst == nil {
			return nil, errors.NewNoInstruction(st.String(), c.Slug)
		}
		out.InstructionID = inst.ID
		out.Version = inst.Version
		out.Scope = inst.Scope()
	}

	rendered, err := prompt.Render(inst, c, prompt.RenderInput{
		UserAnswers: prompt.Lines(input.UserAnswers),
		BotAnswers:  prompt.Lines(input.BotAnswers),
		ActualMsg:   input.Message,
	})
	if err != nil {
		return nil, errors.NewTemplate(err)
	}
	out.Rendered = rendered
	return out, nil
}

// resolve picks the active instruction for (case, stage), or nil.
func resolve(ctx context.Context, database *sql.DB, c *clinical.Case, st stage.Stage) (*clinical.Instruction, error) {
	candidates, err := db.ListResolveCandidates(ctx, database, c.ID, st)
	if err != nil {
		return nil, err
	}
	return prompt.Select(candidates, c.ID, st), nil
}

// resolveCaseScope maps optional case addressing to a case ID; nil means global.
func resolveCaseScope(ctx context.Context, database *sql.DB, id, slug string) (*string, error) {
	if strings.TrimSpace(id) == "" && strings.TrimSpace(slug) == "" {
		return nil, nil
	}
	c, err := getCase(ctx, database, id, slug)
	if err != nil {
		return nil, err
	}
	return &c.ID, nil
}

// parseStage accepts the conversational stages only; the summary stage has
// no instructions.
func parseStage(name string) (stage.Stage, error) {
	st, ok := stage.Parse(strings.TrimSpace(name))
	if !ok || st.IsTerminal() {
		valid := make([]string, 0, len(stage.Core()))
		for _, s := range stage.Core() {
			valid = append(valid, s.String())
		}
		return 0, errors.NewInvalidRequest(fmt.Sprintf("unknown stage %q; valid stages: %s", name, strings.Join(valid, ", ")))
	}
	return st, nil
}

// lintBody rejects oversized bodies and bodies that would fail to render.
func lintBody(body string, cfg *config.Config) error {
	maxChars := 0
	if cfg != nil {
		maxChars = cfg.InstructionMaxChars
	}
	result := prompt.Lint(prompt.LintInput{Body: body, MaxChars: maxChars})
	if result.TooLarge {
		return errors.NewInstructionTooLarge(result.MaxChars, result.ActualChars)
	}
	if result.SyntaxError != "" {
		e := errors.NewTemplate(fmt.Errorf("%s", result.SyntaxError))
		e.Details = map[string]any{"allowed_fields": prompt.Fields}
		return e
	}
	if len(result.UnknownFields) > 0 {
		e := errors.NewTemplate(fmt.Errorf("unknown placeholders: %s", strings.Join(result.UnknownFields, ", ")))
		e.Details = map[string]any{
			"unknown_fields": result.UnknownFields,
			"allowed_fields": prompt.Fields,
		}
		return e
	}
	return nil
}
