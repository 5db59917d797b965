package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/medcase/internal/config"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/logger"
	"github.com/hpungsan/medcase/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db     *sql.DB
	cfg    *config.Config
	policy ops.PathPolicy
	log    *logger.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config, policy ops.PathPolicy, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Nop()
	}
	return &Handlers{db: db, cfg: cfg, policy: policy, log: log}
}

// Request types for each tool

// CaseAddressRequest addresses a case by id or slug.
type CaseAddressRequest struct {
	ID   string `json:"id,omitempty"`
	Slug string `json:"slug,omitempty"`
}

// CaseListRequest represents the arguments for case_list.
type CaseListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// CaseStoreRequest represents the arguments for case_store.
type CaseStoreRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
	ops.CaseFields
}

// CaseUpdateRequest represents the arguments for case_update.
type CaseUpdateRequest struct {
	ID              string  `json:"id,omitempty"`
	Slug            string  `json:"slug,omitempty"`
	Name            *string `json:"name,omitempty"`
	Content         *string `json:"content,omitempty"`
	DiagnosticsNorm *string `json:"diagnostics_norm,omitempty"`
	PrelimDxRaw     *string `json:"prelim_dx_raw,omitempty"`
	MedsNorm        *string `json:"meds_norm,omitempty"`
	RecoNorm        *string `json:"reco_norm,omitempty"`
	DispoNorm       *string `json:"dispo_norm,omitempty"`
}

// CaseSearchRequest represents the arguments for case_search.
type CaseSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// CaseExportRequest represents the arguments for case_export.
type CaseExportRequest struct {
	Path     string `json:"path,omitempty"`
	CaseSlug string `json:"case_slug,omitempty"`
}

// CaseImportRequest represents the arguments for case_import.
type CaseImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// InstructionStoreRequest represents the arguments for instruction_store.
type InstructionStoreRequest struct {
	CaseID   string `json:"case_id,omitempty"`
	CaseSlug string `json:"case_slug,omitempty"`
	Stage    string `json:"stage"`
	Body     string `json:"body"`
	Active   *bool  `json:"active,omitempty"`
	Version  int    `json:"version,omitempty"`
}

// InstructionUpdateRequest represents the arguments for instruction_update.
type InstructionUpdateRequest struct {
	ID     string  `json:"id"`
	Body   *string `json:"body,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// InstructionIDRequest addresses one instruction.
type InstructionIDRequest struct {
	ID string `json:"id"`
}

// InstructionListRequest represents the arguments for instruction_list.
type InstructionListRequest struct {
	CaseID     string `json:"case_id,omitempty"`
	CaseSlug   string `json:"case_slug,omitempty"`
	GlobalOnly bool   `json:"global_only,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Active     *bool  `json:"active,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// InstructionResolveRequest represents the arguments for instruction_resolve.
type InstructionResolveRequest struct {
	CaseID   string `json:"case_id,omitempty"`
	CaseSlug string `json:"case_slug,omitempty"`
	Stage    string `json:"stage"`
}

// InstructionPreviewRequest represents the arguments for instruction_preview.
type InstructionPreviewRequest struct {
	CaseID      string   `json:"case_id,omitempty"`
	CaseSlug    string   `json:"case_slug,omitempty"`
	Stage       string   `json:"stage"`
	Body        *string  `json:"body,omitempty"`
	UserAnswers []string `json:"user_answers,omitempty"`
	BotAnswers  []string `json:"bot_answers,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// AttemptListRequest represents the arguments for attempt_list.
type AttemptListRequest struct {
	Username string `json:"username"`
}

// Handler implementations

// HandleCaseList handles the case_list tool call.
func (h *Handlers) HandleCaseList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaseListRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.ListCases(ctx, h.db, ops.ListCasesInput{Limit: input.Limit, Offset: input.Offset}))
}

// HandleCaseGet handles the case_get tool call.
func (h *Handlers) HandleCaseGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaseAddressRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.GetCase(ctx, h.db, ops.GetCaseInput{ID: input.ID, Slug: input.Slug}))
}

// HandleCaseStore handles the case_store tool call.
func (h *Handlers) HandleCaseStore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaseStoreRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.CreateCase(ctx, h.db, ops.CreateCaseInput{
		Name:       input.Name,
		Slug:       input.Slug,
		CaseFields: input.CaseFields,
	}))
}

// HandleCaseUpdate handles the case_update tool call.
func (h *Handlers) HandleCaseUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaseUpdateRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.UpdateCase(ctx, h.db, ops.UpdateCaseInput{
		ID:              input.ID,
		Slug:            input.Slug,
		Name:            input.Name,
		Content:         input.Content,
		DiagnosticsNorm: input.DiagnosticsNorm,
		PrelimDxRaw:     input.PrelimDxRaw,
		MedsNorm:        input.MedsNorm,
		RecoNorm:        input.RecoNorm,
		DispoNorm:       input.DispoNorm,
	}))
}

// HandleCaseDelete handles the case_delete tool call.
func (h *Handlers) HandleCaseDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaseAddressRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.DeleteCase(ctx, h.db, ops.DeleteCaseInput{ID: input.ID, Slug: input.Slug}))
}

// HandleCaseSearch handles the case_search tool call.
func (h *Handlers) HandleCaseSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaseSearchRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.SearchCases(ctx, h.db, ops.SearchCasesInput{Query: input.Query, Limit: input.Limit}))
}

// HandleCaseExport handles the case_export tool call.
func (h *Handlers) HandleCaseExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaseExportRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.Export(ctx, h.db, h.policy, ops.ExportInput{Path: input.Path, CaseSlug: input.CaseSlug}))
}

// HandleCaseImport handles the case_import tool call.
func (h *Handlers) HandleCaseImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaseImportRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.Import(ctx, h.db, h.policy, ops.ImportInput{Path: input.Path, Mode: ops.ImportMode(input.Mode)}))
}

// HandleInstructionStore handles the instruction_store tool call.
func (h *Handlers) HandleInstructionStore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InstructionStoreRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.StoreInstruction(ctx, h.db, h.cfg, ops.StoreInstructionInput{
		CaseID:   input.CaseID,
		CaseSlug: input.CaseSlug,
		Stage:    input.Stage,
		Body:     input.Body,
		Active:   input.Active,
		Version:  input.Version,
	}))
}

// HandleInstructionUpdate handles the instruction_update tool call.
func (h *Handlers) HandleInstructionUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InstructionUpdateRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.UpdateInstruction(ctx, h.db, h.cfg, ops.UpdateInstructionInput{
		ID:     input.ID,
		Body:   input.Body,
		Active: input.Active,
	}))
}

// HandleInstructionList handles the instruction_list tool call.
func (h *Handlers) HandleInstructionList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InstructionListRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.ListInstructions(ctx, h.db, ops.ListInstructionsInput{
		CaseID:     input.CaseID,
		CaseSlug:   input.CaseSlug,
		GlobalOnly: input.GlobalOnly,
		Stage:      input.Stage,
		Active:     input.Active,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}))
}

// HandleInstructionDeactivate handles the instruction_deactivate tool call.
func (h *Handlers) HandleInstructionDeactivate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InstructionIDRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.DeactivateInstruction(ctx, h.db, input.ID))
}

// HandleInstructionResolve handles the instruction_resolve tool call.
func (h *Handlers) HandleInstructionResolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InstructionResolveRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.ResolveInstruction(ctx, h.db, ops.ResolveInstructionInput{
		CaseID:   input.CaseID,
		CaseSlug: input.CaseSlug,
		Stage:    input.Stage,
	}))
}

// HandleInstructionPreview handles the instruction_preview tool call.
func (h *Handlers) HandleInstructionPreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InstructionPreviewRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.PreviewInstruction(ctx, h.db, ops.PreviewInstructionInput{
		CaseID:      input.CaseID,
		CaseSlug:    input.CaseSlug,
		Stage:       input.Stage,
		Body:        input.Body,
		UserAnswers: input.UserAnswers,
		BotAnswers:  input.BotAnswers,
		Message:     input.Message,
	}))
}

// HandleAttemptList handles the attempt_list tool call.
func (h *Handlers) HandleAttemptList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AttemptListRequest](req)
	if err != nil {
		return h.errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.result(ops.ListUserAttempts(ctx, h.db, input.Username))
}

// Result helpers

// result turns an operation's return values into a tool result.
func (h *Handlers) result(data any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return h.errorResult(err), nil
	}
	return successResult(data)
}

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are logged, never returned.
func (h *Handlers) errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var mErr *errors.MedcaseError
	if stderrors.As(err, &mErr) && mErr.Code != errors.ErrInternal {
		errorObj := map[string]any{
			"code":    mErr.Code,
			"message": mErr.Message,
			"status":  mErr.Status,
		}
		if mErr.Details != nil {
			errorObj["details"] = mErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		h.log.Error("tool call failed", "error", err.Error())
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
