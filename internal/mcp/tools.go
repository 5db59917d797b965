package mcp

import "github.com/mark3labs/mcp-go/mcp"

const stageDescription = "Stage: diagnostics, first_exam, meds, reco or dispo"

var caseFieldOptions = []mcp.ToolOption{
	mcp.WithString("content", mcp.Description("Case description shown to the student (Markdown)")),
	mcp.WithString("diagnostics_norm", mcp.Description("Expected diagnostic workup")),
	mcp.WithString("prelim_dx_raw", mcp.Description("Expected preliminary diagnosis")),
	mcp.WithString("meds_norm", mcp.Description("Expected acute treatment")),
	mcp.WithString("reco_norm", mcp.Description("Expected post-treatment recommendations")),
	mcp.WithString("dispo_norm", mcp.Description("Expected disposition")),
}

func withCaseFields(opts ...mcp.ToolOption) []mcp.ToolOption {
	return append(opts, caseFieldOptions...)
}

var caseListToolDef = mcp.NewTool("case_list",
	mcp.WithDescription("List clinical cases ordered by name."),
	mcp.WithNumber("limit", mcp.Description("Max results (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Results to skip")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var caseGetToolDef = mcp.NewTool("case_get",
	mcp.WithDescription("Get one case with all expected answers. Address by id or slug, not both."),
	mcp.WithString("id", mcp.Description("Case ULID")),
	mcp.WithString("slug", mcp.Description("Case slug")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var caseStoreToolDef = mcp.NewTool("case_store", withCaseFields(
	mcp.WithDescription("Create a case. The slug is derived from the name unless given and never changes."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Unique case name")),
	mcp.WithString("slug", mcp.Description("Optional URL slug")),
)...)

var caseUpdateToolDef = mcp.NewTool("case_update", withCaseFields(
	mcp.WithDescription("Update case fields. Omitted fields are unchanged; renaming keeps the slug."),
	mcp.WithString("id", mcp.Description("Case ULID")),
	mcp.WithString("slug", mcp.Description("Case slug")),
	mcp.WithString("name", mcp.Description("New unique name")),
)...)

var caseDeleteToolDef = mcp.NewTool("case_delete",
	mcp.WithDescription("Delete a case with its instructions and recorded attempts."),
	mcp.WithString("id", mcp.Description("Case ULID")),
	mcp.WithString("slug", mcp.Description("Case slug")),
	mcp.WithDestructiveHintAnnotation(true),
)

var caseSearchToolDef = mcp.NewTool("case_search",
	mcp.WithDescription("Search cases by name, slug, description and preliminary diagnosis."),
	mcp.WithString("query", mcp.Required(), mcp.Description("Text to find")),
	mcp.WithNumber("limit", mcp.Description("Max results (default 20, max 100)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var caseExportToolDef = mcp.NewTool("case_export",
	mcp.WithDescription("Export cases and their instructions to a JSONL file."),
	mcp.WithString("path", mcp.Description("Destination .jsonl path (default: exports directory)")),
	mcp.WithString("case_slug", mcp.Description("Export only this case")),
)

var caseImportToolDef = mcp.NewTool("case_import",
	mcp.WithDescription("Import cases and instructions from a JSONL export."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Source .jsonl path")),
	mcp.WithString("mode", mcp.Enum("error", "replace"), mcp.Description("error: all-or-nothing; replace: overwrite matches, skip bad records")),
)

var instructionStoreToolDef = mcp.NewTool("instruction_store",
	mcp.WithDescription("Store a stage instruction template. Omit the case for a global instruction. Placeholders: {case_norm} {prelim_dx} {user_answers} {bot_answers} {actual_msg}."),
	mcp.WithString("case_id", mcp.Description("Owning case ULID")),
	mcp.WithString("case_slug", mcp.Description("Owning case slug")),
	mcp.WithString("stage", mcp.Required(), mcp.Description(stageDescription)),
	mcp.WithString("body", mcp.Required(), mcp.Description("Template body")),
	mcp.WithBoolean("active", mcp.Description("Active flag (default true)")),
	mcp.WithNumber("version", mcp.Description("Explicit version; default is the next one in scope")),
)

var instructionUpdateToolDef = mcp.NewTool("instruction_update",
	mcp.WithDescription("Edit an instruction body or active flag in place."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Instruction ULID")),
	mcp.WithString("body", mcp.Description("New template body")),
	mcp.WithBoolean("active", mcp.Description("New active flag")),
)

var instructionListToolDef = mcp.NewTool("instruction_list",
	mcp.WithDescription("List instructions, global ones first."),
	mcp.WithString("case_id", mcp.Description("Filter by case ULID")),
	mcp.WithString("case_slug", mcp.Description("Filter by case slug")),
	mcp.WithBoolean("global_only", mcp.Description("Only global instructions")),
	mcp.WithString("stage", mcp.Description(stageDescription)),
	mcp.WithBoolean("active", mcp.Description("Filter by active flag")),
	mcp.WithNumber("limit", mcp.Description("Max results (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Results to skip")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var instructionDeactivateToolDef = mcp.NewTool("instruction_deactivate",
	mcp.WithDescription("Deactivate an instruction; resolution falls back to the next candidate."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Instruction ULID")),
)

var instructionResolveToolDef = mcp.NewTool("instruction_resolve",
	mcp.WithDescription("Show which instruction a conversation on (case, stage) would use."),
	mcp.WithString("case_id", mcp.Description("Case ULID")),
	mcp.WithString("case_slug", mcp.Description("Case slug")),
	mcp.WithString("stage", mcp.Required(), mcp.Description(stageDescription)),
	mcp.WithReadOnlyHintAnnotation(true),
)

var instructionPreviewToolDef = mcp.NewTool("instruction_preview",
	mcp.WithDescription("Render the instruction for (case, stage) with sample answers, or render a draft body."),
	mcp.WithString("case_id", mcp.Description("Case ULID")),
	mcp.WithString("case_slug", mcp.Description("Case slug")),
	mcp.WithString("stage", mcp.Required(), mcp.Description(stageDescription)),
	mcp.WithString("body", mcp.Description("Draft body to render instead of the resolved instruction")),
	mcp.WithArray("user_answers", mcp.Items(map[string]any{"type": "string"}), mcp.Description("Earlier student messages")),
	mcp.WithArray("bot_answers", mcp.Items(map[string]any{"type": "string"}), mcp.Description("Earlier tutor replies")),
	mcp.WithString("message", mcp.Description("Current student message")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var attemptListToolDef = mcp.NewTool("attempt_list",
	mcp.WithDescription("List a user's finished attempts grouped by case."),
	mcp.WithString("username", mcp.Required(), mcp.Description("Account username")),
	mcp.WithReadOnlyHintAnnotation(true),
)
