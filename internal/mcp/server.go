package mcp

import (
	"context"
	"database/sql"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/medcase/internal/config"
	"github.com/hpungsan/medcase/internal/logger"
	"github.com/hpungsan/medcase/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"case", "instruction", "attempt"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"case_list": {
		def:     caseListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaseList },
	},
	"case_get": {
		def:     caseGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaseGet },
	},
	"case_store": {
		def:     caseStoreToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaseStore },
	},
	"case_update": {
		def:     caseUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaseUpdate },
	},
	"case_delete": {
		def:     caseDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaseDelete },
	},
	"case_search": {
		def:     caseSearchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaseSearch },
	},
	"case_export": {
		def:     caseExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaseExport },
	},
	"case_import": {
		def:     caseImportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaseImport },
	},
	"instruction_store": {
		def:     instructionStoreToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleInstructionStore },
	},
	"instruction_update": {
		def:     instructionUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleInstructionUpdate },
	},
	"instruction_list": {
		def:     instructionListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleInstructionList },
	},
	"instruction_deactivate": {
		def:     instructionDeactivateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleInstructionDeactivate },
	},
	"instruction_resolve": {
		def:     instructionResolveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleInstructionResolve },
	},
	"instruction_preview": {
		def:     instructionPreviewToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleInstructionPreview },
	},
	"attempt_list": {
		def:     attemptListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAttemptList },
	},
}

// AllToolNames returns a sorted list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if !slices.Contains(KnownTypes, name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "case_store" → "case").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if slices.Contains(types, GetTypeForTool(name)) {
			tools = append(tools, name)
		}
	}
	return tools
}

// enabledTools returns the registry names left after cfg's filters, sorted.
func enabledTools(cfg *config.Config) []string {
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	names := make([]string, 0, len(toolRegistry))
	for _, name := range AllToolNames() {
		if !disabled[name] {
			names = append(names, name)
		}
	}
	return names
}

// NewServer creates a new MCP server with the operator tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(db *sql.DB, cfg *config.Config, policy ops.PathPolicy, log *logger.Logger, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"medcase",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, policy, log)
	for _, name := range enabledTools(cfg) {
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, policy ops.PathPolicy, log *logger.Logger, version string) error {
	s := NewServer(db, cfg, policy, log, version)
	log.Info("mcp server starting", "tools", len(enabledTools(cfg)))
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
