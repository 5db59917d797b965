package clinical

import "github.com/hpungsan/medcase/internal/stage"

// Record kinds in an export file.
const (
	KindCase        = "case"
	KindInstruction = "instruction"
)

// ExportRecord represents one line of a JSONL export. The first line is a
// header; every other line carries a case or an instruction.
type ExportRecord struct {
	// Header detection field - true only for header line
	MedcaseExport bool `json:"_medcase_export,omitempty"`

	// Header fields (only present in header line)
	SchemaVersion string `json:"schema_version,omitempty"`
	ExportedAt    int64  `json:"exported_at,omitempty"`

	Kind string `json:"kind,omitempty"`
	ID   string `json:"id,omitempty"`

	// Case fields
	Slug            string `json:"slug,omitempty"`
	Name            string `json:"name,omitempty"`
	Content         string `json:"content,omitempty"`
	DiagnosticsNorm string `json:"diagnostics_norm,omitempty"`
	PrelimDxRaw     string `json:"prelim_dx_raw,omitempty"`
	MedsNorm        string `json:"meds_norm,omitempty"`
	RecoNorm        string `json:"reco_norm,omitempty"`
	DispoNorm       string `json:"dispo_norm,omitempty"`

	// Instruction fields. CaseSlug is used on import to find the owning case,
	// since case IDs may differ between databases.
	CaseSlug *string `json:"case_slug,omitempty"`
	Stage    string  `json:"stage,omitempty"`
	Body     string  `json:"body,omitempty"`
	Active   *bool   `json:"active,omitempty"`
	Version  int     `json:"version,omitempty"`

	CreatedAt int64 `json:"created_at,omitempty"`
	UpdatedAt int64 `json:"updated_at,omitempty"`
}

// CaseToExportRecord converts a Case to an ExportRecord.
func CaseToExportRecord(c *Case) *ExportRecord {
	return &ExportRecord{
		Kind:            KindCase,
		ID:              c.ID,
		Slug:            c.Slug,
		Name:            c.Name,
		Content:         c.Content,
		DiagnosticsNorm: c.DiagnosticsNorm,
		PrelimDxRaw:     c.PrelimDxRaw,
		MedsNorm:        c.MedsNorm,
		RecoNorm:        c.RecoNorm,
		DispoNorm:       c.DispoNorm,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

// ToCase converts an ExportRecord to a Case. An empty slug is re-derived from the name.
func (r *ExportRecord) ToCase() *Case {
	slug := r.Slug
	if slug == "" {
		slug = Slugify(r.Name)
	}
	return &Case{
		ID:              r.ID,
		Slug:            slug,
		Name:            r.Name,
		Content:         r.Content,
		DiagnosticsNorm: r.DiagnosticsNorm,
		PrelimDxRaw:     r.PrelimDxRaw,
		MedsNorm:        r.MedsNorm,
		RecoNorm:        r.RecoNorm,
		DispoNorm:       r.DispoNorm,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// InstructionToExportRecord converts an Instruction to an ExportRecord.
// caseSlug is nil for global instructions.
func InstructionToExportRecord(i *Instruction, caseSlug *string) *ExportRecord {
	active := i.Active
	return &ExportRecord{
		Kind:      KindInstruction,
		ID:        i.ID,
		CaseSlug:  caseSlug,
		Stage:     i.Stage.String(),
		Body:      i.Body,
		Active:    &active,
		Version:   i.Version,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
}

// ToInstruction converts an ExportRecord to an Instruction. The caller
// resolves CaseSlug to a case ID. ok is false for an unknown stage.
func (r *ExportRecord) ToInstruction(caseID *string) (*Instruction, bool) {
	st, ok := stage.Parse(r.Stage)
	if !ok {
		return nil, false
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	version := r.Version
	if version < 1 {
		version = 1
	}
	return &Instruction{
		ID:        r.ID,
		CaseID:    caseID,
		Stage:     st,
		Body:      r.Body,
		Active:    active,
		Version:   version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, true
}
