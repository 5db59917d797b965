package clinical

// CaseSummary represents a case's metadata without the description and answers.
// Used for browse operations (list, search, home page).
type CaseSummary struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// ToSummary converts a Case to a CaseSummary.
func (c *Case) ToSummary() CaseSummary {
	return CaseSummary{
		ID:        c.ID,
		Slug:      c.Slug,
		Name:      c.Name,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// InstructionSummary represents an instruction without its body.
type InstructionSummary struct {
	ID        string  `json:"id"`
	CaseID    *string `json:"case_id"`
	Stage     string  `json:"stage"`
	Label     string  `json:"label"`
	Active    bool    `json:"active"`
	Version   int     `json:"version"`
	BodyChars int     `json:"body_chars"`
	UpdatedAt int64   `json:"updated_at"`
}

// ToSummary converts an Instruction to an InstructionSummary.
func (i *Instruction) ToSummary() InstructionSummary {
	return InstructionSummary{
		ID:        i.ID,
		CaseID:    i.CaseID,
		Stage:     i.Stage.String(),
		Label:     i.Stage.Label(),
		Active:    i.Active,
		Version:   i.Version,
		BodyChars: CountChars(i.Body),
		UpdatedAt: i.UpdatedAt,
	}
}
