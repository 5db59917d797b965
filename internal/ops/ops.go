package ops

import (
	"crypto/rand"
	"database/sql"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/config"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/llm"
	"github.com/hpungsan/medcase/internal/logger"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Address represents a validated case address.
type Address struct {
	ByID bool
	ID   string
	Slug string
}

// ValidateAddress validates case addressing parameters.
// Rules:
// - Must specify exactly one addressing mode: id OR slug
// - If both are provided → ErrAmbiguousAddressing
// - If neither is provided → ErrInvalidRequest
func ValidateAddress(id, slug string) (*Address, error) {
	id = strings.TrimSpace(id)
	slug = strings.TrimSpace(slug)

	if id != "" && slug != "" {
		return nil, errors.NewAmbiguousAddressing()
	}
	if id == "" && slug == "" {
		return nil, errors.NewInvalidRequest("must specify either id or slug")
	}
	if id != "" {
		return &Address{ByID: true, ID: id}, nil
	}
	return &Address{Slug: strings.ToLower(slug)}, nil
}

// Tutor carries the collaborators of the conversational operations.
type Tutor struct {
	DB     *sql.DB
	Config *config.Config

	// LLM is nil when no model client could be built; LLMErr says why.
	LLM    llm.Client
	LLMErr error

	Log *logger.Logger
}

func (t *Tutor) log() *logger.Logger {
	if t.Log == nil {
		return logger.Nop()
	}
	return t.Log
}

// client returns the model client or the configuration error that prevented it.
func (t *Tutor) client() (llm.Client, error) {
	if t.LLM != nil {
		return t.LLM, nil
	}
	if t.LLMErr != nil {
		return nil, t.LLMErr
	}
	return nil, errors.NewConfiguration("Brak OPENAI_API_KEY w konfiguracji serwera.")
}

// generateULID generates a new ULID.
func generateULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// cleanOptionalString trims a value and treats empty as absent.
func cleanOptionalString(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// clampLimit applies list defaults and bounds.
func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

func caseSummaries(cases []*clinical.Case) []clinical.CaseSummary {
	items := make([]clinical.CaseSummary, 0, len(cases))
	for _, c := range cases {
		items = append(items, c.ToSummary())
	}
	return items
}
