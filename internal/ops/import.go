package ops

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/db"
	"github.com/hpungsan/medcase/internal/errors"
)

// ImportMode controls collision behavior during import.
type ImportMode string

const (
	ImportModeError   ImportMode = "error"   // fail on collision (atomic)
	ImportModeReplace ImportMode = "replace" // overwrite on collision
)

// maxImportLine bounds one JSONL line; case descriptions can be long.
const maxImportLine = 4 << 20

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: error
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Cases        int           `json:"cases"`
	Instructions int           `json:"instructions"`
	Skipped      int           `json:"skipped"`
	Errors       []ImportError `json:"errors"`
}

// ImportError represents an error that occurred during import.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type importRecord struct {
	line int
	clinical.ExportRecord
}

// Import loads cases and instructions from a JSONL export. Instructions find
// their case by slug, so an export can move between databases.
func Import(ctx context.Context, database *sql.DB, policy PathPolicy, input ImportInput) (*ImportOutput, error) {
	if input.Path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	if input.Mode != ImportModeError && input.Mode != ImportModeReplace {
		return nil, errors.NewInvalidRequest("mode must be one of: error, replace")
	}
	if err := policy.Validate(input.Path, PathCheckRead); err != nil {
		return nil, err
	}

	file, err := openNoFollow(input.Path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) || errors.Is(err, errors.ErrInvalidRequest) {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	records, parseErrors := parseExportFile(file)

	if input.Mode == ImportModeError {
		if len(parseErrors) > 0 {
			return &ImportOutput{Errors: parseErrors}, nil
		}
		return importAtomic(ctx, database, records)
	}
	return importReplace(ctx, database, records, parseErrors)
}

// parseExportFile reads every record, collecting per-line errors.
func parseExportFile(r io.Reader) ([]importRecord, []ImportError) {
	var (
		records     []importRecord
		parseErrors []ImportError
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record clinical.ExportRecord
		if err := json.Unmarshal(line, &record); err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		if record.MedcaseExport {
			continue
		}

		switch {
		case record.ID == "":
			parseErrors = append(parseErrors, ImportError{Line: lineNum, Kind: record.Kind, Code: "INVALID_RECORD", Message: "missing id field"})
		case record.Kind != clinical.KindCase && record.Kind != clinical.KindInstruction:
			parseErrors = append(parseErrors, ImportError{Line: lineNum, ID: record.ID, Code: "INVALID_RECORD", Message: fmt.Sprintf("unknown kind %q", record.Kind)})
		case record.Kind == clinical.KindCase && record.Name == "":
			parseErrors = append(parseErrors, ImportError{Line: lineNum, ID: record.ID, Kind: record.Kind, Code: "INVALID_RECORD", Message: "missing name field"})
		default:
			records = append(records, importRecord{line: lineNum, ExportRecord: record})
		}
	}

	if err := scanner.Err(); err != nil {
		parseErrors = append(parseErrors, ImportError{
			Line:    lineNum,
			Code:    "READ_ERROR",
			Message: fmt.Sprintf("failed to read file: %v", err),
		})
	}
	return records, parseErrors
}

// importAtomic imports everything in one transaction and stops at the first
// collision, leaving the database unchanged.
func importAtomic(ctx context.Context, database *sql.DB, records []importRecord) (*ImportOutput, error) {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	out := &ImportOutput{}
	abort := func(e ImportError) (*ImportOutput, error) {
		return &ImportOutput{Errors: []ImportError{e}}, nil
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled(err)
		}

		if rec.Kind == clinical.KindCase {
			c := withTimestamps(rec.ToCase())
			if collision, err := caseCollision(ctx, tx, c); err != nil {
				return nil, err
			} else if collision != "" {
				return abort(ImportError{Line: rec.line, ID: rec.ID, Kind: rec.Kind, Code: "CASE_COLLISION", Message: collision})
			}
			if err := db.InsertCase(ctx, tx, c); err != nil {
				return nil, err
			}
			out.Cases++
			continue
		}

		caseID, importErr, err := instructionCaseID(ctx, tx, rec)
		if err != nil {
			return nil, err
		}
		if importErr != nil {
			return abort(*importErr)
		}
		inst, ok := rec.ToInstruction(caseID)
		if !ok || inst.Stage.IsTerminal() {
			return abort(ImportError{Line: rec.line, ID: rec.ID, Kind: rec.Kind, Code: "INVALID_RECORD", Message: fmt.Sprintf("unknown stage %q", rec.Stage)})
		}
		if _, err := db.GetInstruction(ctx, tx, inst.ID); err == nil {
			return abort(ImportError{Line: rec.line, ID: rec.ID, Kind: rec.Kind, Code: "ID_COLLISION", Message: fmt.Sprintf("instruction with id %q already exists", inst.ID)})
		} else if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		if err := db.InsertInstruction(ctx, tx, withInstructionTimestamps(inst)); err != nil {
			return nil, err
		}
		out.Instructions++
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal(err)
	}
	out.Errors = []ImportError{}
	return out, nil
}

// importReplace imports record by record, overwriting existing rows matched
// by ID (cases also by slug). Records that cannot be applied are skipped.
func importReplace(ctx context.Context, database *sql.DB, records []importRecord, parseErrors []ImportError) (*ImportOutput, error) {
	out := &ImportOutput{Errors: append([]ImportError{}, parseErrors...), Skipped: len(parseErrors)}
	skip := func(e ImportError) {
		out.Errors = append(out.Errors, e)
		out.Skipped++
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled(err)
		}

		if rec.Kind == clinical.KindCase {
			c := withTimestamps(rec.ToCase())
			existing, err := findCase(ctx, database, c)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				if taken, err := db.CheckCaseNameExists(ctx, database, c.Name, ""); err != nil {
					return nil, err
				} else if taken {
					skip(ImportError{Line: rec.line, ID: rec.ID, Kind: rec.Kind, Code: "NAME_COLLISION", Message: fmt.Sprintf("another case is named %q", c.Name)})
					continue
				}
				if err := db.InsertCase(ctx, database, c); err != nil {
					return nil, err
				}
				out.Cases++
				continue
			}

			if taken, err := db.CheckCaseNameExists(ctx, database, c.Name, existing.ID); err != nil {
				return nil, err
			} else if taken {
				skip(ImportError{Line: rec.line, ID: rec.ID, Kind: rec.Kind, Code: "NAME_COLLISION", Message: fmt.Sprintf("another case is named %q", c.Name)})
				continue
			}
			c.ID = existing.ID
			if err := db.UpdateCase(ctx, database, c); err != nil {
				return nil, err
			}
			out.Cases++
			continue
		}

		caseID, importErr, err := instructionCaseID(ctx, database, rec)
		if err != nil {
			return nil, err
		}
		if importErr != nil {
			skip(*importErr)
			continue
		}
		inst, ok := rec.ToInstruction(caseID)
		if !ok || inst.Stage.IsTerminal() {
			skip(ImportError{Line: rec.line, ID: rec.ID, Kind: rec.Kind, Code: "INVALID_RECORD", Message: fmt.Sprintf("unknown stage %q", rec.Stage)})
			continue
		}

		existing, err := db.GetInstruction(ctx, database, inst.ID)
		switch {
		case err == nil && (existing.Stage != inst.Stage || existing.Scope() != inst.Scope()):
			skip(ImportError{Line: rec.line, ID: rec.ID, Kind: rec.Kind, Code: "AMBIGUOUS_COLLISION", Message: "instruction id exists with a different case or stage"})
			continue
		case err == nil:
			err = db.UpdateInstruction(ctx, database, inst)
		case errors.Is(err, errors.ErrNotFound):
			err = db.InsertInstruction(ctx, database, withInstructionTimestamps(inst))
		}
		if err != nil {
			return nil, err
		}
		out.Instructions++
	}

	return out, nil
}

// caseCollision describes why c cannot be inserted, or returns "".
func caseCollision(ctx context.Context, q db.Querier, c *clinical.Case) (string, error) {
	if _, err := db.GetCaseByID(ctx, q, c.ID); err == nil {
		return fmt.Sprintf("case with id %q already exists", c.ID), nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return "", err
	}
	if _, err := db.GetCaseBySlug(ctx, q, c.Slug); err == nil {
		return fmt.Sprintf("case with slug %q already exists", c.Slug), nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return "", err
	}
	taken, err := db.CheckCaseNameExists(ctx, q, c.Name, "")
	if err != nil {
		return "", err
	}
	if taken {
		return fmt.Sprintf("case with name %q already exists", c.Name), nil
	}
	return "", nil
}

// findCase returns the stored case matching c by ID, then by slug, or nil.
func findCase(ctx context.Context, q db.Querier, c *clinical.Case) (*clinical.Case, error) {
	existing, err := db.GetCaseByID(ctx, q, c.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	existing, err = db.GetCaseBySlug(ctx, q, c.Slug)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

// instructionCaseID maps an instruction record's case slug to a stored case.
func instructionCaseID(ctx context.Context, q db.Querier, rec importRecord) (*string, *ImportError, error) {
	if rec.CaseSlug == nil {
		return nil, nil, nil
	}
	c, err := db.GetCaseBySlug(ctx, q, *rec.CaseSlug)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, &ImportError{Line: rec.line, ID: rec.ID, Kind: rec.Kind, Code: "UNKNOWN_CASE", Message: fmt.Sprintf("no case with slug %q", *rec.CaseSlug)}, nil
		}
		return nil, nil, err
	}
	return &c.ID, nil, nil
}

func withTimestamps(c *clinical.Case) *clinical.Case {
	now := db.Now()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = c.CreatedAt
	}
	return c
}

func withInstructionTimestamps(i *clinical.Instruction) *clinical.Instruction {
	now := db.Now()
	if i.CreatedAt == 0 {
		i.CreatedAt = now
	}
	if i.UpdatedAt == 0 {
		i.UpdatedAt = i.CreatedAt
	}
	return i
}
