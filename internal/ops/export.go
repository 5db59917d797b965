package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/db"
	"github.com/hpungsan/medcase/internal/errors"
)

// ExportSchemaVersion is written to the header line of every export.
const ExportSchemaVersion = "1.0"

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path     string // optional, default: <exports dir>/<slug|all>-<timestamp>.jsonl
	CaseSlug string // optional: export one case and its own instructions
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path         string `json:"path"`
	Cases        int    `json:"cases"`
	Instructions int    `json:"instructions"`
	ExportedAt   int64  `json:"exported_at"`
}

// Export writes cases, then instructions, to a JSONL file. The file is
// written to a temporary name and renamed into place, so an existing file
// survives a failed export.
func Export(ctx context.Context, database *sql.DB, policy PathPolicy, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	exportedAt := now.UnixMilli()

	var only *clinical.Case
	if strings.TrimSpace(input.CaseSlug) != "" {
		c, err := getCase(ctx, database, "", input.CaseSlug)
		if err != nil {
			return nil, err
		}
		only = c
	}

	exportPath := input.Path
	if exportPath == "" {
		name := "all"
		if only != nil {
			name = SanitizeForFilename(only.Slug)
		}
		exportPath = filepath.Join(policy.ExportsDir, fmt.Sprintf("%s-%s.jsonl", name, now.Format("2006-01-02T150405")))
	}
	if err := policy.Validate(exportPath, PathCheckWrite); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(clinical.ExportRecord{
		MedcaseExport: true,
		SchemaVersion: ExportSchemaVersion,
		ExportedAt:    exportedAt,
	}); err != nil {
		return nil, errors.NewInternal(err)
	}

	out := &ExportOutput{ExportedAt: exportedAt}
	slugs := make(map[string]string)

	writeCase := func(c *clinical.Case) error {
		if err := ctx.Err(); err != nil {
			return errors.NewCancelled(err)
		}
		slugs[c.ID] = c.Slug
		if err := enc.Encode(clinical.CaseToExportRecord(c)); err != nil {
			return errors.NewInternal(err)
		}
		out.Cases++
		return nil
	}
	if only != nil {
		err = writeCase(only)
	} else {
		err = db.StreamCases(ctx, database, writeCase)
	}
	if err != nil {
		return nil, err
	}

	filter := db.InstructionFilter{}
	if only != nil {
		filter.CaseID = &only.ID
	}
	instructions, _, err := db.ListInstructions(ctx, database, filter)
	if err != nil {
		return nil, err
	}
	for _, inst := range instructions {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled(err)
		}
		var caseSlug *string
		if inst.CaseID != nil {
			slug, ok := slugs[*inst.CaseID]
			if !ok {
				continue
			}
			caseSlug = &slug
		}
		if err := enc.Encode(clinical.InstructionToExportRecord(inst, caseSlug)); err != nil {
			return nil, errors.NewInternal(err)
		}
		out.Instructions++
	}

	if err := w.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink at the destination
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("path must not be a symlink")
	}

	// On Windows, os.Rename fails when the destination exists; the existing
	// file is kept rather than risking a delete-then-rename.
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	out.Path = exportPath
	return out, nil
}
