package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/medcase/internal/config"
	"github.com/hpungsan/medcase/internal/errors"
)

func testPolicy(t *testing.T) PathPolicy {
	t.Helper()
	base := t.TempDir()
	p := NewPathPolicy(base, config.DefaultConfig())
	if err := os.MkdirAll(p.ExportsDir, 0700); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	return p
}

func TestPathPolicy_TraversalRejected(t *testing.T) {
	p := testPolicy(t)

	tests := []struct {
		name string
		path string
	}{
		{"parent traversal", "../backup.jsonl"},
		{"deep traversal", "../../etc/backup.jsonl"},
		{"mid-path traversal", p.ExportsDir + "/../backup.jsonl"},
		{"hidden in path", "/tmp/safe/../../../etc/shadow.jsonl"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := p.Validate(tc.path, PathCheckWrite)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("Validate error = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestPathPolicy_ExtensionRequired(t *testing.T) {
	p := testPolicy(t)
	for _, name := range []string{"backup.json", "backup", "backup.jsonl.bak"} {
		err := p.Validate(filepath.Join(p.ExportsDir, name), PathCheckWrite)
		if !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("Validate(%q) error = %v, want INVALID_REQUEST", name, err)
		}
	}
	if err := p.Validate(filepath.Join(p.ExportsDir, "backup.jsonl"), PathCheckWrite); err != nil {
		t.Errorf("Validate(backup.jsonl) failed: %v", err)
	}
}

func TestPathPolicy_DirectChildOnly(t *testing.T) {
	p := testPolicy(t)
	other := t.TempDir()

	if err := p.Validate(filepath.Join(p.ExportsDir, "nested", "x.jsonl"), PathCheckWrite); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("subdirectory error = %v, want INVALID_REQUEST", err)
	}
	if err := p.Validate(filepath.Join(other, "x.jsonl"), PathCheckWrite); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("outside dir error = %v, want INVALID_REQUEST", err)
	}

	p.AllowedPaths = []string{other, "relative/ignored"}
	if err := p.Validate(filepath.Join(other, "x.jsonl"), PathCheckWrite); err != nil {
		t.Errorf("allowed dir failed: %v", err)
	}

	p.AllowedPaths = nil
	p.AllowUnsafe = true
	if err := p.Validate(filepath.Join(other, "deep", "x.jsonl"), PathCheckWrite); err != nil {
		t.Errorf("unsafe mode failed: %v", err)
	}
}

func TestPathPolicy_ReadRequiresFile(t *testing.T) {
	p := testPolicy(t)
	path := filepath.Join(p.ExportsDir, "missing.jsonl")

	if err := p.Validate(path, PathCheckRead); !errors.Is(err, errors.ErrFileNotFound) {
		t.Errorf("Validate error = %v, want FILE_NOT_FOUND", err)
	}
	if err := os.WriteFile(path, []byte("{}\n"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := p.Validate(path, PathCheckRead); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestPathPolicy_SymlinkRejected(t *testing.T) {
	p := testPolicy(t)
	target := filepath.Join(t.TempDir(), "target.jsonl")
	if err := os.WriteFile(target, []byte("{}\n"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	link := filepath.Join(p.ExportsDir, "link.jsonl")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	for _, mode := range []PathCheckMode{PathCheckRead, PathCheckWrite} {
		if err := p.Validate(link, mode); !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("Validate(mode %d) error = %v, want INVALID_REQUEST", mode, err)
		}
	}
}

func TestSanitizeForFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"bol-w-klatce", "bol-w-klatce"},
		{"../etc/passwd", "etc-passwd"},
		{"a\\b", "a-b"},
		{"tab\there", "tabhere"},
		{"--", "unnamed"},
		{"", "unnamed"},
	}
	for _, tc := range tests {
		if got := SanitizeForFilename(tc.in); got != tc.want {
			t.Errorf("SanitizeForFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
