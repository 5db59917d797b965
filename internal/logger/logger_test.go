package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVs(t *testing.T) {
	kv := sanitizeKVs([]interface{}{
		"api_key", "sk-123",
		"Password", "hunter2",
		"session_id", "abc",
		"stage", "meds",
		"dangling",
	})

	if len(kv) != 9 {
		t.Fatalf("len = %d, want 9", len(kv))
	}
	if kv[1] != "[REDACTED]" {
		t.Errorf("api_key = %v, want redacted", kv[1])
	}
	if kv[3] != "[REDACTED]" {
		t.Errorf("Password = %v, want redacted", kv[3])
	}
	hashed, ok := kv[5].(string)
	if !ok || !strings.HasPrefix(hashed, "hash:") || strings.Contains(hashed, "abc") {
		t.Errorf("session_id = %v, want hash", kv[5])
	}
	if kv[7] != "meds" {
		t.Errorf("stage = %v, want passthrough", kv[7])
	}
	if kv[8] != "dangling" {
		t.Errorf("odd trailing key = %v", kv[8])
	}
}

func TestHashValue_Stable(t *testing.T) {
	if hashValue("u1") != hashValue("u1") {
		t.Error("hashValue not deterministic")
	}
	if hashValue("") != "" {
		t.Error("hashValue of empty should be empty")
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("hello", "k", "v")
	l.With("user_id", "u1").Warn("x")
}
