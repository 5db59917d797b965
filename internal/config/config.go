package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Session backends.
const (
	SessionBackendSQLite = "sqlite"
	SessionBackendRedis  = "redis"
)

// Config holds application configuration.
type Config struct {
	// OpenAIAPIKey is read from OPENAI_API_KEY only; it is never loaded from
	// or written to config files.
	OpenAIAPIKey string `json:"-"`

	// OpenAIBaseURL overrides the API endpoint (proxies, compatible servers).
	OpenAIBaseURL string `json:"openai_base_url,omitempty"`

	// PrimaryModel is tried first for every generation.
	PrimaryModel string `json:"primary_model,omitempty"`

	// FallbackModel is used once when the primary model is unavailable.
	FallbackModel string `json:"fallback_model,omitempty"`

	// StageMaxTokens bounds each tutor reply.
	StageMaxTokens int `json:"stage_max_tokens,omitempty"`

	// SummaryMaxTokens bounds the final assessment.
	SummaryMaxTokens int `json:"summary_max_tokens,omitempty"`

	// InstructionMaxChars is the maximum character count for instruction bodies
	InstructionMaxChars int `json:"instruction_max_chars,omitempty"`

	// DebugPrompts logs every rendered prompt at debug level.
	DebugPrompts bool `json:"debug_prompts,omitempty"`

	// SessionBackend is "sqlite" (default) or "redis".
	SessionBackend string `json:"session_backend,omitempty"`

	// RedisAddr is host:port of the Redis server for the redis session backend.
	RedisAddr string `json:"redis_addr,omitempty"`

	// SessionTTLHours is how long an idle session survives.
	SessionTTLHours int `json:"session_ttl_hours,omitempty"`

	// CookieSecure sets the Secure flag on the session cookie.
	CookieSecure bool `json:"cookie_secure,omitempty"`

	// Bind and Port form the web server listen address.
	Bind string `json:"bind,omitempty"`
	Port int    `json:"port,omitempty"`

	// HomeCaseLimit is how many cases the home page lists for logged-in users.
	HomeCaseLimit int `json:"home_case_limit,omitempty"`

	// LogMode is "dev" or "prod".
	LogMode string `json:"log_mode,omitempty"`

	// AllowedPaths is an allowlist of directories for import/export operations.
	// Paths outside ~/.medcase/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for import/export.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "case", "instruction", "attempt".
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		PrimaryModel:        "gpt-4.1",
		FallbackModel:       "gpt-4.1-mini",
		StageMaxTokens:      500,
		SummaryMaxTokens:    700,
		InstructionMaxChars: 20000,
		SessionBackend:      SessionBackendSQLite,
		SessionTTLHours:     24 * 14,
		Bind:                "127.0.0.1",
		Port:                8080,
		HomeCaseLimit:       24,
		LogMode:             "dev",
	}
}

// Load loads configuration from baseDir/config.json and applies environment overrides.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.medcase.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.Getenv)
	return cfg, nil
}

// LoadWithRepo loads configuration from both global (~/.medcase) and repo (.medcase) directories.
// Repo config is found by walking upward from startDir to find the nearest .medcase/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Environment overrides are applied last.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	ApplyEnv(cfg, os.Getenv)
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .medcase/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".medcase", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ApplyEnv overlays environment variables onto cfg. getenv is os.Getenv in
// production and a map lookup in tests.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv("OPENAI_API_KEY")); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := strings.TrimSpace(getenv("OPENAI_BASE_URL")); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := strings.TrimSpace(getenv("MEDCASE_PRIMARY_MODEL")); v != "" {
		cfg.PrimaryModel = v
	}
	if v := strings.TrimSpace(getenv("MEDCASE_FALLBACK_MODEL")); v != "" {
		cfg.FallbackModel = v
	}
	if v := strings.TrimSpace(getenv("MEDCASE_SESSION_BACKEND")); v != "" {
		cfg.SessionBackend = v
	}
	if v := strings.TrimSpace(getenv("MEDCASE_REDIS_ADDR")); v != "" {
		cfg.RedisAddr = v
	}
	if v := strings.TrimSpace(getenv("MEDCASE_LOG_MODE")); v != "" {
		cfg.LogMode = v
	}
	if v := strings.TrimSpace(getenv("MEDCASE_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Port = n
		}
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the path is empty or the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.OpenAIAPIKey = pickString(base.OpenAIAPIKey, overlay.OpenAIAPIKey)
	result.OpenAIBaseURL = pickString(base.OpenAIBaseURL, overlay.OpenAIBaseURL)
	result.PrimaryModel = pickString(base.PrimaryModel, overlay.PrimaryModel)
	result.FallbackModel = pickString(base.FallbackModel, overlay.FallbackModel)
	result.SessionBackend = pickString(base.SessionBackend, overlay.SessionBackend)
	result.RedisAddr = pickString(base.RedisAddr, overlay.RedisAddr)
	result.Bind = pickString(base.Bind, overlay.Bind)
	result.LogMode = pickString(base.LogMode, overlay.LogMode)

	result.StageMaxTokens = pickInt(base.StageMaxTokens, overlay.StageMaxTokens)
	result.SummaryMaxTokens = pickInt(base.SummaryMaxTokens, overlay.SummaryMaxTokens)
	result.InstructionMaxChars = pickInt(base.InstructionMaxChars, overlay.InstructionMaxChars)
	result.SessionTTLHours = pickInt(base.SessionTTLHours, overlay.SessionTTLHours)
	result.Port = pickInt(base.Port, overlay.Port)
	result.HomeCaseLimit = pickInt(base.HomeCaseLimit, overlay.HomeCaseLimit)
	result.DBMaxOpenConns = pickInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns)

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths
	result.DebugPrompts = base.DebugPrompts || overlay.DebugPrompts
	result.CookieSecure = base.CookieSecure || overlay.CookieSecure

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickString(base, overlay string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

func pickInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string(nil), a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
