package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileName is the config file inside the vault directory.
const FileName = "config.json"

// Config holds application configuration.
type Config struct {
	// CaptureEnabled starts clipboard polling with the daemon. Nil means the default (on).
	CaptureEnabled *bool `json:"capture_enabled,omitempty"`

	// PollIntervalMS is the clipboard poll period in milliseconds
	PollIntervalMS int `json:"poll_interval_ms,omitempty"`

	// SelfCaptureDenylist holds case-insensitive substrings of app names whose
	// clipboard changes are never captured. Entries add to the defaults.
	SelfCaptureDenylist []string `json:"self_capture_denylist,omitempty"`

	// Browsers are the apps queried for active tab URL and title.
	Browsers []string `json:"browsers,omitempty"`

	// EmbeddingDim is fixed for the life of a vault; changing it orphans stored vectors.
	EmbeddingDim int `json:"embedding_dim,omitempty"`

	SummarySentences int `json:"summary_sentences,omitempty"`
	KeywordLimit     int `json:"keyword_limit,omitempty"`
	TopicLimit       int `json:"topic_limit,omitempty"`

	// OCRCommand is the recognizer argv; "{image}" is replaced with the asset path.
	// An overlay replaces the whole command rather than merging it.
	OCRCommand []string `json:"ocr_command,omitempty"`

	OCRTimeoutSeconds int `json:"ocr_timeout_seconds,omitempty"`

	// WebBind and WebPort address the library server. Bind defaults to loopback.
	WebBind string `json:"web_bind,omitempty"`
	WebPort int    `json:"web_port,omitempty"`

	LogLevel string `json:"log_level,omitempty"`

	// AllowedPaths is an allowlist of directories for export operations.
	// Paths outside <vault>/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export.
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

	// DisabledTypes excludes every MCP tool of a type ("snippet", "note").
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	on := true
	return &Config{
		CaptureEnabled:      &on,
		PollIntervalMS:      500,
		SelfCaptureDenylist: []string{"electron", "snippet", "clipvault"},
		Browsers:            []string{"Google Chrome", "Safari", "Microsoft Edge", "Brave Browser", "Arc"},
		EmbeddingDim:        256,
		SummarySentences:    2,
		KeywordLimit:        6,
		TopicLimit:          2,
		OCRCommand:          []string{"tesseract", "{image}", "stdout"},
		OCRTimeoutSeconds:   15,
		WebBind:             "127.0.0.1",
		WebPort:             7717,
		LogLevel:            "info",
	}
}

// CaptureOn reports whether capture should start enabled.
func (c *Config) CaptureOn() bool {
	return c.CaptureEnabled == nil || *c.CaptureEnabled
}

// PollInterval returns PollIntervalMS as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// OCRTimeout returns OCRTimeoutSeconds as a duration.
func (c *Config) OCRTimeout() time.Duration {
	return time.Duration(c.OCRTimeoutSeconds) * time.Second
}

// Load loads configuration from baseDir/config.json over the defaults.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.clipvault.
func Load(baseDir string) (*Config, error) {
	raw, err := loadFileRaw(filepath.Join(baseDir, FileName))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), raw), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
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

// SetCaptureEnabled rewrites only capture_enabled in baseDir/config.json,
// preserving every other key the user wrote.
func SetCaptureEnabled(baseDir string, enabled bool) error {
	path := filepath.Join(baseDir, FileName)
	doc := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	doc["capture_enabled"] = enabled

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(out, '\n'), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.CaptureEnabled = overlay.CaptureEnabled
	if result.CaptureEnabled == nil {
		result.CaptureEnabled = base.CaptureEnabled
	}
	result.PollIntervalMS = pickInt(overlay.PollIntervalMS, base.PollIntervalMS)
	result.EmbeddingDim = pickInt(overlay.EmbeddingDim, base.EmbeddingDim)
	result.SummarySentences = pickInt(overlay.SummarySentences, base.SummarySentences)
	result.KeywordLimit = pickInt(overlay.KeywordLimit, base.KeywordLimit)
	result.TopicLimit = pickInt(overlay.TopicLimit, base.TopicLimit)
	result.OCRTimeoutSeconds = pickInt(overlay.OCRTimeoutSeconds, base.OCRTimeoutSeconds)
	result.WebPort = pickInt(overlay.WebPort, base.WebPort)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)
	result.WebBind = pickString(overlay.WebBind, base.WebBind)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)

	// OCRCommand is an argv, so it is replaced rather than merged
	result.OCRCommand = base.OCRCommand
	if len(overlay.OCRCommand) > 0 {
		result.OCRCommand = overlay.OCRCommand
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.SelfCaptureDenylist = mergeStringSlice(base.SelfCaptureDenylist, overlay.SelfCaptureDenylist)
	result.Browsers = mergeStringSlice(base.Browsers, overlay.Browsers)
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
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
