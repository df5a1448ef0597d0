package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/docwatch/internal/errors"
)

// Default values applied when a field is absent from the config file.
const (
	DefaultDebounceSeconds     = 60.0
	DefaultPollIntervalSeconds = 0.5
	DefaultStopTimeoutSeconds  = 30.0
	DefaultHistoryLimit        = 500
	DefaultStateDirName        = ".docwatch"
)

// DefaultIncludeExtensions are the tracked suffixes when include_extensions is absent.
var DefaultIncludeExtensions = []string{".md", ".mdx", ".markdown", ".rst", ".txt"}

// DefaultIgnorePatterns are the ignored path segments when ignore_patterns is absent.
var DefaultIgnorePatterns = []string{
	".git", "node_modules", ".venv", "__pycache__", ".pytest_cache", "dist", "build", ".tox",
}

// ConfigFileNames are looked up, in order, by FindConfig.
var ConfigFileNames = []string{"docwatch.json", ".docwatch.json", "docwatch.yaml", "docwatch.yml"}

// Config holds the watcher configuration. It is loaded once and never mutated.
type Config struct {
	// RepositoryPath is the root of the watched tree. Required.
	RepositoryPath string `json:"repository_path" yaml:"repository_path"`

	// CollectionName names the indexed collection. Defaults to the repository directory name.
	CollectionName string `json:"collection_name,omitempty" yaml:"collection_name,omitempty"`

	// ExtractedJSONPath is where the extraction tool writes its output.
	// Defaults to <state_dir>/<collection_name>/extracted.json so the output never lands
	// inside the watched tree.
	ExtractedJSONPath string `json:"extracted_json_path,omitempty" yaml:"extracted_json_path,omitempty"`

	// IndexConfigPath is passed to the indexing tool. Must exist unless running dry.
	IndexConfigPath string `json:"index_config_path,omitempty" yaml:"index_config_path,omitempty"`

	// IncludeExtensions is the extension allow-list. Absent means DefaultIncludeExtensions;
	// an explicit empty list tracks every file that is not ignored.
	IncludeExtensions []string `json:"include_extensions" yaml:"include_extensions"`

	// IgnorePatterns lists path segments that are never tracked. Absent means DefaultIgnorePatterns.
	IgnorePatterns []string `json:"ignore_patterns" yaml:"ignore_patterns"`

	// DebounceSeconds is the quiet period before a run. Absent means the default; an
	// explicit 0 runs on the next scheduler tick after a change.
	DebounceSeconds float64 `json:"debounce_seconds,omitempty" yaml:"debounce_seconds,omitempty"`

	// ExtractCommand is the argv prefix of the extraction tool; repository and output paths are appended.
	ExtractCommand []string `json:"extract_command,omitempty" yaml:"extract_command,omitempty"`

	// IndexCommand is the argv prefix of the indexing tool; the index config path is appended.
	IndexCommand []string `json:"index_command,omitempty" yaml:"index_command,omitempty"`

	// StateDir holds the run history database. Defaults to ~/.docwatch.
	StateDir string `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`

	// StatusAddr enables the HTTP status server when non-empty (e.g. "127.0.0.1:8765").
	StatusAddr string `json:"status_addr,omitempty" yaml:"status_addr,omitempty"`

	PollIntervalSeconds float64 `json:"poll_interval_seconds,omitempty" yaml:"poll_interval_seconds,omitempty"`
	StopTimeoutSeconds  float64 `json:"stop_timeout_seconds,omitempty" yaml:"stop_timeout_seconds,omitempty"`

	// HistoryLimit caps the number of run records kept in the ledger.
	HistoryLimit int `json:"history_limit,omitempty" yaml:"history_limit,omitempty"`

	// debounceSet records that debounce_seconds was present in the file, so an
	// explicit zero survives Merge.
	debounceSet bool
}

// DefaultConfig returns the default configuration. RepositoryPath is left empty.
func DefaultConfig() *Config {
	return &Config{
		IncludeExtensions:   append([]string(nil), DefaultIncludeExtensions...),
		IgnorePatterns:      append([]string(nil), DefaultIgnorePatterns...),
		DebounceSeconds:     DefaultDebounceSeconds,
		ExtractCommand:      []string{"doc-extract"},
		IndexCommand:        []string{"doc-index"},
		PollIntervalSeconds: DefaultPollIntervalSeconds,
		StopTimeoutSeconds:  DefaultStopTimeoutSeconds,
		HistoryLimit:        DefaultHistoryLimit,
	}
}

// Load reads the config file at path (JSON, or YAML for .yaml/.yml), applies defaults,
// and resolves relative paths against the file's directory. It does not validate.
func Load(path string) (*Config, error) {
	raw, err := loadFileRaw(path)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.NewConfigurationf("resolve config path: %v", err)
	}
	raw.resolvePaths(filepath.Dir(absPath))

	cfg := Merge(DefaultConfig(), raw)
	cfg.applyDerivedDefaults()
	return cfg, nil
}

// FindConfig walks upward from startDir looking for one of ConfigFileNames.
// Returns the path if found, or empty string if not found.
func FindConfig(startDir string) string {
	dir := startDir
	for {
		for _, name := range ConfigFileNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw decodes a config file without applying defaults.
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, errors.NewConfigurationf("config file not found: %s", configPath)
		}
		return nil, errors.NewConfigurationf("read config: %v", err)
	}

	unmarshal := json.Unmarshal
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	}

	cfg := &Config{}
	if err := unmarshal(data, cfg); err != nil {
		return nil, errors.NewConfigurationf("parse %s: %v", configPath, err)
	}
	var keys map[string]any
	if err := unmarshal(data, &keys); err != nil {
		return nil, errors.NewConfigurationf("parse %s: %v", configPath, err)
	}
	_, cfg.debounceSet = keys["debounce_seconds"]
	return cfg, nil
}

// Merge combines base and overlay configs.
// Scalars: overlay wins if non-zero. Lists: overlay wins if present (non-nil), so an
// explicit empty list in the overlay replaces the base list.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		RepositoryPath:    pickString(overlay.RepositoryPath, base.RepositoryPath),
		CollectionName:    pickString(overlay.CollectionName, base.CollectionName),
		ExtractedJSONPath: pickString(overlay.ExtractedJSONPath, base.ExtractedJSONPath),
		IndexConfigPath:   pickString(overlay.IndexConfigPath, base.IndexConfigPath),
		StateDir:          pickString(overlay.StateDir, base.StateDir),
		StatusAddr:        pickString(overlay.StatusAddr, base.StatusAddr),
	}

	result.DebounceSeconds = pickFloat(overlay.DebounceSeconds, base.DebounceSeconds)
	if overlay.debounceSet {
		result.DebounceSeconds = overlay.DebounceSeconds
		result.debounceSet = true
	}
	result.PollIntervalSeconds = pickFloat(overlay.PollIntervalSeconds, base.PollIntervalSeconds)
	result.StopTimeoutSeconds = pickFloat(overlay.StopTimeoutSeconds, base.StopTimeoutSeconds)

	result.HistoryLimit = overlay.HistoryLimit
	if result.HistoryLimit == 0 {
		result.HistoryLimit = base.HistoryLimit
	}

	result.IncludeExtensions = normalizeExtensions(pickList(overlay.IncludeExtensions, base.IncludeExtensions))
	result.IgnorePatterns = dedupe(pickList(overlay.IgnorePatterns, base.IgnorePatterns))
	result.ExtractCommand = pickCommand(overlay.ExtractCommand, base.ExtractCommand)
	result.IndexCommand = pickCommand(overlay.IndexCommand, base.IndexCommand)

	return result
}

// Validate checks required paths. In dry-run mode index_config_path may be missing.
func (c *Config) Validate(dryRun bool) error {
	if strings.TrimSpace(c.RepositoryPath) == "" {
		return errors.NewConfiguration("repository_path is required")
	}
	info, err := os.Stat(c.RepositoryPath)
	if err != nil {
		return errors.NewConfigurationf("repository_path does not exist: %s", c.RepositoryPath)
	}
	if !info.IsDir() {
		return errors.NewConfigurationf("repository_path is not a directory: %s", c.RepositoryPath)
	}

	if !dryRun {
		if c.IndexConfigPath == "" {
			return errors.NewConfiguration("index_config_path is required")
		}
		if _, err := os.Stat(c.IndexConfigPath); err != nil {
			return errors.NewConfigurationf("index_config_path does not exist: %s", c.IndexConfigPath)
		}
	}

	if c.DebounceSeconds < 0 {
		return errors.NewConfiguration("debounce_seconds must not be negative")
	}
	if c.PollIntervalSeconds < 0 || c.StopTimeoutSeconds < 0 {
		return errors.NewConfiguration("poll_interval_seconds and stop_timeout_seconds must not be negative")
	}
	if len(c.ExtractCommand) == 0 || len(c.IndexCommand) == 0 {
		return errors.NewConfiguration("extract_command and index_command must not be empty")
	}
	if c.ExtractedJSONPath == "" {
		return errors.NewConfiguration("extracted_json_path could not be determined")
	}
	return nil
}

// Debounce returns the quiet period as a duration.
func (c *Config) Debounce() time.Duration {
	return seconds(c.DebounceSeconds)
}

// PollInterval returns the scheduler tick interval.
func (c *Config) PollInterval() time.Duration {
	return seconds(c.PollIntervalSeconds)
}

// StopTimeout returns the bound on waiting for an in-flight run during shutdown.
func (c *Config) StopTimeout() time.Duration {
	return seconds(c.StopTimeoutSeconds)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// resolvePaths makes relative paths absolute against dir and expands a leading "~".
func (c *Config) resolvePaths(dir string) {
	c.RepositoryPath = resolvePath(dir, c.RepositoryPath)
	c.ExtractedJSONPath = resolvePath(dir, c.ExtractedJSONPath)
	c.IndexConfigPath = resolvePath(dir, c.IndexConfigPath)
	c.StateDir = resolvePath(dir, c.StateDir)
}

// applyDerivedDefaults fills fields whose default depends on other fields.
func (c *Config) applyDerivedDefaults() {
	if c.StateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.StateDir = filepath.Join(home, DefaultStateDirName)
		}
	}
	if c.CollectionName == "" && c.RepositoryPath != "" {
		c.CollectionName = filepath.Base(c.RepositoryPath)
	}
	if c.ExtractedJSONPath == "" && c.StateDir != "" {
		collection := c.CollectionName
		if collection == "" {
			collection = "default"
		}
		c.ExtractedJSONPath = filepath.Join(c.StateDir, collection, "extracted.json")
	}
}

func resolvePath(dir, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	return filepath.Clean(p)
}

func (c *Config) String() string {
	return fmt.Sprintf("repository=%s collection=%s debounce=%s", c.RepositoryPath, c.CollectionName, c.Debounce())
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickFloat(overlay, base float64) float64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickList(overlay, base []string) []string {
	if overlay != nil {
		return overlay
	}
	return base
}

func pickCommand(overlay, base []string) []string {
	if len(overlay) > 0 {
		return append([]string(nil), overlay...)
	}
	return append([]string(nil), base...)
}

// normalizeExtensions lower-cases, adds a leading dot, and deduplicates.
// The result is non-nil so an explicit empty list survives.
func normalizeExtensions(exts []string) []string {
	normalized := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	return dedupe(normalized)
}

// dedupe trims whitespace and removes duplicates, preserving order.
func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	result := make([]string, 0, len(values))
	for _, s := range values {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}
