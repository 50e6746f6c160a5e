// internal/config/config.go
//
// This package resolves ciweave settings. Values come from, in order of
// precedence: command-line flags (applied by the caller), CIWEAVE_* environment
// variables, the project file (.ciweave/config.yaml or ciweave.yaml) and the
// built-in defaults below.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/ciweave/internal/failure"
)

const (
	// StateDirName is the per-project directory holding logs and the config file.
	StateDirName = ".ciweave"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CIWEAVE_"

	// DefaultThreshold is the inlined line count above which a field collapses
	// into a single literal block.
	DefaultThreshold = 3

	defaultInputDir  = "uncompiled"
	defaultOutputDir = "."
)

var projectFileNames = []string{
	filepath.Join(StateDirName, "config.yaml"),
	"ciweave.yaml",
}

// DecompileConfig groups the settings of the inverse transform.
type DecompileConfig struct {
	InputFile  string `yaml:"input_file,omitempty"`
	OutputDir  string `yaml:"output_dir,omitempty"`
	ScriptsOut string `yaml:"scripts_out,omitempty"`
	MinLines   int    `yaml:"min_lines,omitempty"`
}

// ProjectConfig models the project file.
type ProjectConfig struct {
	Version         int             `yaml:"version"`
	InputDir        string          `yaml:"input_dir,omitempty"`
	OutputDir       string          `yaml:"output_dir,omitempty"`
	ScriptsDir      string          `yaml:"scripts_dir,omitempty"`
	TemplatesIn     string          `yaml:"templates_in,omitempty"`
	TemplatesOut    string          `yaml:"templates_out,omitempty"`
	AllowedRoot     string          `yaml:"allowed_root,omitempty"`
	GlobalVariables string          `yaml:"global_variables,omitempty"`
	Threshold       *int            `yaml:"threshold,omitempty"`
	Parallelism     int             `yaml:"parallelism,omitempty"`
	DryRun          bool            `yaml:"dry_run,omitempty"`
	Force           bool            `yaml:"force,omitempty"`
	Verbose         bool            `yaml:"verbose,omitempty"`
	Quiet           bool            `yaml:"quiet,omitempty"`
	PluginsDir      string          `yaml:"plugins_dir,omitempty"`
	Schema          string          `yaml:"schema,omitempty"`
	Decompile       DecompileConfig `yaml:"decompile,omitempty"`
}

// Config holds the resolved runtime configuration.
type Config struct {
	// ProjectDir is the directory ciweave was started from; relative paths in
	// the project file and environment resolve against it.
	ProjectDir string

	// SourcePath is the project file that was loaded, if any.
	SourcePath string

	Project ProjectConfig
}

// Load builds a Config for projectDir. When explicitPath is non-empty that
// file must exist; otherwise the conventional locations are searched and a
// missing file simply yields defaults.
func Load(projectDir, explicitPath string) (*Config, error) {
	return load(projectDir, explicitPath, os.LookupEnv)
}

func load(projectDir, explicitPath string, lookup func(string) (string, bool)) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	cfg := &Config{ProjectDir: abs, Project: defaultProjectConfig()}
	if err := cfg.loadProjectFile(explicitPath); err != nil {
		return nil, failure.Wrap(failure.KindConfigInvalid, err)
	}
	if err := cfg.Project.applyEnv(lookup); err != nil {
		return nil, failure.Wrap(failure.KindConfigInvalid, fmt.Errorf("config: %w", err))
	}
	cfg.Project.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadProjectFile(explicitPath string) error {
	candidates := make([]string, 0, len(projectFileNames))
	if strings.TrimSpace(explicitPath) != "" {
		path := resolvePath(c.ProjectDir, explicitPath)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config: %s: %w", path, err)
		}
		candidates = append(candidates, path)
	} else {
		for _, name := range projectFileNames {
			candidates = append(candidates, filepath.Join(c.ProjectDir, name))
		}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		var parsed ProjectConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
		c.Project = parsed
		c.SourcePath = path
		return nil
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{Version: 1}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Threshold == nil {
		threshold := DefaultThreshold
		pc.Threshold = &threshold
	}
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Threshold != nil && *pc.Threshold < 0 {
		return fmt.Errorf("threshold must be >= 0")
	}
	if pc.Parallelism < 0 {
		return fmt.Errorf("parallelism must be >= 0")
	}
	if pc.Decompile.MinLines < 0 {
		return fmt.Errorf("decompile.min_lines must be >= 0")
	}
	if pc.Verbose && pc.Quiet {
		return fmt.Errorf("verbose and quiet are mutually exclusive")
	}
	return nil
}

func (pc *ProjectConfig) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"INPUT_DIR":        &pc.InputDir,
		"OUTPUT_DIR":       &pc.OutputDir,
		"SCRIPTS_DIR":      &pc.ScriptsDir,
		"TEMPLATES_IN":     &pc.TemplatesIn,
		"TEMPLATES_OUT":    &pc.TemplatesOut,
		"ALLOWED_ROOT":     &pc.AllowedRoot,
		"GLOBAL_VARIABLES": &pc.GlobalVariables,
		"PLUGINS_DIR":      &pc.PluginsDir,
		"SCHEMA":           &pc.Schema,
		"INPUT_FILE":       &pc.Decompile.InputFile,
		"SCRIPTS_OUT":      &pc.Decompile.ScriptsOut,
	}
	for key, target := range strs {
		if value, ok := lookup(EnvPrefix + key); ok {
			*target = strings.TrimSpace(value)
		}
	}
	bools := map[string]*bool{
		"DRY_RUN": &pc.DryRun,
		"FORCE":   &pc.Force,
		"VERBOSE": &pc.Verbose,
		"QUIET":   &pc.Quiet,
	}
	for key, target := range bools {
		if value, ok := lookup(EnvPrefix + key); ok {
			*target = parseBool(value)
		}
	}
	if value, ok := lookup(EnvPrefix + "THRESHOLD"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%sTHRESHOLD: %w", EnvPrefix, err)
		}
		pc.Threshold = &n
	}
	if value, ok := lookup(EnvPrefix + "PARALLELISM"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%sPARALLELISM: %w", EnvPrefix, err)
		}
		pc.Parallelism = n
	}
	if value, ok := lookup(EnvPrefix + "MIN_LINES"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%sMIN_LINES: %w", EnvPrefix, err)
		}
		pc.Decompile.MinLines = n
	}
	return nil
}

// InputDir returns the uncompiled source root.
func (c *Config) InputDir() string {
	return c.path(c.Project.InputDir, defaultInputDir)
}

// OutputDir returns the directory receiving compiled documents.
func (c *Config) OutputDir() string {
	return c.path(c.Project.OutputDir, defaultOutputDir)
}

// ScriptsDir returns the catalogue root; it defaults to the input root.
func (c *Config) ScriptsDir() string {
	if c.Project.ScriptsDir == "" {
		return c.InputDir()
	}
	return c.path(c.Project.ScriptsDir, "")
}

// TemplatesIn returns the optional template source tree.
func (c *Config) TemplatesIn() string {
	if c.Project.TemplatesIn == "" {
		return filepath.Join(c.InputDir(), "templates")
	}
	return c.path(c.Project.TemplatesIn, "")
}

// TemplatesOut returns where compiled templates are written.
func (c *Config) TemplatesOut() string {
	if c.Project.TemplatesOut == "" {
		return filepath.Join(c.OutputDir(), "templates")
	}
	return c.path(c.Project.TemplatesOut, "")
}

// AllowedRoot returns the containment boundary for script references.
func (c *Config) AllowedRoot() string {
	if c.Project.AllowedRoot == "" {
		return c.InputDir()
	}
	return c.path(c.Project.AllowedRoot, "")
}

// GlobalVariablesPath returns the KEY=VALUE file merged into the root document.
func (c *Config) GlobalVariablesPath() string {
	if c.Project.GlobalVariables == "" {
		return filepath.Join(c.InputDir(), "global_variables.sh")
	}
	return c.path(c.Project.GlobalVariables, "")
}

// PluginsDir returns the matcher plugin directory, or "" when unset.
func (c *Config) PluginsDir() string {
	if c.Project.PluginsDir == "" {
		return ""
	}
	return c.path(c.Project.PluginsDir, "")
}

// SchemaPath returns the local pipeline schema used by lint, or "".
func (c *Config) SchemaPath() string {
	if c.Project.Schema == "" {
		return ""
	}
	return c.path(c.Project.Schema, "")
}

// Threshold returns the literal-block threshold.
func (c *Config) Threshold() int {
	if c.Project.Threshold == nil {
		return DefaultThreshold
	}
	return *c.Project.Threshold
}

// Parallelism returns the worker count for batch compiles.
func (c *Config) Parallelism() int {
	if c.Project.Parallelism > 0 {
		return c.Project.Parallelism
	}
	return runtime.NumCPU()
}

// Validate re-checks the settings after flag overrides were applied.
func (c *Config) Validate() error {
	if err := c.Project.validate(); err != nil {
		return failure.Wrap(failure.KindConfigInvalid, fmt.Errorf("config: %w", err))
	}
	return nil
}

// DecompileInput returns the compiled document to decompile.
func (c *Config) DecompileInput() string {
	return c.path(c.Project.Decompile.InputFile, "")
}

// DecompileOutputDir returns where the rewritten document is written. It
// falls back to the input root.
func (c *Config) DecompileOutputDir() string {
	if c.Project.Decompile.OutputDir == "" {
		return c.InputDir()
	}
	return c.path(c.Project.Decompile.OutputDir, "")
}

// DecompileScriptsDir returns where extracted scripts are written.
func (c *Config) DecompileScriptsDir() string {
	if c.Project.Decompile.ScriptsOut == "" {
		return filepath.Join(c.DecompileOutputDir(), "scripts")
	}
	return c.path(c.Project.Decompile.ScriptsOut, "")
}

// SetPath overrides a path setting from a command-line flag. Relative values
// resolve against the working directory, not the project directory.
func SetPath(target *string, value string) error {
	abs, err := filepath.Abs(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", value, err)
	}
	*target = abs
	return nil
}

func (c *Config) path(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		value = fallback
	}
	return resolvePath(c.ProjectDir, value)
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "t", "y", "yes":
		return true
	default:
		return false
	}
}
