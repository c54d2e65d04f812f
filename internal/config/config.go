// Package config loads engram's per-project YAML configuration.
//
// Configuration is loaded from a single file, resolved by --config or a
// default path under the project root (.engram/config.yaml). There is no
// layered override mechanism: one file, one set of values, same shape as
// the corpus's own config loaders.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultRelPath is where init writes the config template, relative to the
// project root.
const DefaultRelPath = ".engram/config.yaml"

// SessionFormatConfig configures one session-history source root.
type SessionFormatConfig struct {
	Path         string `yaml:"path"`
	Format       string `yaml:"format"`        // "claude-code" (built in) or a name added via adapters.RegisterSessionFormat; unregistered names are skipped
	ProjectMatch string `yaml:"project_match"`  // substring match against project path
}

// SourcesConfig enumerates the source adapters' inputs.
type SourcesConfig struct {
	IssuesDir  string                `yaml:"issues_dir"`
	DocRoots   []string              `yaml:"doc_roots"`
	Sessions   []SessionFormatConfig `yaml:"sessions"`
}

// ThresholdsConfig configures the drift scanner's trigger points.
type ThresholdsConfig struct {
	OrphanTriage             int `yaml:"orphan_triage"`
	ContestedReviewDays      int `yaml:"contested_review_days"`
	ContestedReviewThreshold int `yaml:"contested_review_threshold"`
	StaleUnverifiedDays      int `yaml:"stale_unverified_days"`
	StaleUnverifiedThreshold int `yaml:"stale_unverified_threshold"`
	WorkflowRepetition       int `yaml:"workflow_repetition"`
}

// BudgetConfig bounds chunk sizing.
type BudgetConfig struct {
	ContextLimitChars        int `yaml:"context_limit_chars"`
	InstructionsOverhead     int `yaml:"instructions_overhead"`
	MaxChunkChars            int `yaml:"max_chunk_chars"`
	MaxNewEntriesPerCategory int `yaml:"max_new_entries_per_category"`
}

// DocsConfig names the living and graveyard document paths and the L0
// briefing target.
type DocsConfig struct {
	Living            []string `yaml:"living"`
	Graveyard         []string `yaml:"graveyard"`
	BriefingFile      string   `yaml:"briefing_file"`
	BriefingSection   string   `yaml:"briefing_section"`
}

// FoldAgentConfig names the external fold-agent command.
type FoldAgentConfig struct {
	Command []string `yaml:"command"`
	Model   string   `yaml:"model"`
}

// LinterConfig optionally names an external schema-linter command. When
// Command is empty the built-in linter (internal/linter) is used.
type LinterConfig struct {
	Command []string `yaml:"command"`
}

// DispatchConfig configures steady-state scheduling thresholds.
type DispatchConfig struct {
	BufferThresholdChars int `yaml:"buffer_threshold_chars"`
	PollInterval         string `yaml:"poll_interval"`
	WorkflowCooldownChunks int `yaml:"workflow_cooldown_chunks"`
	StateBackendDSN      string `yaml:"state_backend_dsn"`
}

// Config is the top-level shape of .engram/config.yaml.
type Config struct {
	ProjectRoot string           `yaml:"-"`
	Docs        DocsConfig       `yaml:"docs"`
	Sources     SourcesConfig    `yaml:"sources"`
	Thresholds  ThresholdsConfig `yaml:"thresholds"`
	Budget      BudgetConfig     `yaml:"budget"`
	FoldAgent   FoldAgentConfig  `yaml:"fold_agent"`
	Linter      LinterConfig     `yaml:"linter"`
	Dispatch    DispatchConfig   `yaml:"dispatch"`
}

// Load reads and parses the config file at path and sets ProjectRoot to
// the directory containing .engram/ (path's parent's parent), or to the
// config file's own directory when it is not inside .engram/. Doc paths
// are kept relative; callers join them with ProjectRoot.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ProjectRoot = projectRootFromConfigPath(path)
	cfg.applyDefaults()
	return &cfg, nil
}

func projectRootFromConfigPath(path string) string {
	dir := filepath.Dir(path)
	if filepath.Base(dir) == ".engram" {
		return filepath.Dir(dir)
	}
	return dir
}

func (c *Config) applyDefaults() {
	if c.Budget.ContextLimitChars == 0 {
		c.Budget.ContextLimitChars = 180_000
	}
	if c.Budget.InstructionsOverhead == 0 {
		c.Budget.InstructionsOverhead = 4_000
	}
	if c.Budget.MaxChunkChars == 0 {
		c.Budget.MaxChunkChars = 60_000
	}
	if c.Budget.MaxNewEntriesPerCategory == 0 {
		c.Budget.MaxNewEntriesPerCategory = 40
	}
	if c.Thresholds.OrphanTriage == 0 {
		c.Thresholds.OrphanTriage = 5
	}
	if c.Thresholds.ContestedReviewDays == 0 {
		c.Thresholds.ContestedReviewDays = 14
	}
	if c.Thresholds.ContestedReviewThreshold == 0 {
		c.Thresholds.ContestedReviewThreshold = 3
	}
	if c.Thresholds.StaleUnverifiedDays == 0 {
		c.Thresholds.StaleUnverifiedDays = 30
	}
	if c.Thresholds.StaleUnverifiedThreshold == 0 {
		c.Thresholds.StaleUnverifiedThreshold = 5
	}
	if c.Thresholds.WorkflowRepetition == 0 {
		c.Thresholds.WorkflowRepetition = 3
	}
	if c.Dispatch.BufferThresholdChars == 0 {
		c.Dispatch.BufferThresholdChars = 40_000
	}
	if c.Dispatch.PollInterval == "" {
		c.Dispatch.PollInterval = "30s"
	}
	if c.Dispatch.WorkflowCooldownChunks == 0 {
		c.Dispatch.WorkflowCooldownChunks = 10
	}
}

// EngramDir returns the .engram directory for the project.
func (c *Config) EngramDir() string {
	return filepath.Join(c.ProjectRoot, ".engram")
}

// Template returns the YAML template written by `engram init`.
func Template() []byte {
	cfg := Config{
		Docs: DocsConfig{
			Living:          []string{"docs/timeline.md", "docs/concepts.md", "docs/epistemic.md", "docs/workflows.md"},
			Graveyard:       []string{"docs/graveyard_concepts.md", "docs/graveyard_epistemic.md"},
			BriefingFile:    "docs/BRIEFING.md",
			BriefingSection: "## L0 Briefing",
		},
		Sources: SourcesConfig{
			IssuesDir: ".engram/issues",
			DocRoots:  []string{"docs"},
			Sessions: []SessionFormatConfig{
				{Path: "~/.claude/history.jsonl", Format: "claude-code", ProjectMatch: ""},
			},
		},
		FoldAgent: FoldAgentConfig{Command: []string{"fold-agent", "--chunk"}, Model: "claude"},
	}
	cfg.applyDefaults()
	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil
	}
	return out
}
