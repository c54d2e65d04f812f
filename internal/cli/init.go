package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/atomicio"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/store"
)

// requiredHeaders are the schema headers init writes into each fresh
// living/graveyard doc, so the linter's identifier scan has something
// well-formed to parse from the first chunk onward.
var requiredHeaders = map[string]string{
	"timeline.md":             "# Timeline\n",
	"concepts.md":             "# Concepts\n",
	"epistemic.md":            "# Epistemic Claims\n",
	"workflows.md":            "# Workflows\n",
	"graveyard_concepts.md":   "# Graveyard: Concepts\n",
	"graveyard_epistemic.md":  "# Graveyard: Epistemic Claims\n",
}

func newInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the state store, config template, and empty living docs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, rootOpts)
		},
	}
}

func runInit(cmd *cobra.Command, rootOpts *RootOptions) error {
	configPath := rootOpts.ConfigPath
	if configPath == "" {
		root := rootOpts.ProjectRoot
		if root == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to determine working directory", err)
			}
			root = cwd
		}
		configPath = filepath.Join(root, config.DefaultRelPath)
	}

	if atomicio.Exists(configPath) {
		return NewExitError(ExitCommandError, fmt.Sprintf("config already exists at %s", configPath))
	}
	if err := atomicio.WriteFile(configPath, config.Template(), 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write config template", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to reload freshly written config", err)
	}

	for _, rel := range append(append([]string{}, cfg.Docs.Living...), cfg.Docs.Graveyard...) {
		full := filepath.Join(cfg.ProjectRoot, rel)
		if atomicio.Exists(full) {
			continue
		}
		header := requiredHeaders[filepath.Base(rel)]
		if header == "" {
			header = fmt.Sprintf("# %s\n", filepath.Base(rel))
		}
		if err := atomicio.WriteFile(full, []byte(header), 0o644); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to write %s", rel), err)
		}
	}

	s, err := store.Open(cmd.Context(), filepath.Join(cfg.EngramDir(), "state.db"), nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create state store", err)
	}
	defer s.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "initialized engram project at %s\n", cfg.ProjectRoot)
	return nil
}
