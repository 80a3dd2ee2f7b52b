package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/onnwee/ytarchive/internal/config"
	"github.com/onnwee/ytarchive/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an archive at --archive, writing .gitattributes and a template config",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s := store.NewGitStore(archiveRoot)
		if err := s.Init(ctx, store.DefaultTrackingRules()); err != nil {
			return fail(1, err)
		}
		cfgDir := filepath.Join(archiveRoot, ".ytarchive")
		if err := os.MkdirAll(cfgDir, 0o755); err != nil {
			return fail(1, fmt.Errorf("init: mkdir %s: %w", cfgDir, err))
		}
		path := config.DefaultConfigPath(archiveRoot)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(config.Template), 0o644); err != nil {
				return fail(1, fmt.Errorf("init: write config template: %w", err))
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "initialized archive at %s\n", archiveRoot)
		return nil
	},
}
