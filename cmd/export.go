package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onnwee/ytarchive/internal/export"
	"github.com/onnwee/ytarchive/internal/store"
)

var exportTarget string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Regenerate videos.tsv, playlists.tsv and/or authors.tsv from on-disk metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s := store.NewGitStore(archiveRoot)

		targets, err := parseExportTarget(exportTarget)
		if err != nil {
			return fail(3, err)
		}
		if err := export.Run(ctx, archiveRoot, s, targets); err != nil {
			return fail(1, err)
		}
		if err := s.AddAll(ctx); err != nil {
			return fail(1, err)
		}
		if _, err := s.Commit(ctx, "Export: regenerate indices"); err != nil {
			return fail(1, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "export complete")
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportTarget, "targets", "all", "videos|playlists|authors|all")
}

func parseExportTarget(s string) (export.Targets, error) {
	switch s {
	case "all", "":
		return export.All(), nil
	case "videos":
		return export.Targets{Videos: true}, nil
	case "playlists":
		return export.Targets{Playlists: true}, nil
	case "authors":
		return export.Targets{Authors: true}, nil
	default:
		return export.Targets{}, fmt.Errorf("export: unknown target %q", s)
	}
}
