// Package cmd implements the thin CLI shell around the core archival
// pipeline: one file per subcommand, all wiring and exit-code mapping
// here, no archival logic.
package cmd

import (
	"errors"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/ytarchive/internal/config"
	"github.com/onnwee/ytarchive/internal/logging"
)

var (
	archiveRoot string
	logLevel    string
	logFormat   string
)

// Execute runs the root cobra command.
func Execute() error {
	return rootCmd.Execute()
}

var rootCmd = &cobra.Command{
	Use:           "ytarchive",
	Short:         "Archive YouTube channels, playlists and videos into a git + large-file repository",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(".env")
		slog.SetDefault(logging.Setup(logLevel, logFormat))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&archiveRoot, "archive", ".", "path to the archive repository")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text, json")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(checkCmd)
}

func configPath() string {
	return config.DefaultConfigPath(archiveRoot)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath())
}

// ExitErr carries a process exit code alongside an error message, letting
// subcommands signal the interrupted-but-checkpointed code (2) or the
// quota-gave-up code (4) distinctly from a plain run failure (1).
type ExitErr struct {
	Code int
	Err  error
}

func (e *ExitErr) Error() string { return e.Err.Error() }
func (e *ExitErr) Unwrap() error { return e.Err }

func fail(code int, err error) error { return &ExitErr{Code: code, Err: err} }

// ExitCode extracts the process exit code for err, defaulting to 1 for any
// non-ExitErr failure and 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitErr
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

