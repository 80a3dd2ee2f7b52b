package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/onnwee/ytarchive/internal/config"
	"github.com/onnwee/ytarchive/internal/logging"
	"github.com/onnwee/ytarchive/internal/pipeline"
	"github.com/onnwee/ytarchive/internal/quota"
	"github.com/onnwee/ytarchive/internal/remote"
	"github.com/onnwee/ytarchive/internal/secrets"
	"github.com/onnwee/ytarchive/internal/store"
	"github.com/onnwee/ytarchive/internal/telemetry"
)

// appVersion tags the OpenTelemetry resource for this build; there is no
// release pipeline yet stamping this at link time.
const appVersion = "dev"

var backupMode string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run the archival pipeline in the chosen update mode",
	RunE:  runBackup,
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Alias for backup in an incremental mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backupMode == "" {
			backupMode = string(pipeline.ModeAllIncremental)
		}
		return runBackup(cmd, args)
	},
}

func init() {
	for _, c := range []*cobra.Command{backupCmd, updateCmd} {
		c.Flags().StringVar(&backupMode, "mode", string(pipeline.ModeAllIncremental),
			"videos-incremental | all-incremental | social | all-force | playlists")
	}
}

// runBackup wires the Remote Adapter, Quota Manager and Repository Store
// into a Scheduler and runs one archival pass, with signal.NotifyContext
// handling interrupts as graceful shutdown.
func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fail(3, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithRunID(ctx, uuid.NewString())

	shutdownTracing, err := telemetry.InitTracing("ytarchive", appVersion)
	if err != nil {
		return fail(1, err)
	}
	defer shutdownTracing()

	adapter, err := buildAdapter(ctx, cfg)
	if err != nil {
		return fail(3, err)
	}

	gitStore := store.NewGitStore(archiveRoot)
	if err := gitStore.Init(ctx, store.DefaultTrackingRules()); err != nil {
		return fail(1, err)
	}

	qm := quota.New(
		time.Duration(cfg.API.QuotaCheckIntervalMin)*time.Minute,
		time.Duration(cfg.API.QuotaMaxWaitHours)*time.Hour,
		func(ctx context.Context) error {
			_, err := adapter.FetchVideoMetadata(ctx, "dQw4w9WgXcQ")
			return err
		},
	)
	qm.MarkerPath = quota.DefaultMarkerPath(archiveRoot)

	sched := &pipeline.Scheduler{
		Adapter:     adapter,
		Store:       gitStore,
		Quota:       qm,
		ArchiveRoot: archiveRoot,
		Config:      cfg,
		Workers:     4,
	}
	if cfg.Components.Videos {
		sched.Downloader = &remote.YTDLPDownloader{
			Proxy:         cfg.Network.Proxy,
			LimitRate:     cfg.Network.LimitRate,
			SleepInterval: cfg.Network.SleepInterval,
		}
	}

	mode := pipeline.Mode(backupMode)
	filter := remote.ListFilter{}
	if cfg.Filters.DateStart != "" {
		if t, err := time.Parse("2006-01-02", cfg.Filters.DateStart); err == nil {
			filter.DateStart = t
		}
	}
	if cfg.Filters.DateEnd != "" {
		if t, err := time.Parse("2006-01-02", cfg.Filters.DateEnd); err == nil {
			filter.DateEnd = t
		}
	}

	stats, runErr := sched.Run(ctx, cfg.ModelSources(), mode, filter)
	fmt.Fprintf(cmd.OutOrStdout(), "fetched=%d skipped=%d failed=%d moved=%d checkpoints=%d commits=%d\n",
		stats.Fetched, stats.Skipped, stats.Failed, stats.Moved, stats.Checkpoints, stats.Commits)

	if runErr == nil {
		return nil
	}
	if _, ok := runErr.(*pipeline.Interrupted); ok {
		return fail(2, runErr)
	}
	if qm.State() == quota.StateGaveUp {
		return fail(4, runErr)
	}
	return fail(1, runErr)
}

// buildAdapter prefers an OAuth2 client (needed for members-only/private
// surfaces) when a cached refresh token is present, falling back to the
// lighter-weight API key credential for read-only public archiving.
func buildAdapter(ctx context.Context, cfg *config.Config) (remote.Adapter, error) {
	if cfg.YouTubeOAuthClientID != "" && cfg.YouTubeOAuthClientSecret != "" {
		cachePath := config.DefaultConfigPath(archiveRoot) + ".token"
		var enc secrets.Encryptor
		if cfg.EncryptionKey != "" {
			var err error
			enc, err = secrets.NewAESEncryptor(cfg.EncryptionKey)
			if err != nil {
				return nil, fmt.Errorf("cmd: build token encryptor: %w", err)
			}
		}
		cache := secrets.NewTokenCache(cachePath, enc)
		tok, err := cache.Load()
		if err == nil && tok != nil {
			return remote.NewWithOAuth(ctx, cfg.YouTubeOAuthClientID, cfg.YouTubeOAuthClientSecret, tok, 5)
		}
	}
	if cfg.YouTubeAPIKey == "" {
		return nil, fmt.Errorf("cmd: YT_API_KEY (or YT_OAUTH_CLIENT_ID/SECRET with a cached token) is required")
	}
	return remote.NewWithAPIKey(ctx, cfg.YouTubeAPIKey, 5)
}
