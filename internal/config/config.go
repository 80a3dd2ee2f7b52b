// Package config loads the declarative archive configuration from a TOML
// file and layers environment-variable secrets and defaults on top.
// Env vars always win over the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/onnwee/ytarchive/internal/model"
)

// Source is one configured archiving root.
type Source struct {
	URL              string `toml:"url"`
	Kind             string `toml:"kind"`
	Enabled          bool   `toml:"enabled"`
	IncludePlaylists string `toml:"include_playlists"`
	ExcludePlaylists string `toml:"exclude_playlists"`
	IncludePodcasts  bool   `toml:"include_podcasts"`
}

// Components selects which per-video artifacts are fetched.
type Components struct {
	Videos                bool   `toml:"videos"`
	Metadata              bool   `toml:"metadata"`
	CommentsDepth         int    `toml:"comments_depth"`
	Captions              bool   `toml:"captions"`
	CaptionLanguages      string `toml:"caption_languages"`
	AutoTranslatedCaptions bool  `toml:"auto_translated_captions"`
	Thumbnails            bool   `toml:"thumbnails"`
}

// Organization controls on-disk layout.
type Organization struct {
	VideoPathPattern       string `toml:"video_path_pattern"`
	PlaylistPrefixWidth    int    `toml:"playlist_prefix_width"`
	PlaylistPrefixSeparator string `toml:"playlist_prefix_separator"`
}

// Filters restrict which candidate videos are archived.
// Date range is enforced during discovery and Limit by the scheduler before
// any fetch; the rest are checked against each candidate's fetched metadata,
// after the fetch but before it is written to the store, since
// duration/license aren't known until then.
type Filters struct {
	DateStart string `toml:"date_start"`
	DateEnd   string `toml:"date_end"`
	// License, when non-empty, keeps only videos whose reported license
	// equals this value (case-insensitive), e.g. "creativeCommon".
	License string `toml:"license"`
	// Limit caps the number of candidates considered per source; 0 means
	// unlimited.
	Limit int `toml:"limit"`
	// MaxDurationSeconds drops videos longer than this; 0 means unlimited.
	MaxDurationSeconds int `toml:"max_duration_seconds"`
	// ExcludeShorts drops videos at or under the Shorts duration threshold.
	ExcludeShorts bool `toml:"exclude_shorts"`
}

// shortsThresholdSeconds is YouTube's Shorts duration ceiling, used when
// Filters.ExcludeShorts is set.
const shortsThresholdSeconds = 180

// AdmitsMetadata applies the License/MaxDurationSeconds/ExcludeShorts
// filters against a video's fetched metadata. Date range (during
// discovery) and per-source Limit (in the scheduler, before any fetch) are
// enforced earlier, since they don't require a metadata fetch.
func (f Filters) AdmitsMetadata(v *model.Video) bool {
	if f.License != "" && !strings.EqualFold(f.License, v.License) {
		return false
	}
	if f.MaxDurationSeconds > 0 && v.Duration > f.MaxDurationSeconds {
		return false
	}
	if f.ExcludeShorts && v.Duration > 0 && v.Duration <= shortsThresholdSeconds {
		return false
	}
	return true
}

// Backup controls checkpoint/commit behavior.
type Backup struct {
	CheckpointInterval   int  `toml:"checkpoint_interval"`
	AutoCommitOnInterrupt bool `toml:"auto_commit_on_interrupt"`
}

// API controls quota handling.
type API struct {
	QuotaAutoWait       bool `toml:"quota_auto_wait"`
	QuotaMaxWaitHours   int  `toml:"quota_max_wait_hours"`
	QuotaCheckIntervalMin int `toml:"quota_check_interval_min"`
}

// Network controls optional proxy/throttling.
type Network struct {
	Proxy         string        `toml:"proxy"`
	LimitRate     string        `toml:"limit_rate"`
	SleepInterval time.Duration `toml:"sleep_interval"`
}

// Config is the fully-loaded, defaulted configuration.
type Config struct {
	Sources      []Source     `toml:"sources"`
	Components   Components   `toml:"components"`
	Organization Organization `toml:"organization"`
	Filters      Filters      `toml:"filters"`
	Backup       Backup       `toml:"backup"`
	API          API          `toml:"api"`
	Network      Network      `toml:"network"`

	// Secrets, env-var only; never read from the TOML file so they can't
	// end up committed.
	YouTubeAPIKey         string `toml:"-"`
	YouTubeOAuthClientID  string `toml:"-"`
	YouTubeOAuthClientSecret string `toml:"-"`
	EncryptionKey         string `toml:"-"`
}

func defaults() Config {
	return Config{
		Components: Components{
			Metadata: true,
		},
		Organization: Organization{
			VideoPathPattern:       "{year}/{month}/{date}_{sanitized_title}",
			PlaylistPrefixWidth:    4,
			PlaylistPrefixSeparator: "_",
		},
		Backup: Backup{
			CheckpointInterval:    50,
			AutoCommitOnInterrupt: true,
		},
		API: API{
			QuotaAutoWait:         true,
			QuotaMaxWaitHours:     48,
			QuotaCheckIntervalMin: 30,
		},
	}
}

// Load reads the TOML file at path (if it exists), applies defaults for any
// zero-valued field a default exists for, and fills secrets from the
// environment. A missing file is not an error: `init` has not necessarily
// run yet when probing.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}
	if cfg.Organization.VideoPathPattern == "" {
		cfg.Organization.VideoPathPattern = defaults().Organization.VideoPathPattern
	}
	if cfg.Organization.PlaylistPrefixWidth == 0 {
		cfg.Organization.PlaylistPrefixWidth = defaults().Organization.PlaylistPrefixWidth
	}
	if cfg.Organization.PlaylistPrefixSeparator == "" {
		cfg.Organization.PlaylistPrefixSeparator = defaults().Organization.PlaylistPrefixSeparator
	}
	if cfg.Backup.CheckpointInterval == 0 {
		cfg.Backup.CheckpointInterval = defaults().Backup.CheckpointInterval
	}
	if cfg.API.QuotaMaxWaitHours == 0 {
		cfg.API.QuotaMaxWaitHours = defaults().API.QuotaMaxWaitHours
	}
	if cfg.API.QuotaCheckIntervalMin == 0 {
		cfg.API.QuotaCheckIntervalMin = defaults().API.QuotaCheckIntervalMin
	}

	cfg.YouTubeAPIKey = os.Getenv("YT_API_KEY")
	cfg.YouTubeOAuthClientID = os.Getenv("YT_OAUTH_CLIENT_ID")
	cfg.YouTubeOAuthClientSecret = os.Getenv("YT_OAUTH_CLIENT_SECRET")
	cfg.EncryptionKey = os.Getenv("YTARCHIVE_ENCRYPTION_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast on configuration errors the pipeline cannot recover
// from; the pipeline never starts on a bad config.
func (c *Config) Validate() error {
	for _, s := range c.Sources {
		switch s.Kind {
		case "channel", "playlist", "video-list", "":
		default:
			return fmt.Errorf("config: source %q: unknown kind %q", s.URL, s.Kind)
		}
	}
	if c.Organization.PlaylistPrefixWidth < 1 || c.Organization.PlaylistPrefixWidth > 9 {
		return fmt.Errorf("config: organization.playlist_prefix_width must be 1-9, got %d", c.Organization.PlaylistPrefixWidth)
	}
	if err := validatePattern(c.Organization.VideoPathPattern); err != nil {
		return fmt.Errorf("config: organization.video_path_pattern: %w", err)
	}
	return nil
}

var knownPlaceholders = map[string]bool{
	"year": true, "month": true, "date": true, "video_id": true,
	"sanitized_title": true, "channel_id": true, "channel_name": true,
}

// validatePattern rejects unknown placeholders at load time.
func validatePattern(pattern string) error {
	i := 0
	for i < len(pattern) {
		if pattern[i] != '{' {
			i++
			continue
		}
		end := -1
		for j := i + 1; j < len(pattern); j++ {
			if pattern[j] == '}' {
				end = j
				break
			}
		}
		if end == -1 {
			return fmt.Errorf("unterminated placeholder starting at %d", i)
		}
		name := pattern[i+1 : end]
		if !knownPlaceholders[name] {
			return fmt.Errorf("unknown placeholder %q", name)
		}
		i = end + 1
	}
	return nil
}

// ModelSources converts the configured sources to the model.Source shape
// the Pipeline Scheduler operates on. Per-source component overrides have no
// TOML surface yet, so ComponentOverrides is always nil here; it exists on
// model.Source for a future richer config without a schema change.
func (c *Config) ModelSources() []model.Source {
	out := make([]model.Source, len(c.Sources))
	for i, s := range c.Sources {
		kind := model.SourceKindChannel
		switch s.Kind {
		case "playlist":
			kind = model.SourceKindPlaylist
		case "video-list":
			kind = model.SourceKindVideoList
		}
		out[i] = model.Source{
			URL:              s.URL,
			Kind:             kind,
			Enabled:          s.Enabled,
			IncludePlaylists: s.IncludePlaylists,
			ExcludePlaylists: s.ExcludePlaylists,
			IncludePodcasts:  s.IncludePodcasts,
		}
	}
	return out
}

// DefaultConfigPath is where `init` writes the template and other commands
// look for it by default.
func DefaultConfigPath(archiveRoot string) string {
	return archiveRoot + "/.ytarchive/config.toml"
}

// Template is the text written by `init` for a fresh archive.
const Template = `# ytarchive configuration
# Secrets (API keys, OAuth client id/secret) are never stored here; set
# YT_API_KEY / YT_OAUTH_CLIENT_ID / YT_OAUTH_CLIENT_SECRET in the environment.

[[sources]]
url = "https://www.youtube.com/@example"
kind = "channel"
enabled = true
include_playlists = "none"
include_podcasts = false

[components]
videos = false
metadata = true
comments_depth = 100
captions = true
caption_languages = ".*"
auto_translated_captions = false
thumbnails = true

[organization]
video_path_pattern = "{year}/{month}/{date}_{sanitized_title}"
playlist_prefix_width = 4
playlist_prefix_separator = "_"

[filters]
limit = 0
# license = "creativeCommon"
max_duration_seconds = 0
exclude_shorts = false

[backup]
checkpoint_interval = 50
auto_commit_on_interrupt = true

[api]
quota_auto_wait = true
quota_max_wait_hours = 48
quota_check_interval_min = 30
`
