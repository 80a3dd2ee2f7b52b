// Package model defines the entities archived by the pipeline: sources,
// videos, playlists, caption tracks, comments and authors. These are the
// types that flow between the Remote Adapter, the Pipeline Scheduler, State
// Derivation and the Exporter.
package model

import "time"

// Availability is the lifecycle state of a video on the remote platform.
type Availability string

const (
	AvailabilityPublic      Availability = "public"
	AvailabilityUnlisted    Availability = "unlisted"
	AvailabilityPrivate     Availability = "private"
	AvailabilityRemoved     Availability = "removed"
	AvailabilityMembersOnly Availability = "members-only"
)

// DownloadStatus tracks whether a video's binary content has been fetched,
// is only tracked as an indirect URL reference, or carries no binary at all.
type DownloadStatus string

const (
	DownloadStatusTrackedURLOnly DownloadStatus = "tracked-url-only"
	DownloadStatusDownloaded     DownloadStatus = "downloaded"
	DownloadStatusMetadataOnly   DownloadStatus = "metadata-only"
)

// SourceKind is the kind of root a Source expands from.
type SourceKind string

const (
	SourceKindChannel   SourceKind = "channel"
	SourceKindPlaylist  SourceKind = "playlist"
	SourceKindVideoList SourceKind = "video-list"
)

// IncludePlaylists controls channel playlist auto-discovery.
type IncludePlaylists string

const (
	IncludePlaylistsAll  IncludePlaylists = "all"
	IncludePlaylistsNone IncludePlaylists = "none"
)

// Source is one root of archiving, as loaded from configuration.
type Source struct {
	URL              string
	Kind             SourceKind
	Enabled          bool
	IncludePlaylists string // "all" | "none" | a regex
	ExcludePlaylists string // regex, optional
	IncludePodcasts  bool

	// Per-source overrides; empty means "use global components.* config".
	Components *ComponentOverrides
}

// ComponentOverrides mirrors the global Components config but all fields are
// pointers so "unset" can be distinguished from "explicitly false/zero".
type ComponentOverrides struct {
	Videos              *bool
	Metadata             *bool
	CommentsDepth        *int
	Captions             *bool
	CaptionLanguages     *string
	AutoTranslated       *bool
	Thumbnails           *bool
}

// CaptionTrack describes one fetched (or fetchable) caption language for a
// video.
type CaptionTrack struct {
	Language      string    `json:"language"`
	AutoGenerated bool      `json:"auto_generated"`
	Path          string    `json:"path"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// Comment is one platform comment. ParentID is ParentRootSentinel when the
// wire payload reported the comment as top level (or when the source adapter
// cannot determine a parent).
type Comment struct {
	ID          string    `json:"id"`
	Author      string    `json:"author"`
	AuthorID    string    `json:"author_id"`
	Text        string    `json:"text"`
	Published   time.Time `json:"published"`
	LikeCount   int64     `json:"like_count"`
	ParentID    string    `json:"parent_id"`
}

// ParentRootSentinel is used for Comment.ParentID when a comment has no
// parent (top-level) or the wire payload did not report one.
const ParentRootSentinel = "root"

// Video is the canonical per-video record, the authoritative content of
// metadata.json.
type Video struct {
	ID          string       `json:"video_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	ChannelID   string       `json:"channel_id"`
	ChannelName string       `json:"channel_name"`
	Published   time.Time    `json:"published"`
	Duration    int          `json:"duration_seconds"`
	ViewCount   int64        `json:"view_count"`
	LikeCount   int64        `json:"like_count"`
	CommentCount int64       `json:"comment_count"`
	ThumbnailURL string      `json:"thumbnail_url"`
	Tags        []string     `json:"tags"`
	Categories  []string     `json:"categories"`
	License     string       `json:"license"`
	Availability Availability `json:"availability"`

	// CaptionsAvailable is the sorted list of language codes with a fetched
	// or fetchable track. Invariant: always kept sorted.
	CaptionsAvailable []string `json:"captions_available"`
	HasAutoCaptions   bool     `json:"has_auto_captions"`

	DownloadStatus DownloadStatus `json:"download_status"`
	SourceURL      string         `json:"source_url"`

	FirstFetched time.Time `json:"first_fetched_at"`
	LastUpdated  time.Time `json:"updated_at"`

	// Path is repository-relative, e.g. "videos/2024/03/2024-03-01_my-title".
	Path string `json:"path"`

	// UnavailabilityReason is set only when Availability != public.
	UnavailabilityReason string `json:"unavailability_reason,omitempty"`
}

// Playlist is a platform playlist and its member ordering.
type Playlist struct {
	ID          string    `json:"playlist_id"`
	Title       string    `json:"title"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	VideoIDs    []string  `json:"video_ids"`
	VideoCount  int       `json:"video_count"`
	TotalDuration int     `json:"total_duration_seconds"`
	LastUpdated time.Time `json:"last_updated"`
	// Path is the directory name under playlists/ (sanitized title).
	Path string `json:"path"`
	// Kind distinguishes an ordinary playlist from a podcast-tab surface;
	// both share the same on-disk shape.
	Kind string `json:"kind,omitempty"`
}

// Author is an aggregate over uploaders and commenters, built by the
// Exporter.
type Author struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	ChannelURL   string    `json:"channel_url"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	VideoCount   int       `json:"video_count"`
	CommentCount int       `json:"comment_count"`
}
