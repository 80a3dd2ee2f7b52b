// Package remote is the single polymorphic boundary to the video
// platform. It defines the Adapter interface, the error taxonomy the
// scheduler dispatches on, and a real YouTube Data API v3 implementation
// (youtube.go). Tests substitute the Fake in fake.go.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/ytarchive/internal/model"
)

// Transient is a retryable network/5xx/timeout failure.
type Transient struct{ Err error }

func (e *Transient) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *Transient) Unwrap() error { return e.Err }

// RateLimited is an HTTP 429; RetryAfter is honored when the platform sends it.
type RateLimited struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimited) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}
func (e *RateLimited) Unwrap() error { return e.Err }

// QuotaExceeded signals the platform's daily quota has been exhausted; the
// Pipeline Scheduler delegates to the Quota Manager on this error.
type QuotaExceeded struct{ Err error }

func (e *QuotaExceeded) Error() string { return fmt.Sprintf("quota exceeded: %v", e.Err) }
func (e *QuotaExceeded) Unwrap() error { return e.Err }

// Unavailable marks a video as private/removed/members-only/age-gated.
// Reason is recorded verbatim into metadata.json.
type Unavailable struct{ Reason string }

func (e *Unavailable) Error() string { return fmt.Sprintf("unavailable: %s", e.Reason) }

// NotFound indicates the id does not resolve to any resource.
type NotFound struct{ ID string }

func (e *NotFound) Error() string { return fmt.Sprintf("not found: %s", e.ID) }

// Malformed indicates an upstream payload could not be parsed; fatal to the
// affected item only.
type Malformed struct{ Err error }

func (e *Malformed) Error() string { return fmt.Sprintf("malformed payload: %v", e.Err) }
func (e *Malformed) Unwrap() error { return e.Err }

// IsTransient, IsRateLimited, IsQuotaExceeded, IsUnavailable, IsNotFound and
// IsMalformed classify an error against the taxonomy above using errors.As,
// so wrapped errors (via %w) still classify correctly.
func IsTransient(err error) bool {
	var e *Transient
	return errors.As(err, &e)
}

func IsRateLimited(err error) (*RateLimited, bool) {
	var e *RateLimited
	ok := errors.As(err, &e)
	return e, ok
}

func IsQuotaExceeded(err error) bool {
	var e *QuotaExceeded
	return errors.As(err, &e)
}

func IsUnavailable(err error) (*Unavailable, bool) {
	var e *Unavailable
	ok := errors.As(err, &e)
	return e, ok
}

func IsNotFound(err error) bool {
	var e *NotFound
	return errors.As(err, &e)
}

func IsMalformed(err error) bool {
	var e *Malformed
	return errors.As(err, &e)
}

// VideoStub is the minimal record returned by listing operations; full
// metadata is fetched lazily via FetchVideoMetadata, since list endpoints
// are cheaper against the platform's quota.
type VideoStub struct {
	ID        string
	Published time.Time
}

// PlaylistDescriptor is a playlist summary returned by ListChannelPlaylists.
type PlaylistDescriptor struct {
	ID    string
	Title string
	Kind  string // "" for an ordinary playlist, "podcast" for the podcast surface
}

// ListFilter narrows a channel/playlist listing before any per-video fetch.
// Shorts/license/duration filtering isn't here because the listing endpoints
// don't return duration or license; those are enforced downstream in the
// scheduler once full metadata is fetched.
type ListFilter struct {
	DateStart, DateEnd time.Time
}

// Adapter is the single polymorphic boundary to the remote video platform.
// A lazy sequence is modeled as (items, error) returned in full
// since the platform's own pagination is bounded and restartable; no method
// streams its results.
type Adapter interface {
	// ListChannelVideos lists a channel's uploads, newest first, restartable.
	ListChannelVideos(ctx context.Context, channelURL string, filter ListFilter) ([]VideoStub, error)

	// ListPlaylistItems lists a playlist's member video ids in platform order.
	ListPlaylistItems(ctx context.Context, playlistURL string) ([]string, error)

	// ListChannelPlaylists lists a channel's playlists, optionally including
	// the podcast-tab surface.
	ListChannelPlaylists(ctx context.Context, channelURL string, includePodcasts bool) ([]PlaylistDescriptor, error)

	// FetchVideoMetadata fetches full metadata for one video, or an
	// *Unavailable/*NotFound error.
	FetchVideoMetadata(ctx context.Context, videoID string) (*model.Video, error)

	// FetchComments fetches up to maxCount comments published after since
	// (zero means no lower bound). maxCount=0 disables the fetch entirely.
	FetchComments(ctx context.Context, videoID string, maxCount int, since time.Time) ([]model.Comment, error)

	// ListCaptionLanguages lists the language codes of a video's caption
	// tracks without downloading any of them, letting the scheduler decide
	// whether a refetch is warranted at all.
	ListCaptionLanguages(ctx context.Context, videoID string) ([]string, error)

	// FetchCaptions fetches VTT bytes for languages matching languageRegex,
	// excluding auto-translated variants unless includeAutoTranslated is set.
	FetchCaptions(ctx context.Context, videoID string, languageRegex string, includeAutoTranslated bool) (map[string]CaptionPayload, error)

	// CanonicalWatchURL returns the canonical watch URL for a video id,
	// used when registering indirect binary references with the store.
	CanonicalWatchURL(videoID string) string

	// ResolveChannel resolves a channel URL/handle to its channel id and
	// display name, used by Source Discovery.
	ResolveChannel(ctx context.Context, channelURL string) (id, name string, err error)
}

// CaptionPayload is one fetched caption track.
type CaptionPayload struct {
	VTT           []byte
	AutoGenerated bool
}

// ClassifyHTTPError turns a raw transport/status error into the taxonomy
// above by status-code/message inspection.
func ClassifyHTTPError(statusCode int, retryAfter time.Duration, err error) error {
	switch {
	case statusCode == 429:
		return &RateLimited{RetryAfter: retryAfter, Err: err}
	case statusCode == 403 && looksLikeQuota(err):
		return &QuotaExceeded{Err: err}
	case statusCode == 404:
		return &NotFound{}
	case statusCode >= 500 && statusCode <= 599:
		return &Transient{Err: err}
	case statusCode == 0:
		return &Transient{Err: err}
	default:
		return err
	}
}

func looksLikeQuota(err error) bool {
	if err == nil {
		return false
	}
	l := strings.ToLower(err.Error())
	return strings.Contains(l, "quota") || strings.Contains(l, "dailylimitexceeded") || strings.Contains(l, "userratelimitexceeded")
}
