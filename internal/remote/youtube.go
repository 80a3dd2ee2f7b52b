// YouTube Data API v3 implementation of Adapter: API-key or OAuth2 client
// construction, paginated listing, and retry/backoff around every call.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/ytarchive/internal/model"
)

const (
	maxRetries   = 5
	baseBackoff  = 500 * time.Millisecond
	maxBackoff   = 30 * time.Second
	pageSize     = int64(50)
)

// YouTubeAdapter is the real Adapter talking to the YouTube Data API v3.
// It accepts either an API key (read-only public data, the common case for
// archiving public channels) or an OAuth2 client (needed for some private
// playlist/comment surfaces).
type YouTubeAdapter struct {
	svc     *yt.Service
	limiter *rate.Limiter
}

// NewWithAPIKey builds an adapter backed by a YouTube Data API key, the
// lightest-weight credential for read-only public archiving.
func NewWithAPIKey(ctx context.Context, apiKey string, requestsPerSecond float64) (*YouTubeAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("remote: YT_API_KEY is required")
	}
	svc, err := yt.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("remote: build youtube service: %w", err)
	}
	return newAdapter(svc, requestsPerSecond), nil
}

// NewWithOAuth builds an adapter backed by an OAuth2 client credential,
// for sources that need authenticated access (e.g. a members-only playlist
// the operator has access to).
func NewWithOAuth(ctx context.Context, clientID, clientSecret string, token *oauth2.Token, requestsPerSecond float64) (*YouTubeAdapter, error) {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/youtube.readonly"},
	}
	client := cfg.Client(ctx, token)
	svc, err := yt.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("remote: build youtube service: %w", err)
	}
	return newAdapter(svc, requestsPerSecond), nil
}

func newAdapter(svc *yt.Service, requestsPerSecond float64) *YouTubeAdapter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &YouTubeAdapter{
		svc:     svc,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (a *YouTubeAdapter) wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// withRetry executes op, retrying Transient classifications with exponential
// backoff+jitter up to maxRetries, honoring RateLimited.RetryAfter and
// propagating QuotaExceeded/Unavailable/NotFound/Malformed immediately.
func withRetry[T any](ctx context.Context, a *YouTubeAdapter, endpoint string, op func() (T, error)) (T, error) {
	var zero T
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := a.wait(ctx); err != nil {
			return zero, err
		}
		res, err := op()
		if err == nil {
			return res, nil
		}
		classified := classify(endpoint, err)
		if rl, ok := IsRateLimited(classified); ok && attempt < maxRetries {
			d := rl.RetryAfter
			if d <= 0 {
				d = backoffDelay(attempt)
			}
			slog.Warn("remote rate limited; retrying", slog.String("endpoint", endpoint), slog.Int("attempt", attempt), slog.Duration("delay", d))
			if err := sleepCtx(ctx, d); err != nil {
				return zero, err
			}
			continue
		}
		if IsTransient(classified) && attempt < maxRetries {
			d := backoffDelay(attempt)
			slog.Warn("remote transient error; retrying", slog.String("endpoint", endpoint), slog.Int("attempt", attempt), slog.Duration("delay", d), slog.Any("err", err))
			if err := sleepCtx(ctx, d); err != nil {
				return zero, err
			}
			continue
		}
		return zero, classified
	}
	return zero, fmt.Errorf("remote: %s failed after %d attempts", endpoint, maxRetries)
}

func backoffDelay(attempt int) time.Duration {
	d := baseBackoff * time.Duration(1<<(attempt-1))
	if d > maxBackoff {
		d = maxBackoff
	}
	//nolint:gosec // G404: math/rand is sufficient for backoff jitter, not used for security
	jitter := time.Duration(rand.Int63n(int64(baseBackoff)))
	return d + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// classify turns a googleapi.Error into the taxonomy; non-googleapi errors
// (network-level) become Transient.
func classify(endpoint string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		var retryAfter time.Duration
		if secs, perr := strconv.Atoi(gerr.Header.Get("Retry-After")); perr == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		return ClassifyHTTPError(gerr.Code, retryAfter, err)
	}
	return &Transient{Err: err}
}

func (a *YouTubeAdapter) ResolveChannel(ctx context.Context, channelURL string) (string, string, error) {
	handle := extractHandle(channelURL)
	call := a.svc.Channels.List([]string{"snippet", "contentDetails"}).Context(ctx)
	if strings.HasPrefix(handle, "UC") {
		call = call.Id(handle)
	} else {
		call = call.ForHandle(strings.TrimPrefix(handle, "@"))
	}
	resp, err := withRetry(ctx, a, "channels.list", func() (*yt.ChannelListResponse, error) { return call.Do() })
	if err != nil {
		return "", "", err
	}
	if len(resp.Items) == 0 {
		return "", "", &NotFound{ID: channelURL}
	}
	ch := resp.Items[0]
	return ch.Id, ch.Snippet.Title, nil
}

func extractHandle(channelURL string) string {
	s := strings.TrimSuffix(channelURL, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// uploadsPlaylistID resolves a channel's "uploads" auto-playlist, the
// quota-cheapest way to enumerate a channel's videos (playlistItems.list
// costs far less than search.list).
func (a *YouTubeAdapter) uploadsPlaylistID(ctx context.Context, channelID string) (string, error) {
	call := a.svc.Channels.List([]string{"contentDetails"}).Id(channelID).Context(ctx)
	resp, err := withRetry(ctx, a, "channels.list", func() (*yt.ChannelListResponse, error) { return call.Do() })
	if err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails == nil {
		return "", &NotFound{ID: channelID}
	}
	return resp.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

func (a *YouTubeAdapter) ListChannelVideos(ctx context.Context, channelURL string, filter ListFilter) ([]VideoStub, error) {
	channelID, _, err := a.ResolveChannel(ctx, channelURL)
	if err != nil {
		return nil, err
	}
	uploads, err := a.uploadsPlaylistID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	ids, err := a.listPlaylistItemsWithDates(ctx, uploads)
	if err != nil {
		return nil, err
	}
	out := make([]VideoStub, 0, len(ids))
	for _, s := range ids {
		if !filter.DateStart.IsZero() && s.Published.Before(filter.DateStart) {
			continue
		}
		if !filter.DateEnd.IsZero() && s.Published.After(filter.DateEnd) {
			continue
		}
		out = append(out, s)
	}
	// Newest first.
	sortVideoStubsDescending(out)
	return out, nil
}

func sortVideoStubsDescending(stubs []VideoStub) {
	sort.SliceStable(stubs, func(i, j int) bool { return stubs[i].Published.After(stubs[j].Published) })
}

// listPlaylistItemsWithDates is the fast listing mode: ids and published
// dates only, enough for incremental scanning without a per-video fetch.
// Dates come from playlistItems.contentDetails.videoPublishedAt, the
// video's own publish time rather than when it was added to the playlist;
// items without contentDetails are skipped.
func (a *YouTubeAdapter) listPlaylistItemsWithDates(ctx context.Context, playlistID string) ([]VideoStub, error) {
	var out []VideoStub
	pageToken := ""
	for {
		call := a.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
			PlaylistId(playlistID).MaxResults(pageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := withRetry(ctx, a, "playlistItems.list", func() (*yt.PlaylistItemListResponse, error) { return call.Do() })
		if err != nil {
			return nil, err
		}
		for _, it := range resp.Items {
			if it.ContentDetails == nil {
				continue
			}
			published, _ := time.Parse(time.RFC3339, it.ContentDetails.VideoPublishedAt)
			out = append(out, VideoStub{ID: it.ContentDetails.VideoId, Published: published})
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return out, nil
}

func (a *YouTubeAdapter) ListPlaylistItems(ctx context.Context, playlistID string) ([]string, error) {
	stubs, err := a.listPlaylistItemsWithDates(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(stubs))
	for i, s := range stubs {
		ids[i] = s.ID
	}
	return ids, nil
}

func (a *YouTubeAdapter) ListChannelPlaylists(ctx context.Context, channelURL string, includePodcasts bool) ([]PlaylistDescriptor, error) {
	channelID, _, err := a.ResolveChannel(ctx, channelURL)
	if err != nil {
		return nil, err
	}
	var out []PlaylistDescriptor
	pageToken := ""
	for {
		call := a.svc.Playlists.List([]string{"snippet"}).ChannelId(channelID).MaxResults(pageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := withRetry(ctx, a, "playlists.list", func() (*yt.PlaylistListResponse, error) { return call.Do() })
		if err != nil {
			return nil, err
		}
		for _, p := range resp.Items {
			out = append(out, PlaylistDescriptor{ID: p.Id, Title: p.Snippet.Title})
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	// The real "podcasts" tab has no dedicated public endpoint; when
	// requested we tag any playlist whose title matches a conventional
	// podcast naming pattern so the frontend can distinguish it.
	if includePodcasts {
		for i := range out {
			if podcastTitlePattern.MatchString(out[i].Title) {
				out[i].Kind = "podcast"
			}
		}
	}
	return out, nil
}

var podcastTitlePattern = regexp.MustCompile(`(?i)podcast`)

func (a *YouTubeAdapter) FetchVideoMetadata(ctx context.Context, videoID string) (*model.Video, error) {
	call := a.svc.Videos.List([]string{"snippet", "contentDetails", "statistics", "status"}).Id(videoID).Context(ctx)
	resp, err := withRetry(ctx, a, "videos.list", func() (*yt.VideoListResponse, error) { return call.Do() })
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, &NotFound{ID: videoID}
	}
	v := resp.Items[0]
	video, err := convertVideo(v)
	if err != nil {
		return nil, &Malformed{Err: err}
	}
	if avail, reason := availabilityOf(v.Status); avail != model.AvailabilityPublic {
		video.Availability = avail
		video.UnavailabilityReason = reason
	}
	return video, nil
}

func availabilityOf(status *yt.VideoStatus) (model.Availability, string) {
	if status == nil {
		return model.AvailabilityPublic, ""
	}
	switch status.PrivacyStatus {
	case "private":
		return model.AvailabilityPrivate, "private"
	case "unlisted":
		return model.AvailabilityUnlisted, ""
	}
	if status.UploadStatus == "rejected" || status.UploadStatus == "failed" {
		return model.AvailabilityRemoved, status.RejectionReason
	}
	return model.AvailabilityPublic, ""
}

func convertVideo(v *yt.Video) (*model.Video, error) {
	published, err := time.Parse(time.RFC3339, v.Snippet.PublishedAt)
	if err != nil {
		return nil, fmt.Errorf("parse published_at %q: %w", v.Snippet.PublishedAt, err)
	}
	duration := 0
	if v.ContentDetails != nil {
		duration = int(parseISO8601Duration(v.ContentDetails.Duration).Seconds())
	}
	thumb := ""
	if v.Snippet.Thumbnails != nil {
		switch {
		case v.Snippet.Thumbnails.Maxres != nil:
			thumb = v.Snippet.Thumbnails.Maxres.Url
		case v.Snippet.Thumbnails.High != nil:
			thumb = v.Snippet.Thumbnails.High.Url
		case v.Snippet.Thumbnails.Default != nil:
			thumb = v.Snippet.Thumbnails.Default.Url
		}
	}
	var views, likes, comments int64
	if v.Statistics != nil {
		views = int64(v.Statistics.ViewCount)
		likes = int64(v.Statistics.LikeCount)
		comments = int64(v.Statistics.CommentCount)
	}
	license := "youtube"
	if v.Status != nil && v.Status.License != "" {
		license = v.Status.License
	}
	var categories []string
	if v.Snippet.CategoryId != "" {
		categories = []string{v.Snippet.CategoryId}
	}
	return &model.Video{
		ID:           v.Id,
		Title:        v.Snippet.Title,
		Description:  v.Snippet.Description,
		ChannelID:    v.Snippet.ChannelId,
		ChannelName:  v.Snippet.ChannelTitle,
		Published:    published,
		Duration:     duration,
		ViewCount:    views,
		LikeCount:    likes,
		CommentCount: comments,
		ThumbnailURL: thumb,
		Tags:         append([]string(nil), v.Snippet.Tags...),
		Categories:   categories,
		License:      license,
		Availability: model.AvailabilityPublic,
	}, nil
}

// parseISO8601Duration parses the PTnHnMnS format videos.contentDetails.duration
// uses.
func parseISO8601Duration(s string) time.Duration {
	s = strings.TrimPrefix(s, "P")
	var hours, minutes, seconds int
	datePart, timePart, hasTime := strings.Cut(s, "T")
	_ = datePart // only time components are relevant for video durations
	if !hasTime {
		timePart = s
	}
	num := ""
	for _, r := range timePart {
		if r >= '0' && r <= '9' {
			num += string(r)
			continue
		}
		n, _ := strconv.Atoi(num)
		num = ""
		switch r {
		case 'H':
			hours = n
		case 'M':
			minutes = n
		case 'S':
			seconds = n
		}
	}
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
}

func (a *YouTubeAdapter) FetchComments(ctx context.Context, videoID string, maxCount int, since time.Time) ([]model.Comment, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	var out []model.Comment
	pageToken := ""
	for len(out) < maxCount {
		call := a.svc.CommentThreads.List([]string{"snippet", "replies"}).
			VideoId(videoID).MaxResults(min64(pageSize, int64(maxCount-len(out)))).
			Order("time").TextFormat("plainText").Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := withRetry(ctx, a, "commentThreads.list", func() (*yt.CommentThreadListResponse, error) { return call.Do() })
		if err != nil {
			// commentsDisabled is a common, expected condition; treat as empty.
			if strings.Contains(strings.ToLower(err.Error()), "commentsdisabled") {
				return out, nil
			}
			return out, err
		}
		for _, thread := range resp.Items {
			top := commentFromSnippet(thread.Snippet.TopLevelComment, model.ParentRootSentinel)
			if !since.IsZero() && !top.Published.After(since) {
				continue
			}
			out = append(out, top)
			if thread.Replies != nil {
				for _, reply := range thread.Replies.Comments {
					c := commentFromSnippet(reply, thread.Snippet.TopLevelComment.Id)
					if !since.IsZero() && !c.Published.After(since) {
						continue
					}
					out = append(out, c)
				}
			}
			if len(out) >= maxCount {
				break
			}
		}
		if resp.NextPageToken == "" || len(out) >= maxCount {
			break
		}
		pageToken = resp.NextPageToken
	}
	return out, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func commentFromSnippet(c *yt.Comment, parent string) model.Comment {
	published, _ := time.Parse(time.RFC3339, c.Snippet.PublishedAt)
	author := ""
	if c.Snippet.AuthorChannelId != nil {
		author = c.Snippet.AuthorChannelId.Value
	}
	return model.Comment{
		ID:        c.Id,
		Author:    c.Snippet.AuthorDisplayName,
		AuthorID:  author,
		Text:      c.Snippet.TextDisplay,
		Published: published,
		LikeCount: int64(c.Snippet.LikeCount),
		ParentID:  parent,
	}
}

// ListCaptionLanguages lists a video's caption track languages via
// captions.list alone, far cheaper than downloading any track.
func (a *YouTubeAdapter) ListCaptionLanguages(ctx context.Context, videoID string) ([]string, error) {
	call := a.svc.Captions.List([]string{"snippet"}, videoID).Context(ctx)
	resp, err := withRetry(ctx, a, "captions.list", func() (*yt.CaptionListResponse, error) { return call.Do() })
	if err != nil {
		return nil, err
	}
	langs := make([]string, 0, len(resp.Items))
	for _, cap := range resp.Items {
		langs = append(langs, cap.Snippet.Language)
	}
	sort.Strings(langs)
	return langs, nil
}

func (a *YouTubeAdapter) FetchCaptions(ctx context.Context, videoID string, languageRegex string, includeAutoTranslated bool) (map[string]CaptionPayload, error) {
	re, err := regexp.Compile(languageRegex)
	if err != nil {
		return nil, fmt.Errorf("remote: compile caption_languages %q: %w", languageRegex, err)
	}
	call := a.svc.Captions.List([]string{"snippet"}, videoID).Context(ctx)
	resp, err := withRetry(ctx, a, "captions.list", func() (*yt.CaptionListResponse, error) { return call.Do() })
	if err != nil {
		return nil, err
	}
	out := make(map[string]CaptionPayload)
	for _, cap := range resp.Items {
		lang := cap.Snippet.Language
		if !re.MatchString(lang) {
			continue
		}
		if cap.Snippet.TrackKind == "ASR" && !includeAutoTranslated {
			// ASR = auto-generated by the platform, distinct from an
			// auto-*translated* variant; auto-generated originals are kept,
			// only translated derivatives are excluded by default.
		} else if strings.Contains(strings.ToLower(lang), "-translated") && !includeAutoTranslated {
			continue
		}
		dlCall := a.svc.Captions.Download(cap.Id).Context(ctx).Tfmt("vtt")
		vtt, err := withRetry(ctx, a, "captions.download", func() ([]byte, error) {
			resp, err := dlCall.Download()
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			return io.ReadAll(resp.Body)
		})
		if err != nil {
			slog.Warn("caption download failed", slog.String("video_id", videoID), slog.String("lang", lang), slog.Any("err", err))
			continue
		}
		out[lang] = CaptionPayload{VTT: vtt, AutoGenerated: cap.Snippet.TrackKind == "ASR"}
	}
	return out, nil
}

func (a *YouTubeAdapter) CanonicalWatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
