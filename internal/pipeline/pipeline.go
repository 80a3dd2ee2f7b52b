// Package pipeline is the archival scheduler: Run(sources, mode, filter)
// drives source discovery, the remote adapter, the quota manager, the path
// resolver and the repository store through one pass. Parallelism is
// confined to remote I/O via a bounded worker pool; the working tree stays
// single-writer, with fetched results applied in the scheduler's
// sequential order.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/ytarchive/internal/config"
	"github.com/onnwee/ytarchive/internal/discovery"
	"github.com/onnwee/ytarchive/internal/export"
	"github.com/onnwee/ytarchive/internal/model"
	"github.com/onnwee/ytarchive/internal/pathresolver"
	"github.com/onnwee/ytarchive/internal/quota"
	"github.com/onnwee/ytarchive/internal/remote"
	"github.com/onnwee/ytarchive/internal/state"
	"github.com/onnwee/ytarchive/internal/store"
	"github.com/onnwee/ytarchive/internal/symlink"
	"github.com/onnwee/ytarchive/internal/telemetry"
	"github.com/onnwee/ytarchive/internal/tsv"
)

// Mode selects which work an update pass performs per video.
type Mode string

const (
	ModeVideosIncremental Mode = "videos-incremental"
	ModeAllIncremental    Mode = "all-incremental"
	ModeSocial            Mode = "social"
	ModeAllForce          Mode = "all-force"
	ModePlaylists         Mode = "playlists"
)

// defaultSocialWindow bounds how far back all-incremental mode refreshes
// comments/captions/metadata for already-known videos.
const defaultSocialWindow = 7 * 24 * time.Hour

// Stats summarizes one Run.
type Stats struct {
	Fetched     int
	Skipped     int
	Failed      int
	Moved       int
	Checkpoints int
	Commits     int
}

// Interrupted is returned by Run when a single interrupt produced a clean
// checkpoint; callers map it to the interrupted-but-checkpointed exit code.
type Interrupted struct{ Stats Stats }

func (e *Interrupted) Error() string { return "pipeline: interrupted, checkpoint taken" }

// BinaryDownloader fetches a video binary to a local path. The pipeline
// only invokes it when components.videos is enabled; the default archive
// tracks watch URLs without ever downloading.
type BinaryDownloader interface {
	Fetch(ctx context.Context, watchURL, destPath string) error
}

// Scheduler wires the Remote Adapter, Repository Store, Quota Manager and
// Path Resolver into one archival run.
type Scheduler struct {
	Adapter     remote.Adapter
	Store       store.Store
	Quota       *quota.Manager
	ArchiveRoot string
	Config      *config.Config

	// Downloader, when set, backs the components.videos opt-in.
	Downloader BinaryDownloader

	// Workers bounds the lookahead prefetch pool (default 4).
	Workers int
	// SocialWindow overrides defaultSocialWindow.
	SocialWindow time.Duration

	// active holds the effective Components for the source currently being
	// processed (global config.Components with that source's
	// ComponentOverrides applied), consulted by fetchOne/apply instead of
	// Config.Components directly. Set at the top of each source's iteration
	// in Run; Run processes sources sequentially so this is never read
	// concurrently across sources.
	active config.Components
}

// effectiveComponents merges the global component config with a source's
// per-source overrides. A nil field on ComponentOverrides means "unset",
// so the global value is kept.
func effectiveComponents(global config.Components, overrides *model.ComponentOverrides) config.Components {
	if overrides == nil {
		return global
	}
	eff := global
	if overrides.Videos != nil {
		eff.Videos = *overrides.Videos
	}
	if overrides.Metadata != nil {
		eff.Metadata = *overrides.Metadata
	}
	if overrides.CommentsDepth != nil {
		eff.CommentsDepth = *overrides.CommentsDepth
	}
	if overrides.Captions != nil {
		eff.Captions = *overrides.Captions
	}
	if overrides.CaptionLanguages != nil {
		eff.CaptionLanguages = *overrides.CaptionLanguages
	}
	if overrides.AutoTranslated != nil {
		eff.AutoTranslatedCaptions = *overrides.AutoTranslated
	}
	if overrides.Thumbnails != nil {
		eff.Thumbnails = *overrides.Thumbnails
	}
	return eff
}

// Run expands every enabled source, processes its candidates per mode, and
// checkpoints along the way. ctx cancellation is treated as a single
// interrupt: the current item finishes, a checkpoint is taken, and Run
// returns *Interrupted.
func (s *Scheduler) Run(ctx context.Context, sources []model.Source, mode Mode, filter remote.ListFilter) (Stats, error) {
	telemetry.Init()
	var stats Stats
	snap, err := state.Derive(s.ArchiveRoot)
	if err != nil {
		return stats, fmt.Errorf("pipeline: derive state: %w", err)
	}

	sinceLast := 0
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		if ctx.Err() != nil {
			return stats, s.checkpointAndInterrupt(ctx, &stats)
		}

		s.active = effectiveComponents(s.Config.Components, src.Components)
		discoverCtx, discoverSpan := telemetry.StartSpan(ctx, telemetry.StageDiscover, src.URL)
		items, err := discovery.Expand(discoverCtx, s.Adapter, src, filter, s.watermarkFor(mode, snap))
		telemetry.RecordError(discoverSpan, err)
		if err == nil {
			telemetry.SetSpanSuccess(discoverSpan)
		}
		discoverSpan.End()
		if err != nil {
			return stats, fmt.Errorf("pipeline: expand source %s: %w", src.URL, err)
		}

		// Filters.Limit caps candidates considered per source, cumulative
		// across the source's expanded items.
		remainingBudget := s.Config.Filters.Limit
		srcProcessed, srcTotal := 0, 0
		for _, item := range items {
			if mode == ModePlaylists && item.Kind != model.SourceKindPlaylist {
				continue
			}
			if s.Config.Filters.Limit > 0 && remainingBudget <= 0 {
				break
			}
			ids := orderDescendingByKnownPublish(item.VideoIDs, snap)
			if s.Config.Filters.Limit > 0 && len(ids) > remainingBudget {
				ids = ids[:remainingBudget]
			}
			if s.Config.Filters.Limit > 0 {
				remainingBudget -= len(ids)
			}
			srcTotal += len(ids)
			if err := s.processCandidates(ctx, itemLabel(src, item), ids, mode, snap, &stats, &sinceLast); err != nil {
				if qe, ok := err.(*quotaSignal); ok {
					// Persist everything processed so far before a sleep that
					// can last until the next quota window.
					msg := fmt.Sprintf("Checkpoint: %s (%d/%d videos)", itemLabel(src, item), srcProcessed+qe.fromIndex, srcTotal)
					if cpErr := s.checkpoint(ctx, &stats, msg); cpErr != nil {
						return stats, cpErr
					}
					sinceLast = 0
					if !s.Config.API.QuotaAutoWait {
						return stats, fmt.Errorf("pipeline: quota exceeded for %s and api.quota_auto_wait is disabled", itemLabel(src, item))
					}
					if waitErr := s.Quota.Wait(ctx); waitErr != nil {
						return stats, fmt.Errorf("pipeline: quota wait: %w", waitErr)
					}
					// Resume from the same item after the wait completes.
					remaining := ids[qe.fromIndex:]
					srcProcessed += qe.fromIndex
					if err := s.processCandidates(ctx, itemLabel(src, item), remaining, mode, snap, &stats, &sinceLast); err != nil {
						return stats, err
					}
					srcProcessed += len(remaining)
				} else {
					if interrupted, ok := err.(*Interrupted); ok {
						return interrupted.Stats, err
					}
					return stats, err
				}
			} else {
				srcProcessed += len(ids)
			}
			if item.Kind == model.SourceKindPlaylist && item.PlaylistID != "" {
				if err := s.writePlaylistDescriptor(ctx, item); err != nil {
					return stats, fmt.Errorf("pipeline: write playlist %s: %w", item.PlaylistID, err)
				}
			}
		}

		msg := fmt.Sprintf("Backup %s: %s (%d/%d videos)", src.Kind, src.URL, srcProcessed, srcTotal)
		if err := s.checkpoint(ctx, &stats, msg); err != nil {
			return stats, err
		}
		sinceLast = 0
	}

	return stats, nil
}

// watermarkFor returns the discovery.Watermark used by videos-incremental
// mode: only videos published strictly after the source's latest recorded
// publish instant are enumerated. Every other mode enumerates without a
// cutoff.
func (s *Scheduler) watermarkFor(mode Mode, snap *state.Snapshot) discovery.Watermark {
	if mode != ModeVideosIncremental {
		return nil
	}
	return func(channelID string) (time.Time, bool) {
		t, ok := snap.LatestPublished[channelID]
		return t, ok
	}
}

// writePlaylistDescriptor persists playlists/<sanitized-title>/playlist.json,
// the on-disk record the Exporter and symlink rebuild both read. Member
// ordering is the platform's playlist order as discovery enumerated it.
func (s *Scheduler) writePlaylistDescriptor(ctx context.Context, item discovery.Item) error {
	title := item.Label
	if title == "" {
		title = item.PlaylistID
	}
	dirName := pathresolver.SanitizeTitle(title)
	p := model.Playlist{
		ID:          item.PlaylistID,
		Title:       title,
		ChannelID:   item.ChannelID,
		ChannelName: item.ChannelName,
		VideoIDs:    item.VideoIDs,
		VideoCount:  len(item.VideoIDs),
		LastUpdated: time.Now().UTC(),
		Path:        filepath.Join("playlists", dirName),
		Kind:        item.PlaylistKind,
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal playlist: %w", err)
	}
	return s.Store.AtomicWrite(ctx, filepath.Join("playlists", dirName, "playlist.json"), data)
}

func itemLabel(src model.Source, item discovery.Item) string {
	if item.Label != "" {
		return item.Label
	}
	return src.URL
}

// orderDescendingByKnownPublish is a best-effort ordering for ids that
// discovery did not already sort by publish date (e.g. explicit playlist
// membership lists): ids with a recorded publish instant sort newest
// first, unknown ids keep their original relative order behind them.
func orderDescendingByKnownPublish(ids []string, snap *state.Snapshot) []string {
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool {
		ti, iKnown := snap.PublishedAt[out[i]]
		tj, jKnown := snap.PublishedAt[out[j]]
		if iKnown && jKnown {
			return ti.After(tj)
		}
		// Known publish dates sort ahead of unknown (new) ids.
		return iKnown && !jKnown
	})
	return out
}

// quotaSignal unwinds processCandidates when the Remote Adapter reports
// QuotaExceeded, recording how far the batch got so Run can resume from the
// same item after the Quota Manager's wait completes.
type quotaSignal struct {
	fromIndex int
}

func (q *quotaSignal) Error() string { return "pipeline: quota exceeded" }

type fetchResult struct {
	id       string
	video    *model.Video
	comments []model.Comment
	captions map[string]remote.CaptionPayload
	err      error
	fetched  bool
}

// processCandidates runs the bounded worker pool for ids; fetches complete
// out of order but results are applied to the repository in the input
// order, keeping checkpoint boundaries unambiguous.
func (s *Scheduler) processCandidates(ctx context.Context, sourceLabel string, ids []string, mode Mode, snap *state.Snapshot, stats *Stats, sinceLastCheckpoint *int) error {
	if len(ids) == 0 {
		return nil
	}
	workers := s.Workers
	if workers <= 0 {
		workers = 4
	}

	results := make([]chan fetchResult, len(ids))
	for i := range results {
		results[i] = make(chan fetchResult, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for idx := range jobs {
				r := s.fetchOne(gctx, ids[idx], mode, snap)
				select {
				case results[idx] <- r:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		defer close(jobs)
		for i := range ids {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return
			}
		}
	}()

	for i, id := range ids {
		var r fetchResult
		select {
		case r = <-results[i]:
		case <-ctx.Done():
			_ = g.Wait()
			return s.checkpointAndInterrupt(ctx, stats)
		}

		if r.err != nil && remote.IsQuotaExceeded(r.err) {
			_ = g.Wait()
			return &quotaSignal{fromIndex: i}
		}

		if err := s.apply(ctx, id, r, stats); err != nil {
			_ = g.Wait()
			return fmt.Errorf("pipeline: apply %s: %w", id, err)
		}

		*sinceLastCheckpoint++
		interval := s.Config.Backup.CheckpointInterval
		if interval <= 0 {
			interval = 50
		}
		if *sinceLastCheckpoint >= interval {
			msg := fmt.Sprintf("Checkpoint: %s (%d/%d videos)", sourceLabel, i+1, len(ids))
			if err := s.checkpoint(ctx, stats, msg); err != nil {
				_ = g.Wait()
				return err
			}
			*sinceLastCheckpoint = 0
		}
	}
	return g.Wait()
}

// fetchOne performs the fetch stage for a single candidate: skip checks,
// metadata, then comments and captions when the mode calls for them.
func (s *Scheduler) fetchOne(ctx context.Context, id string, mode Mode, snap *state.Snapshot) fetchResult {
	r := fetchResult{id: id}

	if mode != ModeAllForce && snap.UnavailableIDs[id] {
		return r
	}
	if !s.shouldFetchMetadata(mode, id, snap) {
		return r
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.StageFetch, id)
	defer span.End()

	r.fetched = true
	v, err := s.Adapter.FetchVideoMetadata(ctx, id)
	if err != nil {
		r.err = err
		telemetry.RecordError(span, err)
		return r
	}
	if !s.Config.Filters.AdmitsMetadata(v) {
		// Dropped by license/duration/shorts filtering: treat like any
		// other skip, no write, no comments/captions fetch.
		r.fetched = false
		return r
	}
	r.video = v
	// Carry the already-archived caption languages forward so a refresh
	// that skips caption fetch doesn't erase captions_available.
	v.CaptionsAvailable = append([]string(nil), snap.CaptionLangs[id]...)

	if s.commentsEnabled() && s.shouldRefreshSocial(mode, id, snap) {
		since := snap.LastCommentAt[id]
		comments, err := s.Adapter.FetchComments(ctx, id, s.active.CommentsDepth, since)
		if err == nil {
			r.comments = comments
		}
	}
	if s.captionsEnabled() && s.shouldFetchCaptions(ctx, mode, id, snap) {
		langRe := s.active.CaptionLanguages
		if langRe == "" {
			langRe = ".*"
		}
		captions, err := s.Adapter.FetchCaptions(ctx, id, langRe, s.active.AutoTranslatedCaptions)
		if err == nil {
			r.captions = captions
		}
	}
	telemetry.SetSpanSuccess(span)
	return r
}

// shouldFetchCaptions fetches captions for new videos and mode-forced
// refreshes unconditionally; for an already-known video in all-incremental
// mode it first lists the remote's caption languages and refetches only
// when one isn't archived yet, so a steady-state re-run never rewrites
// captions.tsv.
func (s *Scheduler) shouldFetchCaptions(ctx context.Context, mode Mode, id string, snap *state.Snapshot) bool {
	switch mode {
	case ModeSocial, ModeAllForce:
		return true
	}
	if !snap.KnownVideoIDs[id] {
		return true
	}
	if mode == ModeVideosIncremental || mode == ModePlaylists {
		return false
	}
	remoteLangs, err := s.Adapter.ListCaptionLanguages(ctx, id)
	if err != nil {
		return false
	}
	known := make(map[string]bool, len(snap.CaptionLangs[id]))
	for _, lang := range snap.CaptionLangs[id] {
		known[lang] = true
	}
	for _, lang := range remoteLangs {
		if !known[lang] {
			return true
		}
	}
	return false
}

func (s *Scheduler) shouldFetchMetadata(mode Mode, id string, snap *state.Snapshot) bool {
	known := snap.KnownVideoIDs[id]
	switch mode {
	case ModeVideosIncremental:
		return !known
	case ModeSocial:
		return known
	case ModeAllForce:
		return true
	case ModePlaylists:
		return !known
	case ModeAllIncremental:
		if !known {
			return true
		}
		return s.withinSocialWindow(id, snap)
	default:
		return true
	}
}

func (s *Scheduler) shouldRefreshSocial(mode Mode, id string, snap *state.Snapshot) bool {
	switch mode {
	case ModeVideosIncremental, ModePlaylists:
		return !snap.KnownVideoIDs[id]
	case ModeSocial, ModeAllForce:
		return true
	case ModeAllIncremental:
		return !snap.KnownVideoIDs[id] || s.withinSocialWindow(id, snap)
	default:
		return true
	}
}

func (s *Scheduler) withinSocialWindow(id string, snap *state.Snapshot) bool {
	window := s.SocialWindow
	if window <= 0 {
		window = defaultSocialWindow
	}
	last, ok := snap.LastCommentAt[id]
	if !ok {
		return true
	}
	return time.Since(last) <= window
}

func (s *Scheduler) commentsEnabled() bool {
	return s.active.CommentsDepth > 0
}

func (s *Scheduler) captionsEnabled() bool {
	return s.active.Captions
}

// apply writes one fetched result to the repository: drift rename first,
// then captions, metadata, URL registrations and comments, handling the
// per-item Unavailable/Malformed/residual-Transient failure policies.
func (s *Scheduler) apply(ctx context.Context, id string, r fetchResult, stats *Stats) (err error) {
	if !r.fetched {
		stats.Skipped++
		return nil
	}
	if r.err != nil {
		return s.applyFailure(ctx, id, r.err, stats)
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.StageWrite, id)
	defer func() {
		telemetry.RecordError(span, err)
		if err == nil {
			telemetry.SetSpanSuccess(span)
		}
		span.End()
	}()

	v := r.video
	resolver, err := pathresolver.New(s.Config.Organization.VideoPathPattern)
	if err != nil {
		return fmt.Errorf("path pattern: %w", err)
	}
	newPath := resolver.Resolve(pathresolver.Video{
		ID: v.ID, Title: v.Title, Published: v.Published,
		ChannelID: v.ChannelID, ChannelName: v.ChannelName,
	})
	fullNewPath := filepath.Join("videos", newPath)

	if old, ok := recordedDirFor(id, s.ArchiveRoot); ok && pathresolver.Drifted(old, fullNewPath) {
		if err := s.Store.Move(ctx, old, fullNewPath); err != nil {
			return fmt.Errorf("move: %w", err)
		}
		stats.Moved++
	}
	v.Path = fullNewPath
	v.LastUpdated = time.Now().UTC()
	if v.FirstFetched.IsZero() {
		v.FirstFetched = v.LastUpdated
	}
	sort.Strings(v.CaptionsAvailable)

	watchURL := s.Adapter.CanonicalWatchURL(v.ID)
	videoRel := filepath.Join(fullNewPath, videoFileName(v))
	v.DownloadStatus = model.DownloadStatusTrackedURLOnly
	if s.active.Videos && s.Downloader != nil {
		if derr := s.Downloader.Fetch(ctx, watchURL, filepath.Join(s.ArchiveRoot, videoRel)); derr != nil {
			slog.Warn("video download failed; keeping URL-only reference", slog.String("video_id", v.ID), slog.Any("error", derr))
		} else {
			v.DownloadStatus = model.DownloadStatusDownloaded
		}
	}

	// Captions first: writeCaptions folds newly fetched languages into
	// v.CaptionsAvailable, which metadata.json must reflect.
	if len(r.captions) > 0 {
		if err := s.writeCaptions(ctx, fullNewPath, v, r.captions); err != nil {
			return err
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := s.Store.AtomicWrite(ctx, filepath.Join(fullNewPath, "metadata.json"), data); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	if err := s.Store.RegisterURL(ctx, videoRel, watchURL, store.Tags{
		"video_id": v.ID, "channel": v.ChannelID, "published": v.Published.Format(time.RFC3339), "filetype": "video",
	}); err != nil {
		return fmt.Errorf("register video url: %w", err)
	}
	if s.active.Thumbnails && v.ThumbnailURL != "" {
		if err := s.Store.RegisterURL(ctx, filepath.Join(fullNewPath, "thumbnail.jpg"), v.ThumbnailURL, store.Tags{
			"video_id": v.ID, "filetype": "thumbnail",
		}); err != nil {
			return fmt.Errorf("register thumbnail url: %w", err)
		}
	}

	if len(r.comments) > 0 {
		cdata, err := json.Marshal(r.comments)
		if err != nil {
			return fmt.Errorf("marshal comments: %w", err)
		}
		if err := s.Store.AtomicWrite(ctx, filepath.Join(fullNewPath, "comments.json"), cdata); err != nil {
			return fmt.Errorf("write comments: %w", err)
		}
	}

	stats.Fetched++
	if telemetry.VideosFetched != nil {
		telemetry.VideosFetched.Inc()
	}
	return nil
}

// videoFileName is fixed for now; the download path normalizes to an mp4
// container and the URL-only path has no container to inspect.
func videoFileName(v *model.Video) string {
	return "video.mp4"
}

func (s *Scheduler) writeCaptions(ctx context.Context, dirPath string, v *model.Video, captions map[string]remote.CaptionPayload) error {
	langs := make([]string, 0, len(captions))
	for lang := range captions {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	have := make(map[string]bool, len(v.CaptionsAvailable))
	for _, lang := range v.CaptionsAvailable {
		have[lang] = true
	}
	var rows []model.CaptionTrack
	for _, lang := range langs {
		payload := captions[lang]
		vttPath := filepath.Join(dirPath, fmt.Sprintf("video.%s.vtt", lang))
		if err := s.Store.AtomicWrite(ctx, vttPath, payload.VTT); err != nil {
			return fmt.Errorf("write caption %s: %w", lang, err)
		}
		rows = append(rows, model.CaptionTrack{Language: lang, AutoGenerated: payload.AutoGenerated, Path: vttPath, FetchedAt: time.Now().UTC()})
		if !have[lang] {
			v.CaptionsAvailable = append(v.CaptionsAvailable, lang)
			have[lang] = true
		}
	}
	sort.Strings(v.CaptionsAvailable)

	var buf bytes.Buffer
	w := tsv.NewWriter(&buf, []string{"language", "auto_generated", "path", "fetched_at"})
	for _, row := range rows {
		if err := w.WriteRow([]string{row.Language, boolStr(row.AutoGenerated), row.Path, row.FetchedAt.Format(time.RFC3339)}); err != nil {
			return fmt.Errorf("write captions.tsv row: %w", err)
		}
	}
	if err := w.WriteHeader(); err != nil {
		return err
	}
	return s.Store.AtomicWrite(ctx, filepath.Join(dirPath, "captions.tsv"), buf.Bytes())
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// applyFailure records Unavailable items as placeholders and logs
// Malformed/residual-Transient items without failing the run.
// QuotaExceeded is handled by the caller before reaching here.
func (s *Scheduler) applyFailure(ctx context.Context, id string, err error, stats *Stats) error {
	if u, ok := remote.IsUnavailable(err); ok {
		placeholder := &model.Video{ID: id, Availability: availabilityFromReason(u.Reason), UnavailabilityReason: u.Reason, LastUpdated: time.Now().UTC()}
		data, merr := json.Marshal(placeholder)
		if merr != nil {
			return fmt.Errorf("marshal unavailable placeholder: %w", merr)
		}
		path := filepath.Join("videos", "_unavailable", id, "metadata.json")
		if werr := s.Store.AtomicWrite(ctx, path, data); werr != nil {
			return fmt.Errorf("write unavailable placeholder: %w", werr)
		}
		stats.Skipped++
		slog.Info("video unavailable", slog.String("video_id", id), slog.String("reason", u.Reason))
		return nil
	}
	if remote.IsMalformed(err) {
		slog.Warn("malformed metadata, skipping", slog.String("video_id", id), slog.Any("error", err))
		stats.Failed++
		return nil
	}
	slog.Warn("fetch failed after retries, skipping", slog.String("video_id", id), slog.Any("error", err))
	stats.Failed++
	if telemetry.VideosFailed != nil {
		telemetry.VideosFailed.Inc()
	}
	return nil
}

func availabilityFromReason(reason string) model.Availability {
	switch reason {
	case "private":
		return model.AvailabilityPrivate
	case "unlisted":
		return model.AvailabilityUnlisted
	case "members-only":
		return model.AvailabilityMembersOnly
	default:
		return model.AvailabilityRemoved
	}
}

// recordedDirFor reads the video's currently recorded directory, if any,
// by re-deriving just the path lookup. Callers already hold a Snapshot for
// most reads; this is only needed mid-run after a Move may have occurred.
func recordedDirFor(id, archiveRoot string) (string, bool) {
	snap, err := state.Derive(archiveRoot)
	if err != nil {
		return "", false
	}
	p, ok := snap.RecordedPath[id]
	return p, ok
}

// checkpoint runs the export + symlink-rebuild + commit triple, updating
// stats with the checkpoint and any commit actually created.
func (s *Scheduler) checkpoint(ctx context.Context, stats *Stats, message string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.StageCheckpoint, message)
	defer func() {
		telemetry.RecordError(span, err)
		if err == nil {
			telemetry.SetSpanSuccess(span)
		}
		span.End()
	}()

	if err := export.Run(ctx, s.ArchiveRoot, s.Store, export.All()); err != nil {
		return fmt.Errorf("checkpoint export: %w", err)
	}
	if err := s.rebuildPlaylistSymlinks(ctx); err != nil {
		return fmt.Errorf("checkpoint symlinks: %w", err)
	}
	created, err := s.Store.Commit(ctx, message)
	if err != nil {
		return fmt.Errorf("checkpoint commit: %w", err)
	}
	stats.Checkpoints++
	if created {
		stats.Commits++
		if telemetry.CommitsCreated != nil {
			telemetry.CommitsCreated.Inc()
		}
	}
	if telemetry.CheckpointsTaken != nil {
		telemetry.CheckpointsTaken.Inc()
	}
	return nil
}

func (s *Scheduler) rebuildPlaylistSymlinks(ctx context.Context) error {
	playlistsRoot := filepath.Join(s.ArchiveRoot, "playlists")
	videosRoot := filepath.Join(s.ArchiveRoot, "videos")
	snap, err := state.Derive(s.ArchiveRoot)
	if err != nil {
		return err
	}
	lookup := func(videoID string) (string, bool) {
		p, ok := snap.RecordedPath[videoID]
		if !ok {
			return "", false
		}
		rel, err := filepath.Rel(videosRoot, filepath.Join(s.ArchiveRoot, p))
		if err != nil {
			return "", false
		}
		return rel, true
	}

	playlists, err := loadPlaylistDescriptors(s.ArchiveRoot)
	if err != nil {
		return err
	}
	cfg := symlink.Config{PrefixWidth: s.Config.Organization.PlaylistPrefixWidth, PrefixSeparator: s.Config.Organization.PlaylistPrefixSeparator}
	for _, p := range playlists {
		dir := filepath.Join(playlistsRoot, pathresolver.SanitizeTitle(p.Title))
		if err := symlink.Rebuild(dir, videosRoot, p.VideoIDs, lookup, cfg); err != nil {
			return fmt.Errorf("rebuild symlinks for %s: %w", p.ID, err)
		}
	}
	return nil
}

// loadPlaylistDescriptors reads every playlists/*/playlist.json under
// archiveRoot, the same on-disk source the Exporter reads, so symlink
// rebuilding and playlists.tsv generation stay consistent.
func loadPlaylistDescriptors(archiveRoot string) ([]model.Playlist, error) {
	var out []model.Playlist
	root := filepath.Join(archiveRoot, "playlists")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Base(path) != "playlist.json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var p model.Playlist
		if err := json.Unmarshal(data, &p); err != nil {
			return nil
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (s *Scheduler) checkpointAndInterrupt(ctx context.Context, stats *Stats) error {
	if !s.Config.Backup.AutoCommitOnInterrupt {
		return &Interrupted{Stats: *stats}
	}
	// Use a fresh, non-canceled context for the final checkpoint write so a
	// single interrupt still completes its commit before the run exits.
	checkpointCtx := context.Background()
	processed := stats.Fetched + stats.Skipped + stats.Failed
	msg := fmt.Sprintf("Checkpoint: interrupted (%d videos processed)", processed)
	if err := s.checkpoint(checkpointCtx, stats, msg); err != nil {
		return fmt.Errorf("pipeline: checkpoint on interrupt: %w", err)
	}
	return &Interrupted{Stats: *stats}
}
