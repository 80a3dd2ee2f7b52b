// Package discovery expands a configured Source into the concrete list of
// work items the scheduler will process, applying playlist
// include/exclude filtering before the scheduler ever sees candidates.
package discovery

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/onnwee/ytarchive/internal/model"
	"github.com/onnwee/ytarchive/internal/remote"
)

// Watermark resolves the per-source cutoff instant videos-incremental mode
// should enumerate past, keyed by the channel id the Remote Adapter
// resolves. A nil Watermark, or one
// returning ok=false, disables cutoff filtering for that source.
type Watermark func(channelID string) (since time.Time, ok bool)

// Item is one concrete unit of work: either a channel's uploads, one of its
// playlists, the podcast surface, a standalone playlist, or an explicit
// video list.
type Item struct {
	Kind       model.SourceKind
	PlaylistID string // set for playlist items (including podcast surfaces)
	VideoIDs   []string
	Label      string

	// ChannelID/ChannelName identify the owning channel when the item came
	// from channel expansion; PlaylistKind carries the descriptor's kind
	// ("podcast" for the podcast surface) into the playlist record.
	ChannelID    string
	ChannelName  string
	PlaylistKind string
}

// Expand resolves src against adapter into the ordered list of Items the
// scheduler will iterate. Channel sources may produce multiple items: the
// uploads playlist, zero or more filtered playlists, and (if enabled) the
// podcast surface. filter narrows the channel uploads enumeration by date
// range; watermark additionally bounds channel uploads to
// published-after-cutoff for videos-incremental mode; pass nil
// to disable it. Playlist-membership filtering already happened above via
// include/exclude regex; license, duration and shorts-exclusion filtering
// happen downstream in the scheduler against each candidate's fetched
// metadata, since listing endpoints don't return duration or license; the
// per-source candidate count cap also applies downstream in the scheduler.
func Expand(ctx context.Context, adapter remote.Adapter, src model.Source, filter remote.ListFilter, watermark Watermark) ([]Item, error) {
	switch src.Kind {
	case model.SourceKindVideoList:
		return []Item{{Kind: model.SourceKindVideoList, Label: src.URL}}, nil
	case model.SourceKindPlaylist:
		ids, err := adapter.ListPlaylistItems(ctx, src.URL)
		if err != nil {
			return nil, fmt.Errorf("discovery: list playlist items for %s: %w", src.URL, err)
		}
		return []Item{{Kind: model.SourceKindPlaylist, PlaylistID: src.URL, VideoIDs: ids, Label: src.URL}}, nil
	case model.SourceKindChannel:
		return expandChannel(ctx, adapter, src, filter, watermark)
	default:
		return nil, fmt.Errorf("discovery: unknown source kind %q", src.Kind)
	}
}

func expandChannel(ctx context.Context, adapter remote.Adapter, src model.Source, filter remote.ListFilter, watermark Watermark) ([]Item, error) {
	channelID, channelName, err := adapter.ResolveChannel(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve channel %s: %w", src.URL, err)
	}

	effectiveFilter := filter
	if watermark != nil {
		if since, ok := watermark(channelID); ok && (effectiveFilter.DateStart.IsZero() || since.After(effectiveFilter.DateStart)) {
			effectiveFilter.DateStart = since
		}
	}

	stubs, err := adapter.ListChannelVideos(ctx, src.URL, effectiveFilter)
	if err != nil {
		return nil, fmt.Errorf("discovery: list uploads for %s: %w", src.URL, err)
	}
	// The adapter's DateStart filter may only be date-granular, so enforce
	// the exact published > cutoff comparison in-process regardless of
	// what the adapter actually honored.
	if !effectiveFilter.DateStart.IsZero() {
		kept := stubs[:0]
		for _, st := range stubs {
			if st.Published.After(effectiveFilter.DateStart) {
				kept = append(kept, st)
			}
		}
		stubs = kept
	}
	videoIDs := make([]string, len(stubs))
	for i, s := range stubs {
		videoIDs[i] = s.ID
	}

	var items []Item
	items = append(items, Item{Kind: model.SourceKindChannel, VideoIDs: videoIDs, Label: channelName, ChannelID: channelID, ChannelName: channelName})

	if src.IncludePlaylists != string(model.IncludePlaylistsNone) && src.IncludePlaylists != "" {
		playlists, err := adapter.ListChannelPlaylists(ctx, src.URL, src.IncludePodcasts)
		if err != nil {
			return nil, fmt.Errorf("discovery: list playlists for %s: %w", src.URL, err)
		}
		filtered, err := filterPlaylists(playlists, src.IncludePlaylists, src.ExcludePlaylists)
		if err != nil {
			return nil, err
		}
		for _, pl := range filtered {
			ids, err := adapter.ListPlaylistItems(ctx, pl.ID)
			if err != nil {
				return nil, fmt.Errorf("discovery: list items for playlist %s: %w", pl.ID, err)
			}
			items = append(items, Item{
				Kind: model.SourceKindPlaylist, PlaylistID: pl.ID, VideoIDs: ids, Label: pl.Title,
				ChannelID: channelID, ChannelName: channelName, PlaylistKind: pl.Kind,
			})
		}
	}

	return items, nil
}

// filterPlaylists keeps playlists matching include (unless it is "all",
// meaning no filtering) and drops any matching a non-empty exclude regex.
func filterPlaylists(playlists []remote.PlaylistDescriptor, include, exclude string) ([]remote.PlaylistDescriptor, error) {
	var includeRe *regexp.Regexp
	if include != "" && include != string(model.IncludePlaylistsAll) {
		re, err := regexp.Compile(include)
		if err != nil {
			return nil, fmt.Errorf("discovery: invalid include_playlists regex %q: %w", include, err)
		}
		includeRe = re
	}
	var excludeRe *regexp.Regexp
	if exclude != "" {
		re, err := regexp.Compile(exclude)
		if err != nil {
			return nil, fmt.Errorf("discovery: invalid exclude_playlists regex %q: %w", exclude, err)
		}
		excludeRe = re
	}

	var out []remote.PlaylistDescriptor
	for _, pl := range playlists {
		if includeRe != nil && !includeRe.MatchString(pl.Title) {
			continue
		}
		if excludeRe != nil && excludeRe.MatchString(pl.Title) {
			continue
		}
		out = append(out, pl)
	}
	return out, nil
}
