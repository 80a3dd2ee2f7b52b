package remote

import (
	"context"
	"sort"
	"time"

	"github.com/onnwee/ytarchive/internal/model"
)

// Fake is an in-memory Adapter for tests, scripted by populating its fields
// directly, the same "substitute a fake with scripted responses" pattern
// Design Note "Polymorphism in the Remote Adapter" calls for.
type Fake struct {
	Channels  map[string]FakeChannel
	Videos    map[string]*model.Video
	Playlists map[string][]string // playlist id -> video ids, in order
	Comments  map[string][]model.Comment
	Captions  map[string]map[string]CaptionPayload

	// Errors lets a test force a specific error for a given video id on
	// FetchVideoMetadata, to exercise the Transient/Unavailable/Malformed
	// paths without a real network dependency.
	Errors map[string]error

	Calls []string // records every call made, for assertions
}

// FakeChannel is a scripted channel: its resolved id/name plus its uploads
// and playlist set.
type FakeChannel struct {
	ID, Name  string
	Uploads   []VideoStub
	Playlists []PlaylistDescriptor
}

func NewFake() *Fake {
	return &Fake{
		Channels:  map[string]FakeChannel{},
		Videos:    map[string]*model.Video{},
		Playlists: map[string][]string{},
		Comments:  map[string][]model.Comment{},
		Captions:  map[string]map[string]CaptionPayload{},
		Errors:    map[string]error{},
	}
}

func (f *Fake) ResolveChannel(ctx context.Context, channelURL string) (string, string, error) {
	f.Calls = append(f.Calls, "ResolveChannel:"+channelURL)
	ch, ok := f.Channels[channelURL]
	if !ok {
		return "", "", &NotFound{ID: channelURL}
	}
	return ch.ID, ch.Name, nil
}

func (f *Fake) ListChannelVideos(ctx context.Context, channelURL string, filter ListFilter) ([]VideoStub, error) {
	f.Calls = append(f.Calls, "ListChannelVideos:"+channelURL)
	ch, ok := f.Channels[channelURL]
	if !ok {
		return nil, &NotFound{ID: channelURL}
	}
	out := make([]VideoStub, 0, len(ch.Uploads))
	for _, v := range ch.Uploads {
		if !filter.DateStart.IsZero() && v.Published.Before(filter.DateStart) {
			continue
		}
		if !filter.DateEnd.IsZero() && v.Published.After(filter.DateEnd) {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Published.After(out[j].Published) })
	return out, nil
}

func (f *Fake) ListPlaylistItems(ctx context.Context, playlistID string) ([]string, error) {
	f.Calls = append(f.Calls, "ListPlaylistItems:"+playlistID)
	ids, ok := f.Playlists[playlistID]
	if !ok {
		return nil, &NotFound{ID: playlistID}
	}
	return append([]string(nil), ids...), nil
}

func (f *Fake) ListChannelPlaylists(ctx context.Context, channelURL string, includePodcasts bool) ([]PlaylistDescriptor, error) {
	f.Calls = append(f.Calls, "ListChannelPlaylists:"+channelURL)
	ch, ok := f.Channels[channelURL]
	if !ok {
		return nil, &NotFound{ID: channelURL}
	}
	var out []PlaylistDescriptor
	for _, p := range ch.Playlists {
		if p.Kind == "podcast" && !includePodcasts {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *Fake) FetchVideoMetadata(ctx context.Context, videoID string) (*model.Video, error) {
	f.Calls = append(f.Calls, "FetchVideoMetadata:"+videoID)
	if err, ok := f.Errors[videoID]; ok {
		return nil, err
	}
	v, ok := f.Videos[videoID]
	if !ok {
		return nil, &NotFound{ID: videoID}
	}
	cp := *v
	cp.Tags = append([]string(nil), v.Tags...)
	cp.Categories = append([]string(nil), v.Categories...)
	cp.CaptionsAvailable = append([]string(nil), v.CaptionsAvailable...)
	return &cp, nil
}

func (f *Fake) FetchComments(ctx context.Context, videoID string, maxCount int, since time.Time) ([]model.Comment, error) {
	f.Calls = append(f.Calls, "FetchComments:"+videoID)
	if maxCount <= 0 {
		return nil, nil
	}
	all := f.Comments[videoID]
	var out []model.Comment
	for _, c := range all {
		if !since.IsZero() && !c.Published.After(since) {
			continue
		}
		out = append(out, c)
		if len(out) >= maxCount {
			break
		}
	}
	return out, nil
}

func (f *Fake) ListCaptionLanguages(ctx context.Context, videoID string) ([]string, error) {
	f.Calls = append(f.Calls, "ListCaptionLanguages:"+videoID)
	langs := make([]string, 0, len(f.Captions[videoID]))
	for lang := range f.Captions[videoID] {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs, nil
}

func (f *Fake) FetchCaptions(ctx context.Context, videoID string, languageRegex string, includeAutoTranslated bool) (map[string]CaptionPayload, error) {
	f.Calls = append(f.Calls, "FetchCaptions:"+videoID)
	out := map[string]CaptionPayload{}
	for lang, payload := range f.Captions[videoID] {
		out[lang] = payload
	}
	return out, nil
}

func (f *Fake) CanonicalWatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

var _ Adapter = (*Fake)(nil)
