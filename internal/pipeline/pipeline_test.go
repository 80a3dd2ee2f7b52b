package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onnwee/ytarchive/internal/config"
	"github.com/onnwee/ytarchive/internal/model"
	"github.com/onnwee/ytarchive/internal/quota"
	"github.com/onnwee/ytarchive/internal/remote"
	"github.com/onnwee/ytarchive/internal/state"
	"github.com/onnwee/ytarchive/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Components: config.Components{
			Videos:        true,
			Metadata:      true,
			CommentsDepth: 10,
			Captions:      true,
			Thumbnails:    true,
		},
		Organization: config.Organization{
			VideoPathPattern:        "{channel_id}/{video_id}",
			PlaylistPrefixWidth:     4,
			PlaylistPrefixSeparator: "_",
		},
		Backup: config.Backup{CheckpointInterval: 50, AutoCommitOnInterrupt: true},
		API:    config.API{QuotaAutoWait: true},
	}
}

func TestShouldFetchMetadataPerMode(t *testing.T) {
	snap := &state.Snapshot{KnownVideoIDs: map[string]bool{"known": true}}
	s := &Scheduler{Config: testConfig()}

	cases := []struct {
		mode Mode
		id   string
		want bool
	}{
		{ModeVideosIncremental, "known", false},
		{ModeVideosIncremental, "new", true},
		{ModeSocial, "known", true},
		{ModeSocial, "new", false},
		{ModeAllForce, "known", true},
		{ModePlaylists, "known", false},
		{ModePlaylists, "new", true},
	}
	for _, c := range cases {
		got := s.shouldFetchMetadata(c.mode, c.id, snap)
		if got != c.want {
			t.Errorf("shouldFetchMetadata(%s, %s) = %v, want %v", c.mode, c.id, got, c.want)
		}
	}
}

func TestShouldFetchMetadataAllIncrementalUsesSocialWindow(t *testing.T) {
	s := &Scheduler{Config: testConfig(), SocialWindow: time.Hour}
	snap := &state.Snapshot{
		KnownVideoIDs: map[string]bool{"recent": true, "stale": true},
		LastCommentAt: map[string]time.Time{
			"recent": time.Now().Add(-10 * time.Minute),
			"stale":  time.Now().Add(-48 * time.Hour),
		},
	}
	if !s.shouldFetchMetadata(ModeAllIncremental, "new", snap) {
		t.Error("new video should always be fetched in all-incremental mode")
	}
	if !s.shouldFetchMetadata(ModeAllIncremental, "recent", snap) {
		t.Error("recently-social video should be refreshed within the window")
	}
	if s.shouldFetchMetadata(ModeAllIncremental, "stale", snap) {
		t.Error("video outside the social window should not be refetched")
	}
}

func TestShouldFetchCaptionsNewVideoAndForcedModes(t *testing.T) {
	f := remote.NewFake()
	s := &Scheduler{Config: testConfig(), Adapter: f}
	snap := &state.Snapshot{
		KnownVideoIDs: map[string]bool{"known": true},
		CaptionLangs:  map[string][]string{"known": {"en"}},
	}

	if !s.shouldFetchCaptions(context.Background(), ModeAllIncremental, "new", snap) {
		t.Error("new video should always fetch captions")
	}
	if !s.shouldFetchCaptions(context.Background(), ModeSocial, "known", snap) {
		t.Error("social mode should force a caption refresh")
	}
	if !s.shouldFetchCaptions(context.Background(), ModeAllForce, "known", snap) {
		t.Error("all-force mode should force a caption refresh")
	}
	if s.shouldFetchCaptions(context.Background(), ModeVideosIncremental, "known", snap) {
		t.Error("videos-incremental never refreshes a known video's captions")
	}
}

func TestShouldFetchCaptionsAllIncrementalChecksForNewLanguages(t *testing.T) {
	f := remote.NewFake()
	f.Captions["known"] = map[string]remote.CaptionPayload{"en": {VTT: []byte("WEBVTT")}}
	s := &Scheduler{Config: testConfig(), Adapter: f}
	snap := &state.Snapshot{
		KnownVideoIDs: map[string]bool{"known": true},
		CaptionLangs:  map[string][]string{"known": {"en"}},
	}

	if s.shouldFetchCaptions(context.Background(), ModeAllIncremental, "known", snap) {
		t.Error("no new languages: caption fetch should be skipped")
	}

	f.Captions["known"]["de"] = remote.CaptionPayload{VTT: []byte("WEBVTT")}
	if !s.shouldFetchCaptions(context.Background(), ModeAllIncremental, "known", snap) {
		t.Error("a language not yet archived should trigger a refetch")
	}
}

func TestRunTwiceWithNoUpstreamChangesCommitsOnce(t *testing.T) {
	root := t.TempDir()
	f := newFakeAdapterWithChannel()
	mem := store.NewMemoryStore()
	s := &Scheduler{
		Adapter:     f,
		Store:       mem,
		Quota:       quota.New(0, 0, nil),
		ArchiveRoot: root,
		Config:      testConfig(),
		Workers:     2,
	}
	src := model.Source{URL: "https://www.youtube.com/@example", Kind: model.SourceKindChannel, Enabled: true, IncludePlaylists: "none"}

	first, err := s.Run(context.Background(), []model.Source{src}, ModeAllIncremental, remote.ListFilter{})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.Commits == 0 {
		t.Fatal("expected the first run to commit")
	}

	second, err := s.Run(context.Background(), []model.Source{src}, ModeAllIncremental, remote.ListFilter{})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Commits != 0 {
		t.Errorf("second run with no upstream changes created %d commit(s): %v", second.Commits, mem.Commits)
	}
}

func TestWithinSocialWindowDefaultsToTrueWhenNeverCommented(t *testing.T) {
	s := &Scheduler{Config: testConfig()}
	snap := &state.Snapshot{LastCommentAt: map[string]time.Time{}}
	if !s.withinSocialWindow("never-commented", snap) {
		t.Error("a video with no recorded comment activity should be treated as due for a refresh")
	}
}

func TestApplyWritesMetadataAndRegistersURLs(t *testing.T) {
	mem := store.NewMemoryStore()
	cfg := testConfig()
	s := &Scheduler{
		Store:       mem,
		Config:      cfg,
		Adapter:     remote.NewFake(),
		ArchiveRoot: t.TempDir(),
		active:      cfg.Components,
	}
	v := &model.Video{ID: "v1", Title: "Title", ChannelID: "UC1", Published: time.Now(), ThumbnailURL: "https://example.com/thumb.jpg"}
	var stats Stats

	r := fetchResult{id: "v1", video: v, fetched: true, comments: []model.Comment{{ID: "c1", Author: "a", Text: "hi"}}}
	if err := s.apply(context.Background(), "v1", r, &stats); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if stats.Fetched != 1 {
		t.Errorf("Fetched = %d, want 1", stats.Fetched)
	}
	metaPath := filepath.Join("videos", "UC1", "v1", "metadata.json")
	if _, ok := mem.Files[metaPath]; !ok {
		t.Fatalf("expected %s to be written, have %v", metaPath, mem.Files)
	}
	var got model.Video
	if err := json.Unmarshal(mem.Files[metaPath], &got); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if got.Path != filepath.Join("videos", "UC1", "v1") {
		t.Errorf("Path = %q", got.Path)
	}
	videoURLPath := filepath.Join("videos", "UC1", "v1", "video.mp4")
	if mem.URLs[videoURLPath] == "" {
		t.Error("expected video file to be registered as an indirect URL")
	}
	thumbPath := filepath.Join("videos", "UC1", "v1", "thumbnail.jpg")
	if mem.URLs[thumbPath] == "" {
		t.Error("expected thumbnail to be registered as an indirect URL")
	}
	if _, ok := mem.Files[filepath.Join("videos", "UC1", "v1", "comments.json")]; !ok {
		t.Error("expected comments.json to be written")
	}
}

type fakeDownloader struct {
	fetched []string
	err     error
}

func (f *fakeDownloader) Fetch(ctx context.Context, watchURL, destPath string) error {
	f.fetched = append(f.fetched, watchURL)
	return f.err
}

func TestApplyDownloadsWhenVideosComponentEnabled(t *testing.T) {
	mem := store.NewMemoryStore()
	cfg := testConfig()
	dl := &fakeDownloader{}
	s := &Scheduler{
		Store:       mem,
		Config:      cfg,
		Adapter:     remote.NewFake(),
		ArchiveRoot: t.TempDir(),
		Downloader:  dl,
		active:      cfg.Components,
	}
	v := &model.Video{ID: "v1", Title: "Title", ChannelID: "UC1", Published: time.Now()}
	var stats Stats
	if err := s.apply(context.Background(), "v1", fetchResult{id: "v1", video: v, fetched: true}, &stats); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(dl.fetched) != 1 {
		t.Fatalf("expected one download, got %v", dl.fetched)
	}
	var got model.Video
	metaPath := filepath.Join("videos", "UC1", "v1", "metadata.json")
	if err := json.Unmarshal(mem.Files[metaPath], &got); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if got.DownloadStatus != model.DownloadStatusDownloaded {
		t.Errorf("DownloadStatus = %q, want downloaded", got.DownloadStatus)
	}
}

func TestApplyKeepsURLReferenceWhenDownloadFails(t *testing.T) {
	mem := store.NewMemoryStore()
	cfg := testConfig()
	dl := &fakeDownloader{err: os.ErrDeadlineExceeded}
	s := &Scheduler{
		Store:       mem,
		Config:      cfg,
		Adapter:     remote.NewFake(),
		ArchiveRoot: t.TempDir(),
		Downloader:  dl,
		active:      cfg.Components,
	}
	v := &model.Video{ID: "v1", Title: "Title", ChannelID: "UC1", Published: time.Now()}
	var stats Stats
	if err := s.apply(context.Background(), "v1", fetchResult{id: "v1", video: v, fetched: true}, &stats); err != nil {
		t.Fatalf("apply should not fail when the opt-in download fails: %v", err)
	}
	var got model.Video
	metaPath := filepath.Join("videos", "UC1", "v1", "metadata.json")
	if err := json.Unmarshal(mem.Files[metaPath], &got); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if got.DownloadStatus != model.DownloadStatusTrackedURLOnly {
		t.Errorf("DownloadStatus = %q, want tracked-url-only", got.DownloadStatus)
	}
	if mem.URLs[filepath.Join("videos", "UC1", "v1", "video.mp4")] == "" {
		t.Error("expected the watch URL to still be registered")
	}
}

func TestApplySkipsWhenNotFetched(t *testing.T) {
	mem := store.NewMemoryStore()
	s := &Scheduler{Store: mem, Config: testConfig(), ArchiveRoot: t.TempDir()}
	var stats Stats
	if err := s.apply(context.Background(), "v1", fetchResult{id: "v1", fetched: false}, &stats); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	if len(mem.Files) != 0 {
		t.Errorf("expected no files written for a skipped candidate, got %v", mem.Files)
	}
}

func TestApplyFailureUnavailableWritesPlaceholder(t *testing.T) {
	mem := store.NewMemoryStore()
	s := &Scheduler{Store: mem, Config: testConfig(), ArchiveRoot: t.TempDir()}
	var stats Stats
	err := s.applyFailure(context.Background(), "v404", &remote.Unavailable{Reason: "private"}, &stats)
	if err != nil {
		t.Fatalf("applyFailure: %v", err)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	path := filepath.Join("videos", "_unavailable", "v404", "metadata.json")
	data, ok := mem.Files[path]
	if !ok {
		t.Fatalf("expected placeholder at %s, have %v", path, mem.Files)
	}
	var v model.Video
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal placeholder: %v", err)
	}
	if v.Availability != model.AvailabilityPrivate {
		t.Errorf("Availability = %q, want private", v.Availability)
	}
}

func TestApplyFailureMalformedSkipsWithoutPlaceholder(t *testing.T) {
	mem := store.NewMemoryStore()
	s := &Scheduler{Store: mem, Config: testConfig(), ArchiveRoot: t.TempDir()}
	var stats Stats
	err := s.applyFailure(context.Background(), "vbad", &remote.Malformed{Err: os.ErrInvalid}, &stats)
	if err != nil {
		t.Fatalf("applyFailure: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if len(mem.Files) != 0 {
		t.Errorf("expected no files written for malformed metadata, got %v", mem.Files)
	}
}

func TestApplyFailureResidualTransientCountsAsFailed(t *testing.T) {
	mem := store.NewMemoryStore()
	s := &Scheduler{Store: mem, Config: testConfig(), ArchiveRoot: t.TempDir()}
	var stats Stats
	err := s.applyFailure(context.Background(), "vflaky", &remote.Transient{Err: os.ErrDeadlineExceeded}, &stats)
	if err != nil {
		t.Fatalf("applyFailure: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
}

func TestAvailabilityFromReason(t *testing.T) {
	cases := map[string]model.Availability{
		"private":      model.AvailabilityPrivate,
		"unlisted":     model.AvailabilityUnlisted,
		"members-only": model.AvailabilityMembersOnly,
		"deleted":      model.AvailabilityRemoved,
	}
	for reason, want := range cases {
		if got := availabilityFromReason(reason); got != want {
			t.Errorf("availabilityFromReason(%q) = %q, want %q", reason, got, want)
		}
	}
}

func newFakeAdapterWithChannel() *remote.Fake {
	f := remote.NewFake()
	channelURL := "https://www.youtube.com/@example"
	f.Channels[channelURL] = remote.FakeChannel{
		ID:   "UC1",
		Name: "Example",
		Uploads: []remote.VideoStub{
			{ID: "v1", Published: time.Now().Add(-2 * time.Hour)},
			{ID: "v2", Published: time.Now().Add(-1 * time.Hour)},
		},
	}
	f.Videos["v1"] = &model.Video{ID: "v1", Title: "One", ChannelID: "UC1", ChannelName: "Example", Published: time.Now().Add(-2 * time.Hour)}
	f.Videos["v2"] = &model.Video{ID: "v2", Title: "Two", ChannelID: "UC1", ChannelName: "Example", Published: time.Now().Add(-1 * time.Hour)}
	return f
}

func TestRunEndToEndArchivesChannelUploads(t *testing.T) {
	root := t.TempDir()
	f := newFakeAdapterWithChannel()
	mem := store.NewMemoryStore()
	s := &Scheduler{
		Adapter:     f,
		Store:       mem,
		Quota:       quota.New(0, 0, nil),
		ArchiveRoot: root,
		Config:      testConfig(),
		Workers:     2,
	}
	src := model.Source{URL: "https://www.youtube.com/@example", Kind: model.SourceKindChannel, Enabled: true, IncludePlaylists: "none"}

	stats, err := s.Run(context.Background(), []model.Source{src}, ModeVideosIncremental, remote.ListFilter{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Fetched != 2 {
		t.Errorf("Fetched = %d, want 2", stats.Fetched)
	}
	if _, ok := mem.Files[filepath.Join("videos", "UC1", "v1", "metadata.json")]; !ok {
		t.Errorf("expected v1 metadata written, have %v", mem.Files)
	}
	if _, ok := mem.Files[filepath.Join("videos", "UC1", "v2", "metadata.json")]; !ok {
		t.Errorf("expected v2 metadata written, have %v", mem.Files)
	}
	if len(mem.Commits) == 0 {
		t.Error("expected at least the final checkpoint commit")
	}
	want := "Backup channel: https://www.youtube.com/@example (2/2 videos)"
	found := false
	for _, msg := range mem.Commits {
		if msg == want {
			found = true
		}
	}
	if !found {
		t.Errorf("expected commit %q, got %v", want, mem.Commits)
	}
	if stats.Commits == 0 {
		t.Error("expected Stats.Commits to count the created commit")
	}
}

func TestRunWritesPlaylistDescriptorForPlaylistItems(t *testing.T) {
	root := t.TempDir()
	f := newFakeAdapterWithChannel()
	ch := f.Channels["https://www.youtube.com/@example"]
	ch.Playlists = []remote.PlaylistDescriptor{{ID: "PL1", Title: "Season One"}}
	f.Channels["https://www.youtube.com/@example"] = ch
	f.Playlists["PL1"] = []string{"v1", "v2"}

	mem := store.NewMemoryStore()
	s := &Scheduler{
		Adapter:     f,
		Store:       mem,
		Quota:       quota.New(0, 0, nil),
		ArchiveRoot: root,
		Config:      testConfig(),
		Workers:     2,
	}
	src := model.Source{URL: "https://www.youtube.com/@example", Kind: model.SourceKindChannel, Enabled: true, IncludePlaylists: "all"}

	if _, err := s.Run(context.Background(), []model.Source{src}, ModeVideosIncremental, remote.ListFilter{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, ok := mem.Files[filepath.Join("playlists", "Season One", "playlist.json")]
	if !ok {
		t.Fatalf("expected playlist.json for Season One, have %v", mem.Files)
	}
	var p model.Playlist
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal playlist.json: %v", err)
	}
	if p.ID != "PL1" || p.VideoCount != 2 || len(p.VideoIDs) != 2 {
		t.Errorf("playlist record = %+v", p)
	}
	if p.ChannelID != "UC1" {
		t.Errorf("ChannelID = %q, want UC1", p.ChannelID)
	}
}

func TestRunHonorsPerSourceLimit(t *testing.T) {
	root := t.TempDir()
	f := newFakeAdapterWithChannel()
	mem := store.NewMemoryStore()
	cfg := testConfig()
	cfg.Filters.Limit = 1
	s := &Scheduler{
		Adapter:     f,
		Store:       mem,
		Quota:       quota.New(0, 0, nil),
		ArchiveRoot: root,
		Config:      cfg,
		Workers:     2,
	}
	src := model.Source{URL: "https://www.youtube.com/@example", Kind: model.SourceKindChannel, Enabled: true, IncludePlaylists: "none"}

	stats, err := s.Run(context.Background(), []model.Source{src}, ModeVideosIncremental, remote.ListFilter{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Fetched != 1 {
		t.Errorf("Fetched = %d, want 1 with filters.limit=1", stats.Fetched)
	}
}

func TestFetchOneDropsCandidateFilteredOutByMetadata(t *testing.T) {
	f := remote.NewFake()
	f.Videos["short"] = &model.Video{ID: "short", Duration: 30}
	cfg := testConfig()
	cfg.Filters.ExcludeShorts = true
	s := &Scheduler{Adapter: f, Config: cfg}
	snap := &state.Snapshot{}

	r := s.fetchOne(context.Background(), "short", ModeAllForce, snap)
	if r.fetched {
		t.Error("expected a shorts-filtered candidate to report fetched=false")
	}
	if r.video != nil {
		t.Error("expected no video recorded for a filtered-out candidate")
	}
}

func TestRunSkipsDisabledSources(t *testing.T) {
	root := t.TempDir()
	f := newFakeAdapterWithChannel()
	mem := store.NewMemoryStore()
	s := &Scheduler{
		Adapter:     f,
		Store:       mem,
		Quota:       quota.New(0, 0, nil),
		ArchiveRoot: root,
		Config:      testConfig(),
	}
	src := model.Source{URL: "https://www.youtube.com/@example", Kind: model.SourceKindChannel, Enabled: false}

	stats, err := s.Run(context.Background(), []model.Source{src}, ModeVideosIncremental, remote.ListFilter{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Fetched != 0 {
		t.Errorf("Fetched = %d, want 0 for a disabled source", stats.Fetched)
	}
}
