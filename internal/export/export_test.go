package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/ytarchive/internal/model"
	"github.com/onnwee/ytarchive/internal/store"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRunExportsVideosSortedByPublishedDescending(t *testing.T) {
	root := t.TempDir()
	v1 := model.Video{ID: "a", Title: "Older", ChannelName: "Chan", Published: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Path: "videos/a"}
	v2 := model.Video{ID: "b", Title: "Newer", ChannelName: "Chan", Published: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Path: "videos/b"}
	d1, _ := json.Marshal(v1)
	d2, _ := json.Marshal(v2)
	writeFile(t, filepath.Join(root, "videos/a/metadata.json"), d1)
	writeFile(t, filepath.Join(root, "videos/b/metadata.json"), d2)

	mem := store.NewMemoryStore()
	if err := Run(context.Background(), root, mem, Targets{Videos: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := string(mem.Files["videos/videos.tsv"])
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines: %q", len(lines), out)
	}
	if !strings.Contains(lines[1], "Newer") {
		t.Errorf("expected newer video first, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "Older") {
		t.Errorf("expected older video second, got %q", lines[2])
	}
}

func TestRunExportsAuthorsAggregatedAcrossVideosAndComments(t *testing.T) {
	root := t.TempDir()
	v := model.Video{ID: "a", ChannelID: "UC1", ChannelName: "Chan", Published: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Path: "videos/a"}
	d, _ := json.Marshal(v)
	writeFile(t, filepath.Join(root, "videos/a/metadata.json"), d)

	comments := []model.Comment{
		{ID: "c1", Author: "Someone", AuthorID: "UCcommenter", Published: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), ParentID: model.ParentRootSentinel},
	}
	cd, _ := json.Marshal(comments)
	writeFile(t, filepath.Join(root, "videos/a/comments.json"), cd)

	mem := store.NewMemoryStore()
	if err := Run(context.Background(), root, mem, All()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := string(mem.Files["authors.tsv"])
	if !strings.Contains(out, "UC1") {
		t.Errorf("expected uploader UC1 in authors.tsv, got %q", out)
	}
	if !strings.Contains(out, "UCcommenter") {
		t.Errorf("expected commenter UCcommenter in authors.tsv, got %q", out)
	}
}

func TestRunExportsPlaylistsWithComputedTotalDuration(t *testing.T) {
	root := t.TempDir()
	v1 := model.Video{ID: "a", Duration: 100, Published: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Path: "videos/a"}
	v2 := model.Video{ID: "b", Duration: 50, Published: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Path: "videos/b"}
	for _, v := range []model.Video{v1, v2} {
		d, _ := json.Marshal(v)
		writeFile(t, filepath.Join(root, "videos", v.ID, "metadata.json"), d)
	}
	p := model.Playlist{ID: "PL1", Title: "Mix", ChannelName: "Chan", VideoIDs: []string{"a", "b"}, VideoCount: 2, Path: "playlists/Mix"}
	pd, _ := json.Marshal(p)
	writeFile(t, filepath.Join(root, "playlists", "Mix", "playlist.json"), pd)

	mem := store.NewMemoryStore()
	if err := Run(context.Background(), root, mem, All()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := string(mem.Files["playlists/playlists.tsv"])
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 playlist row, got %q", out)
	}
	cols := strings.Split(lines[1], "\t")
	if cols[0] != "Mix" || cols[2] != "2" {
		t.Errorf("playlist row = %v", cols)
	}
	if cols[3] != "150" {
		t.Errorf("total_duration = %s, want 150 (summed from member videos)", cols[3])
	}
	if cols[6] != "PL1" {
		t.Errorf("playlist_id = %s, want PL1", cols[6])
	}
}

func TestRunOnEmptyArchiveProducesHeaderOnly(t *testing.T) {
	root := t.TempDir()
	mem := store.NewMemoryStore()
	if err := Run(context.Background(), root, mem, All()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := string(mem.Files["videos/videos.tsv"])
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected header-only output, got %q", out)
	}
}
