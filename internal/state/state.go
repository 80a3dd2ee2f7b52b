// Package state is a pure reader of the on-disk archive that reconstructs
// the facts the scheduler needs to decide what work remains. It never
// writes and never caches across runs; every run starts by rebuilding this
// snapshot from videos/videos.tsv and each video's
// metadata.json/comments.json. There is no separate sync database.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/onnwee/ytarchive/internal/model"
	"github.com/onnwee/ytarchive/internal/tsv"
)

// Counts captures the social metrics tracked for change detection.
type Counts struct {
	Views    int64
	Likes    int64
	Comments int64
}

// Snapshot is the full derived state for one run.
type Snapshot struct {
	KnownVideoIDs   map[string]bool
	LatestPublished map[string]time.Time // keyed by source identity
	PublishedAt     map[string]time.Time // keyed by video id
	LastCommentAt   map[string]time.Time // keyed by video id
	UnavailableIDs  map[string]bool
	Counts          map[string]Counts
	RecordedPath    map[string]string   // video id -> repository-relative directory
	CaptionLangs    map[string][]string // video id -> sorted captions_available
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		KnownVideoIDs:   make(map[string]bool),
		LatestPublished: make(map[string]time.Time),
		PublishedAt:     make(map[string]time.Time),
		LastCommentAt:   make(map[string]time.Time),
		UnavailableIDs:  make(map[string]bool),
		Counts:          make(map[string]Counts),
		RecordedPath:    make(map[string]string),
		CaptionLangs:    make(map[string][]string),
	}
}

// Derive walks archiveRoot and builds a Snapshot. archiveRoot is the
// repository's working-tree root (Store.Root()).
func Derive(archiveRoot string) (*Snapshot, error) {
	snap := newSnapshot()

	if err := loadVideosTSV(archiveRoot, snap); err != nil {
		return nil, err
	}
	if err := loadPerVideoFiles(archiveRoot, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func loadVideosTSV(archiveRoot string, snap *Snapshot) error {
	path := filepath.Join(archiveRoot, "videos", "videos.tsv")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	header, rows, err := tsv.ReadAll(f)
	if err != nil {
		return err
	}
	idIdx := tsv.IndexOf(header, "video_id")
	pathIdx := tsv.IndexOf(header, "path")
	publishedIdx := tsv.IndexOf(header, "published")
	if idIdx < 0 || pathIdx < 0 || publishedIdx < 0 {
		return nil
	}
	for _, row := range rows {
		if idIdx >= len(row) {
			continue
		}
		id := row[idIdx]
		snap.KnownVideoIDs[id] = true
		if pathIdx < len(row) {
			snap.RecordedPath[id] = row[pathIdx]
		}
	}
	return nil
}

// loadPerVideoFiles walks videos/ below archiveRoot, reading each
// metadata.json and comments.json to populate availability, counts, the
// per-source published-watermark, and the last comment instant. Source
// identity is the uploader's channel id, following metadata.json.author.
func loadPerVideoFiles(archiveRoot string, snap *Snapshot) error {
	videosRoot := filepath.Join(archiveRoot, "videos")
	return filepath.WalkDir(videosRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Base(path) != "metadata.json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var v model.Video
		if err := json.Unmarshal(data, &v); err != nil {
			return nil // malformed metadata is handled by the scheduler, not fatal here
		}

		if v.Availability != model.AvailabilityPublic {
			snap.UnavailableIDs[v.ID] = true
		}
		snap.Counts[v.ID] = Counts{Views: v.ViewCount, Likes: v.LikeCount, Comments: v.CommentCount}
		if !v.Published.IsZero() {
			snap.PublishedAt[v.ID] = v.Published
		}
		if len(v.CaptionsAvailable) > 0 {
			snap.CaptionLangs[v.ID] = v.CaptionsAvailable
		}

		sourceKey := v.ChannelID
		if cur, ok := snap.LatestPublished[sourceKey]; !ok || v.Published.After(cur) {
			snap.LatestPublished[sourceKey] = v.Published
		}

		commentsPath := filepath.Join(filepath.Dir(path), "comments.json")
		if cdata, err := os.ReadFile(commentsPath); err == nil {
			var comments []model.Comment
			if err := json.Unmarshal(cdata, &comments); err == nil {
				for _, c := range comments {
					if cur, ok := snap.LastCommentAt[v.ID]; !ok || c.Published.After(cur) {
						snap.LastCommentAt[v.ID] = c.Published
					}
				}
			}
		}
		return nil
	})
}
