// Package export rebuilds videos.tsv, playlists.tsv and authors.tsv from
// scratch on every pass by walking the on-disk video and playlist trees.
// Column order is fixed and rows are sorted deterministically; the store's
// commit-suppression rule keeps a no-op export from producing churn.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/onnwee/ytarchive/internal/model"
	"github.com/onnwee/ytarchive/internal/tsv"
)

// fileBuffer is an in-memory sink for a table's rendered bytes before they
// are handed to the Repository Store for an atomic write.
type fileBuffer = bytes.Buffer

var videoColumns = []string{"title", "channel", "published", "duration", "views", "likes", "comments", "captions", "path", "video_id"}
var playlistColumns = []string{"title", "channel", "video_count", "total_duration", "last_updated", "path", "playlist_id"}
var authorColumns = []string{"id", "display_name", "channel_url", "first_seen", "last_seen", "video_count", "comment_count"}

// Targets selects which tables Run regenerates.
type Targets struct {
	Videos    bool
	Playlists bool
	Authors   bool
}

// All selects every table.
func All() Targets { return Targets{Videos: true, Playlists: true, Authors: true} }

// Writer is the minimal surface the Exporter needs from the Repository
// Store: a path to write and bytes to place there atomically.
type Writer interface {
	AtomicWrite(ctx context.Context, relPath string, data []byte) error
}

// Run walks archiveRoot and regenerates the requested tables via w.
func Run(ctx context.Context, archiveRoot string, w Writer, targets Targets) error {
	videos, err := loadVideos(archiveRoot)
	if err != nil {
		return fmt.Errorf("export: load videos: %w", err)
	}
	playlists, err := loadPlaylists(archiveRoot)
	if err != nil {
		return fmt.Errorf("export: load playlists: %w", err)
	}

	if targets.Videos {
		if err := writeVideosTSV(ctx, w, videos); err != nil {
			return err
		}
	}
	if targets.Playlists {
		if err := writePlaylistsTSV(ctx, w, playlists, videos); err != nil {
			return err
		}
	}
	if targets.Authors {
		comments, err := loadAllComments(archiveRoot)
		if err != nil {
			return fmt.Errorf("export: load comments: %w", err)
		}
		if err := writeAuthorsTSV(ctx, w, videos, comments); err != nil {
			return err
		}
	}
	return nil
}

func loadVideos(archiveRoot string) ([]model.Video, error) {
	var out []model.Video
	root := filepath.Join(archiveRoot, "videos")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
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
			return nil
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Published.Equal(out[j].Published) {
			return out[i].Published.After(out[j].Published)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func loadPlaylists(archiveRoot string) ([]model.Playlist, error) {
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
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func loadAllComments(archiveRoot string) (map[string][]model.Comment, error) {
	out := make(map[string][]model.Comment)
	root := filepath.Join(archiveRoot, "videos")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Base(path) != "comments.json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var comments []model.Comment
		if err := json.Unmarshal(data, &comments); err != nil {
			return nil
		}
		videoID := filepath.Base(filepath.Dir(path))
		out[videoID] = comments
		return nil
	})
	return out, err
}

func writeVideosTSV(ctx context.Context, w Writer, videos []model.Video) error {
	var buf fileBuffer
	writer := tsv.NewWriter(&buf, videoColumns)
	for _, v := range videos {
		row := []string{
			v.Title,
			v.ChannelName,
			v.Published.Format("2006-01-02T15:04:05Z07:00"),
			strconv.Itoa(v.Duration),
			strconv.FormatInt(v.ViewCount, 10),
			strconv.FormatInt(v.LikeCount, 10),
			strconv.FormatInt(v.CommentCount, 10),
			strconv.Itoa(len(v.CaptionsAvailable)),
			v.Path,
			v.ID,
		}
		if err := writer.WriteRow(row); err != nil {
			return fmt.Errorf("export: write video row %s: %w", v.ID, err)
		}
	}
	if err := writer.WriteHeader(); err != nil {
		return err
	}
	return w.AtomicWrite(ctx, "videos/videos.tsv", buf.Bytes())
}

func writePlaylistsTSV(ctx context.Context, w Writer, playlists []model.Playlist, videos []model.Video) error {
	durationOf := make(map[string]int, len(videos))
	for _, v := range videos {
		durationOf[v.ID] = v.Duration
	}
	var buf fileBuffer
	writer := tsv.NewWriter(&buf, playlistColumns)
	for _, p := range playlists {
		total := p.TotalDuration
		if total == 0 {
			for _, id := range p.VideoIDs {
				total += durationOf[id]
			}
		}
		row := []string{
			p.Title,
			p.ChannelName,
			strconv.Itoa(p.VideoCount),
			strconv.Itoa(total),
			p.LastUpdated.Format("2006-01-02T15:04:05Z07:00"),
			p.Path,
			p.ID,
		}
		if err := writer.WriteRow(row); err != nil {
			return fmt.Errorf("export: write playlist row %s: %w", p.ID, err)
		}
	}
	if err := writer.WriteHeader(); err != nil {
		return err
	}
	return w.AtomicWrite(ctx, "playlists/playlists.tsv", buf.Bytes())
}

func writeAuthorsTSV(ctx context.Context, w Writer, videos []model.Video, comments map[string][]model.Comment) error {
	authors := make(map[string]*model.Author)

	ensure := func(id, display, channelURL string) *model.Author {
		a, ok := authors[id]
		if !ok {
			a = &model.Author{ID: id, DisplayName: display, ChannelURL: channelURL}
			authors[id] = a
		}
		return a
	}

	for _, v := range videos {
		if v.ChannelID == "" {
			continue
		}
		a := ensure(v.ChannelID, v.ChannelName, "https://www.youtube.com/channel/"+v.ChannelID)
		a.VideoCount++
		touchSeen(a, v.Published)
	}
	for _, list := range comments {
		for _, c := range list {
			if c.AuthorID == "" {
				continue
			}
			a := ensure(c.AuthorID, c.Author, "")
			a.CommentCount++
			touchSeen(a, c.Published)
		}
	}

	ids := make([]string, 0, len(authors))
	for id := range authors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf fileBuffer
	writer := tsv.NewWriter(&buf, authorColumns)
	for _, id := range ids {
		a := authors[id]
		row := []string{
			a.ID,
			a.DisplayName,
			a.ChannelURL,
			a.FirstSeen.Format("2006-01-02T15:04:05Z07:00"),
			a.LastSeen.Format("2006-01-02T15:04:05Z07:00"),
			strconv.Itoa(a.VideoCount),
			strconv.Itoa(a.CommentCount),
		}
		if err := writer.WriteRow(row); err != nil {
			return fmt.Errorf("export: write author row %s: %w", id, err)
		}
	}
	if err := writer.WriteHeader(); err != nil {
		return err
	}
	return w.AtomicWrite(ctx, "authors.tsv", buf.Bytes())
}

func touchSeen(a *model.Author, when time.Time) {
	if when.IsZero() {
		return
	}
	if a.FirstSeen.IsZero() || when.Before(a.FirstSeen) {
		a.FirstSeen = when
	}
	if a.LastSeen.IsZero() || when.After(a.LastSeen) {
		a.LastSeen = when
	}
}
