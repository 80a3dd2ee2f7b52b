package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/onnwee/ytarchive/internal/model"
	"github.com/onnwee/ytarchive/internal/store"
	"github.com/onnwee/ytarchive/internal/tsv"
)

// requiredIndirectTags are the tag keys every indirect binary entry must
// carry.
var requiredIndirectTags = []string{"video_id", "channel", "published", "filetype"}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the store invariants observable from a single scan of the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		var failures []string

		knownIDs, err := loadKnownIDsFromTSV(archiveRoot)
		if err != nil {
			return fail(1, err)
		}
		onDiskIDs, pathOf, err := walkVideoDirs(archiveRoot)
		if err != nil {
			return fail(1, err)
		}

		failures = append(failures, checkClosure(knownIDs, onDiskIDs)...)
		failures = append(failures, checkSortedCaptions(archiveRoot, onDiskIDs)...)
		failures = append(failures, checkPlaylistSymlinks(archiveRoot, pathOf)...)
		failures = append(failures, checkNoDuplicateVideoIDs(archiveRoot)...)
		failures = append(failures, checkTrackingClassification(archiveRoot, store.DefaultTrackingRules())...)

		tagFailures, err := checkTagCompleteness(cmd.Context(), archiveRoot, store.DefaultTrackingRules())
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "check: skipping tag completeness (invariant 6):", err)
		} else {
			failures = append(failures, tagFailures...)
		}

		out := cmd.OutOrStdout()
		if len(failures) == 0 {
			fmt.Fprintln(out, "check: all invariants hold")
			return nil
		}
		for _, f := range failures {
			fmt.Fprintln(out, "FAIL:", f)
		}
		return fail(1, fmt.Errorf("check: %d invariant violation(s)", len(failures)))
	},
}

// loadKnownIDsFromTSV returns the set of video ids listed in videos.tsv.
func loadKnownIDsFromTSV(archiveRoot string) (map[string]bool, error) {
	ids := make(map[string]bool)
	path := filepath.Join(archiveRoot, "videos", "videos.tsv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ids, nil
		}
		return nil, err
	}
	defer f.Close()
	header, rows, err := tsv.ReadAll(f)
	if err != nil {
		return nil, err
	}
	idCol := tsv.IndexOf(header, "video_id")
	if idCol < 0 {
		return ids, nil
	}
	for _, row := range rows {
		if idCol < len(row) && row[idCol] != "" {
			ids[row[idCol]] = true
		}
	}
	return ids, nil
}

// walkVideoDirs finds every metadata.json under videos/, returning the set
// of video ids present on disk and a video id -> repository-relative
// directory map for playlist symlink resolution.
func walkVideoDirs(archiveRoot string) (map[string]bool, map[string]string, error) {
	ids := make(map[string]bool)
	pathOf := make(map[string]string)
	videosRoot := filepath.Join(archiveRoot, "videos")
	err := filepath.WalkDir(videosRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Base(path) != "metadata.json" {
			return nil
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		var v model.Video
		if jerr := json.Unmarshal(data, &v); jerr != nil {
			return nil
		}
		ids[v.ID] = true
		rel, _ := filepath.Rel(archiveRoot, filepath.Dir(path))
		pathOf[v.ID] = rel
		return nil
	})
	return ids, pathOf, err
}

// checkClosure verifies that every id in videos.tsv has an on-disk
// directory, and vice versa.
func checkClosure(knownIDs, onDiskIDs map[string]bool) []string {
	var failures []string
	for id := range knownIDs {
		if !onDiskIDs[id] {
			failures = append(failures, fmt.Sprintf("video %s listed in videos.tsv but has no on-disk directory", id))
		}
	}
	for id := range onDiskIDs {
		if !knownIDs[id] {
			failures = append(failures, fmt.Sprintf("video %s has an on-disk directory but is missing from videos.tsv", id))
		}
	}
	sort.Strings(failures)
	return failures
}

// checkSortedCaptions verifies captions_available is sorted in every
// metadata.json.
func checkSortedCaptions(archiveRoot string, onDiskIDs map[string]bool) []string {
	var failures []string
	videosRoot := filepath.Join(archiveRoot, "videos")
	_ = filepath.WalkDir(videosRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Base(path) != "metadata.json" {
			return nil
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		var v model.Video
		if jerr := json.Unmarshal(data, &v); jerr != nil {
			return nil
		}
		if !sort.StringsAreSorted(v.CaptionsAvailable) {
			failures = append(failures, fmt.Sprintf("video %s: captions_available is not sorted: %v", v.ID, v.CaptionsAvailable))
		}
		return nil
	})
	return failures
}

// checkPlaylistSymlinks verifies every playlist symlink resolves into the
// canonical video tree.
func checkPlaylistSymlinks(archiveRoot string, pathOf map[string]string) []string {
	var failures []string
	playlistsRoot := filepath.Join(archiveRoot, "playlists")
	_ = filepath.WalkDir(playlistsRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.Type()&os.ModeSymlink == 0 {
			return nil
		}
		target, lerr := os.Readlink(path)
		if lerr != nil {
			failures = append(failures, fmt.Sprintf("playlist symlink %s: %v", path, lerr))
			return nil
		}
		dest := filepath.Clean(filepath.Join(filepath.Dir(path), target))
		if _, serr := os.Stat(dest); serr != nil {
			failures = append(failures, fmt.Sprintf("playlist symlink %s resolves to missing %s", path, dest))
		}
		return nil
	})
	return failures
}

// checkNoDuplicateVideoIDs verifies every video id appears in at most one
// directory in the canonical video tree.
func checkNoDuplicateVideoIDs(archiveRoot string) []string {
	dirsByID := make(map[string][]string)
	videosRoot := filepath.Join(archiveRoot, "videos")
	_ = filepath.WalkDir(videosRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Base(path) != "metadata.json" {
			return nil
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		var v model.Video
		if jerr := json.Unmarshal(data, &v); jerr != nil || v.ID == "" {
			return nil
		}
		rel, _ := filepath.Rel(archiveRoot, filepath.Dir(path))
		dirsByID[v.ID] = append(dirsByID[v.ID], rel)
		return nil
	})

	var failures []string
	for id, dirs := range dirsByID {
		if len(dirs) > 1 {
			sort.Strings(dirs)
			failures = append(failures, fmt.Sprintf("video %s appears in %d directories: %v", id, len(dirs), dirs))
		}
	}
	sort.Strings(failures)
	return failures
}

// checkTrackingClassification verifies that files matching
// rules.IndirectPatterns are tracked indirectly (present on disk as
// symlinks into the large-file layer, unless never fetched at all), while
// tabular/text files (*.tsv, *.json, *.md, *.vtt) are stored directly,
// never as symlinks.
func checkTrackingClassification(archiveRoot string, rules store.TrackingRules) []string {
	var failures []string
	videosRoot := filepath.Join(archiveRoot, "videos")
	_ = filepath.WalkDir(videosRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(archiveRoot, path)
		isSymlink := d.Type()&os.ModeSymlink != 0
		base := filepath.Base(path)

		indirect := rules.IsIndirect(base)
		if indirect && !isSymlink {
			failures = append(failures, fmt.Sprintf("%s matches an indirect pattern but is not tracked as a large-file reference", rel))
		}

		direct := false
		for _, ext := range []string{".tsv", ".json", ".md", ".vtt"} {
			if filepath.Ext(base) == ext {
				direct = true
				break
			}
		}
		if direct && !indirect && isSymlink {
			failures = append(failures, fmt.Sprintf("%s should be stored directly in version control but is a symlink", rel))
		}
		return nil
	})
	sort.Strings(failures)
	return failures
}

// checkTagCompleteness verifies that every indirect binary
// entry carries the full {video_id, channel, published, filetype} tag set.
// It shells out to git-annex per indirect file found, so it returns an
// error (rather than failures) if the archive root is not a git-annex
// repository at all.
func checkTagCompleteness(ctx context.Context, archiveRoot string, rules store.TrackingRules) ([]string, error) {
	if _, err := os.Stat(filepath.Join(archiveRoot, ".git")); err != nil {
		return nil, fmt.Errorf("not a git repository")
	}
	gitStore := store.NewGitStore(archiveRoot)

	var indirectFiles []string
	videosRoot := filepath.Join(archiveRoot, "videos")
	_ = filepath.WalkDir(videosRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rules.IsIndirect(filepath.Base(path)) {
			rel, _ := filepath.Rel(archiveRoot, path)
			indirectFiles = append(indirectFiles, rel)
		}
		return nil
	})

	var failures []string
	for _, rel := range indirectFiles {
		tags, err := gitStore.AnnexTags(ctx, rel)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: could not read annex metadata: %v", rel, err))
			continue
		}
		var missing []string
		for _, key := range requiredIndirectTags {
			if tags[key] == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			failures = append(failures, fmt.Sprintf("%s is missing tag(s) %v", rel, missing))
		}
	}
	sort.Strings(failures)
	return failures, nil
}
