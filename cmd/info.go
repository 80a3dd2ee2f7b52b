package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/onnwee/ytarchive/internal/model"
	"github.com/onnwee/ytarchive/internal/quota"
	"github.com/onnwee/ytarchive/internal/state"
	"github.com/onnwee/ytarchive/internal/store"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print archive statistics: per-source counts, disk usage, last commit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		snap, err := state.Derive(archiveRoot)
		if err != nil {
			return fail(1, err)
		}

		downloaded, trackedOnly, perSource := tallyDownloadStatus(archiveRoot)
		size, err := workingTreeSize(archiveRoot)
		if err != nil {
			return fail(1, err)
		}

		gitStore := store.NewGitStore(archiveRoot)
		commitTime, hasCommit, err := gitStore.LastCommitTime(ctx)
		if err != nil {
			return fail(1, err)
		}
		uncommitted, err := gitStore.UncommittedChanges(ctx)
		if err != nil {
			return fail(1, err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "videos known:       %d\n", len(snap.KnownVideoIDs))
		fmt.Fprintf(out, "videos unavailable: %d\n", len(snap.UnavailableIDs))
		fmt.Fprintf(out, "videos downloaded:  %d\n", downloaded)
		fmt.Fprintf(out, "videos tracked-only:%d\n", trackedOnly)
		fmt.Fprintf(out, "working tree size:  %d bytes (indirect content excluded)\n", size)
		if hasCommit {
			fmt.Fprintf(out, "last commit:        %s\n", commitTime.Format("2006-01-02T15:04:05Z07:00"))
		} else {
			fmt.Fprintln(out, "last commit:        none")
		}
		fmt.Fprintf(out, "uncommitted changes:%v\n", uncommitted)
		marker, err := quota.ReadMarker(quota.DefaultMarkerPath(archiveRoot))
		if err != nil {
			return fail(1, err)
		}
		if marker != nil {
			fmt.Fprintf(out, "quota state:        %s (resume at %s)\n",
				marker.State, marker.ResumeAt.Format("2006-01-02T15:04:05Z07:00"))
		} else {
			fmt.Fprintln(out, "quota state:        idle")
		}
		if len(perSource) > 0 {
			fmt.Fprintln(out, "per-channel counts:")
			for channel, n := range perSource {
				fmt.Fprintf(out, "  %s: %d\n", channel, n)
			}
		}
		return nil
	},
}

// tallyDownloadStatus walks videos/ counting each video's download status
// and grouping counts by channel, mirroring state.loadPerVideoFiles's walk
// shape but surfacing fields State Derivation intentionally doesn't expose.
func tallyDownloadStatus(archiveRoot string) (downloaded, trackedOnly int, perChannel map[string]int) {
	perChannel = make(map[string]int)
	videosRoot := filepath.Join(archiveRoot, "videos")
	_ = filepath.WalkDir(videosRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Base(path) != "metadata.json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var v model.Video
		if err := json.Unmarshal(data, &v); err != nil {
			return nil
		}
		if v.DownloadStatus == model.DownloadStatusDownloaded {
			downloaded++
		} else {
			trackedOnly++
		}
		if v.ChannelName != "" {
			perChannel[v.ChannelName]++
		}
		return nil
	})
	return downloaded, trackedOnly, perChannel
}

// workingTreeSize sums file sizes under archiveRoot, skipping .git/.git
// internals and indirect symlinks (whose target content lives outside the
// working tree until materialized).
func workingTreeSize(archiveRoot string) (int64, error) {
	var total int64
	err := filepath.WalkDir(archiveRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() && (d.Name() == ".git" || d.Name() == ".git-annex") {
			return filepath.SkipDir
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if !d.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
