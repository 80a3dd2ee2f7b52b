// Package symlink materializes playlist directories: for each playlist it
// rebuilds a directory of numbered symlinks pointing into the canonical
// video tree, from scratch, on every checkpoint.
package symlink

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config controls the numbering format of playlist entries.
type Config struct {
	PrefixWidth     int
	PrefixSeparator string
}

func DefaultConfig() Config {
	return Config{PrefixWidth: 4, PrefixSeparator: "_"}
}

// Rebuild removes every existing symlink under playlistDir (regular files
// such as playlist.json are left alone) and recreates one symlink per
// entry in videoIDs, in order, named "<NNNN><separator><video-dir-name>".
// videoDirOf maps a video id to its directory name relative to videosRoot;
// ids with no known directory yet (not archived) are skipped and will
// appear on a later pass. A member count that cannot be expressed in
// PrefixWidth digits is a configuration error.
func Rebuild(playlistDir, videosRoot string, videoIDs []string, videoDirOf func(videoID string) (string, bool), cfg Config) error {
	if cfg.PrefixWidth <= 0 {
		cfg.PrefixWidth = DefaultConfig().PrefixWidth
	}
	if cfg.PrefixSeparator == "" {
		cfg.PrefixSeparator = DefaultConfig().PrefixSeparator
	}

	max := 1
	for i := 0; i < cfg.PrefixWidth; i++ {
		max *= 10
	}
	max--
	if len(videoIDs) > max {
		return fmt.Errorf("symlink: playlist has %d entries, more than the %d expressible with playlist_prefix_width=%d", len(videoIDs), max, cfg.PrefixWidth)
	}

	if err := os.MkdirAll(playlistDir, 0o755); err != nil {
		return fmt.Errorf("symlink: mkdir %s: %w", playlistDir, err)
	}
	if err := clearSymlinks(playlistDir); err != nil {
		return fmt.Errorf("symlink: clear %s: %w", playlistDir, err)
	}

	position := 1
	for _, id := range videoIDs {
		dirName, ok := videoDirOf(id)
		if !ok {
			continue
		}
		target, err := filepath.Rel(playlistDir, filepath.Join(videosRoot, dirName))
		if err != nil {
			return fmt.Errorf("symlink: relative path for %s: %w", id, err)
		}
		name := fmt.Sprintf("%0*d%s%s", cfg.PrefixWidth, position, cfg.PrefixSeparator, filepath.Base(dirName))
		linkPath := filepath.Join(playlistDir, name)
		if err := os.Symlink(target, linkPath); err != nil {
			return fmt.Errorf("symlink: create %s -> %s: %w", linkPath, target, err)
		}
		position++
	}
	return nil
}

func clearSymlinks(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type()&os.ModeSymlink == 0 {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
