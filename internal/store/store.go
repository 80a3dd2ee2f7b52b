// Package store is the sole owner of the archive's working tree, wrapping
// git plus a large-file extension whose URL backend tracks binaries by
// their remote source URL. Store is a small interface with a real
// git+git-annex implementation (git.go) and an in-memory fake for tests
// (memory.go).
package store

import (
	"context"
	"path/filepath"
)

// TrackingRules decides, per relative path, whether content is tracked
// directly in git or indirectly through the large-file layer (.tsv/.md
// stored directly; binaries tracked indirectly).
// IndirectPatterns are filepath.Match-style globs evaluated against a
// per-video file's base name (directory depth varies with the configured
// path pattern, so matching is name-based rather than full-path).
type TrackingRules struct {
	IndirectPatterns []string
}

// directExtensions are always stored directly in git. comments.json is the
// one exception: it can grow large and is routed to the indirect store by
// an explicit pattern.
var directExtensions = map[string]bool{".tsv": true, ".json": true, ".md": true, ".vtt": true}

// IsIndirect reports whether a file with the given base name is routed to
// the large-file layer. The direct extension set wins over glob matches
// (so video.en.vtt stays direct even though it matches video.*), except
// for an exact comments.json match.
func (r TrackingRules) IsIndirect(base string) bool {
	if directExtensions[filepath.Ext(base)] && base != "comments.json" {
		return false
	}
	for _, pat := range r.IndirectPatterns {
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
	}
	return false
}

// DefaultTrackingRules is the default split: video
// containers, thumbnails and per-video comments.json are indirect; TSV,
// markdown, JSON metadata and VTT captions are direct.
func DefaultTrackingRules() TrackingRules {
	return TrackingRules{
		IndirectPatterns: []string{
			"video.*",
			"thumbnail.*",
			"comments.json",
		},
	}
}

// Tags are metadata key/value pairs attached to an indirect entry
// (video_id, channel, published, filetype).
type Tags map[string]string

// Store is the Repository Store contract.
type Store interface {
	// Init initializes a versioned repository and its large-file layer at
	// root, writing the attribute rules derived from rules.
	Init(ctx context.Context, rules TrackingRules) error

	// AtomicWrite writes data to the direct or indirect store at relPath
	// per the configured tracking rules. Either the new content is present
	// or the previous content is intact; no partial state is observable
	// after this returns.
	AtomicWrite(ctx context.Context, relPath string, data []byte) error

	// RegisterURL stages relPath as an indirect reference resolvable from
	// url, tagged with tags, without downloading content.
	RegisterURL(ctx context.Context, relPath, url string, tags Tags) error

	// Move renames oldPath to newPath, preserving history (used for
	// path-pattern drift).
	Move(ctx context.Context, oldPath, newPath string) error

	// AddAll stages every pending change in the working tree.
	AddAll(ctx context.Context) error

	// Commit creates a commit with message only if the staged content
	// differs from HEAD in a non-timestamp-only way; created reports
	// whether a commit was actually made.
	Commit(ctx context.Context, message string) (created bool, err error)

	// UncommittedChanges reports whether the working tree has changes not
	// yet committed (staged or not).
	UncommittedChanges(ctx context.Context) (bool, error)

	// ConfigureIndirectRemote registers a pluggable storage backend that
	// indirect content can be copied to and retrieved from later.
	ConfigureIndirectRemote(ctx context.Context, name, kind string, params map[string]string) error

	// Root returns the repository's working-tree root.
	Root() string
}
