package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/onnwee/ytarchive/internal/tsv"
)

// timestampFields are stripped before comparing old and new JSON content so
// that a write that only refreshes a fetch timestamp never produces a
// commit.
var timestampFields = []string{"fetched_at", "updated_at", "first_fetched_at", "last_updated", "last_modified"}

// GitStore is the real repository store, driving the git and git-annex
// binaries via os/exec.
type GitStore struct {
	root  string
	rules TrackingRules
}

// NewGitStore returns a Store rooted at root. Init must be called once
// before use on a fresh archive.
func NewGitStore(root string) *GitStore {
	return &GitStore{root: root}
}

func (s *GitStore) Root() string { return s.root }

func (s *GitStore) runGit(ctx context.Context, args ...string) (string, error) {
	return s.run(ctx, "git", args...)
}

func (s *GitStore) runAnnex(ctx context.Context, args ...string) (string, error) {
	return s.run(ctx, "git-annex", args...)
}

func (s *GitStore) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = s.root
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(errBuf.String()))
	}
	return out.String(), nil
}

// Init initializes a git repository and git-annex at root, writing
// .gitattributes from rules so indirect files are routed to the large-file
// backend by name pattern.
func (s *GitStore) Init(ctx context.Context, rules TrackingRules) error {
	s.rules = rules
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("store: mkdir root: %w", err)
	}
	if _, err := os.Stat(filepath.Join(s.root, ".git")); os.IsNotExist(err) {
		if _, err := s.runGit(ctx, "init"); err != nil {
			return fmt.Errorf("store: git init: %w", err)
		}
		if _, err := s.runAnnex(ctx, "init", "ytarchive"); err != nil {
			return fmt.Errorf("store: git annex init: %w", err)
		}
	}
	attrs := s.gitattributes(rules)
	if err := renameio.WriteFile(filepath.Join(s.root, ".gitattributes"), []byte(attrs), 0o644); err != nil {
		return fmt.Errorf("store: write .gitattributes: %w", err)
	}
	if _, err := s.runGit(ctx, "add", ".gitattributes"); err != nil {
		return fmt.Errorf("store: stage .gitattributes: %w", err)
	}
	if _, err := s.Commit(ctx, "init: configure large-file tracking"); err != nil {
		return fmt.Errorf("store: initial commit: %w", err)
	}
	return nil
}

// gitattributes renders the tracking policy. Rule order matters: the last
// matching line wins per attribute, so the broad indirect globs come
// first, the direct extension rules override them (keeping caption files
// named video.<lang>.vtt direct even though they match video.*), and the
// exact comments.json line comes last to stay indirect despite *.json.
func (s *GitStore) gitattributes(rules TrackingRules) string {
	var b strings.Builder
	for _, pat := range rules.IndirectPatterns {
		if pat == "comments.json" {
			continue
		}
		fmt.Fprintf(&b, "%s filter=annex annex.largefiles=anything\n", pat)
	}
	b.WriteString("*.tsv !filter !annex.largefiles\n")
	b.WriteString("*.json !filter !annex.largefiles\n")
	b.WriteString("*.md !filter !annex.largefiles\n")
	b.WriteString("*.vtt !filter !annex.largefiles\n")
	for _, pat := range rules.IndirectPatterns {
		if pat == "comments.json" {
			fmt.Fprintf(&b, "%s filter=annex annex.largefiles=anything\n", pat)
		}
	}
	return b.String()
}

func (s *GitStore) isIndirect(relPath string) bool {
	return s.rules.IsIndirect(filepath.Base(relPath))
}

// AtomicWrite writes data to relPath. Direct paths use renameio's
// temp-write-fsync-rename sequence. Indirect paths that are already
// annexed are unlocked first so the replacement content lands in place of
// the old symlink, then
// re-added so git-annex picks up the new key. Once unlocked, a scoped guard
// restores the original symlink via `git checkout` if anything after the
// unlock fails, so a failed write never leaves the entry stuck unlocked.
func (s *GitStore) AtomicWrite(ctx context.Context, relPath string, data []byte) (err error) {
	full := filepath.Join(s.root, relPath)
	if mkErr := os.MkdirAll(filepath.Dir(full), 0o755); mkErr != nil {
		return fmt.Errorf("store: mkdir for %s: %w", relPath, mkErr)
	}
	if !s.isIndirect(relPath) {
		if wErr := renameio.WriteFile(full, data, 0o644); wErr != nil {
			return fmt.Errorf("store: atomic write %s: %w", relPath, wErr)
		}
		return nil
	}

	unlocked := false
	if info, lErr := os.Lstat(full); lErr == nil && info.Mode()&os.ModeSymlink != 0 {
		if _, aErr := s.runAnnex(ctx, "unlock", relPath); aErr != nil {
			return fmt.Errorf("store: unlock %s: %w", relPath, aErr)
		}
		unlocked = true
	}
	if unlocked {
		defer func() {
			if err == nil {
				return
			}
			if _, rErr := s.runGit(ctx, "checkout", "--", relPath); rErr != nil {
				err = fmt.Errorf("%w (failed to restore symlink for %s, store left unlocked: %v)", err, relPath, rErr)
			}
		}()
	}

	if wErr := renameio.WriteFile(full, data, 0o644); wErr != nil {
		return fmt.Errorf("store: write indirect %s: %w", relPath, wErr)
	}
	if _, aErr := s.runAnnex(ctx, "add", relPath); aErr != nil {
		return fmt.Errorf("store: annex add %s: %w", relPath, aErr)
	}
	return nil
}

// RegisterURL stages relPath as a key resolvable from url. When the file
// already exists as regular content (the opt-in download path got there
// first) it is annexed and the url recorded against its key; otherwise a
// --fast addurl creates the reference without fetching anything.
func (s *GitStore) RegisterURL(ctx context.Context, relPath, url string, tags Tags) error {
	full := filepath.Join(s.root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("store: mkdir for %s: %w", relPath, err)
	}
	if info, statErr := os.Lstat(full); statErr == nil && info.Mode().IsRegular() {
		if _, err := s.runAnnex(ctx, "add", relPath); err != nil {
			return fmt.Errorf("store: annex add %s: %w", relPath, err)
		}
		if _, err := s.runAnnex(ctx, "addurl", "--file="+relPath, url); err != nil {
			return fmt.Errorf("store: record url on %s: %w", relPath, err)
		}
	} else if _, err := s.runAnnex(ctx, "addurl", "--fast", "--file="+relPath, url); err != nil {
		return fmt.Errorf("store: addurl %s: %w", relPath, err)
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := s.runAnnex(ctx, "metadata", relPath, "-s", fmt.Sprintf("%s=%s", k, tags[k])); err != nil {
			return fmt.Errorf("store: tag %s on %s: %w", k, relPath, err)
		}
	}
	return nil
}

// Move renames oldPath to newPath via git mv, preserving annex keys and
// history (used when the path pattern resolves differently than before).
func (s *GitStore) Move(ctx context.Context, oldPath, newPath string) error {
	full := filepath.Join(s.root, newPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("store: mkdir for move target %s: %w", newPath, err)
	}
	if _, err := s.runGit(ctx, "mv", oldPath, newPath); err != nil {
		return fmt.Errorf("store: mv %s -> %s: %w", oldPath, newPath, err)
	}
	return nil
}

func (s *GitStore) AddAll(ctx context.Context) error {
	if _, err := s.runGit(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("store: add -A: %w", err)
	}
	return nil
}

// Commit stages every pending change, then commits only if at least one
// staged file differs from HEAD after stripping timestamp fields from JSON
// content and blanking timestamp columns in TSV tables. Any other staged
// file (symlinks, annexed content), and any new or deleted file, always
// counts as a change.
func (s *GitStore) Commit(ctx context.Context, message string) (bool, error) {
	if err := s.AddAll(ctx); err != nil {
		return false, err
	}
	out, err := s.runGit(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return false, fmt.Errorf("store: diff --cached: %w", err)
	}
	files := splitLines(out)
	if len(files) == 0 {
		return false, nil
	}

	meaningful := false
	for _, f := range files {
		changed, err := s.meaningfulChange(ctx, f)
		if err != nil {
			// New or deleted files, or non-comparable content, always count.
			meaningful = true
			continue
		}
		if changed {
			meaningful = true
		}
	}

	if !meaningful {
		if _, err := s.runGit(ctx, "reset"); err != nil {
			return false, fmt.Errorf("store: reset timestamp-only staged changes: %w", err)
		}
		return false, nil
	}

	if _, err := s.runGit(ctx, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("store: commit: %w", err)
	}
	return true, nil
}

// meaningfulChange reports whether f's staged content differs from HEAD in
// a way that isn't explained entirely by timestamp fields. It returns an
// error for files with no HEAD version (new files) or without a
// normalizable format, signaling the caller to treat the change as
// meaningful by default.
func (s *GitStore) meaningfulChange(ctx context.Context, f string) (bool, error) {
	normalize := normalizerFor(f)
	if normalize == nil {
		return false, fmt.Errorf("store: %s has no normalized compare", f)
	}
	oldContent, err := s.runGit(ctx, "show", "HEAD:"+f)
	if err != nil {
		return false, fmt.Errorf("store: %s has no HEAD version: %w", f, err)
	}
	newContent, err := os.ReadFile(filepath.Join(s.root, f))
	if err != nil {
		return false, fmt.Errorf("store: read working copy of %s: %w", f, err)
	}
	oldNorm, errA := normalize([]byte(oldContent))
	newNorm, errB := normalize(newContent)
	if errA != nil || errB != nil {
		return false, fmt.Errorf("store: %s could not be normalized", f)
	}
	return !bytes.Equal(oldNorm, newNorm), nil
}

// normalizerFor returns the timestamp-stripping normalizer for f's format,
// or nil when the format has none (symlinks, binaries).
func normalizerFor(f string) func([]byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(f, ".json"):
		return normalizeJSON
	case strings.HasSuffix(f, ".tsv"):
		return normalizeTSV
	default:
		return nil
	}
}

// normalizeJSON parses data, strips timestampFields at every object level,
// and re-marshals deterministically so two otherwise-identical documents
// that differ only in refreshed timestamps compare equal.
func normalizeJSON(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	stripTimestamps(v)
	return json.Marshal(v)
}

func stripTimestamps(v any) {
	switch t := v.(type) {
	case map[string]any:
		for _, f := range timestampFields {
			delete(t, f)
		}
		for _, child := range t {
			stripTimestamps(child)
		}
	case []any:
		for _, child := range t {
			stripTimestamps(child)
		}
	}
}

// timestampColumns is the tabular counterpart of timestampFields: TSV
// columns masked before comparing old and new table content, so an export
// rewritten with fresh fetch times compares equal to its previous version.
var timestampColumns = map[string]bool{
	"fetched_at":    true,
	"updated_at":    true,
	"last_updated":  true,
	"last_modified": true,
}

// normalizeTSV blanks timestamp-valued columns in a table produced by the
// internal/tsv writer. Tables with no timestamp column, or rows that don't
// match the header width, are returned unchanged and compare verbatim.
func normalizeTSV(data []byte) ([]byte, error) {
	header, rows, err := tsv.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if header == nil {
		return data, nil
	}
	var mask []int
	for i, col := range header {
		if timestampColumns[col] {
			mask = append(mask, i)
		}
	}
	if len(mask) == 0 {
		return data, nil
	}
	var buf bytes.Buffer
	w := tsv.NewWriter(&buf, header)
	if err := w.WriteHeader(); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if len(row) != len(header) {
			return data, nil
		}
		for _, i := range mask {
			row[i] = ""
		}
		if err := w.WriteRow(row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func (s *GitStore) UncommittedChanges(ctx context.Context) (bool, error) {
	out, err := s.runGit(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("store: status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// ConfigureIndirectRemote registers a pluggable backend (e.g. an S3-style
// bucket or another repository) that indirect content can be copied to and
// retrieved from without changing the repo's indices.
func (s *GitStore) ConfigureIndirectRemote(ctx context.Context, name, kind string, params map[string]string) error {
	args := []string{"initremote", name, "type=" + kind}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("%s=%s", k, params[k]))
	}
	if _, err := s.runAnnex(ctx, args...); err != nil {
		return fmt.Errorf("store: initremote %s: %w", name, err)
	}
	return nil
}

// AnnexTags returns the metadata fields git-annex has recorded for relPath,
// taking the first value of each field (tags are single-valued in this
// repo's usage). Used by the `check` command to verify tag completeness on
// indirect entries.
func (s *GitStore) AnnexTags(ctx context.Context, relPath string) (map[string]string, error) {
	out, err := s.runAnnex(ctx, "metadata", "--json", relPath)
	if err != nil {
		return nil, fmt.Errorf("store: annex metadata %s: %w", relPath, err)
	}
	var parsed struct {
		Fields map[string][]string `json:"fields"`
	}
	line := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	if line == "" {
		return nil, fmt.Errorf("store: annex metadata %s: empty output", relPath)
	}
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		return nil, fmt.Errorf("store: parse annex metadata for %s: %w", relPath, err)
	}
	tags := make(map[string]string, len(parsed.Fields))
	for k, v := range parsed.Fields {
		if len(v) > 0 {
			tags[k] = v[0]
		}
	}
	return tags, nil
}

// LastCommitTime reports the commit time of HEAD, or ok=false on a fresh
// repository with no commits yet (used by the `info` command).
func (s *GitStore) LastCommitTime(ctx context.Context) (t time.Time, ok bool, err error) {
	out, runErr := s.runGit(ctx, "log", "-1", "--format=%cI")
	if runErr != nil {
		return time.Time{}, false, nil
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return time.Time{}, false, nil
	}
	parsed, parseErr := time.Parse(time.RFC3339, out)
	if parseErr != nil {
		return time.Time{}, false, fmt.Errorf("store: parse commit time %q: %w", out, parseErr)
	}
	return parsed, true, nil
}

var _ Store = (*GitStore)(nil)
