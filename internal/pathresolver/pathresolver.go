// Package pathresolver expands a configurable placeholder pattern into a
// per-video directory path, sanitizing any derived segment, and detects
// drift against a video's previously recorded path so the scheduler knows
// when to ask the store to move a directory.
package pathresolver

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxSegmentLength caps any single path segment so archives stay portable
// across filesystems with short name limits.
const maxSegmentLength = 150

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

var knownPlaceholders = map[string]bool{
	"year":            true,
	"month":           true,
	"date":            true,
	"video_id":        true,
	"sanitized_title": true,
	"channel_id":      true,
	"channel_name":    true,
}

// unsafeChar matches only characters that are actually unsafe for a
// filesystem path segment: control characters, the path separators, and
// the reserved characters NTFS/exFAT forbid. Everything else, including
// non-Latin scripts, passes through untouched.
var unsafeChar = regexp.MustCompile(`[\x00-\x1f\x7f/\\:*?"<>|]`)
var repeatedDash = regexp.MustCompile(`-{2,}`)

// Video is the minimal per-video input the resolver needs.
type Video struct {
	ID          string
	Title       string
	Published   time.Time
	ChannelID   string
	ChannelName string
}

// Resolver expands a fixed pattern for every call, so patterns are
// validated once at construction.
type Resolver struct {
	pattern string
}

// New validates pattern's placeholders and returns a Resolver. It returns
// an error if pattern references an unknown placeholder.
func New(pattern string) (*Resolver, error) {
	if err := Validate(pattern); err != nil {
		return nil, err
	}
	return &Resolver{pattern: pattern}, nil
}

// Validate reports an error if pattern references any placeholder outside
// the known set.
func Validate(pattern string) error {
	for _, m := range placeholderPattern.FindAllStringSubmatch(pattern, -1) {
		if !knownPlaceholders[m[1]] {
			return fmt.Errorf("pathresolver: unknown placeholder {%s}", m[1])
		}
	}
	return nil
}

// Resolve expands the pattern for v into a relative directory path, with
// every path segment independently sanitized and length-capped.
func (r *Resolver) Resolve(v Video) string {
	expanded := placeholderPattern.ReplaceAllStringFunc(r.pattern, func(tok string) string {
		name := tok[1 : len(tok)-1]
		return r.value(name, v)
	})
	segments := strings.Split(expanded, "/")
	for i, seg := range segments {
		segments[i] = sanitizeSegment(seg)
	}
	return strings.Join(segments, "/")
}

func (r *Resolver) value(placeholder string, v Video) string {
	switch placeholder {
	case "year":
		return fmt.Sprintf("%04d", v.Published.Year())
	case "month":
		return fmt.Sprintf("%02d", v.Published.Month())
	case "date":
		return v.Published.Format("2006-01-02")
	case "video_id":
		return v.ID
	case "sanitized_title":
		return SanitizeTitle(v.Title)
	case "channel_id":
		return v.ChannelID
	case "channel_name":
		return SanitizeTitle(v.ChannelName)
	default:
		return ""
	}
}

// SanitizeTitle produces a filesystem-safe slug from an arbitrary video or
// channel title: Unicode is normalized to NFC so combining sequences
// collapse consistently, each unsafeChar match becomes a dash (other
// characters, including non-Latin scripts, are kept), runs of dashes
// collapse, leading/trailing spaces, dashes, dots and underscores are
// stripped, an empty result becomes "untitled", and the result is capped
// at maxSegmentLength runes.
func SanitizeTitle(title string) string {
	return sanitizeSegment(title)
}

func sanitizeSegment(seg string) string {
	seg = norm.NFC.String(seg)
	seg = unsafeChar.ReplaceAllString(seg, "-")
	seg = repeatedDash.ReplaceAllString(seg, "-")
	seg = strings.Trim(seg, " -._")
	if seg == "" {
		seg = "untitled"
	}
	if utf8.RuneCountInString(seg) > maxSegmentLength {
		runes := []rune(seg)
		seg = strings.Trim(string(runes[:maxSegmentLength]), " -._")
	}
	return seg
}

// Drifted reports whether currentPath differs from the path most recently
// recorded for a video, signaling the scheduler to invoke the store's
// Move before writing.
func Drifted(recordedPath, currentPath string) bool {
	return recordedPath != "" && recordedPath != currentPath
}
