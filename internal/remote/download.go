package remote

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// YTDLPDownloader fetches video binaries by shelling out to yt-dlp. It is
// the opt-in download path behind components.videos; the default archive
// only tracks watch URLs and never invokes it.
type YTDLPDownloader struct {
	// Binary overrides the executable name, for tests. Default "yt-dlp".
	Binary string

	// Proxy, LimitRate and SleepInterval pass through to yt-dlp's
	// --proxy/--limit-rate/--sleep-interval flags when non-zero.
	Proxy         string
	LimitRate     string
	SleepInterval time.Duration
}

// Fetch downloads watchURL to destPath, resuming a partial file if one is
// present. Errors are classified through the same taxonomy as API calls so
// the scheduler's per-item failure policy applies unchanged.
func (d *YTDLPDownloader) Fetch(ctx context.Context, watchURL, destPath string) error {
	bin := d.Binary
	if bin == "" {
		bin = "yt-dlp"
	}
	args := []string{
		"--continue",
		"--retries", "infinite",
		"--no-progress",
		"--no-playlist",
		"-f", "mp4/bestvideo*+bestaudio/best",
		"-o", destPath,
	}
	if d.Proxy != "" {
		args = append(args, "--proxy", d.Proxy)
	}
	if d.LimitRate != "" {
		args = append(args, "--limit-rate", d.LimitRate)
	}
	if d.SleepInterval > 0 {
		args = append(args, "--sleep-interval", strconv.Itoa(int(d.SleepInterval.Seconds())))
	}
	args = append(args, watchURL)

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classifyDownloadError(err, stderr.String())
	}
	return nil
}

// classifyDownloadError maps yt-dlp's stderr to the adapter error taxonomy
// by message inspection.
func classifyDownloadError(err error, stderr string) error {
	msg := stderr
	switch {
	case containsAny(msg, "Private video", "members-only", "This video is private"):
		return &Unavailable{Reason: "private"}
	case containsAny(msg, "Video unavailable", "has been removed"):
		return &Unavailable{Reason: "removed"}
	case containsAny(msg, "HTTP Error 429", "rate-limited"):
		return &RateLimited{Err: fmt.Errorf("yt-dlp: %s", firstLine(msg))}
	default:
		return &Transient{Err: fmt.Errorf("yt-dlp: %w: %s", err, firstLine(msg))}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return strings.TrimSpace(s)
}
