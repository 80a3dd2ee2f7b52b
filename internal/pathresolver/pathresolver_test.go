package pathresolver

import (
	"strings"
	"testing"
	"time"
)

func TestResolveDefaultPattern(t *testing.T) {
	r, err := New("{year}/{month}/{date}_{sanitized_title}")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v := Video{
		ID:        "abc123",
		Title:     "Hello, World! (Live)",
		Published: time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
	}
	got := r.Resolve(v)
	want := "2024/03/2024-03-07_Hello, World! (Live)"
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestSanitizeTitlePreservesNonASCIIScript(t *testing.T) {
	tests := []struct{ title, want string }{
		{"配信アーカイブ", "配信アーカイブ"},
		{"Café del Mar", "Café del Mar"},
		{"Русский заголовок", "Русский заголовок"},
	}
	for _, tt := range tests {
		if got := SanitizeTitle(tt.title); got != tt.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q (non-Latin script must be preserved)", tt.title, got, tt.want)
		}
	}
}

func TestSanitizeTitleReplacesOnlyFilesystemUnsafeChars(t *testing.T) {
	got := SanitizeTitle(`weird: name? "quoted" <tag>|pipe*star`)
	if strings.ContainsAny(got, `:?"<>|*`) {
		t.Errorf("SanitizeTitle = %q, expected reserved filesystem characters removed", got)
	}
	if !strings.Contains(got, "weird") || !strings.Contains(got, "name") {
		t.Errorf("SanitizeTitle = %q, expected surrounding text preserved", got)
	}
}

func TestResolvePathSeparatorsInTitleAreSanitizedPerSegment(t *testing.T) {
	r, err := New("{video_id}/{sanitized_title}")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v := Video{ID: "vid1", Title: "a/b\\c"}
	got := r.Resolve(v)
	if strings.Count(got, "/") != 1 {
		t.Errorf("expected exactly one path separator (between segments), got %q", got)
	}
}

func TestValidateRejectsUnknownPlaceholder(t *testing.T) {
	if err := Validate("{year}/{bogus}"); err == nil {
		t.Fatal("expected error for unknown placeholder")
	}
}

func TestNewRejectsUnknownPlaceholder(t *testing.T) {
	if _, err := New("{not_a_field}"); err == nil {
		t.Fatal("expected New to fail fast on unknown placeholder")
	}
}

func TestSanitizeTitleCollapsesRunsAndTrims(t *testing.T) {
	got := SanitizeTitle("  ***Weird??Title***  ")
	if strings.HasPrefix(got, "-") || strings.HasSuffix(got, "-") {
		t.Errorf("expected no leading/trailing dash, got %q", got)
	}
	if strings.Contains(got, "--") {
		t.Errorf("expected no repeated dashes, got %q", got)
	}
}

func TestSanitizeTitleEmptyFallsBackToUntitled(t *testing.T) {
	if got := SanitizeTitle("***"); got != "untitled" {
		t.Errorf("SanitizeTitle(***) = %q, want untitled", got)
	}
}

func TestSanitizeTitleCapsLength(t *testing.T) {
	long := strings.Repeat("a", 500)
	got := SanitizeTitle(long)
	if len(got) > maxSegmentLength {
		t.Errorf("expected length <= %d, got %d", maxSegmentLength, len(got))
	}
}

func TestDrifted(t *testing.T) {
	if Drifted("", "2024/03/x") {
		t.Error("empty recorded path should not count as drift (new video)")
	}
	if !Drifted("2024/03/x", "2024/04/x") {
		t.Error("expected drift when paths differ")
	}
	if Drifted("2024/03/x", "2024/03/x") {
		t.Error("expected no drift when paths match")
	}
}
