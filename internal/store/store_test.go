package store

import (
	"context"
	"testing"
)

func TestMemoryStoreCommitSuppressesTimestampOnlyDiff(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.Init(ctx, DefaultTrackingRules()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := m.AtomicWrite(ctx, "videos/abc/metadata.json", []byte(`{"id":"abc","title":"First","fetched_at":"2024-01-01T00:00:00Z"}`)); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}
	created, err := m.Commit(ctx, "add abc")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !created {
		t.Fatal("expected first commit to be created")
	}

	if err := m.AtomicWrite(ctx, "videos/abc/metadata.json", []byte(`{"id":"abc","title":"First","fetched_at":"2024-06-01T00:00:00Z"}`)); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}
	created, err = m.Commit(ctx, "refresh abc")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if created {
		t.Fatal("expected timestamp-only diff to suppress commit")
	}
}

func TestMemoryStoreCommitsRealChange(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_ = m.Init(ctx, DefaultTrackingRules())

	_ = m.AtomicWrite(ctx, "videos/abc/metadata.json", []byte(`{"id":"abc","title":"First","fetched_at":"2024-01-01T00:00:00Z"}`))
	if _, err := m.Commit(ctx, "add abc"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	_ = m.AtomicWrite(ctx, "videos/abc/metadata.json", []byte(`{"id":"abc","title":"Retitled","fetched_at":"2024-06-01T00:00:00Z"}`))
	created, err := m.Commit(ctx, "retitle abc")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !created {
		t.Fatal("expected title change to produce a commit")
	}
}

func TestMemoryStoreMoveTracksBothFilesAndURLs(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_ = m.Init(ctx, DefaultTrackingRules())

	if err := m.RegisterURL(ctx, "videos/2023/abc/video.mp4", "https://example.com/abc", Tags{"video_id": "abc"}); err != nil {
		t.Fatalf("RegisterURL: %v", err)
	}
	if err := m.Move(ctx, "videos/2023/abc/video.mp4", "videos/2024/abc/video.mp4"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, ok := m.URLs["videos/2024/abc/video.mp4"]; !ok {
		t.Fatal("expected URL to follow the moved path")
	}
	if _, ok := m.URLs["videos/2023/abc/video.mp4"]; ok {
		t.Fatal("expected old path to be cleared after move")
	}
}

func TestGitStoreIsIndirectMatchesByBaseName(t *testing.T) {
	s := &GitStore{rules: DefaultTrackingRules()}
	cases := map[string]bool{
		"videos/2024/06/15/abc/video.mp4":       true,
		"videos/2024/06/15/abc/thumbnail.jpg":   true,
		"videos/2024/06/15/abc/comments.json":   true,
		"videos/2024/06/15/abc/metadata.json":   false,
		"videos/2024/06/15/abc/video.en.vtt":    false,
		"videos/2024/06/15/abc/captions.tsv":    false,
		"videos/2024/06/15/abc/captions/en.vtt": false,
		"videos.tsv":                            false,
	}
	for path, want := range cases {
		if got := s.isIndirect(path); got != want {
			t.Errorf("isIndirect(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestGitAttributesRuleOrdering(t *testing.T) {
	s := &GitStore{}
	attrs := s.gitattributes(DefaultTrackingRules())
	lines := []string{}
	for _, l := range splitLines(attrs) {
		lines = append(lines, l)
	}
	idx := func(prefix string) int {
		for i, l := range lines {
			if len(l) >= len(prefix) && l[:len(prefix)] == prefix {
				return i
			}
		}
		return -1
	}
	video, vtt, jsonRule, comments := idx("video.*"), idx("*.vtt"), idx("*.json"), idx("comments.json")
	if video == -1 || vtt == -1 || jsonRule == -1 || comments == -1 {
		t.Fatalf("missing expected rules in:\n%s", attrs)
	}
	if !(video < vtt) {
		t.Error("*.vtt must come after video.* so caption files stay direct")
	}
	if !(jsonRule < comments) {
		t.Error("comments.json must come after *.json so it stays indirect")
	}
}

func TestNormalizeTSVMasksTimestampColumns(t *testing.T) {
	a, err := normalizeTSV([]byte("language\tauto_generated\tpath\tfetched_at\nen\tfalse\tvideos/x/video.en.vtt\t2024-01-01T00:00:00Z\n"))
	if err != nil {
		t.Fatalf("normalizeTSV a: %v", err)
	}
	b, err := normalizeTSV([]byte("language\tauto_generated\tpath\tfetched_at\nen\tfalse\tvideos/x/video.en.vtt\t2099-12-31T00:00:00Z\n"))
	if err != nil {
		t.Fatalf("normalizeTSV b: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("expected timestamp-only TSV diff to normalize away, got %q vs %q", a, b)
	}

	c, err := normalizeTSV([]byte("language\tauto_generated\tpath\tfetched_at\nde\tfalse\tvideos/x/video.de.vtt\t2024-01-01T00:00:00Z\n"))
	if err != nil {
		t.Fatalf("normalizeTSV c: %v", err)
	}
	if string(a) == string(c) {
		t.Error("expected a language change to survive normalization")
	}
}

func TestNormalizeTSVWithoutTimestampColumnsIsVerbatim(t *testing.T) {
	in := []byte("title\tvideo_id\nA\tv1\n")
	out, err := normalizeTSV(in)
	if err != nil {
		t.Fatalf("normalizeTSV: %v", err)
	}
	if string(out) != string(in) {
		t.Errorf("expected verbatim content, got %q", out)
	}
}

func TestMemoryStoreCommitSuppressesTimestampOnlyTSVDiff(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_ = m.Init(ctx, DefaultTrackingRules())

	_ = m.AtomicWrite(ctx, "videos/abc/captions.tsv", []byte("language\tauto_generated\tpath\tfetched_at\nen\tfalse\tvideos/abc/video.en.vtt\t2024-01-01T00:00:00Z\n"))
	created, err := m.Commit(ctx, "add captions")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !created {
		t.Fatal("expected first commit to be created")
	}

	_ = m.AtomicWrite(ctx, "videos/abc/captions.tsv", []byte("language\tauto_generated\tpath\tfetched_at\nen\tfalse\tvideos/abc/video.en.vtt\t2024-06-01T00:00:00Z\n"))
	created, err = m.Commit(ctx, "refresh captions")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if created {
		t.Fatal("expected fetched_at-only TSV diff to suppress commit")
	}

	_ = m.AtomicWrite(ctx, "videos/abc/captions.tsv", []byte("language\tauto_generated\tpath\tfetched_at\nde\tfalse\tvideos/abc/video.de.vtt\t2024-06-01T00:00:00Z\nen\tfalse\tvideos/abc/video.en.vtt\t2024-06-01T00:00:00Z\n"))
	created, err = m.Commit(ctx, "new language")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !created {
		t.Fatal("expected a new caption language to produce a commit")
	}
}

func TestNormalizeJSONStripsTimestampFields(t *testing.T) {
	a, err := normalizeJSON([]byte(`{"id":"abc","fetched_at":"2024-01-01T00:00:00Z","nested":{"updated_at":"x"}}`))
	if err != nil {
		t.Fatalf("normalizeJSON a: %v", err)
	}
	b, err := normalizeJSON([]byte(`{"id":"abc","fetched_at":"2099-12-31T00:00:00Z","nested":{"updated_at":"y"}}`))
	if err != nil {
		t.Fatalf("normalizeJSON b: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("expected normalized documents to match, got %s vs %s", a, b)
	}
}
