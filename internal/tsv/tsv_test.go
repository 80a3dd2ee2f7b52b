package tsv

import (
	"bytes"
	"strings"
	"testing"
)

func TestEscapeRoundTrip(t *testing.T) {
	cases := []string{
		"plain",
		"has\ttab",
		"has\nnewline",
		"has\rcarriage",
		`has\backslash`,
		"mixed\t\n\r\\end",
		"",
	}
	for _, c := range cases {
		got := Unescape(Escape(c))
		if got != c {
			t.Errorf("round trip %q -> %q", c, got)
		}
		if strings.ContainsAny(Escape(c), "\t\n\r") {
			t.Errorf("Escape(%q) still contains a field/row separator", c)
		}
	}
}

func TestWriterProducesHeaderAndEscapedRows(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, []string{"title", "video_id"})
	if err := w.WriteRow([]string{"a\ttitle", "v1"}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	if err := w.WriteRow([]string{"second", "v2"}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines: %q", len(lines), buf.String())
	}
	if lines[0] != "title\tvideo_id" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != `a\ttitle`+"\tv1" {
		t.Errorf("row 1 = %q", lines[1])
	}
}

func TestWriterEmptyTableStillWritesHeader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, []string{"title", "video_id"})
	if err := w.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if buf.String() != "title\tvideo_id\n" {
		t.Errorf("empty table = %q", buf.String())
	}
}

func TestWriterRejectsWrongColumnCount(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, []string{"a", "b"})
	if err := w.WriteRow([]string{"only-one"}); err == nil {
		t.Error("expected an error for a row with the wrong field count")
	}
}

func TestReadAllRoundTripsWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, []string{"title", "path"})
	rows := [][]string{
		{"tabs\tand\nnewlines", "videos/2024/01/x"},
		{"plain", "videos/2024/02/y"},
	}
	for _, r := range rows {
		if err := w.WriteRow(r); err != nil {
			t.Fatalf("WriteRow: %v", err)
		}
	}

	header, got, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(header) != 2 || header[0] != "title" || header[1] != "path" {
		t.Errorf("header = %v", header)
	}
	if len(got) != len(rows) {
		t.Fatalf("rows = %d, want %d", len(got), len(rows))
	}
	for i := range rows {
		for j := range rows[i] {
			if got[i][j] != rows[i][j] {
				t.Errorf("row %d col %d = %q, want %q", i, j, got[i][j], rows[i][j])
			}
		}
	}
}

func TestReadAllEmptyInput(t *testing.T) {
	header, rows, err := ReadAll(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if header != nil || rows != nil {
		t.Errorf("expected nil header and rows for empty input, got %v / %v", header, rows)
	}
}

func TestIndexOf(t *testing.T) {
	header := []string{"title", "path", "video_id"}
	if got := IndexOf(header, "video_id"); got != 2 {
		t.Errorf("IndexOf(video_id) = %d, want 2", got)
	}
	if got := IndexOf(header, "missing"); got != -1 {
		t.Errorf("IndexOf(missing) = %d, want -1", got)
	}
}
