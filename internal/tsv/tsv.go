// Package tsv implements the UTF-8, tab-separated, LF-terminated table
// format used for videos.tsv, playlists.tsv and authors.tsv.
// Tabs, newlines and carriage returns inside fields are escaped
// so the field order and one-row-per-line layout stay a stable contract for
// the frontend and for re-running export.
package tsv

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

var escaper = strings.NewReplacer(
	"\\", `\\`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
)

var unescaper = strings.NewReplacer(
	`\\`, "\\",
	`\t`, "\t",
	`\n`, "\n",
	`\r`, "\r",
)

// Escape replaces tabs, newlines, carriage returns and backslashes in a
// field with their literal two-character escape sequences so the result can
// never be mistaken for a column or row boundary.
func Escape(field string) string {
	return escaper.Replace(field)
}

// Unescape reverses Escape.
func Unescape(field string) string {
	return unescaper.Replace(field)
}

// Writer writes a header line followed by escaped, tab-joined rows, each
// terminated with a single LF.
type Writer struct {
	w       io.Writer
	Columns []string
	started bool
}

func NewWriter(w io.Writer, columns []string) *Writer {
	return &Writer{w: w, Columns: columns}
}

// WriteHeader writes the column header line. Safe to call at most once;
// WriteRow calls it automatically if omitted.
func (w *Writer) WriteHeader() error {
	if w.started {
		return nil
	}
	w.started = true
	_, err := fmt.Fprintf(w.w, "%s\n", strings.Join(w.Columns, "\t"))
	return err
}

// WriteRow writes one row. len(fields) must equal len(w.Columns).
func (w *Writer) WriteRow(fields []string) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if len(fields) != len(w.Columns) {
		return fmt.Errorf("tsv: row has %d fields, want %d", len(fields), len(w.Columns))
	}
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = Escape(f)
	}
	_, err := fmt.Fprintf(w.w, "%s\n", strings.Join(escaped, "\t"))
	return err
}

// ReadAll parses a TSV stream produced by Writer: a header line followed by
// one row per line. It returns the header columns and the unescaped rows.
func ReadAll(r io.Reader) (header []string, rows [][]string, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			header = strings.Split(line, "\t")
			first = false
			continue
		}
		if line == "" {
			continue
		}
		raw := strings.Split(line, "\t")
		row := make([]string, len(raw))
		for i, f := range raw {
			row[i] = Unescape(f)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if first {
		return nil, nil, nil
	}
	return header, rows, nil
}

// IndexOf returns the column index of name in header, or -1.
func IndexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}
