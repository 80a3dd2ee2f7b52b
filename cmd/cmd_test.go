package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/onnwee/ytarchive/internal/export"
)

func TestParseExportTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    export.Targets
		wantErr bool
	}{
		{"all", export.All(), false},
		{"", export.All(), false},
		{"videos", export.Targets{Videos: true}, false},
		{"playlists", export.Targets{Playlists: true}, false},
		{"authors", export.Targets{Authors: true}, false},
		{"bogus", export.Targets{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseExportTarget(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseExportTarget(%q): expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseExportTarget(%q): unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseExportTarget(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", errors.New("boom"), 1},
		{"exit 2", fail(2, errors.New("interrupted")), 2},
		{"exit 3", fail(3, errors.New("bad config")), 3},
		{"exit 4", fail(4, errors.New("quota gave up")), 4},
		{"wrapped exit err", fmt.Errorf("outer: %w", fail(2, errors.New("interrupted"))), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
