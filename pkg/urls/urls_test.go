package urls_test

import (
	"testing"

	"batchdl/pkg/urls"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"https://example.com/video", true},
		{"http://example.com", true},
		{"ftp://example.com/file", false},
		{"example.com/path", false},
		{"", false},
		{"https://", false},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			if got := urls.IsValid(tc.raw); got != tc.want {
				t.Errorf("IsValid(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"trims", "  https://example.com/a  ", "https://example.com/a"},
		{"keeps query", "https://example.com/a?x=1", "https://example.com/a?x=1"},
		{"keeps http", "http://example.com/a", "http://example.com/a"},
		{"adds scheme", "example.com/v/2", "https://example.com/v/2"},
		{"keeps other schemes", "ftp://example.com/a", "ftp://example.com/a"},
		{"empty", "   ", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := urls.Normalize(tc.raw); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}
