package util

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDir(t *testing.T) {
	tempDir := t.TempDir()

	tempFile := filepath.Join(tempDir, "testfile.txt")
	if err := os.WriteFile(tempFile, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"Existing directory", tempDir, nil},
		{"Missing directory", filepath.Join(tempDir, "new"), nil},
		{"Missing nested directory", filepath.Join(tempDir, "a", "b", "c"), nil},
		{"Existing file", tempFile, ErrNotDirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EnsureDir(tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("EnsureDir(%q) error = %v, want %v", tt.path, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			info, err := os.Stat(tt.path)
			if err != nil || !info.IsDir() {
				t.Errorf("Expected %q to be a directory", tt.path)
			}
		})
	}
}

func TestEnsureDirThroughFile(t *testing.T) {
	tempFile := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(tempFile, nil, 0o644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if err := EnsureDir(filepath.Join(tempFile, "child")); err == nil {
		t.Error("Expected an error creating a directory below a file")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("No home directory: %v", err)
	}

	tests := []struct {
		path     string
		expected string
	}{
		{"~", home},
		{"~/Downloads", filepath.Join(home, "Downloads")},
		{"/tmp/x", "/tmp/x"},
		{"relative/~", "relative/~"},
		{"~user/x", "~user/x"},
		{"", ""},
	}

	for _, tt := range tests {
		got, err := ExpandHome(tt.path)
		if err != nil {
			t.Fatalf("ExpandHome(%q) error: %v", tt.path, err)
		}
		if got != tt.expected {
			t.Errorf("ExpandHome(%q) = %q, expected %q", tt.path, got, tt.expected)
		}
	}
}
