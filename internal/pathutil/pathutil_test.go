package pathutil

import (
	"path/filepath"
	"testing"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"empty", "", true},
		{"null byte", "a\x00b", true},
		{"simple segment", "..", true},
		{"leading segment", "../foo", true},
		{"middle segment", "bands/../l1_flags.raw", true},
		{"valid relative", "bands/l1_flags.raw", false},
		{"valid nested", "data/bands/l1_flags.raw", false},
		{"single segment", "l1_flags.raw", false},
		{"dots in name", "l1..flags.raw", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFilePath(%q) err = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateOutputPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"empty", "", true},
		{"blank", "   ", true},
		{"null byte", "mask\x00.raw", true},
		{"dot", ".", true},
		{"dot dot", "..", true},
		{"root", "/", true},
		{"trailing slash", "out/", true},
		{"relative file", "mask.raw", false},
		{"nested file", "out/mask.raw", false},
		{"absolute file", "/tmp/mask.raw", false},
		{"parent dir allowed", "../mask.raw", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutputPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOutputPath(%q) err = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"", "a.raw", "a.raw"},
		{"products", "a.raw", filepath.Join("products", "a.raw")},
		{"products", "/abs/a.raw", "/abs/a.raw"},
	}
	for _, tt := range tests {
		if got := Resolve(tt.base, tt.path); got != tt.want {
			t.Errorf("Resolve(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}
