// Package pathutil provides shared path validation helpers.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateFilePath validates a relative file reference for path traversal and invalid characters.
// Uses segment-based detection so that "bands/../etc/passwd" is rejected before
// cleaning (cleaned path would be "etc/passwd" and could bypass a simple ".." check).
// Returns an error if the path is empty, contains null bytes, or has ".." in any segment.
func ValidateFilePath(filePath string) error {
	if filePath == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.Contains(filePath, "\x00") {
		return fmt.Errorf("file path contains invalid characters")
	}

	for _, segment := range strings.Split(filepath.ToSlash(filePath), "/") {
		if segment == ".." {
			return fmt.Errorf("file path contains path traversal: %q", filePath)
		}
	}
	return nil
}

// ValidateOutputPath checks that filePath can name a file to be created.
// It does not touch the filesystem: the path must be non-empty, free of null
// bytes and must not denote a directory ("", ".", "..", "/" or a trailing separator).
func ValidateOutputPath(filePath string) error {
	if strings.TrimSpace(filePath) == "" {
		return fmt.Errorf("output path cannot be empty")
	}
	if strings.Contains(filePath, "\x00") {
		return fmt.Errorf("output path contains invalid characters")
	}
	if strings.HasSuffix(filePath, "/") || strings.HasSuffix(filePath, string(os.PathSeparator)) {
		return fmt.Errorf("output path %q denotes a directory", filePath)
	}
	switch filepath.Base(filePath) {
	case ".", "..", string(os.PathSeparator):
		return fmt.Errorf("output path %q denotes a directory", filePath)
	}
	return nil
}

// Resolve joins a relative path onto baseDir. Absolute paths and an empty
// baseDir leave filePath unchanged.
func Resolve(baseDir, filePath string) string {
	if baseDir == "" || filepath.IsAbs(filePath) {
		return filePath
	}
	return filepath.Join(baseDir, filePath)
}
