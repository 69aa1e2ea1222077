package util

import (
	"errors"
	"strings"
)

// ErrInvalidFileName rejects names that cannot become safe storage keys.
var ErrInvalidFileName = errors.New("invalid file name")

// SanitizeFileName makes an uploaded PDF name safe for use inside a storage
// key. Path separators are flattened to underscores; traversal patterns and
// empty names are rejected outright.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", ErrInvalidFileName
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" {
		return "", ErrInvalidFileName
	}
	return s, nil
}
