package security

import (
	"regexp"
	"strings"
)

var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ValidateSlug checks that a slug is a safe path segment.
func ValidateSlug(slug string) bool {
	if slug == "" || len(slug) > 128 {
		return false
	}
	return slugRegex.MatchString(slug)
}

// ValidatePath checks for path traversal attempts
func ValidatePath(path string) bool {
	// Check for path traversal
	if strings.Contains(path, "..") {
		return false
	}
	// Check for null bytes
	if strings.Contains(path, "\x00") {
		return false
	}
	return !strings.HasPrefix(path, "/")
}
