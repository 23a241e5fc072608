package session

import (
	"fmt"
	"regexp"
	"strings"
)

const DefaultNameMaxLength = 50

var (
	nameSpaces  = regexp.MustCompile(`\s+`)
	nameIllegal = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// ValidateName sanitizes a user supplied session name into a directory-safe
// one. Whitespace becomes '-', other characters outside [A-Za-z0-9_-] are
// removed.
func ValidateName(raw string, maxLength int) (string, error) {
	if maxLength <= 0 {
		maxLength = DefaultNameMaxLength
	}

	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%w: session name is required", ErrInvalidInput)
	}
	name = nameSpaces.ReplaceAllString(name, "-")
	name = nameIllegal.ReplaceAllString(name, "")
	name = strings.Trim(name, "-")
	if name == "" {
		return "", fmt.Errorf("%w: session name %q has no usable characters", ErrInvalidInput, raw)
	}
	if len(name) > maxLength {
		return "", fmt.Errorf("%w: session name is %d characters, limit is %d", ErrInvalidInput, len(name), maxLength)
	}
	return name, nil
}
