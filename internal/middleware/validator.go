package middleware

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Input validation and sanitization utilities

// ParseInspectionID parses a positive inspection id path parameter.
func ParseInspectionID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid inspection id %q", raw)
	}
	return id, nil
}

var fileNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._ -]{0,254}$`)

// ValidateFileName accepts plain file names only, no directories.
func ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("file name must not contain a path")
	}
	if !fileNamePattern.MatchString(name) {
		return fmt.Errorf("invalid characters in file name")
	}
	return nil
}

var annotatorPattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,128}$`)

// ValidateAnnotatorID checks a client-supplied user id.
func ValidateAnnotatorID(id string) error {
	if id == "" {
		return nil // falls back to the authenticated annotator
	}
	if !annotatorPattern.MatchString(id) {
		return fmt.Errorf("invalid user id format (alphanumeric, dot, at, dash, underscore only, max 128 chars)")
	}
	return nil
}
