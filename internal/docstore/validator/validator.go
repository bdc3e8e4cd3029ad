// Package validator checks uploaded files before they are stored: the name
// must be a plain file name with an allowed extension and the size must be
// within the configured limit.
package validator

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

const (
	maxNameLength   = 255
	defaultMaxFiles = 16
)

// Rules are the upload constraints.
type Rules struct {
	MaxBytes int64
	// MaxFiles caps the parts in one upload request; zero means 16.
	MaxFiles          int
	AllowedExtensions []string
}

// FileLimit returns the effective per-request file count.
func (r Rules) FileLimit() int {
	if r.MaxFiles <= 0 {
		return defaultMaxFiles
	}
	return r.MaxFiles
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// AllowedFile reports whether name has one of the allowed extensions,
// compared case-insensitively and without the leading dot.
func AllowedFile(name string, allowed []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			return true
		}
	}
	return false
}

// ValidateUpload checks one uploaded file. size may be -1 when unknown.
func ValidateUpload(name string, size int64, rules Rules) error {
	errs := make(map[string]string)

	switch {
	case strings.TrimSpace(name) == "":
		errs["filename"] = "filename is required"
	case len(name) > maxNameLength:
		errs["filename"] = fmt.Sprintf("filename must be at most %d characters", maxNameLength)
	case name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == "..":
		errs["filename"] = "filename must not contain a path"
	case strings.HasPrefix(name, "."):
		errs["filename"] = "hidden files are not accepted"
	case !AllowedFile(name, rules.AllowedExtensions):
		errs["filename"] = fmt.Sprintf("extension not allowed (allowed: %s)", strings.Join(rules.AllowedExtensions, ", "))
	}
	if size == 0 {
		errs["size"] = "file is empty"
	} else if rules.MaxBytes > 0 && size > rules.MaxBytes {
		errs["size"] = fmt.Sprintf("file must be at most %d bytes", rules.MaxBytes)
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
