// Package filename provides filesystem-safe naming for extracted recordings
package filename

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultMaxLength caps a single sanitized component, in runes
	DefaultMaxLength = 100
	// MaxComponentBytes is the per-component limit of common filesystems
	MaxComponentBytes = 255
	// DefaultName replaces names that sanitize to nothing
	DefaultName = "unnamed"
	// UnknownExtension is used when a file type has no known extension
	UnknownExtension = "unknown"
)

// SanitizerOptions contains configuration options for the sanitizer
type SanitizerOptions struct {
	// MaxLength sets the maximum rune length (default: 100)
	MaxLength int

	// DefaultName is returned when nothing survives sanitization (default: "unnamed")
	DefaultName string
}

// Sanitizer turns arbitrary strings into names that are legal on common filesystems.
// The result depends only on the input, so the same name always maps to the same path.
type Sanitizer struct {
	maxLength   int
	defaultName string

	invalidChars *regexp.Regexp
	controlChars *regexp.Regexp
	spaces       *regexp.Regexp
	underscores  *regexp.Regexp
}

// NewSanitizer creates a new Sanitizer with the given options
func NewSanitizer(options SanitizerOptions) *Sanitizer {
	maxLength := options.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	defaultName := options.DefaultName
	if defaultName == "" {
		defaultName = DefaultName
	}

	return &Sanitizer{
		maxLength:    maxLength,
		defaultName:  defaultName,
		invalidChars: regexp.MustCompile(`[<>:"/\\|?*]`),
		controlChars: regexp.MustCompile(`[\x00-\x1f\x7f-\x9f]`),
		spaces:       regexp.MustCompile(`[\s\p{Zs}]+`),
		underscores:  regexp.MustCompile(`_+`),
	}
}

var defaultSanitizer = NewSanitizer(SanitizerOptions{})

// Sanitize cleans name using the default sanitizer and caps it at maxLen runes.
// maxLen <= 0 uses DefaultMaxLength.
func Sanitize(name string, maxLen int) string {
	return defaultSanitizer.SanitizeN(name, maxLen)
}

// Sanitize cleans name with the sanitizer's configured maximum length
func (s *Sanitizer) Sanitize(name string) string {
	return s.SanitizeN(name, s.maxLength)
}

// SanitizeN cleans name and caps it at maxLen runes and MaxComponentBytes bytes
func (s *Sanitizer) SanitizeN(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = s.maxLength
	}

	cleaned := norm.NFC.String(name)
	cleaned = s.invalidChars.ReplaceAllString(cleaned, "_")
	cleaned = s.controlChars.ReplaceAllString(cleaned, "")
	cleaned = s.spaces.ReplaceAllString(cleaned, " ")
	cleaned = s.underscores.ReplaceAllString(cleaned, "_")
	cleaned = trim(cleaned)

	if utf8.RuneCountInString(cleaned) > maxLen {
		cleaned = trim(string([]rune(cleaned)[:maxLen]))
	}
	if len(cleaned) > MaxComponentBytes {
		cleaned = trim(TruncateBytes(cleaned, MaxComponentBytes))
	}

	if cleaned == "" {
		return s.defaultName
	}
	return cleaned
}

// TruncateBytes cuts s to at most n bytes without splitting a UTF-8 sequence
func TruncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func trim(s string) string {
	return strings.Trim(s, " ._")
}

var extensions = map[string]string{
	"mp4":              "mp4",
	"m4a":              "m4a",
	"timeline":         "json",
	"transcript":       "vtt",
	"chat":             "txt",
	"cc":               "vtt",
	"csv":              "csv",
	"audio_transcript": "vtt",
	"summary":          "json",
}

// Extension picks the extension for a recording file. An explicit file extension from
// the API wins; otherwise the file type is mapped, and unmapped types get "unknown".
func Extension(fileType, fileExtension string) string {
	if ext := strings.Trim(strings.ToLower(fileExtension), ". "); ext != "" {
		return ext
	}
	if ext, ok := extensions[strings.ToLower(fileType)]; ok {
		return ext
	}
	return UnknownExtension
}
