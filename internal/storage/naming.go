package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Naming limits.
const (
	MaxFilenameLen          = 200
	DefaultPromptNameMaxLen = 50
	HashPrefixLen           = 8

	// MaxComponentBytes is the common filesystem limit for one path component.
	MaxComponentBytes = 255

	// maxBaseBytes leaves room in a component for the timestamp, the hash suffixes
	// WriteBytes may append and the extension.
	maxBaseBytes = 150
)

var (
	// unsafeCharsRegex matches path separators, quotes, wildcards and the Windows-reserved set.
	unsafeCharsRegex = regexp.MustCompile(`[<>:"/\\|?*]`)

	// controlCharsRegex matches C0 and C1 control characters.
	controlCharsRegex = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f]`)

	// promptDropRegex matches everything except word characters, whitespace and hyphens.
	promptDropRegex = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s-]`)

	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// Sanitize makes name safe for use as a single path component.
// Unsafe characters become "_", control characters are dropped, and the result is
// truncated to MaxFilenameLen runes and MaxComponentBytes bytes keeping its extension.
// Blank input and names made only of dots yield "unnamed".
func Sanitize(name string) string {
	name = unsafeCharsRegex.ReplaceAllString(name, "_")
	name = controlCharsRegex.ReplaceAllString(name, "")

	if utf8.RuneCountInString(name) > MaxFilenameLen {
		ext := filepath.Ext(name)
		stem := []rune(strings.TrimSuffix(name, ext))
		keep := MaxFilenameLen - utf8.RuneCountInString(ext)
		if keep < 0 {
			// extension alone is too long; treat the whole thing as a stem
			stem, ext, keep = []rune(name), "", MaxFilenameLen
		}
		name = string(stem[:keep]) + ext
	}
	if len(name) > MaxComponentBytes {
		ext := filepath.Ext(name)
		if len(ext) >= MaxComponentBytes {
			ext = ""
		}
		name = truncateBytes(strings.TrimSuffix(name, ext), MaxComponentBytes-len(ext)) + ext
	}

	name = strings.TrimSpace(name)
	if strings.Trim(name, ".") == "" {
		return "unnamed"
	}
	return name
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// NameFromPrompt derives a lowercase file base name from a generation prompt.
// Only word characters, whitespace and hyphens survive; whitespace runs become "_".
// An empty result yields "image".
func NameFromPrompt(prompt string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultPromptNameMaxLen
	}

	clean := promptDropRegex.ReplaceAllString(prompt, "")
	clean = whitespaceRegex.ReplaceAllString(clean, "_")

	if r := []rune(clean); len(r) > maxLen {
		clean = string(r[:maxLen])
	}

	clean = strings.Trim(clean, "_")
	if clean == "" {
		return "image"
	}
	return strings.ToLower(clean)
}

// UniqueFilename returns {Sanitize(base) capped at 150 bytes}_{YYYYMMDD_HHMMSS}[_{hash[:8]}]{ext}.
// ext includes its leading dot. A zero t means now.
func UniqueFilename(base, ext, contentHash string, t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}

	name := truncateBytes(Sanitize(base), maxBaseBytes) + "_" + t.Format("20060102_150405")
	if contentHash != "" {
		name += "_" + shortHash(contentHash, HashPrefixLen)
	}
	return name + ext
}

// ContentHash returns the lowercase hex SHA-256 digest of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func shortHash(h string, n int) string {
	if len(h) <= n {
		return h
	}
	return h[:n]
}
