package download

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// reservedChars are forbidden across Windows, macOS, and Linux filesystems.
const reservedChars = `<>:"/\|?*`

const maxFilenameBytes = 255

// SanitizeFilename folds full-width punctuation to its ASCII form, strips
// control characters and characters reserved by common filesystems,
// trims trailing dots/spaces (illegal as a Windows filename tail), and
// caps the result at 255 bytes while preserving the extension.
// Idempotent: SanitizeFilename(SanitizeFilename(s)) == SanitizeFilename(s).
func SanitizeFilename(name string) string {
	folded := width.Narrow.String(name)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsControl(r) {
			continue
		}
		if strings.ContainsRune(reservedChars, r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.TrimSpace(b.String())
	cleaned = strings.TrimRight(cleaned, ". ")
	if cleaned == "" {
		cleaned = "untitled"
	}

	return truncatePreservingExtension(cleaned, maxFilenameBytes)
}

func truncatePreservingExtension(name string, maxBytes int) string {
	if len(name) <= maxBytes {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= maxBytes {
		return name[:maxBytes]
	}
	stem := name[:len(name)-len(ext)]
	keep := maxBytes - len(ext)

	for keep > 0 && !isValidUTF8Boundary(stem, keep) {
		keep--
	}
	return stem[:keep] + ext
}

func isValidUTF8Boundary(s string, i int) bool {
	if i <= 0 || i >= len(s) {
		return true
	}
	// A byte with the high bit set and the next-highest bit clear (10xxxxxx)
	// is a UTF-8 continuation byte; cutting there would split a rune.
	return s[i]&0xC0 != 0x80
}
