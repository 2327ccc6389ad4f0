package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JoeyEamigh/ccmemory/internal/store"
)

// Content size limits (approximate token → char conversion: 1 token ≈ 4 chars).
const (
	maxContentChars = 40000 // ~10K tokens
	maxSummaryChars = 800   // ~200 tokens
	maxListItems    = 32
)

// validTagChar returns true if the character is allowed in a tag.
// Allowed: lowercase alphanumeric, hyphens, underscores.
func validTagChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}

// sanitizeTag normalizes a tag or concept to [a-z0-9_-].
// Uppercases become lowercase, spaces/dots/slashes become hyphens, invalid
// chars are dropped. Returns empty string if nothing survives.
func sanitizeTag(tag string) string {
	var b strings.Builder
	prevHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(tag)) {
		if validTagChar(r) {
			b.WriteRune(r)
			prevHyphen = (r == '-')
		} else if r == ' ' || r == '.' || r == '/' {
			if !prevHyphen && b.Len() > 0 {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-_")
}

// sanitizeList cleans, dedupes and caps a tag-like list.
func sanitizeList(items []string, clean func(string) string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		it = clean(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// validateInput checks a capture for obvious garbage and returns a
// sanitized copy.
func validateInput(in store.MemoryInput) (store.MemoryInput, error) {
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return in, fmt.Errorf("empty content: %w", store.ErrInvalidInput)
	}
	if len(in.Content) > maxContentChars {
		return in, fmt.Errorf("content is %d chars, max %d: %w", len(in.Content), maxContentChars, store.ErrInvalidInput)
	}
	in.Summary = strings.TrimSpace(in.Summary)
	in.Summary = truncateUTF8(in.Summary, maxSummaryChars)
	in.Tags = sanitizeList(in.Tags, sanitizeTag)
	in.Concepts = sanitizeList(in.Concepts, sanitizeTag)
	in.Files = sanitizeList(in.Files, strings.TrimSpace)
	return in, nil
}
