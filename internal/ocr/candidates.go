package ocr

import (
	"strings"
	"unicode"
)

const (
	// MaxCandidates caps the category names sent with a scan.
	MaxCandidates = 40
	// MaxCandidateLen caps each name, in runes.
	MaxCandidateLen = 48
)

// Candidates prepares category names for a scan request: characters
// outside letters, digits, spaces and & / - ' . , ( ) are dropped,
// whitespace is collapsed, names are truncated and case-insensitive
// duplicates removed, keeping at most MaxCandidates.
func Candidates(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, min(len(names), MaxCandidates))
	for _, n := range names {
		clean := cleanName(n)
		if clean == "" {
			continue
		}
		key := strings.ToLower(clean)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, clean)
		if len(out) == MaxCandidates {
			break
		}
	}
	return out
}

func cleanName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case strings.ContainsRune("&/-'.,()", r):
			b.WriteRune(r)
		}
	}
	clean := strings.Join(strings.Fields(b.String()), " ")
	if r := []rune(clean); len(r) > MaxCandidateLen {
		clean = strings.TrimSpace(string(r[:MaxCandidateLen]))
	}
	return clean
}

// MatchCategory returns the candidate equal to name ignoring case, or "".
func MatchCategory(name string, candidates []string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	for _, c := range candidates {
		if strings.EqualFold(c, name) {
			return c
		}
	}
	return ""
}
