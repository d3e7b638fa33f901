package scoringdomain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxNameLength is the longest participant display name accepted, in runes.
const MaxNameLength = 50

var ErrEmptyName = errors.New("participant name is empty")

// CleanName trims a display name, collapses inner whitespace and truncates it to MaxNameLength runes.
func CleanName(name string) (string, error) {
	cleaned := strings.Join(strings.Fields(name), " ")
	if cleaned == "" {
		return "", ErrEmptyName
	}
	if utf8.RuneCountInString(cleaned) > MaxNameLength {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:MaxNameLength]))
	}
	return cleaned, nil
}

// NormalizeName folds a display name to the identity used for duplicate detection:
// "Bob", "bob " and "  BOB" all normalize to "bob".
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
