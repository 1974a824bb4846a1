package model

import (
	"fmt"
	"regexp"
	"strings"
)

// Entity ids become path segments in the vault, so they are limited to
// uppercase letters, digits and ". _ -"
var entityIDPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9._-]{0,63}$`)

// NormalizeEntityID uppercases id and joins whitespace-separated words with
// "_", so "Tata Motors" becomes "TATA_MOTORS". Ids that still fall outside
// the safe character set fail with ErrInvalidEntityID.
func NormalizeEntityID(id string) (string, error) {
	norm := strings.ToUpper(strings.Join(strings.Fields(id), "_"))
	if !entityIDPattern.MatchString(norm) {
		return "", fmt.Errorf("%w: %q (letters, digits, '.', '_' and '-' only, at most 64)", ErrInvalidEntityID, id)
	}
	return norm, nil
}

// ValidEntityID reports whether id is already in normalized form
func ValidEntityID(id string) bool {
	norm, err := NormalizeEntityID(id)
	return err == nil && norm == id
}
