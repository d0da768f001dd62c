package models

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Index names are case-insensitive and bounded so the most restrictive
// supported backend can always hold them.
const IndexNameMaxLength = 128

var validDocumentID = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// NormalizeIndexName maps a caller-supplied index name onto the canonical
// form shared by every store: lowercase, with whitespace and the characters
// \ / . _ : replaced by dashes. An empty name selects defaultIndex. Names
// starting or ending with a dash are padded with a letter so backends with
// alphanumeric-edge rules accept them.
func NormalizeIndexName(name, defaultIndex string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultIndex
	}
	if name == "" {
		return "", NewValidationError("index name is empty and no default index is configured")
	}

	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsSpace(r), r == '\\', r == '/', r == '.', r == '_', r == ':':
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	if strings.HasPrefix(normalized, "-") {
		normalized = "i" + normalized
	}
	if strings.HasSuffix(normalized, "-") {
		normalized = normalized + "i"
	}
	if len(normalized) > IndexNameMaxLength {
		return "", NewValidationError(fmt.Sprintf("index name %q exceeds %d characters after normalization", name, IndexNameMaxLength))
	}
	return normalized, nil
}

// ValidateDocumentID checks a caller-supplied document id.
func ValidateDocumentID(id string) error {
	if id == "" {
		return NewValidationError("document id is empty")
	}
	if !validDocumentID.MatchString(id) {
		return NewValidationError(fmt.Sprintf("document id %q contains characters outside [A-Za-z0-9._-]", id))
	}
	return nil
}

// NormalizeDocumentID replaces characters outside [A-Za-z0-9._-] with
// underscores so externally sourced ids (emails, URLs) become usable.
// Returns an error only when nothing valid remains.
func NormalizeDocumentID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", NewValidationError("document id is empty")
	}
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	normalized := b.String()
	if strings.Trim(normalized, "._-") == "" {
		return "", NewValidationError(fmt.Sprintf("document id %q has no usable characters", id))
	}
	return normalized, nil
}
