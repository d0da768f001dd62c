package models

import (
	"fmt"
	"sort"
	"strings"
)

// Reserved tags written by step handlers. They locate a record's origin and
// must never be set by callers; user tag keys may not start with the prefix.
const (
	ReservedTagPrefix = "__"

	TagDocumentID = "__document_id"
	TagFileID     = "__file_id"
	TagFilePart   = "__file_part"
	TagPartitionN = "__part_n"
	TagSectionN   = "__sect_n"
	TagFileType   = "__file_type"
	TagSynthetic  = "__syn"

	// SyntheticSummary is the __syn value marking summary records.
	SyntheticSummary = "summary"
)

// Tag keys may not contain the pair separator or the namespace separator,
// values may not contain the pair separator. Some backends persist tags as
// "key=value" strings and would otherwise split them wrong.
const (
	tagPairSeparator = "="
	tagNsSeparator   = ":"
)

// TagCollection is a multimap of tag keys to values. Keys are
// case-insensitive and stored lowercased. An empty-string value marks a
// presence-only tag (the key is set without a value).
type TagCollection map[string][]string

// NewTagCollection returns an empty, ready-to-use collection.
func NewTagCollection() TagCollection {
	return TagCollection{}
}

// Add appends a value under key. Duplicate values are kept, matching the
// multimap shape persisted in status.json.
func (t TagCollection) Add(key, value string) {
	k := strings.ToLower(key)
	t[k] = append(t[k], value)
}

// Set replaces all values under key.
func (t TagCollection) Set(key string, values ...string) {
	t[strings.ToLower(key)] = values
}

// Get returns the values stored under key, nil when the key is absent.
func (t TagCollection) Get(key string) []string {
	return t[strings.ToLower(key)]
}

// First returns the first value under key, "" when absent.
func (t TagCollection) First(key string) string {
	values := t[strings.ToLower(key)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// ContainsKeyValue reports whether key exists and carries value. Tags are
// multi-valued, so this is a containment check rather than an equality check.
func (t TagCollection) ContainsKeyValue(key, value string) bool {
	for _, v := range t[strings.ToLower(key)] {
		if v == value {
			return true
		}
	}
	return false
}

// Keys returns the tag keys in sorted order.
func (t TagCollection) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Copy returns a deep copy of the collection.
func (t TagCollection) Copy() TagCollection {
	out := make(TagCollection, len(t))
	for k, values := range t {
		out[k] = append([]string(nil), values...)
	}
	return out
}

// CopyInto merges this collection's pairs into dst.
func (t TagCollection) CopyInto(dst TagCollection) {
	for k, values := range t {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

// Pairs flattens the collection into "key=value" strings (or bare "key" for
// presence-only tags), sorted for deterministic output.
func (t TagCollection) Pairs() []string {
	var pairs []string
	for k, values := range t {
		for _, v := range values {
			if v == "" {
				pairs = append(pairs, k)
				continue
			}
			pairs = append(pairs, k+tagPairSeparator+v)
		}
	}
	sort.Strings(pairs)
	return pairs
}

// ValidateTagKey rejects keys that would break the key=value encoding or
// collide with the reserved namespace.
func ValidateTagKey(key string, allowReserved bool) error {
	if key == "" {
		return NewValidationError("tag key is empty")
	}
	if strings.Contains(key, tagPairSeparator) {
		return NewValidationError(fmt.Sprintf("tag key %q contains the reserved character %q", key, tagPairSeparator))
	}
	if strings.Contains(key, tagNsSeparator) {
		return NewValidationError(fmt.Sprintf("tag key %q contains the reserved character %q", key, tagNsSeparator))
	}
	if !allowReserved && strings.HasPrefix(key, ReservedTagPrefix) {
		return NewValidationError(fmt.Sprintf("tag key %q uses the reserved prefix %q", key, ReservedTagPrefix))
	}
	return nil
}

// ValidateTagValue rejects values that would break the key=value encoding.
func ValidateTagValue(value string) error {
	if strings.Contains(value, tagPairSeparator) {
		return NewValidationError(fmt.Sprintf("tag value %q contains the reserved character %q", value, tagPairSeparator))
	}
	return nil
}

// Validate checks every user pair in the collection. Reserved keys are
// rejected because handlers own that namespace.
func (t TagCollection) Validate() error {
	for k, values := range t {
		if err := ValidateTagKey(k, false); err != nil {
			return err
		}
		for _, v := range values {
			if err := ValidateTagValue(v); err != nil {
				return err
			}
		}
	}
	return nil
}
