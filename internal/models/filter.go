package models

import "fmt"

// TagPair is one equality predicate inside a filter.
type TagPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// MemoryFilter is a conjunction of tag predicates: a record matches when it
// carries every Pairs entry and none of the NotPairs entries. A query takes
// a list of filters which are ORed together.
type MemoryFilter struct {
	Pairs    []TagPair `json:"pairs"`
	NotPairs []TagPair `json:"not_pairs,omitempty"`
}

// NewMemoryFilter returns an empty filter ready for chaining:
// NewMemoryFilter().ByTag("user", "alice").ByTag("type", "news").
func NewMemoryFilter() *MemoryFilter {
	return &MemoryFilter{}
}

// ByTag adds a required (key, value) predicate.
func (f *MemoryFilter) ByTag(key, value string) *MemoryFilter {
	f.Pairs = append(f.Pairs, TagPair{Key: key, Value: value})
	return f
}

// ByDocument adds a predicate on the reserved document id tag.
func (f *MemoryFilter) ByDocument(documentID string) *MemoryFilter {
	return f.ByTag(TagDocumentID, documentID)
}

// NotByTag adds a rejected (key, value) predicate.
func (f *MemoryFilter) NotByTag(key, value string) *MemoryFilter {
	f.NotPairs = append(f.NotPairs, TagPair{Key: key, Value: value})
	return f
}

// IsEmpty reports whether the filter carries no predicates at all.
func (f *MemoryFilter) IsEmpty() bool {
	return f == nil || (len(f.Pairs) == 0 && len(f.NotPairs) == 0)
}

// Validate rejects predicates with empty values. Presence-only filtering is
// not supported: a filter must name the value it matches.
func (f *MemoryFilter) Validate() error {
	for _, p := range append(append([]TagPair{}, f.Pairs...), f.NotPairs...) {
		if p.Key == "" {
			return NewValidationError("filter tag key is empty")
		}
		if p.Value == "" {
			return NewValidationError(fmt.Sprintf("filter on tag %q has no value; null filter values are not supported", p.Key))
		}
	}
	return nil
}

// Matches reports whether the record's tags satisfy this filter.
func (f *MemoryFilter) Matches(tags TagCollection) bool {
	for _, p := range f.Pairs {
		if !tags.ContainsKeyValue(p.Key, p.Value) {
			return false
		}
	}
	for _, p := range f.NotPairs {
		if tags.ContainsKeyValue(p.Key, p.Value) {
			return false
		}
	}
	return true
}

// FilterListMatches applies OR semantics across filters: an empty list (or a
// list of empty filters) matches everything, otherwise at least one filter
// must match.
func FilterListMatches(filters []*MemoryFilter, tags TagCollection) bool {
	if len(filters) == 0 {
		return true
	}
	allEmpty := true
	for _, f := range filters {
		if !f.IsEmpty() {
			allEmpty = false
			break
		}
	}
	if allEmpty {
		return true
	}
	for _, f := range filters {
		if f.IsEmpty() {
			continue
		}
		if f.Matches(tags) {
			return true
		}
	}
	return false
}

// ValidateFilters checks every filter in the list.
func ValidateFilters(filters []*MemoryFilter) error {
	for _, f := range filters {
		if f == nil {
			continue
		}
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}
