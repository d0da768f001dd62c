package models

import "testing"

func recordTags(pairs ...[2]string) TagCollection {
	tags := NewTagCollection()
	for _, p := range pairs {
		tags.Add(p[0], p[1])
	}
	return tags
}

// TestMemoryFilterAndSemantics verifies pairs within one filter are ANDed
func TestMemoryFilterAndSemantics(t *testing.T) {
	tags := recordTags([2]string{"user", "admin"}, [2]string{"type", "news"})

	both := NewMemoryFilter().ByTag("user", "admin").ByTag("type", "news")
	if !both.Matches(tags) {
		t.Error("filter with both matching pairs should match")
	}

	partial := NewMemoryFilter().ByTag("user", "admin").ByTag("type", "fact")
	if partial.Matches(tags) {
		t.Error("filter with one failing pair should not match")
	}
}

// TestMemoryFilterNotPairs verifies negative predicates
func TestMemoryFilterNotPairs(t *testing.T) {
	tags := recordTags([2]string{"user", "alice"})

	f := NewMemoryFilter().ByTag("user", "alice").NotByTag("type", "draft")
	if !f.Matches(tags) {
		t.Error("record without the rejected tag should match")
	}

	tags.Add("type", "draft")
	if f.Matches(tags) {
		t.Error("record carrying the rejected tag should not match")
	}
}

// TestFilterListOrSemantics verifies filters in a list are ORed
func TestFilterListOrSemantics(t *testing.T) {
	newsAdmin := recordTags([2]string{"user", "admin"}, [2]string{"type", "news"})
	factOwner := recordTags([2]string{"user", "owner"}, [2]string{"type", "fact"})
	other := recordTags([2]string{"user", "eve"})

	filters := []*MemoryFilter{
		NewMemoryFilter().ByTag("user", "admin").ByTag("type", "news"),
		NewMemoryFilter().ByTag("user", "owner").ByTag("type", "fact"),
	}

	if !FilterListMatches(filters, newsAdmin) {
		t.Error("first OR branch should match")
	}
	if !FilterListMatches(filters, factOwner) {
		t.Error("second OR branch should match")
	}
	if FilterListMatches(filters, other) {
		t.Error("record matching no branch should not match")
	}
}

// TestFilterListEmptyMatchesEverything verifies no-filter queries are unfiltered
func TestFilterListEmptyMatchesEverything(t *testing.T) {
	tags := recordTags([2]string{"user", "alice"})

	if !FilterListMatches(nil, tags) {
		t.Error("nil filter list should match everything")
	}
	if !FilterListMatches([]*MemoryFilter{}, tags) {
		t.Error("empty filter list should match everything")
	}
	if !FilterListMatches([]*MemoryFilter{NewMemoryFilter()}, tags) {
		t.Error("list of empty filters should match everything")
	}
}

// TestFilterValidateRejectsEmptyValues verifies null filter values fail fast
func TestFilterValidateRejectsEmptyValues(t *testing.T) {
	f := NewMemoryFilter().ByTag("user", "")
	err := f.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty filter value")
	}
	if !IsValidation(err) {
		t.Errorf("expected validation error kind, got %v", err)
	}

	if err := ValidateFilters([]*MemoryFilter{nil, NewMemoryFilter().ByTag("user", "alice")}); err != nil {
		t.Errorf("nil filters in the list should be tolerated: %v", err)
	}
}

// TestFilterMultiValuedTags verifies containment matching on multi-valued tags
func TestFilterMultiValuedTags(t *testing.T) {
	tags := NewTagCollection()
	tags.Add("user", "alice")
	tags.Add("user", "bob")

	if !NewMemoryFilter().ByTag("user", "bob").Matches(tags) {
		t.Error("filter should match any of the tag's values")
	}
}
