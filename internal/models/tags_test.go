package models

import (
	"reflect"
	"testing"
)

// TestTagCollectionCaseInsensitiveKeys verifies keys fold to lowercase
func TestTagCollectionCaseInsensitiveKeys(t *testing.T) {
	tags := NewTagCollection()
	tags.Add("User", "alice")
	tags.Add("USER", "bob")

	got := tags.Get("user")
	if !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Errorf("expected both values under one key, got %v", got)
	}
	if !tags.ContainsKeyValue("uSeR", "alice") {
		t.Error("ContainsKeyValue should match regardless of key case")
	}
	if tags.ContainsKeyValue("user", "eve") {
		t.Error("ContainsKeyValue matched a value that was never added")
	}
}

// TestTagCollectionPresenceOnly verifies empty values mark presence-only tags
func TestTagCollectionPresenceOnly(t *testing.T) {
	tags := NewTagCollection()
	tags.Add("draft", "")

	if tags.First("draft") != "" {
		t.Error("presence-only tag should read back as empty value")
	}
	pairs := tags.Pairs()
	if !reflect.DeepEqual(pairs, []string{"draft"}) {
		t.Errorf("presence-only tag should encode as bare key, got %v", pairs)
	}
}

// TestTagCollectionPairs verifies pair encoding is sorted and stable
func TestTagCollectionPairs(t *testing.T) {
	tags := NewTagCollection()
	tags.Add("type", "news")
	tags.Add("user", "alice")
	tags.Add("type", "blog")

	expected := []string{"type=blog", "type=news", "user=alice"}
	if got := tags.Pairs(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Pairs() = %v, want %v", got, expected)
	}
}

// TestValidateTagKey verifies reserved characters and prefixes are rejected
func TestValidateTagKey(t *testing.T) {
	tests := []struct {
		name          string
		key           string
		allowReserved bool
		wantErr       bool
	}{
		{name: "plain key", key: "user"},
		{name: "empty key", key: "", wantErr: true},
		{name: "pair separator", key: "user=x", wantErr: true},
		{name: "namespace separator", key: "user:x", wantErr: true},
		{name: "reserved prefix rejected for callers", key: "__document_id", wantErr: true},
		{name: "reserved prefix allowed for handlers", key: "__document_id", allowReserved: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTagKey(tt.key, tt.allowReserved)
			if tt.wantErr && err == nil {
				t.Errorf("expected error for key %q", tt.key)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for key %q: %v", tt.key, err)
			}
		})
	}
}

// TestValidateTagValue verifies the pair separator is rejected in values
func TestValidateTagValue(t *testing.T) {
	if err := ValidateTagValue("a:b c"); err != nil {
		t.Errorf("colons and spaces are fine in values: %v", err)
	}
	if err := ValidateTagValue("a=b"); err == nil {
		t.Error("expected error for value containing '='")
	}
}

// TestTagCollectionCopy verifies deep copy independence
func TestTagCollectionCopy(t *testing.T) {
	tags := NewTagCollection()
	tags.Add("user", "alice")

	cp := tags.Copy()
	cp.Add("user", "bob")

	if len(tags.Get("user")) != 1 {
		t.Error("mutating the copy changed the original")
	}
}
