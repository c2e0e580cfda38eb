package codes

import (
	"strings"
	"testing"
)

func TestCandidateFormat(t *testing.T) {
	gen := NewGenerator("ptc")

	id := gen.Candidate("upload-1", "A4-1234", 1)
	if !strings.HasPrefix(id, "PTC-") {
		t.Fatalf("expected upper-cased prefix, got %q", id)
	}
	if !ValidFormat(id) {
		t.Fatalf("generated id fails the format gate: %q", id)
	}
	if len(id) != len("PTC-")+digestPrefixLen {
		t.Fatalf("unexpected id length: %q", id)
	}
}

func TestCandidatesAreDistinct(t *testing.T) {
	gen := NewGenerator("PTC")

	seen := make(map[string]struct{}, 2000)
	for i := 0; i < 2000; i++ {
		id := gen.Candidate("upload-1", "A4-1234", 1)
		if _, ok := seen[id]; ok {
			t.Fatalf("candidate collision after %d ids: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestFallbackCandidateFormat(t *testing.T) {
	gen := NewGenerator("PTC")

	id := gen.fallbackCandidate("upload-1", "A4-1234", 3)
	if !ValidFormat(id) {
		t.Fatalf("fallback id fails the format gate: %q", id)
	}
}

func TestValidFormatRejectsMalformedIDs(t *testing.T) {
	bad := []string{
		"",
		"PTC-",
		"PTC-123",          // fewer than 8 hex chars
		"ptc-ABCDEF12",     // lower-case prefix
		"PTC-abcdef12",     // lower-case hex
		"PTC_ABCDEF12",     // wrong separator
		"PTC-ABCDEFG1",     // non-hex character
		"ABCDEF1234567890", // no prefix
	}
	for _, id := range bad {
		if ValidFormat(id) {
			t.Fatalf("expected %q to be rejected", id)
		}
	}

	if !ValidFormat("PTC-ABCDEF12") {
		t.Fatal("expected minimal well-formed id to pass")
	}
}
