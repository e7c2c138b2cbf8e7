package sandbox

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateOutput_UnderLimit(t *testing.T) {
	got := TruncateOutput("hello", 100)
	if got != "hello" {
		t.Fatalf("expected unchanged string, got %q", got)
	}
}

func TestTruncateOutput_ExactLimit(t *testing.T) {
	got := TruncateOutput("hello", 5)
	if got != "hello" {
		t.Fatalf("expected unchanged string at exact limit, got %q", got)
	}
}

func TestTruncateOutput_OverLimit(t *testing.T) {
	got := TruncateOutput(strings.Repeat("a", 10), 4)
	if got != "aaaa" {
		t.Fatalf("expected 4-byte truncation, got %q", got)
	}
}

func TestTruncateOutput_DoesNotSplitMultibyteRune(t *testing.T) {
	s := "abécd" // 'é' is 2 bytes in UTF-8
	// cut would land inside the 2-byte rune at byte index 3; must back off to 2
	got := TruncateOutput(s, 3)
	if !strings.HasSuffix(got, "ab") {
		t.Fatalf("expected truncation to stop before the split rune, got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncated output is not valid UTF-8: %q", got)
	}
}

func TestTruncateOutput_Zero(t *testing.T) {
	got := TruncateOutput("anything", 0)
	if got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
