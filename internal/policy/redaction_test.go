package policy

import (
	"strings"
	"testing"
)

func TestRedactMasksPII(t *testing.T) {
	input := "Жаз маған sam@example.com немесе +7 (701) 123-9876, карта 4242 4242 4242 4242."
	out, hits := Redact(input)
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "4242") || strings.Contains(out, "sam@") {
		t.Fatalf("raw value leaked: %q", out)
	}
	if strings.Join(hits, ",") != "email,card,phone" {
		t.Fatalf("hits = %v", hits)
	}
}

func TestRedactMasksTokens(t *testing.T) {
	token := strings.Repeat("ab12", 16)
	out, hits := Redact("token is " + token)
	if out != "token is [REDACTED_SECRET]" {
		t.Fatalf("out = %q", out)
	}
	if len(hits) != 1 || hits[0] != "secret" {
		t.Fatalf("hits = %v", hits)
	}
}

func TestRedactLeavesPlainTextAlone(t *testing.T) {
	in := "Сабақ 3 сағатта басталады."
	out, hits := Redact(in)
	if out != in || len(hits) != 0 {
		t.Fatalf("Redact(%q) = %q %v", in, out, hits)
	}
}
