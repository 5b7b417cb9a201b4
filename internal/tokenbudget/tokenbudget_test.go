package tokenbudget

import "testing"

func TestEstimate(t *testing.T) {
	if n := Estimate(""); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
	if n := Estimate("abcd"); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
	if n := Estimate("abcde"); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}

func TestTruncateRespectsBudget(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog repeatedly and at length"
	out := Truncate(text, 5)
	if Estimate(out) > 5 {
		t.Fatalf("truncated text still exceeds budget: %d tokens", Estimate(out))
	}
	if len(out) == 0 {
		t.Fatalf("expected non-empty truncation")
	}
}

func TestTruncateNoopWhenWithinBudget(t *testing.T) {
	text := "short"
	if out := Truncate(text, 1000); out != text {
		t.Fatalf("expected no truncation, got %q", out)
	}
}

func TestBudgetAppliesFactor(t *testing.T) {
	if b := Budget(8191, 0.95); b != 7781 {
		t.Fatalf("unexpected budget: %d", b)
	}
	if b := Budget(1000, 0); b != 950 {
		t.Fatalf("expected default factor fallback, got %d", b)
	}
}
