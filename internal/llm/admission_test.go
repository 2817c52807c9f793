package llm

import (
	"testing"
	"time"
)

func TestTokenBudgetAdmitsWithinPeriod(t *testing.T) {
	b := NewTokenBudget(time.Minute, 100, nil)
	ok, err := b.Admit(40)
	if !ok || err != nil {
		t.Fatalf("expected admission, got ok=%v err=%v", ok, err)
	}
	if got := b.Remaining(); got != 60 {
		t.Fatalf("remaining = %d, want 60", got)
	}
}

func TestTokenBudgetRejectsOverBudget(t *testing.T) {
	b := NewTokenBudget(time.Minute, 100, nil)
	if ok, _ := b.Admit(60); !ok {
		t.Fatal("expected first admission to succeed")
	}
	ok, err := b.Admit(60)
	if ok || err == nil {
		t.Fatalf("expected second admission to be rejected, got ok=%v err=%v", ok, err)
	}
	if b.RateLimitHits != 1 {
		t.Fatalf("RateLimitHits = %d, want 1", b.RateLimitHits)
	}
}

func TestTokenBudgetResetsAtPeriodBoundary(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewTokenBudget(time.Second, 10, func() time.Time { return now })

	if ok, _ := b.Admit(10); !ok {
		t.Fatal("expected full-budget admission to succeed")
	}
	if ok, _ := b.Admit(1); ok {
		t.Fatal("expected admission to fail once budget is exhausted")
	}

	now = now.Add(2 * time.Second)
	if ok, err := b.Admit(10); !ok {
		t.Fatalf("expected admission to succeed after period rollover, err=%v", err)
	}
}

func TestTokenBudgetRemainingAccountsForRollover(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewTokenBudget(time.Second, 50, func() time.Time { return now })
	b.Admit(50)
	if got := b.Remaining(); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
	now = now.Add(time.Second)
	if got := b.Remaining(); got != 50 {
		t.Fatalf("remaining after rollover = %d, want 50", got)
	}
}
