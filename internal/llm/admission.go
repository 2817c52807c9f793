package llm

import (
	"sync"
	"time"

	"github.com/aikernel/core/internal/kerrors"
)

// TokenBudget is the per-principal token-budget admission gate (§4.9
// "Token-budget admission"): a fixed allowance that resets at each
// period boundary, distinct from the gateway's continuously-refilling
// rate limiter.
type TokenBudget struct {
	mu                sync.Mutex
	period            time.Duration
	maxTokensPerPeriod int
	used               int
	periodStart        time.Time
	now                func() time.Time

	RateLimitHits uint64
}

func NewTokenBudget(period time.Duration, maxTokensPerPeriod int, now func() time.Time) *TokenBudget {
	if now == nil {
		now = time.Now
	}
	return &TokenBudget{period: period, maxTokensPerPeriod: maxTokensPerPeriod, now: now, periodStart: now()}
}

func (t *TokenBudget) rolloverLocked() {
	if t.now().Sub(t.periodStart) >= t.period {
		t.used = 0
		t.periodStart = t.now()
	}
}

// Admit checks whether requested tokens fit in the current period's
// remaining budget; if so, consumes them and returns true. Over-budget
// requests are rejected (not consumed) and increment RateLimitHits.
func (t *TokenBudget) Admit(requested int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	if t.used+requested > t.maxTokensPerPeriod {
		t.RateLimitHits++
		return false, kerrors.ResourceExhausted(kerrors.New("llm: token budget exceeded for this period"))
	}
	t.used += requested
	return true, nil
}

func (t *TokenBudget) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.maxTokensPerPeriod - t.used
}
