package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/aikernel/core/internal/kerrors"
)

// providerExecuteMaxTries bounds the retries Route gives a single
// provider's Execute call (on a kerrors.Retryable error) before
// counting it as failed and advancing the fallback chain.
const providerExecuteMaxTries = 3

// Provider enumerates the LLM providers a request may be routed to
// (§3.6). LocalFallback is always available and always healthy.
type Provider string

const (
	ProviderA             Provider = "A"
	ProviderB             Provider = "B"
	ProviderC             Provider = "C"
	ProviderLocalFallback Provider = "LocalFallback"
)

// FallbackPolicyKind selects how a fallback chain is built (§4.10.2).
type FallbackPolicyKind int

const (
	CostOptimized FallbackPolicyKind = iota
	ReliabilityOptimized
	ExplicitList
	LocalOnly
	RoundRobin
)

// FallbackPolicy configures chain construction.
type FallbackPolicy struct {
	Kind         FallbackPolicyKind
	ExplicitList []Provider // used when Kind == ExplicitList
}

// Request carries everything the gateway needs to route one call
// (§3.6 "LLMRequest").
type Request struct {
	AgentID           string
	Prompt            string
	MaxTokens         int
	PreferredProvider Provider
}

// Response carries the routed outcome (§3.6 "LLMRequest/Response").
type Response struct {
	Provider       Provider
	Text           string
	Tokens         int
	LatencyMS      int64
	ServedFallback bool
}

// ProviderBackend is one provider's executor.
type ProviderBackend interface {
	Unavailable() bool
	Execute(ctx context.Context, req Request) (Response, error)
}

// ProviderMetrics are the per-provider counters the gateway maintains.
type ProviderMetrics struct {
	Successes uint64
	Failures  uint64
}

// RateLimiter is the classic token bucket of §4.10.2: capacity,
// continuous refill rate (tokens/sec), `check_and_consume`, and
// `available_tokens`. It wraps golang.org/x/time/rate.Limiter, the
// same refill algorithm the spec's `min(c, prev + r*t)` formula
// describes, and adds the `reset` operation the spec calls for by
// swapping in a fresh limiter at full capacity.
type RateLimiter struct {
	mu       sync.Mutex
	capacity int
	perSec   float64
	limiter  *rate.Limiter
	now      func() time.Time
}

func NewRateLimiter(capacity int, refillPerSec float64, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		capacity: capacity,
		perSec:   refillPerSec,
		limiter:  rate.NewLimiter(rate.Limit(refillPerSec), capacity),
		now:      now,
	}
}

// CheckAndConsume atomically refills based on elapsed time and
// consumes one token if available.
func (r *RateLimiter) CheckAndConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiter.AllowN(r.now(), 1)
}

// AvailableTokens returns the post-refill token count.
func (r *RateLimiter) AvailableTokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiter.TokensAt(r.now())
}

// Reset restores the bucket to full capacity.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter = rate.NewLimiter(rate.Limit(r.perSec), r.capacity)
}

// Gateway routes LLMRequests to providers per a fallback policy,
// enforcing a per-agent rate limit (§4.10.2).
type Gateway struct {
	mu         sync.Mutex
	backends   map[Provider]ProviderBackend
	metrics    map[Provider]*ProviderMetrics
	limiters   map[string]*RateLimiter
	newLimiter func() *RateLimiter

	roundRobinCursor int
	providerOrder    []Provider // stable order for round-robin

	FallbackCount uint64
	RateLimitHits uint64
}

func NewGateway(newLimiter func() *RateLimiter) *Gateway {
	return &Gateway{
		backends:      make(map[Provider]ProviderBackend),
		metrics:       make(map[Provider]*ProviderMetrics),
		limiters:      make(map[string]*RateLimiter),
		newLimiter:    newLimiter,
		providerOrder: []Provider{ProviderA, ProviderB, ProviderC, ProviderLocalFallback},
	}
}

// RegisterBackend installs a provider's backend.
func (g *Gateway) RegisterBackend(p Provider, b ProviderBackend) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.backends[p] = b
	if _, ok := g.metrics[p]; !ok {
		g.metrics[p] = &ProviderMetrics{}
	}
}

// limiterFor lazily creates a per-agent rate limiter on first use
// (§4.10.2 "Per-agent limiters are created lazily on first use").
func (g *Gateway) limiterFor(agentID string) *RateLimiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[agentID]
	if !ok {
		l = g.newLimiter()
		g.limiters[agentID] = l
	}
	return l
}

// buildChain constructs the fallback chain for policy, honoring a
// preferred provider by moving it to the front (§4.10.2 step 2).
func (g *Gateway) buildChain(policy FallbackPolicy, preferred Provider) []Provider {
	var chain []Provider
	switch policy.Kind {
	case LocalOnly:
		chain = []Provider{ProviderLocalFallback}
	case ExplicitList:
		chain = append(chain, policy.ExplicitList...)
	case CostOptimized:
		chain = []Provider{ProviderC, ProviderB, ProviderA, ProviderLocalFallback}
	case ReliabilityOptimized:
		chain = []Provider{ProviderA, ProviderB, ProviderC, ProviderLocalFallback}
	case RoundRobin:
		g.mu.Lock()
		n := len(g.providerOrder)
		start := g.roundRobinCursor % n
		g.roundRobinCursor = (g.roundRobinCursor + 1) % n
		g.mu.Unlock()
		for i := 0; i < n; i++ {
			chain = append(chain, g.providerOrder[(start+i)%n])
		}
	default:
		chain = []Provider{ProviderLocalFallback}
	}

	if preferred == "" {
		return chain
	}
	reordered := make([]Provider, 0, len(chain))
	reordered = append(reordered, preferred)
	for _, p := range chain {
		if p != preferred {
			reordered = append(reordered, p)
		}
	}
	return reordered
}

// Route implements the §4.10.2 routing algorithm for one request.
func (g *Gateway) Route(ctx context.Context, req Request, policy FallbackPolicy) (Response, error) {
	limiter := g.limiterFor(req.AgentID)
	if !limiter.CheckAndConsume() {
		g.mu.Lock()
		g.RateLimitHits++
		g.mu.Unlock()
		return Response{}, kerrors.ResourceExhausted(kerrors.New("agent: gateway: rate limit exceeded for agent " + req.AgentID))
	}

	chain := g.buildChain(policy, req.PreferredProvider)

	tried := 0
	for _, p := range chain {
		g.mu.Lock()
		backend, ok := g.backends[p]
		g.mu.Unlock()
		if !ok || backend.Unavailable() {
			continue
		}

		if tried == 1 {
			g.mu.Lock()
			g.FallbackCount++
			g.mu.Unlock()
		}
		tried++

		resp, err := g.executeWithRetry(ctx, backend, req)
		if err != nil {
			g.mu.Lock()
			g.metrics[p].Failures++
			g.mu.Unlock()
			continue
		}

		g.mu.Lock()
		g.metrics[p].Successes++
		g.mu.Unlock()
		resp.Provider = p
		resp.ServedFallback = tried > 1
		return resp, nil
	}

	return Response{}, kerrors.Unavailable(kerrors.New("agent: gateway: all providers failed"))
}

// executeWithRetry bounds-retries a single provider's Execute call
// (§4.10.2 "bounded retry ... before the fallback chain advances"),
// giving a kerrors.Retryable failure a few exponential-backoff
// attempts before it's treated the same as a hard failure. A
// non-retryable error fails on the first attempt.
func (g *Gateway) executeWithRetry(ctx context.Context, backend ProviderBackend, req Request) (Response, error) {
	return backoff.Retry(ctx, func() (Response, error) {
		resp, err := backend.Execute(ctx, req)
		if err != nil && !kerrors.Retryable(err) {
			return Response{}, backoff.Permanent(err)
		}
		return resp, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(providerExecuteMaxTries))
}

// Metrics returns a snapshot of per-provider counters, keyed by
// provider.
func (g *Gateway) Metrics() map[Provider]ProviderMetrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[Provider]ProviderMetrics, len(g.metrics))
	for p, m := range g.metrics {
		out[p] = *m
	}
	return out
}

// ProviderNames returns the gateway's known provider order, mostly
// useful for tests asserting round-robin coverage.
func (g *Gateway) ProviderNames() []Provider {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Provider, len(g.providerOrder))
	copy(out, g.providerOrder)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
