package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/aikernel/core/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	unavailable bool
	fail        bool
	text        string
}

func (f *fakeBackend) Unavailable() bool { return f.unavailable }
func (f *fakeBackend) Execute(ctx context.Context, req agent.Request) (agent.Response, error) {
	if f.fail {
		return agent.Response{}, assertErr
	}
	return agent.Response{Text: f.text, Tokens: 4, LatencyMS: 1}, nil
}

var assertErr = &execError{"backend failed"}

type execError struct{ msg string }

func (e *execError) Error() string { return e.msg }

func newTestGateway() *agent.Gateway {
	return agent.NewGateway(func() *agent.RateLimiter {
		return agent.NewRateLimiter(10, 10, nil)
	})
}

func TestFallbackChainLocalOnlyScenario(t *testing.T) {
	g := newTestGateway()
	g.RegisterBackend(agent.ProviderLocalFallback, &fakeBackend{text: "local-ok"})

	resp, err := g.Route(context.Background(), agent.Request{
		AgentID: "a1", Prompt: "hi", MaxTokens: 10, PreferredProvider: agent.ProviderLocalFallback,
	}, agent.FallbackPolicy{Kind: agent.LocalOnly})

	require.NoError(t, err)
	assert.Equal(t, agent.ProviderLocalFallback, resp.Provider)
	assert.False(t, resp.ServedFallback)
	assert.Equal(t, uint64(0), g.FallbackCount)

	metrics := g.Metrics()
	assert.Equal(t, uint64(1), metrics[agent.ProviderLocalFallback].Successes)
}

func TestGatewayFallsBackOnProviderFailure(t *testing.T) {
	g := newTestGateway()
	g.RegisterBackend(agent.ProviderA, &fakeBackend{fail: true})
	g.RegisterBackend(agent.ProviderLocalFallback, &fakeBackend{text: "fallback-ok"})

	resp, err := g.Route(context.Background(), agent.Request{
		AgentID: "a1", Prompt: "hi", PreferredProvider: agent.ProviderA,
	}, agent.FallbackPolicy{Kind: agent.ReliabilityOptimized})

	require.NoError(t, err)
	assert.True(t, resp.ServedFallback)
	assert.Equal(t, uint64(1), g.FallbackCount)
}

func TestGatewaySkipsUnavailableProviders(t *testing.T) {
	g := newTestGateway()
	g.RegisterBackend(agent.ProviderA, &fakeBackend{unavailable: true})
	g.RegisterBackend(agent.ProviderLocalFallback, &fakeBackend{text: "ok"})

	resp, err := g.Route(context.Background(), agent.Request{AgentID: "a1"}, agent.FallbackPolicy{Kind: agent.ReliabilityOptimized})
	require.NoError(t, err)
	assert.Equal(t, agent.ProviderLocalFallback, resp.Provider)
}

func TestGatewayReturnsAllProvidersFailed(t *testing.T) {
	g := newTestGateway()
	g.RegisterBackend(agent.ProviderLocalFallback, &fakeBackend{fail: true})

	_, err := g.Route(context.Background(), agent.Request{AgentID: "a1"}, agent.FallbackPolicy{Kind: agent.LocalOnly})
	assert.Error(t, err)
}

func TestGatewayRateLimitDeniesAndRecordsEvent(t *testing.T) {
	g := agent.NewGateway(func() *agent.RateLimiter {
		return agent.NewRateLimiter(1, 0.0001, nil)
	})
	g.RegisterBackend(agent.ProviderLocalFallback, &fakeBackend{text: "ok"})

	_, err := g.Route(context.Background(), agent.Request{AgentID: "a1"}, agent.FallbackPolicy{Kind: agent.LocalOnly})
	require.NoError(t, err)

	_, err = g.Route(context.Background(), agent.Request{AgentID: "a1"}, agent.FallbackPolicy{Kind: agent.LocalOnly})
	assert.Error(t, err)
	assert.Equal(t, uint64(1), g.RateLimitHits)
}

func TestRoundRobinCursorAdvancesThroughEachProviderOnce(t *testing.T) {
	g := newTestGateway()
	providers := g.ProviderNames()
	n := len(providers)

	var visited []agent.Provider
	for _, p := range providers {
		pr := p
		g.RegisterBackend(pr, &recordingBackend{provider: pr, order: &visited})
	}

	heads := make(map[agent.Provider]bool)
	for i := 0; i < n; i++ {
		visited = nil
		_, _ = g.Route(context.Background(), agent.Request{AgentID: "rr"}, agent.FallbackPolicy{Kind: agent.RoundRobin})
		require.NotEmpty(t, visited)
		heads[visited[0]] = true
	}
	assert.Len(t, heads, n, "round robin must visit each provider as chain head exactly once per full cycle")
}

type recordingBackend struct {
	provider agent.Provider
	order    *[]agent.Provider
}

func (r *recordingBackend) Unavailable() bool { return false }
func (r *recordingBackend) Execute(ctx context.Context, req agent.Request) (agent.Response, error) {
	*r.order = append(*r.order, r.provider)
	return agent.Response{}, assertErr
}

func TestRateLimiterAvailableTokensFormula(t *testing.T) {
	base := time.Unix(0, 0)
	clock := base
	now := func() time.Time { return clock }

	rl := agent.NewRateLimiter(5, 1, now) // capacity 5, refill 1 token/sec
	for i := 0; i < 5; i++ {
		require.True(t, rl.CheckAndConsume())
	}
	assert.False(t, rl.CheckAndConsume(), "bucket should be empty")

	clock = base.Add(3 * time.Second)
	avail := rl.AvailableTokens()
	assert.InDelta(t, 3, avail, 0.01, "min(capacity, prev + r*t) = min(5, 0+1*3) = 3")
}

func TestRateLimiterReset(t *testing.T) {
	rl := agent.NewRateLimiter(2, 1, nil)
	require.True(t, rl.CheckAndConsume())
	require.True(t, rl.CheckAndConsume())
	assert.False(t, rl.CheckAndConsume())

	rl.Reset()
	assert.True(t, rl.CheckAndConsume())
}
