package agent_test

import (
	"testing"

	"github.com/aikernel/core/internal/agent"
	"github.com/stretchr/testify/assert"
)

func TestPolicyAllowsGrantedCapabilityWithinScope(t *testing.T) {
	p := agent.NewPolicyEngine()
	p.Register(agent.Token{
		AgentID: "a1", Name: "fs-agent",
		Capabilities: map[agent.Capability]bool{"fs.read": true},
		Scope:        agent.Scope{PathPrefix: "/data", MaxFileSize: 1024},
		Enabled:      true,
	})

	res := p.Check("a1", "fs.read", agent.Resource{Path: "/data/file.txt", Size: 512})
	assert.Equal(t, agent.Allow, res.Verdict)
}

func TestPolicyDeniesMissingCapability(t *testing.T) {
	p := agent.NewPolicyEngine()
	p.Register(agent.Token{AgentID: "a1", Capabilities: map[agent.Capability]bool{}, Enabled: true})

	res := p.Check("a1", "fs.write", agent.Resource{Path: "/data/file.txt"})
	assert.Equal(t, agent.Deny, res.Verdict)
}

func TestPolicyDeniesOutsidePathScope(t *testing.T) {
	p := agent.NewPolicyEngine()
	p.Register(agent.Token{
		AgentID: "a1", Capabilities: map[agent.Capability]bool{"fs.read": true},
		Scope: agent.Scope{PathPrefix: "/data"}, Enabled: true,
	})

	res := p.Check("a1", "fs.read", agent.Resource{Path: "/etc/passwd"})
	assert.Equal(t, agent.Deny, res.Verdict)
}

func TestPolicyDeniesOverMaxFileSize(t *testing.T) {
	p := agent.NewPolicyEngine()
	p.Register(agent.Token{
		AgentID: "a1", Capabilities: map[agent.Capability]bool{"fs.write": true},
		Scope: agent.Scope{MaxFileSize: 100}, Enabled: true,
	})

	res := p.Check("a1", "fs.write", agent.Resource{Size: 200})
	assert.Equal(t, agent.Deny, res.Verdict)
}

func TestPolicyCountersTrackAllowsAndDenies(t *testing.T) {
	p := agent.NewPolicyEngine()
	p.Register(agent.Token{AgentID: "a1", Capabilities: map[agent.Capability]bool{"x": true}, Enabled: true})

	p.Check("a1", "x", agent.Resource{})
	p.Check("a1", "y", agent.Resource{})

	allows, denies := p.Counters()
	assert.Equal(t, uint64(1), allows)
	assert.Equal(t, uint64(1), denies)
}
