package dataflow_test

import (
	"testing"

	"github.com/aikernel/core/internal/dataflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddOperatorRejectsDuplicateID(t *testing.T) {
	g := dataflow.Create(4)
	require.NoError(t, g.AddOperator("a", nil, []string{"c1"}, 0))
	err := g.AddOperator("a", nil, []string{"c2"}, 0)
	assert.Error(t, err)
}

func TestAddOperatorRejectsCycle(t *testing.T) {
	g := dataflow.Create(4)
	require.NoError(t, g.AddOperator("a", []string{"b_out"}, []string{"a_out"}, 0))
	err := g.AddOperator("b", []string{"a_out"}, []string{"b_out"}, 0)
	assert.Error(t, err, "b depends on a's output and produces a's input, which closes a cycle")
}

func TestAddOperatorRejectsOverCapacity(t *testing.T) {
	g := dataflow.Create(1)
	require.NoError(t, g.AddOperator("a", nil, []string{"c1"}, 0))
	err := g.AddOperator("b", nil, []string{"c2"}, 0)
	assert.Error(t, err)
}

func TestStartRespectsStepBudget(t *testing.T) {
	g := dataflow.Create(4)
	require.NoError(t, g.AddOperator("a", nil, []string{"c1"}, 0))
	require.NoError(t, g.AddOperator("b", []string{"c1"}, []string{"c2"}, 0))
	require.NoError(t, g.AddOperator("c", []string{"c2"}, []string{"c3"}, 0))

	res := g.Start(2)
	assert.Equal(t, 2, res.Activations)
	assert.False(t, res.Completed)

	res = g.Start(10)
	assert.Equal(t, 1, res.Activations)
	assert.True(t, res.Completed)
}

func TestStartOrdersProducersBeforeConsumers(t *testing.T) {
	g := dataflow.Create(4)
	require.NoError(t, g.AddOperator("consumer", []string{"c1"}, nil, 0))
	require.NoError(t, g.AddOperator("producer", nil, []string{"c1"}, 0))

	res := g.Start(10)
	assert.True(t, res.Completed)
	assert.Equal(t, 2, res.Activations)
}
