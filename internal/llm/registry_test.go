package llm_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aikernel/core/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *llm.Registry {
	t.Helper()
	dir := t.TempDir()
	r, err := llm.NewRegistry(filepath.Join(dir, "registry.json"), filepath.Join(dir, "registry.log"), "", "test-node")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCommitSetsParentLink(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Commit("v1", "hash1", "first", "prod"))
	require.NoError(t, r.Commit("v2", "hash2", "second", "prod"))

	e, ok := r.Get("v2")
	require.True(t, ok)
	assert.Equal(t, "v1", e.Parent)
}

func TestCommitRejectsDuplicateVersion(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Commit("v1", "hash1", "first", "prod"))
	err := r.Commit("v1", "hash1", "dup", "prod")
	assert.Error(t, err)
}

func TestShadowPromoteRollbackCycle(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Commit("v1", "hash1", "first", "prod"))
	require.NoError(t, r.Commit("v2", "hash2", "second", "prod"))

	require.NoError(t, r.Rollback("v1")) // v1 becomes active
	require.NoError(t, r.SetShadow("v2", 10))

	active, shadow, rollback := r.Counts()
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, shadow)
	assert.Equal(t, 0, rollback)

	require.NoError(t, r.Promote("v2"))
	active, shadow, rollback = r.Counts()
	assert.Equal(t, 1, active)
	assert.Equal(t, 0, shadow)
	assert.Equal(t, 1, rollback, "old active demoted to rollback")

	v2, _ := r.Get("v2")
	assert.Equal(t, llm.StatusActive, v2.Status)
	v1, _ := r.Get("v1")
	assert.Equal(t, llm.StatusRollback, v1.Status)
}

func TestAtMostOneOfEachRoleUniversalProperty(t *testing.T) {
	r := newRegistry(t)
	for _, v := range []string{"v1", "v2", "v3"} {
		require.NoError(t, r.Commit(v, "hash-"+v, "desc", "prod"))
	}
	require.NoError(t, r.Rollback("v1"))
	require.NoError(t, r.Rollback("v2"))
	require.NoError(t, r.Rollback("v3"))

	active, shadow, rollback := r.Counts()
	assert.LessOrEqual(t, active, 1)
	assert.LessOrEqual(t, shadow, 1)
	assert.LessOrEqual(t, rollback, 1)
}

func TestGCRetainsNewestAndProtectedVersions(t *testing.T) {
	r := newRegistry(t)
	for _, v := range []string{"v1", "v2", "v3", "v4", "v5"} {
		require.NoError(t, r.Commit(v, "hash-"+v, "desc", "prod"))
	}
	require.NoError(t, r.Rollback("v1")) // active, old enough it'd otherwise be collected

	removed := r.GC(2)
	assert.Contains(t, removed, "v2")
	assert.NotContains(t, removed, "v1", "active version is protected regardless of age")
	assert.NotContains(t, removed, "v4")
	assert.NotContains(t, removed, "v5")

	_, stillThere := r.Get("v1")
	assert.True(t, stillThere)

	_, removedFromIndex := r.Get("v2")
	assert.False(t, removedFromIndex, "GC must drop collected versions from the badger index, not just the in-memory map")
}

func TestGetReadsThroughBadgerIndex(t *testing.T) {
	r := newRegistry(t)
	_, ok := r.Get("nonexistent")
	assert.False(t, ok)

	require.NoError(t, r.Commit("v1", "hash1", "first", "prod"))
	e, ok := r.Get("v1")
	require.True(t, ok)
	assert.Equal(t, "hash1", e.ContentHash)
}

func TestHistoryLogGrowsMonotonically(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "registry.log")
	r, err := llm.NewRegistry(filepath.Join(dir, "registry.json"), logPath, "", "test-node")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	require.NoError(t, r.Commit("v1", "hash1", "first", "prod"))
	require.NoError(t, r.Rollback("v1"))
	require.NoError(t, r.Commit("v2", "hash2", "second", "prod"))
	require.NoError(t, r.SetShadow("v2", 5))
	// Each mutating call appends exactly one history line; four calls above.
	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(string(raw), "\n"))
}

func TestSetHealthRecordsMetrics(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Commit("v1", "hash1", "first", "prod"))
	require.NoError(t, r.SetHealth("v1", llm.HealthMetrics{InferenceP99MS: 42.5, MemoryFootprintMB: 128, TestAccuracy: 0.97}))

	e, ok := r.Get("v1")
	require.True(t, ok)
	assert.Equal(t, 42.5, e.Health.InferenceP99MS)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	regPath := filepath.Join(dir, "registry.json")
	logPath := filepath.Join(dir, "registry.log")

	r1, err := llm.NewRegistry(regPath, logPath, "", "node-a")
	require.NoError(t, err)
	require.NoError(t, r1.Commit("v1", "hash1", "first", "prod"))
	require.NoError(t, r1.Close())

	r2, err := llm.NewRegistry(regPath, logPath, "", "node-a")
	require.NoError(t, err)
	defer r2.Close()
	e, ok := r2.Get("v1")
	require.True(t, ok)
	assert.Equal(t, "hash1", e.ContentHash)
}
