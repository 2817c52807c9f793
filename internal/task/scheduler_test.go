package task_test

import (
	"testing"

	"github.com/aikernel/core/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAdmissionControl is scenario S1: admit A(10ms,100ms), reject
// B(90ms,100ms); total utilization after is 0.10.
func TestAdmissionControl(t *testing.T) {
	sched := task.NewScheduler(0)

	a := &task.Task{PID: 1, CBS: &task.CBSParams{WCET: 10_000_000, Period: 100_000_000, Deadline: 100_000_000}}
	admitted, total := sched.AdmitCBS(a)
	require.True(t, admitted)
	assert.InDelta(t, 0.10, total, 1e-9)

	b := &task.Task{PID: 2, CBS: &task.CBSParams{WCET: 90_000_000, Period: 100_000_000, Deadline: 100_000_000}}
	admitted, _ = sched.AdmitCBS(b)
	assert.False(t, admitted)

	assert.InDelta(t, 0.10, sched.Utilization(), 1e-9)
}

func TestAdmissionControlRejectsOverUMax(t *testing.T) {
	sched := task.NewScheduler(0)
	// Single task at exactly UMax should be admitted.
	exact := &task.Task{PID: 1, CBS: &task.CBSParams{WCET: 85, Period: 100, Deadline: 100}}
	admitted, total := sched.AdmitCBS(exact)
	require.True(t, admitted)
	assert.InDelta(t, task.UMax, total, 1e-9)

	over := &task.Task{PID: 2, CBS: &task.CBSParams{WCET: 1, Period: 100, Deadline: 100}}
	admitted, _ = sched.AdmitCBS(over)
	assert.False(t, admitted, "admitting any further utilization must push past UMax and be rejected")
}

func TestEDFPicksEarliestDeadline(t *testing.T) {
	sched := task.NewScheduler(0)
	a := &task.Task{PID: 5, CBS: &task.CBSParams{WCET: 10, Period: 100, Deadline: 50}}
	b := &task.Task{PID: 3, CBS: &task.CBSParams{WCET: 10, Period: 100, Deadline: 20}}
	_, _ = sched.AdmitCBS(a)
	_, _ = sched.AdmitCBS(b)

	pid, isCBS := sched.Pick()
	assert.True(t, isCBS)
	assert.Equal(t, uint32(3), pid, "earlier absolute deadline must be picked")
}

func TestEDFTieBreaksOnLowerPID(t *testing.T) {
	sched := task.NewScheduler(0)
	a := &task.Task{PID: 9, CBS: &task.CBSParams{WCET: 10, Period: 100, Deadline: 50}}
	b := &task.Task{PID: 4, CBS: &task.CBSParams{WCET: 10, Period: 100, Deadline: 50}}
	_, _ = sched.AdmitCBS(a)
	_, _ = sched.AdmitCBS(b)

	pid, isCBS := sched.Pick()
	assert.True(t, isCBS)
	assert.Equal(t, uint32(4), pid, "equal deadlines must tie-break on lower pid")
}

func TestClassicSchedulerPicksIdleWhenEmpty(t *testing.T) {
	sched := task.NewScheduler(99)
	pid, isCBS := sched.Pick()
	assert.False(t, isCBS)
	assert.Equal(t, uint32(99), pid)
}

func TestClassicSchedulerPriorityOrder(t *testing.T) {
	sched := task.NewScheduler(0)
	sched.EnqueueClassic(10, 3)
	sched.EnqueueClassic(20, 1)
	sched.EnqueueClassic(30, 1)

	pid, isCBS := sched.Pick()
	assert.False(t, isCBS)
	assert.Equal(t, uint32(20), pid, "highest-priority (lowest numeral) queue head must run first")
}
