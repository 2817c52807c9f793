package task

import (
	"sort"
	"sync"
)

// DefaultTimeSlice is the number of timer ticks a classic task runs
// before being re-queued at its priority tail (§4.6).
const DefaultTimeSlice = 10

// NumPriorities bounds the classic runqueue's priority levels, 0
// (highest) through NumPriorities-1.
const NumPriorities = 8

// Scheduler multiplexes the classic priority runqueue with the CBS+EDF
// overlay (§4.6): CBS tasks with budget and a pending deadline always
// preempt the classic queue; otherwise the classic scheduler runs.
type Scheduler struct {
	mu sync.Mutex

	classic [NumPriorities][]uint32 // pid, FIFO within a priority level
	idle    uint32                  // idle task pid, always schedulable

	cbs     map[uint32]*Task
	nowNano uint64 // monotonic scheduler clock, advanced explicitly by Tick
}

func NewScheduler(idlePID uint32) *Scheduler {
	return &Scheduler{idle: idlePID, cbs: make(map[uint32]*Task)}
}

// EnqueueClassic places pid at the tail of its priority level.
func (s *Scheduler) EnqueueClassic(pid uint32, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if priority < 0 {
		priority = 0
	}
	if priority >= NumPriorities {
		priority = NumPriorities - 1
	}
	s.classic[priority] = append(s.classic[priority], pid)
}

// UMax is the admission ceiling on total CBS utilization (§3.3, §4.6).
const UMax = 0.85

// Utilization returns the sum of wcet_i/period_i over every admitted
// CBS task.
func (s *Scheduler) Utilization() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.utilizationLocked()
}

func (s *Scheduler) utilizationLocked() float64 {
	var total float64
	for _, tk := range s.cbs {
		total += tk.CBS.Utilization()
	}
	return total
}

// AdmitCBS implements §4.6's admission control: a candidate is admitted
// only if total utilization including it stays at or below UMax.
// Rejection is reported back to the caller, never fatal (S1).
func (s *Scheduler) AdmitCBS(tk *Task) (admitted bool, totalUtilization float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := tk.CBS.Utilization()
	total := s.utilizationLocked() + candidate
	if total > UMax {
		return false, s.utilizationLocked()
	}
	tk.CBS.Budget = tk.CBS.WCET
	tk.CBS.AbsDeadline = s.nowNano + tk.CBS.Deadline
	tk.CBS.LastReplenish = s.nowNano
	s.cbs[tk.PID] = tk
	return true, total
}

// WithdrawCBS removes a task from the CBS overlay (on exit or explicit
// opt-out).
func (s *Scheduler) WithdrawCBS(pid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cbs, pid)
}

// pickCBS returns the admitted CBS task with budget > 0 and the
// earliest absolute deadline, breaking ties by lower pid (§4.6).
func (s *Scheduler) pickCBS() *Task {
	var candidates []*Task
	for _, tk := range s.cbs {
		if tk.CBS.Budget > 0 {
			candidates = append(candidates, tk)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CBS.AbsDeadline != candidates[j].CBS.AbsDeadline {
			return candidates[i].CBS.AbsDeadline < candidates[j].CBS.AbsDeadline
		}
		return candidates[i].PID < candidates[j].PID
	})
	return candidates[0]
}

// pickClassicLocked returns the pid at the head of the highest-priority
// non-empty queue, or the idle task if every queue is empty.
func (s *Scheduler) pickClassicLocked() uint32 {
	for prio := 0; prio < NumPriorities; prio++ {
		if len(s.classic[prio]) > 0 {
			return s.classic[prio][0]
		}
	}
	return s.idle
}

// popClassicLocked removes and returns the head pid of prio's queue.
func (s *Scheduler) popClassicLocked(prio int) uint32 {
	pid := s.classic[prio][0]
	s.classic[prio] = s.classic[prio][1:]
	return pid
}

// Pick selects the next task to run: a ready CBS task with budget and a
// deadline takes priority over the classic queue (§4.6).
func (s *Scheduler) Pick() (pid uint32, isCBS bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cbsTask := s.pickCBS(); cbsTask != nil {
		return cbsTask.PID, true
	}
	return s.pickClassicLocked(), false
}

// Tick advances the scheduler clock by one tick (nanos) and returns
// which task should run after accounting for classic time-slice
// expiry, CBS budget consumption, period-boundary replenishment, and
// deadline misses (§4.6).
func (s *Scheduler) Tick(tickNanos uint64, running *Task) (next uint32, isCBS bool) {
	s.mu.Lock()
	s.nowNano += tickNanos

	if running != nil && running.CBS != nil {
		if running.CBS.Budget > tickNanos {
			running.CBS.Budget -= tickNanos
		} else {
			running.CBS.Budget = 0
		}
	} else if running != nil {
		running.TimeSlice--
	}

	for _, tk := range s.cbs {
		if s.nowNano >= tk.CBS.AbsDeadline {
			// Deadline elapsed. If the job never finished (budget > 0
			// still outstanding work, modeled here as any nonzero
			// budget remaining at the deadline), count a miss.
			if tk.CBS.Budget > 0 {
				tk.CBS.DeadlineMisses++
			}
			tk.CBS.Budget = tk.CBS.WCET
			tk.CBS.AbsDeadline = s.nowNano + tk.CBS.Deadline
			tk.CBS.LastReplenish = s.nowNano
		}
	}

	if running != nil && running.CBS == nil && running.TimeSlice <= 0 {
		running.TimeSlice = DefaultTimeSlice
		for prio := 0; prio < NumPriorities; prio++ {
			for i, pid := range s.classic[prio] {
				if pid == running.PID {
					s.classic[prio] = append(s.classic[prio][:i], s.classic[prio][i+1:]...)
					s.classic[prio] = append(s.classic[prio], pid)
					break
				}
			}
		}
	}

	if cbsTask := s.pickCBS(); cbsTask != nil {
		s.mu.Unlock()
		return cbsTask.PID, true
	}
	pid := s.pickClassicLocked()
	s.mu.Unlock()
	return pid, false
}
