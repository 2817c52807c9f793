package agent

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/aikernel/core/internal/kerrors"
)

// LoadDecisionRecords reads the one-JSON-object-per-line file written
// by MetaAgent.Record, for feeding into a ReplayTransport.
func LoadDecisionRecords(path string) ([]decisionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, kerrors.Unavailable(err)
	}
	defer f.Close()

	var out []decisionRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec decisionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, kerrors.InvalidArgument(err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, kerrors.Unavailable(err)
	}
	return out, nil
}

// ReplayState is the decision-replay transport's state machine
// (SPEC_FULL.md "Replay transport state machine"): Idle -> Running ->
// {Completed, Stopped}. `stop` is idempotent.
type ReplayState int

const (
	ReplayIdle ReplayState = iota
	ReplayRunning
	ReplayCompleted
	ReplayStopped
)

func (s ReplayState) String() string {
	switch s {
	case ReplayIdle:
		return "Idle"
	case ReplayRunning:
		return "Running"
	case ReplayCompleted:
		return "Completed"
	case ReplayStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// ReplayTransport drives `autoctl replay-decisions`, feeding decision
// records one at a time through a consumer.
type ReplayTransport struct {
	mu       sync.Mutex
	state    ReplayState
	records  []decisionRecord
	cursor   int
}

func NewReplayTransport() *ReplayTransport {
	return &ReplayTransport{state: ReplayIdle}
}

// Start transitions Idle -> Running and loads records to replay.
func (r *ReplayTransport) Start(records []decisionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ReplayIdle && r.state != ReplayCompleted && r.state != ReplayStopped {
		return kerrors.InvalidArgument(kerrors.New("agent: replay: already running"))
	}
	r.state = ReplayRunning
	r.records = records
	r.cursor = 0
	return nil
}

// Next returns the next record, transitioning to Completed once
// exhausted.
func (r *ReplayTransport) Next() (decisionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ReplayRunning {
		return decisionRecord{}, false
	}
	if r.cursor >= len(r.records) {
		r.state = ReplayCompleted
		return decisionRecord{}, false
	}
	rec := r.records[r.cursor]
	r.cursor++
	if r.cursor >= len(r.records) {
		r.state = ReplayCompleted
	}
	return rec, true
}

// Stop transitions Running -> Stopped; calling it again (or calling it
// from Idle/Completed) is a no-op, matching the spec's "stop is
// idempotent".
func (r *ReplayTransport) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == ReplayRunning {
		r.state = ReplayStopped
	}
}

func (r *ReplayTransport) State() ReplayState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
