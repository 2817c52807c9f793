package vfs

import (
	"sync"

	"github.com/aikernel/core/internal/kerrors"
)

// JournalBlock is one metadata block captured into a transaction.
type JournalBlock struct {
	BlockNum uint64
	Data     []byte
}

// Transaction is a JBD2-style atomic group of metadata writes (§3.4).
type Transaction struct {
	ID      uint64
	Blocks  []JournalBlock
	Committed bool
}

// Journal is the ext4/JBD2-style write-ahead log: every metadata write
// is appended to the running transaction; transactions commit as a
// unit into a circular on-disk log; crash recovery replays only
// committed transactions and discards an incomplete tail (§3.4, §4.7).
type Journal struct {
	mu sync.Mutex

	nextTxID uint64
	running  *Transaction
	log      []Transaction // committed transactions, in commit order
	capacity int           // circular log capacity in transactions
}

func NewJournal(capacity int) *Journal {
	return &Journal{nextTxID: 1, capacity: capacity}
}

// Begin starts a new running transaction, failing if one is already
// open (callers must Commit or Abort first).
func (j *Journal) Begin() (*Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running != nil {
		return nil, kerrors.InvalidArgument(kerrors.New("vfs: journal: transaction already running"))
	}
	j.running = &Transaction{ID: j.nextTxID}
	j.nextTxID++
	return j.running, nil
}

// Write appends a metadata block to the currently running transaction.
func (j *Journal) Write(txID uint64, blockNum uint64, data []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running == nil || j.running.ID != txID {
		return kerrors.InvalidArgument(kerrors.New("vfs: journal: no such running transaction"))
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	j.running.Blocks = append(j.running.Blocks, JournalBlock{BlockNum: blockNum, Data: cp})
	return nil
}

// Commit marks the running transaction committed and appends it to the
// circular log, evicting the oldest entry once capacity is exceeded.
func (j *Journal) Commit(txID uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running == nil || j.running.ID != txID {
		return kerrors.InvalidArgument(kerrors.New("vfs: journal: no such running transaction"))
	}
	j.running.Committed = true
	j.log = append(j.log, *j.running)
	if j.capacity > 0 && len(j.log) > j.capacity {
		j.log = j.log[len(j.log)-j.capacity:]
	}
	j.running = nil
	return nil
}

// Abort discards the running transaction without committing it.
func (j *Journal) Abort(txID uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running == nil || j.running.ID != txID {
		return kerrors.InvalidArgument(kerrors.New("vfs: journal: no such running transaction"))
	}
	j.running = nil
	return nil
}

// Recover replays every committed transaction's blocks through apply,
// in commit order, and discards any transaction left running at crash
// time (it was never committed, so it never reached the disk as a
// unit).
func (j *Journal) Recover(apply func(blockNum uint64, data []byte)) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	replayed := 0
	for _, tx := range j.log {
		if !tx.Committed {
			continue
		}
		for _, b := range tx.Blocks {
			apply(b.BlockNum, b.Data)
		}
		replayed++
	}
	j.running = nil
	return replayed
}
