package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/aikernel/core/internal/kerrors"
)

// Status is a model version's role in the registry (§3.6).
type Status string

const (
	StatusActive   Status = "active"
	StatusShadow   Status = "shadow"
	StatusRollback Status = "rollback"
	StatusFailed   Status = "failed"
	StatusInactive Status = "inactive"
)

// HealthMetrics are the per-version health fields surfaced by
// `versionctl diff`.
type HealthMetrics struct {
	InferenceP99MS float64
	MemoryFootprintMB float64
	TestAccuracy   float64
}

// Entry is one registry row (§3.6).
type Entry struct {
	Version     string
	ContentHash string
	Signature   string
	Status      Status
	LoadedAt    time.Time
	Parent      string
	Description string
	Env         string
	Health      HealthMetrics
}

// Registry is the durable {version -> Entry} mapping, persisted as
// JSON at registryPath with an append-only history log at logPath, and
// mirrored into an embedded badger index for fast lookup (§4.9).
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
	order   []string // commit order

	registryPath string
	logPath      string
	nodeID       string

	shadowTrafficPct int

	db *badger.DB
}

// NewRegistry opens (or creates) the registry at registryPath/logPath,
// backed by a badger index rooted at badgerDir. nodeID defaults to
// os.Hostname() when empty, matching the teacher's NewManager fallback.
func NewRegistry(registryPath, logPath, badgerDir, nodeID string) (*Registry, error) {
	if nodeID == "" {
		if host, err := os.Hostname(); err == nil {
			nodeID = host
		} else {
			nodeID = "unknown"
		}
	}
	opts := badger.DefaultOptions(badgerDir)
	if badgerDir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, kerrors.Unavailable(fmt.Errorf("llm: registry: opening index: %w", err))
	}

	r := &Registry{entries: make(map[string]Entry), registryPath: registryPath, logPath: logPath, nodeID: nodeID, db: db}
	if err := r.load(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) Close() error { return r.db.Close() }

func (r *Registry) load() error {
	raw, err := os.ReadFile(r.registryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return kerrors.Unavailable(err)
	}
	var entries map[string]Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return kerrors.InvalidArgument(err)
	}
	r.entries = entries
	for v := range entries {
		r.order = append(r.order, v)
	}
	sort.Strings(r.order)
	sort.SliceStable(r.order, func(i, j int) bool {
		return entries[r.order[i]].LoadedAt.Before(entries[r.order[j]].LoadedAt)
	})
	return r.reindex()
}

func (r *Registry) reindex() error {
	return r.db.Update(func(txn *badger.Txn) error {
		for v, e := range r.entries {
			raw, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte("model:"+v), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Registry) persist() error {
	raw, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return kerrors.InvalidArgument(err)
	}
	if r.registryPath != "" {
		if err := os.WriteFile(r.registryPath, raw, 0o644); err != nil {
			return kerrors.Unavailable(err)
		}
	}
	return r.db.Update(func(txn *badger.Txn) error {
		for v, e := range r.entries {
			b, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte("model:"+v), b); err != nil {
				return err
			}
		}
		return nil
	})
}

// appendHistory writes one history line in the exact field order
// `ts=<ms> active=<v?> shadow=<v?> rollback=<v?> node=<id>`.
func (r *Registry) appendHistory() error {
	if r.logPath == "" {
		return nil
	}
	var active, shadow, rollback string
	for v, e := range r.entries {
		switch e.Status {
		case StatusActive:
			active = v
		case StatusShadow:
			shadow = v
		case StatusRollback:
			rollback = v
		}
	}
	line := fmt.Sprintf("ts=%d active=%s shadow=%s rollback=%s node=%s\n",
		time.Now().UnixMilli(), active, shadow, rollback, r.nodeID)

	f, err := os.OpenFile(r.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return kerrors.Unavailable(err)
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}

// Commit appends a new version with a parent-version link and
// timestamp (§4.9 "commit(new_version, description, env)").
func (r *Registry) Commit(version, contentHash, description, env string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[version]; exists {
		return kerrors.InvalidArgument(kerrors.New("llm: registry: version already exists: " + version))
	}
	parent := ""
	if len(r.order) > 0 {
		parent = r.order[len(r.order)-1]
	}
	r.entries[version] = Entry{
		Version: version, ContentHash: contentHash, Status: StatusInactive,
		LoadedAt: time.Now(), Parent: parent, Description: description, Env: env,
	}
	r.order = append(r.order, version)
	if err := r.persist(); err != nil {
		return err
	}
	return r.appendHistory()
}

func (r *Registry) countStatusLocked(s Status) int {
	n := 0
	for _, e := range r.entries {
		if e.Status == s {
			n++
		}
	}
	return n
}

// SetShadow marks v Shadow, with traffic split to pct percent (§4.9).
func (r *Registry) SetShadow(v string, trafficPct int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[v]
	if !ok {
		return kerrors.NotFound(kerrors.New("llm: registry: no such version: " + v))
	}
	for ver, existing := range r.entries {
		if existing.Status == StatusShadow {
			existing.Status = StatusInactive
			r.entries[ver] = existing
		}
	}
	e.Status = StatusShadow
	r.entries[v] = e
	r.shadowTrafficPct = trafficPct
	if err := r.persist(); err != nil {
		return err
	}
	return r.appendHistory()
}

func (r *Registry) ShadowTrafficPercent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shadowTrafficPct
}

// Promote atomically makes the shadow version Active, demoting the
// current Active to Rollback (§4.9 "promote(shadow)").
func (r *Registry) Promote(shadow string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[shadow]
	if !ok || e.Status != StatusShadow {
		return kerrors.InvalidArgument(kerrors.New("llm: registry: not a shadow version: " + shadow))
	}
	for v, existing := range r.entries {
		if existing.Status == StatusActive {
			existing.Status = StatusRollback
			r.entries[v] = existing
		} else if existing.Status == StatusRollback {
			existing.Status = StatusInactive
			r.entries[v] = existing
		}
	}
	e.Status = StatusActive
	r.entries[shadow] = e
	if err := r.persist(); err != nil {
		return err
	}
	return r.appendHistory()
}

// Rollback makes v Active and records the transition (§4.9).
func (r *Registry) Rollback(v string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[v]
	if !ok {
		return kerrors.NotFound(kerrors.New("llm: registry: no such version: " + v))
	}
	for ver, existing := range r.entries {
		if existing.Status == StatusActive {
			existing.Status = StatusInactive
			r.entries[ver] = existing
		}
	}
	e.Status = StatusActive
	r.entries[v] = e
	if err := r.persist(); err != nil {
		return err
	}
	return r.appendHistory()
}

// GC retains the newest N versions plus any version currently Active,
// Shadow, or Rollback (§4.9).
func (r *Registry) GC(retainNewest int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	protect := make(map[string]bool)
	start := len(r.order) - retainNewest
	if start < 0 {
		start = 0
	}
	for _, v := range r.order[start:] {
		protect[v] = true
	}
	for v, e := range r.entries {
		if e.Status == StatusActive || e.Status == StatusShadow || e.Status == StatusRollback {
			protect[v] = true
		}
	}

	var removed []string
	var newOrder []string
	for _, v := range r.order {
		if protect[v] {
			newOrder = append(newOrder, v)
			continue
		}
		delete(r.entries, v)
		removed = append(removed, v)
	}
	r.order = newOrder
	r.persist()
	r.db.Update(func(txn *badger.Txn) error {
		for _, v := range removed {
			if err := txn.Delete([]byte("model:" + v)); err != nil {
				return err
			}
		}
		return nil
	})
	return removed
}

// Get returns the entry for v, read through the badger index rather
// than the in-memory map: badger is this registry's actual lookup
// path, not just a mirrored write-behind log.
func (r *Registry) Get(v string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var e Entry
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("model:" + v))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if err != nil {
		return Entry{}, false
	}
	return e, true
}

// Counts reports how many versions currently hold each of the
// at-most-one roles, for the universal "at most one Active/Shadow/
// Rollback" property (§8).
func (r *Registry) Counts() (active, shadow, rollback int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countStatusLocked(StatusActive), r.countStatusLocked(StatusShadow), r.countStatusLocked(StatusRollback)
}

// All returns every entry, sorted by commit order, for `versionctl list`.
func (r *Registry) All() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.order))
	for _, v := range r.order {
		out = append(out, r.entries[v])
	}
	return out
}

// CurrentRoles returns the version currently holding each role, or ""
// if none does. Used by `versionctl diff`/`deployctl status` and by
// `llmctl shadow-promote` to find the shadow version without the
// caller naming it explicitly.
func (r *Registry) CurrentRoles() (active, shadow, rollback string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for v, e := range r.entries {
		switch e.Status {
		case StatusActive:
			active = v
		case StatusShadow:
			shadow = v
		case StatusRollback:
			rollback = v
		}
	}
	return
}

// Tag appends a human label to v's description (`versionctl tag`).
func (r *Registry) Tag(v, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[v]
	if !ok {
		return kerrors.NotFound(kerrors.New("llm: registry: no such version: " + v))
	}
	if e.Description != "" {
		e.Description += " [" + tag + "]"
	} else {
		e.Description = "[" + tag + "]"
	}
	r.entries[v] = e
	return r.persist()
}

// SetHealth records HealthMetrics for v, surfaced via versionctl diff.
func (r *Registry) SetHealth(v string, h HealthMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[v]
	if !ok {
		return kerrors.NotFound(kerrors.New("llm: registry: no such version: " + v))
	}
	e.Health = h
	r.entries[v] = e
	return r.persist()
}
