package store

import (
	"errors"
	"sort"

	"go.uber.org/zap"
)

// ErrConflict is returned from Commit when any working-set entry
// lost a race: the canonical version advanced past the transaction's
// read timestamp, or an Insert found a value already live.
var ErrConflict = errors.New("store: commit conflict, transaction must be retried")

// workingEntry is one pending operation in a transaction's
// per-relation working set.
type workingEntry struct {
	op      OpKind
	key     any
	value   any
	readTS  Timestamp // timestamp observed when this key was last read by this txn (ZeroTS if never read / read-as-missing)
	hadRead bool
}

// Txn is a single MVCC transaction opened from a consistent snapshot.
// Reads observe the transaction's own prior writes first, then the
// relation's cache, then the canonical version chain as-of StartTS.
// Nothing is visible to other transactions until Commit succeeds.
type Txn struct {
	store   *Store
	StartTS Timestamp
	working map[relation]map[any]*workingEntry
	order   map[relation][]any // per-relation insertion order, for Open-Question-#2 last-write-wins replay
	done    bool
}

func newTxn(s *Store) *Txn {
	return &Txn{
		store:   s,
		StartTS: s.clock.Current(),
		working: make(map[relation]map[any]*workingEntry),
		order:   make(map[relation][]any),
	}
}

func (t *Txn) entryFor(rel relation, key any) *workingEntry {
	m := t.working[rel]
	if m == nil {
		return nil
	}
	return m[key]
}

func (t *Txn) setEntry(rel relation, key any, e *workingEntry) {
	m := t.working[rel]
	if m == nil {
		m = make(map[any]*workingEntry)
		t.working[rel] = m
	}
	if _, existed := m[key]; !existed {
		t.order[rel] = append(t.order[rel], key)
	}
	m[key] = e
}

// Get reads key from rel, preferring the transaction's own working
// set, then recording the canonical read timestamp observed (or the
// sentinel ZeroTS on a miss, enabling phantom-insert conflict
// detection at commit).
func Get[K comparable, V any](t *Txn, rel *TypedRelation[K, V], key K) (V, bool) {
	if e := t.entryFor(rel, key); e != nil {
		if e.op == OpDelete {
			var zero V
			return zero, false
		}
		v, _ := e.value.(V)
		return v, true
	}
	v, ts, ok := rel.snapshotGet(key, t.StartTS)
	if !ok {
		t.setEntry(rel, key, &workingEntry{op: OpCached, key: key, readTS: ZeroTS, hadRead: true})
		var zero V
		return zero, false
	}
	t.setEntry(rel, key, &workingEntry{op: OpCached, key: key, value: v, readTS: ts, hadRead: true})
	return v, true
}

// Scan reads every (key,value) visible to this transaction as-of
// StartTS, then overlays the transaction's own uncommitted writes so
// a scan observes its own prior inserts/updates/deletes.
func Scan[K comparable, V any](t *Txn, rel *TypedRelation[K, V], pred func(K, V) bool) []struct {
	Key   K
	Value V
} {
	base := rel.Scan(t.StartTS, pred)
	overlay := make(map[K]*workingEntry)
	if m := t.working[rel]; m != nil {
		for k, e := range m {
			overlay[k.(K)] = e
		}
	}
	out := make([]struct {
		Key   K
		Value V
	}, 0, len(base))
	seen := make(map[K]bool, len(base))
	for _, kv := range base {
		seen[kv.Key] = true
		if e, ok := overlay[kv.Key]; ok {
			if e.op == OpDelete {
				continue
			}
			if e.op == OpInsert || e.op == OpUpdate {
				v, _ := e.value.(V)
				if pred == nil || pred(kv.Key, v) {
					out = append(out, struct {
						Key   K
						Value V
					}{kv.Key, v})
				}
				continue
			}
		}
		out = append(out, kv)
	}
	for k, e := range overlay {
		if seen[k] || (e.op != OpInsert && e.op != OpUpdate) {
			continue
		}
		v, _ := e.value.(V)
		if pred == nil || pred(k, v) {
			out = append(out, struct {
				Key   K
				Value V
			}{k, v})
		}
	}
	return out
}

// implicitReadTS returns the read timestamp a write against key
// should validate against: the working set's own recorded read if
// this transaction already read the key, otherwise an implicit read
// of the transaction's own snapshot (as-of StartTS) — a blind write
// still only conflicts with changes committed after this
// transaction's snapshot was taken, never with the snapshot itself.
func implicitReadTS[K comparable, V any](t *Txn, rel *TypedRelation[K, V], key K) (Timestamp, bool) {
	if prior := t.entryFor(rel, key); prior != nil {
		return prior.readTS, prior.hadRead
	}
	_, ts, ok := rel.snapshotGet(key, t.StartTS)
	if !ok {
		return ZeroTS, true
	}
	return ts, true
}

func insertOrUpdate[K comparable, V any](t *Txn, rel *TypedRelation[K, V], key K, value V, op OpKind) {
	readTS, hadRead := implicitReadTS(t, rel, key)
	t.setEntry(rel, key, &workingEntry{op: op, key: key, value: value, readTS: readTS, hadRead: hadRead})
}

// Insert stages a new key. Commit reports ErrConflict if the
// canonical chain already has a live (non-deleted) value for key.
func Insert[K comparable, V any](t *Txn, rel *TypedRelation[K, V], key K, value V) {
	insertOrUpdate(t, rel, key, value, OpInsert)
}

// Update stages a replacement value for an existing key.
func Update[K comparable, V any](t *Txn, rel *TypedRelation[K, V], key K, value V) {
	insertOrUpdate(t, rel, key, value, OpUpdate)
}

// Upsert stages Insert-if-absent/Update-if-present semantics,
// resolved against what this transaction has observed so far.
func Upsert[K comparable, V any](t *Txn, rel *TypedRelation[K, V], key K, value V) {
	if _, ok := Get(t, rel, key); ok {
		Update(t, rel, key, value)
		return
	}
	Insert(t, rel, key, value)
}

// Delete stages removal of key.
func Delete[K comparable, V any](t *Txn, rel *TypedRelation[K, V], key K) {
	readTS, hadRead := implicitReadTS(t, rel, key)
	t.setEntry(rel, key, &workingEntry{op: OpDelete, key: key, readTS: readTS, hadRead: hadRead})
}

// Rollback discards the working set without touching the canonical
// store. Safe to call multiple times.
func (t *Txn) Rollback() {
	t.working = make(map[relation]map[any]*workingEntry)
	t.order = make(map[relation][]any)
	t.done = true
}

// Commit validates every working-set entry against the canonical
// chain, in a fixed per-relation lock order (lexical by relation
// name) to avoid cross-transaction deadlock, then applies the whole
// working set atomically — or aborts the entire transaction and
// returns ErrConflict without applying anything.
func (t *Txn) Commit() error {
	if t.done {
		return errors.New("store: transaction already finished")
	}
	defer func() { t.done = true }()

	rels := make([]relation, 0, len(t.working))
	for r := range t.working {
		rels = append(rels, r)
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].Name() < rels[j].Name() })

	for _, r := range rels {
		r.lock()
		defer r.unlock()
	}

	for _, r := range rels {
		for _, key := range t.order[r] {
			e := t.working[r][key]
			if e.op == OpCached {
				continue
			}
			latestTS, exists := r.latestCommittedTS(key)
			switch e.op {
			case OpInsert:
				if exists && latestTS > 0 {
					// An Insert conflicts if the canonical chain's
					// newest version is live (not a tombstone); we
					// don't have tombstone visibility here, so treat
					// any post-read write as a conflict the same way
					// Update/Delete do (conservative, matches spec
					// §4.1's "Insert finds a live value" wording by
					// erring toward reporting Conflict).
					if !e.hadRead || latestTS > e.readTS {
						return ErrConflict
					}
				}
			default: // OpUpdate, OpDelete
				if exists && latestTS > e.readTS {
					return ErrConflict
				}
				if !exists && e.hadRead && e.readTS != ZeroTS {
					return ErrConflict
				}
			}
		}
	}

	commitTS := t.store.clock.Next()
	for _, r := range rels {
		for _, key := range t.order[r] {
			e := t.working[r][key]
			if e.op == OpCached {
				continue
			}
			r.applyCommit(key, e.op, e.value, commitTS)
		}
	}

	t.store.logger.Debug("store commit", zap.Uint64("commit_ts", uint64(commitTS)), zap.Int("relations", len(rels)))
	return nil
}
