package db

import (
	"sync"

	"moocore/store"
	"moocore/types"
)

// TaskTxn is the MVCC working set for one task execution (spec's
// per-task "private working set" in C2/C6). barn's evaluator reads and
// mutates *Object in place through Store.Get rather than through
// copy-on-write values, so TaskTxn can't intercept individual property
// writes the way store.Txn's generic Get/Update do for a real relation.
// Instead it treats every object a task reaches via Get as touched (a
// read can't be told apart from the read-modify-write that usually
// follows it in verb code), snapshots it once on first touch so a
// conflicting commit can be undone, and at commit time validates and
// bumps a per-object version stamp through the store package's OCC
// machinery. Two tasks whose ticks interleave on the same object race
// at commit exactly like spec §4.1's snapshot isolation, even though
// the storage underneath the version stamps is still a live mutable
// map.
type TaskTxn struct {
	mu        sync.Mutex
	txn       *store.Txn
	owner     *Store
	touched   map[types.ObjID]bool
	preimages map[types.ObjID]*Object
}

// BeginTaskTxn opens a task-scoped transaction and installs it as the
// store's active transaction, so every subsequent Get call (from
// anywhere in vm/eval/builtins) is recorded into its working set.
// Only one task transaction may be active at a time, matching the
// scheduler's single-goroutine execution model (spec §5: "exactly one
// task's bytecode executes at any instant").
func (s *Store) BeginTaskTxn() *TaskTxn {
	t := &TaskTxn{
		txn:       s.mvcc.Begin(),
		owner:     s,
		touched:   make(map[types.ObjID]bool),
		preimages: make(map[types.ObjID]*Object),
	}
	s.activeTxn.Store(t)
	return t
}

// Activate reinstalls this transaction as its store's active
// transaction after the store served other tasks while this one was
// suspended.
func (t *TaskTxn) Activate() {
	t.owner.activeTxn.Store(t)
}

// Deactivate releases the store's active-transaction slot without
// ending the transaction, so other tasks can run (and commit!) while
// this one is parked in a suspend.
func (t *TaskTxn) Deactivate() {
	t.owner.activeTxn.CompareAndSwap(t, nil)
}

// recordTouch snapshots obj the first time this transaction sees it and
// registers an MVCC read against its version stamp.
func (t *TaskTxn) recordTouch(obj *Object) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.touched[obj.ID] {
		return
	}
	t.touched[obj.ID] = true
	t.preimages[obj.ID] = cloneObject(obj)
	store.Get(t.txn, t.owner.versions, obj.ID)
}

// Commit validates every touched object's version stamp and, if none
// raced with a concurrent commit, bumps them all and returns nil. On
// ErrConflict it restores every touched object to its pre-task snapshot
// before returning, so the caller (the scheduler's retry loop, via
// store.RetryPolicy) can re-run the task from scratch against a fresh
// transaction exactly as spec §4.5 requires.
func (t *TaskTxn) Commit() error {
	t.mu.Lock()
	ids := make([]types.ObjID, 0, len(t.touched))
	for id := range t.touched {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		cur, _ := store.Get(t.txn, t.owner.versions, id)
		store.Update(t.txn, t.owner.versions, id, cur+1)
	}

	err := t.txn.Commit()
	t.owner.activeTxn.CompareAndSwap(t, nil)
	if err != nil {
		t.restorePreimages()
		return err
	}
	return nil
}

// Rollback discards this transaction without committing, restoring
// every touched object to its pre-task snapshot.
func (t *TaskTxn) Rollback() {
	t.txn.Rollback()
	t.owner.activeTxn.CompareAndSwap(t, nil)
	t.restorePreimages()
}

func (t *TaskTxn) restorePreimages() {
	t.mu.Lock()
	preimages := t.preimages
	t.mu.Unlock()

	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	for id, pre := range preimages {
		t.owner.objects[id] = pre
	}
}

// cloneObject deep-copies an object well enough that mutating the
// clone (or continuing to mutate the live object after the clone was
// taken) can never be observed by the other: property values, flags,
// membership slices and verb definitions all get independent storage.
func cloneObject(obj *Object) *Object {
	clone := *obj

	clone.Parents = append([]types.ObjID(nil), obj.Parents...)
	clone.Children = append([]types.ObjID(nil), obj.Children...)
	clone.Contents = append([]types.ObjID(nil), obj.Contents...)
	clone.PropOrder = append([]string(nil), obj.PropOrder...)
	clone.AnonymousChildren = append([]types.ObjID(nil), obj.AnonymousChildren...)

	clone.Properties = make(map[string]*Property, len(obj.Properties))
	for name, prop := range obj.Properties {
		p := *prop
		clone.Properties[name] = &p
	}

	clone.Verbs = make(map[string]*Verb, len(obj.Verbs))
	clone.VerbList = make([]*Verb, len(obj.VerbList))
	cloned := make(map[*Verb]*Verb, len(obj.VerbList))
	for i, verb := range obj.VerbList {
		v := cloneVerb(verb)
		cloned[verb] = v
		clone.VerbList[i] = v
	}
	for name, verb := range obj.Verbs {
		if v, ok := cloned[verb]; ok {
			clone.Verbs[name] = v
		} else {
			clone.Verbs[name] = cloneVerb(verb)
		}
	}

	clone.ChparentChildren = make(map[types.ObjID]bool, len(obj.ChparentChildren))
	for id, v := range obj.ChparentChildren {
		clone.ChparentChildren[id] = v
	}

	return &clone
}

func cloneVerb(v *Verb) *Verb {
	clone := *v
	clone.Names = append([]string(nil), v.Names...)
	clone.Code = append([]string(nil), v.Code...)
	return &clone
}
