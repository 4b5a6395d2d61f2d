package vm

import (
	"moocore/builtins"
	"moocore/db"
	"moocore/types"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// collectAnonymousRefsForGC finds anonymous object references inside value
// trees and adds their ids to out, a mark-phase visited/root set. ObjID is
// int64 (negative ids never occur for real objects), so the set is backed
// by roaring64 rather than the 32-bit roaring.Bitmap.
func collectAnonymousRefsForGC(v types.Value, out *roaring64.Bitmap) {
	switch val := v.(type) {
	case types.ObjValue:
		if val.IsAnonymous() {
			out.Add(uint64(val.ID()))
		}
	case types.ListValue:
		for _, elem := range val.Elements() {
			collectAnonymousRefsForGC(elem, out)
		}
	case types.MapValue:
		for _, pair := range val.Pairs() {
			collectAnonymousRefsForGC(pair[0], out)
			collectAnonymousRefsForGC(pair[1], out)
		}
	}
}

// AutoRecycleOrphanAnonymous recycles anonymous objects that are not reachable
// from any persistent non-anonymous object's properties.
func (e *Evaluator) AutoRecycleOrphanAnonymous(ctx *types.TaskContext) {
	AutoRecycleOrphanAnonymousWith(e.store, e.builtins, ctx)
}

// AutoRecycleOrphanAnonymousWith recycles anonymous objects that are not reachable
// from any persistent non-anonymous object's properties.
func AutoRecycleOrphanAnonymousWith(store *db.Store, registry *builtins.Registry, ctx *types.TaskContext) {
	AutoRecycleOrphanAnonymousSince(store, registry, ctx, 0)
}

// AutoRecycleOrphanAnonymousSince performs orphan-anonymous collection but only
// recycles anonymous objects with IDs >= minID. This lets task/eval callers
// collect objects created during the current execution without sweeping
// pre-existing database state. It returns the number of objects recycled
// this cycle and always reports the cycle to builtins.RecordGCCycle, so
// gc_stats()'s cycle_count reflects every sweep the scheduler runs, not just
// ones invoked explicitly via run_gc().
func AutoRecycleOrphanAnonymousSince(store *db.Store, registry *builtins.Registry, ctx *types.TaskContext, minID types.ObjID) int {
	if ctx == nil || store == nil || registry == nil {
		return 0
	}

	// Build reachability set starting from non-anonymous persistent objects.
	// Backed by roaring64 rather than a plain map: the mark-phase visited/root
	// set over the object-id space is exactly the sparse, compressible
	// bitset roaring is built for.
	reachable := roaring64.New()
	queue := make([]types.ObjID, 0)

	enqueueRefs := func(v types.Value) {
		refs := roaring64.New()
		collectAnonymousRefsForGC(v, refs)
		it := refs.Iterator()
		for it.HasNext() {
			queue = append(queue, types.ObjID(it.Next()))
		}
	}

	for _, obj := range store.All() {
		if obj == nil || obj.Recycled || obj.Flags.Has(db.FlagInvalid) || obj.Anonymous {
			continue
		}
		for _, prop := range obj.Properties {
			if prop == nil {
				continue
			}
			enqueueRefs(prop.Value)
		}
	}

	// Traverse anonymous-object property graphs.
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if reachable.Contains(uint64(id)) {
			continue
		}

		obj := store.GetUnsafe(id)
		if obj == nil || obj.Recycled || obj.Flags.Has(db.FlagInvalid) || !obj.Anonymous {
			continue
		}

		reachable.Add(uint64(id))
		for _, prop := range obj.Properties {
			if prop == nil {
				continue
			}
			enqueueRefs(prop.Value)
		}
	}

	// Recycle all currently-valid anonymous objects that are unreachable.
	candidates := make([]types.ObjID, 0)
	for _, obj := range store.GetAnonymousObjects() {
		if obj == nil || obj.Recycled || obj.Flags.Has(db.FlagInvalid) {
			continue
		}
		if obj.ID < minID {
			continue
		}
		// Never auto-recycle player objects even if they carry the 'a' flag.
		if obj.Flags.Has(db.FlagUser) {
			continue
		}
		if reachable.Contains(uint64(obj.ID)) {
			continue
		}
		candidates = append(candidates, obj.ID)
	}

	if len(candidates) == 0 {
		builtins.RecordGCCycle(0, reachable.GetCardinality())
		return 0
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	recycleFn, ok := registry.Get("recycle")
	if !ok {
		builtins.RecordGCCycle(0, reachable.GetCardinality())
		return 0
	}

	for _, id := range candidates {
		// Best-effort cleanup: recycle() handles missing/already-invalid objects.
		_ = recycleFn(ctx, []types.Value{types.NewAnon(id)})
	}

	builtins.RecordGCCycle(len(candidates), reachable.GetCardinality())
	return len(candidates)
}
