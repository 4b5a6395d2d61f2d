package builtins

import (
	"moocore/types"
	"runtime"
	"sync/atomic"
)

// ============================================================================
// GARBAGE COLLECTION BUILTINS
// ============================================================================

// gcFunc is registered by package vm (SetGCFunc) to run the real
// anonymous-object mark-sweep (vm.AutoRecycleOrphanAnonymousSince). This
// package cannot import vm directly (vm already imports builtins), so the
// callback is wired in the same way SetConnectionManager/SetDumpFunc are.
var gcFunc func(ctx *types.TaskContext) int

// SetGCFunc registers the mark-sweep entry point run_gc() dispatches to.
// Called once during evaluator construction; until it is, run_gc() falls
// back to a bare runtime.GC() and records a zero-object cycle.
func SetGCFunc(f func(ctx *types.TaskContext) int) {
	gcFunc = f
}

// gcStats accumulates real mark-sweep results across every cycle the
// scheduler runs (not just explicit run_gc() calls), so gc_stats() reports
// the interpreter's actual behavior instead of a hardcoded zero map.
var gcStats struct {
	cycles         int64
	totalCollected int64
	lastCollected  int64
	lastReachable  int64
}

// RecordGCCycle is called by vm.AutoRecycleOrphanAnonymousSince after every
// sweep, whether or not it recycled anything, so cycle_count tracks how
// often the collector actually ran.
func RecordGCCycle(collected int, reachable uint64) {
	atomic.AddInt64(&gcStats.cycles, 1)
	atomic.AddInt64(&gcStats.totalCollected, int64(collected))
	atomic.StoreInt64(&gcStats.lastCollected, int64(collected))
	atomic.StoreInt64(&gcStats.lastReachable, int64(reachable))
}

// builtinRunGC implements run_gc(). Triggers an immediate anonymous-object
// mark-sweep cycle (wizard only) via the callback SetGCFunc registered, and
// returns the number of objects it recycled.
func builtinRunGC(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 0 {
		return types.Err(types.E_ARGS)
	}

	if !ctx.IsWizard {
		return types.Err(types.E_PERM)
	}

	if gcFunc == nil {
		// No mark-sweep wired up yet (e.g. evaluator not fully constructed);
		// still nudge Go's own collector since anonymous objects holding Go
		// memory benefit from it even without a cycle recorded.
		runtime.GC()
		return types.Ok(types.NewInt(0))
	}

	collected := gcFunc(ctx)
	return types.Ok(types.NewInt(int64(collected)))
}

// GCStatsSnapshot returns the current GC counters for callers that have
// no TaskContext to invoke gc_stats() through — currently the admin
// HTTP surface (server.AdminHandler's /gc_stats route).
func GCStatsSnapshot() map[string]int64 {
	return map[string]int64{
		"cycles":         atomic.LoadInt64(&gcStats.cycles),
		"collected":      atomic.LoadInt64(&gcStats.totalCollected),
		"last_collected": atomic.LoadInt64(&gcStats.lastCollected),
		"last_reachable": atomic.LoadInt64(&gcStats.lastReachable),
	}
}

// builtinGCStats implements gc_stats(). Returns a map of GC statistics
// (wizard only): cycle_count and collected counts reflect the real
// anonymous-object mark-sweep (vm.AutoRecycleOrphanAnonymousSince); the
// ToastStunt tri-color keys are kept for client compatibility but this
// collector doesn't do incremental tri-color marking, so they stay zero.
func builtinGCStats(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 0 {
		return types.Err(types.E_ARGS)
	}

	if !ctx.IsWizard {
		return types.Err(types.E_PERM)
	}

	result := types.NewEmptyMap()
	result = result.Set(types.NewStr("green"), types.NewInt(0))
	result = result.Set(types.NewStr("yellow"), types.NewInt(0))
	result = result.Set(types.NewStr("black"), types.NewInt(0))
	result = result.Set(types.NewStr("gray"), types.NewInt(0))
	result = result.Set(types.NewStr("white"), types.NewInt(0))
	result = result.Set(types.NewStr("purple"), types.NewInt(0))
	result = result.Set(types.NewStr("pink"), types.NewInt(0))

	result = result.Set(types.NewStr("cycle_count"), types.NewInt(atomic.LoadInt64(&gcStats.cycles)))
	result = result.Set(types.NewStr("collected"), types.NewInt(atomic.LoadInt64(&gcStats.totalCollected)))
	result = result.Set(types.NewStr("last_collected"), types.NewInt(atomic.LoadInt64(&gcStats.lastCollected)))
	result = result.Set(types.NewStr("last_reachable"), types.NewInt(atomic.LoadInt64(&gcStats.lastReachable)))

	return types.Ok(result)
}
