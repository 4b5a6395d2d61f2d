package vm

import (
	"moocore/builtins"
	"moocore/db"
	"moocore/types"
)

// BuildVMRegistry constructs the shared builtins.Registry used by
// bytecode-VM task execution (as opposed to the tree-walking Evaluator's
// own per-instance registry built by NewEvaluatorWithStore). It registers
// the same store-backed builtin groups and additionally wires run_gc()/
// gc_stats() to the real anonymous-object mark-sweep in this package.
func BuildVMRegistry(store *db.Store) *builtins.Registry {
	registry := builtins.NewRegistry()
	registry.RegisterObjectBuiltins(store)
	registry.RegisterPropertyBuiltins(store)
	registry.RegisterVerbBuiltins(store)
	registry.RegisterCryptoBuiltins(store)
	registry.RegisterSystemBuiltins(store)

	builtins.SetGCFunc(func(ctx *types.TaskContext) int {
		return AutoRecycleOrphanAnonymousSince(store, registry, ctx, 0)
	})

	return registry
}
