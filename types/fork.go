package types

import "time"

// ForkInfo carries everything the scheduler needs to turn a `fork`
// statement's yield into a child task (spec 4.5's DispatchFork), whether
// the fork body came from the tree-walking evaluator (a statement list)
// or the bytecode VM (a slice of a parent Program's bytecode). Exactly
// one of Body's representations is meaningful for a given yield; the
// scheduler type-switches on it.
type ForkInfo struct {
	Delay   time.Duration // Time to wait before running the child
	VarName string        // Name of the fork variable (empty if unnamed)

	// Body is either []parser.Stmt (tree-walker) or [3]interface{}{*Program,
	// startIP, length} (bytecode VM). Typed as interface{} to avoid a
	// types->parser/vm import cycle.
	Body interface{}

	// ForkVecIndex is the bytecode-VM fork's index into its parent
	// Program.ForkVectors, the persisted extraction of this fork's body
	// done once at compile time. -1 for tree-walker forks, which have no
	// fork-vector table. When >= 0, the scheduler should prefer it over
	// re-slicing Body's [startIP, length) range.
	ForkVecIndex int

	ThisObj ObjID
	Player  ObjID
	Caller  ObjID
	Verb    string
	VerbLoc ObjID

	// Variables snapshots the parent's locals at the fork point so the
	// child starts with the same bindings.
	Variables map[string]Value

	// SourceLines holds the fork body's original source text, used only
	// by the textdump writer to persist queued tasks (db/writer_task.go).
	SourceLines []string
}
