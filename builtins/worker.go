package builtins

import (
	"context"
	"time"

	"moocore/task"
	"moocore/types"
	"moocore/worker"
)

// builtinWorkerRequest: worker_request(type, args [, timeout]) → value
// Dispatches a request to the least-loaded attached worker of the given
// type and suspends the current task until a worker replies, the
// request times out, or the worker detaches (spec 4.7). On any of the
// failure paths, the task resumes with a pushed error value rather than
// an in-VM raise (spec 7's "pushed-error style"), matching suspend()'s
// existing resume mechanism rather than adding a second one.
func builtinWorkerRequest(ctx *types.TaskContext, args []types.Value, hub *worker.Hub) types.Result {
	if len(args) < 2 || len(args) > 3 {
		return types.Err(types.E_ARGS)
	}

	workerType, ok := args[0].(types.SymValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}

	list, ok := args[1].(types.ListValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}
	reqArgs := make([]types.Value, list.Len())
	for i := 1; i <= list.Len(); i++ {
		reqArgs[i-1] = list.Get(i)
	}

	timeout := 30 * time.Second
	if len(args) == 3 {
		switch v := args[2].(type) {
		case types.IntValue:
			timeout = time.Duration(v.Val) * time.Second
		case types.FloatValue:
			timeout = time.Duration(v.Val * float64(time.Second))
		default:
			return types.Err(types.E_TYPE)
		}
	}

	if ctx.Task == nil {
		return types.Err(types.E_INVARG)
	}
	t, ok := ctx.Task.(*task.Task)
	if !ok {
		return types.Err(types.E_INVARG)
	}

	if err := hub.Dispatch(context.Background(), t.ID, ctx.Programmer, workerType, reqArgs, timeout); err != nil {
		if de, ok := err.(worker.DomainError); ok {
			return types.Err(de.ErrorCode())
		}
		return types.Err(types.E_WORKERREQUEST)
	}

	// The dispatch succeeded: the task now waits on the hub's resume
	// callback, not a timed auto-wake, so suspend with seconds=0 (no
	// WakeTime) and let FlowSuspend do the actual yield.
	task.GetManager().SuspendTask(t, 0)
	return types.Result{Flow: types.FlowSuspend}
}
