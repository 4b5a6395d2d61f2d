package vm

import (
	"fmt"

	"moocore/types"
)

// executeMakeLambda handles OP_MAKE_LAMBDA: build a types.LambdaValue
// closure from the current program's LambdaTemplate, snapshotting the
// named captures out of the currently executing frame.
func (vm *VM) executeMakeLambda() error {
	idx := int(vm.ReadByte())

	frame := vm.CurrentFrame()
	if frame == nil || frame.Program == nil {
		return fmt.Errorf("internal error: no frame for lambda literal")
	}
	if idx < 0 || idx >= len(frame.Program.Lambdas) {
		return fmt.Errorf("internal error: lambda template index %d out of range", idx)
	}
	tmpl := frame.Program.Lambdas[idx]

	capturedNames := make([]string, 0, len(tmpl.Captures))
	capturedValues := make([]types.Value, 0, len(tmpl.Captures))
	for _, name := range tmpl.Captures {
		for i, varName := range frame.Program.VarNames {
			if varName == name {
				capturedNames = append(capturedNames, name)
				capturedValues = append(capturedValues, frame.Locals[i])
				break
			}
		}
	}

	lambda := types.LambdaValue{
		Params:         tmpl.Params,
		Rest:           tmpl.Rest,
		Body:           tmpl.Body,
		CapturedNames:  capturedNames,
		CapturedValues: capturedValues,
		DefiningObj:    frame.VerbLoc,
		DefiningVerb:   frame.Verb,
	}
	vm.Push(lambda)
	return nil
}

// executeCallLambda handles OP_CALL_LAMBDA: pop argc args (or a spliced
// list when argc == 0xFF), pop the callee, and apply it as a function.
func (vm *VM) executeCallLambda() error {
	argc := int(vm.ReadByte())

	var args []types.Value
	if argc == 0xFF {
		listVal := vm.Pop()
		list, ok := listVal.(types.ListValue)
		if !ok {
			return fmt.Errorf("E_TYPE: expected list for spliced call args")
		}
		args = make([]types.Value, list.Len())
		for i := 1; i <= list.Len(); i++ {
			args[i-1] = list.Get(i)
		}
	} else {
		args = vm.PopN(argc)
	}

	calleeVal := vm.Pop()
	lambda, ok := calleeVal.(types.LambdaValue)
	if !ok {
		return fmt.Errorf("E_TYPE: call target is not a function")
	}

	return vm.ApplyLambda(lambda, args)
}

// ApplyLambda pushes a new StackFrame executing lambda's compiled body,
// with args bound positionally to its parameters (and any remainder
// collected into @rest), and the closed-over environment pre-populated
// from lambda's captured names/values. The VM's normal Run loop then
// executes the pushed frame exactly like a verb call frame; the body's
// OP_RETURN/OP_RETURN_NONE pops it via vm.Return, leaving the result on
// the caller's stack.
func (vm *VM) ApplyLambda(lambda types.LambdaValue, args []types.Value) error {
	prog, ok := lambda.Body.(*Program)
	if !ok {
		return fmt.Errorf("internal error: lambda body is not a compiled program")
	}

	min, max := lambda.Arity()
	if len(args) < min || (max >= 0 && len(args) > max) {
		return fmt.Errorf("E_ARGS: wrong number of arguments to lambda")
	}

	var callerObj, player types.ObjID
	if current := vm.CurrentFrame(); current != nil {
		callerObj = current.This
		player = current.Player
	}

	frame := &StackFrame{
		Program:     prog,
		IP:          0,
		BasePointer: vm.SP,
		Locals:      make([]types.Value, prog.NumLocals),
		This:        lambda.DefiningObj,
		Player:      player,
		Verb:        lambda.DefiningVerb,
		Caller:      callerObj,
		VerbLoc:     lambda.DefiningObj,
		Args:        args,
		LoopStack:   make([]LoopState, 0, 4),
		ExceptStack: make([]Handler, 0, 4),
	}
	for i := range frame.Locals {
		frame.Locals[i] = types.IntValue{Val: 0}
	}

	argIdx := 0
	for _, name := range lambda.Params {
		var val types.Value
		if argIdx < len(args) {
			val = args[argIdx]
			argIdx++
		} else if def, isOpt := lambda.Optional[name]; isOpt {
			val = def
		} else {
			val = types.NewInt(0)
		}
		setLocalByName(frame, prog, name, val)
	}
	if lambda.Rest != "" {
		rest := append([]types.Value(nil), args[argIdx:]...)
		setLocalByName(frame, prog, lambda.Rest, types.NewList(rest))
	}

	// Closed-over environment: read-only outer locals snapshotted at
	// lambda-creation time (spec 4.4).
	for i, name := range lambda.CapturedNames {
		setLocalByName(frame, prog, name, lambda.CapturedValues[i])
	}

	vm.Frames = append(vm.Frames, frame)
	return nil
}
