package vm

import (
	"moocore/types"
)

// Program represents compiled bytecode
type Program struct {
	Code      []byte        // Bytecode instructions
	Constants []types.Value // Constant pool
	VarNames  []string      // Variable name table
	LineInfo  []LineEntry   // Source line mapping
	NumLocals int           // Number of local variables
	Source    []string      // Source lines (1-based by index+1), optional

	// ForkVectors holds one entry per fork statement in the program,
	// extracted once at compile time by AddForkVector and referenced by
	// index from the OP_FORK operand. Persisting the body this way means
	// running a `fork` inside a loop re-reads the same []byte on every
	// iteration instead of re-slicing Code out of the live frame each time.
	ForkVectors [][]byte

	// forkVectorLines mirrors ForkVectors: the re-based LineInfo for each
	// persisted body, so a forked task's tracebacks still resolve to the
	// right source line.
	forkVectorLines [][]LineEntry

	// Lambdas holds one template per lambda literal compiled in this
	// program, referenced by index from the OP_MAKE_LAMBDA operand.
	Lambdas []*LambdaTemplate
}

// LambdaTemplate is a compiled `fn (...) ... endfn` literal: its own
// body program plus the parameter and outer-scope capture names
// OP_MAKE_LAMBDA needs to turn it into a types.LambdaValue closure at
// the point the literal is evaluated.
type LambdaTemplate struct {
	Params   []string
	Rest     string
	Body     *Program
	Captures []string // enclosing-scope local names snapshotted as the closure environment
}

// LineEntry maps bytecode IP to source line
type LineEntry struct {
	StartIP int // First IP for this line
	Line    int // Source line number
}

// LineForIP returns the source line number for a given IP
func (p *Program) LineForIP(ip int) int {
	for i := len(p.LineInfo) - 1; i >= 0; i-- {
		if p.LineInfo[i].StartIP <= ip {
			return p.LineInfo[i].Line
		}
	}
	return 0
}

// LoopType represents the type of loop
type LoopType int

const (
	LoopRange LoopType = iota
	LoopList
	LoopMap
)

// LoopState tracks the state of a loop during execution
type LoopState struct {
	Type     LoopType    // Range, List, or Map
	StartIP  int         // Loop body start
	EndIP    int         // After loop
	Label    string      // Optional name
	Iterator interface{} // Current position
	End      interface{} // End value/index
}

// HandlerType represents the type of exception handler
type HandlerType int

const (
	HandlerExcept HandlerType = iota
	HandlerFinally
)

// Handler represents an exception handler
type Handler struct {
	Type      HandlerType       // Except or Finally
	HandlerIP int               // Handler code location
	EndIP     int               // End of handler block
	Codes     []types.ErrorCode // Errors to catch (except)
	VarIndex  int               // Variable for error (except, -1 if none)
}

// ExtractForkBody creates a new sub-program from a bytecode range within an
// existing program. The sub-program shares the same constants and variable
// names but has its own code slice (the fork body + OP_RETURN_NONE).
func (p *Program) ExtractForkBody(bodyIP, bodyLen int) *Program {
	// Extract the fork body bytecode
	code := make([]byte, bodyLen+1) // +1 for OP_RETURN_NONE
	copy(code, p.Code[bodyIP:bodyIP+bodyLen])
	code[bodyLen] = byte(OP_RETURN_NONE) // Implicit return at end of fork body

	// Adjust line info for the sub-program
	var lineInfo []LineEntry
	for _, entry := range p.LineInfo {
		if entry.StartIP >= bodyIP && entry.StartIP < bodyIP+bodyLen {
			lineInfo = append(lineInfo, LineEntry{
				StartIP: entry.StartIP - bodyIP,
				Line:    entry.Line,
			})
		}
	}

	return &Program{
		Code:      code,
		Constants: p.Constants, // Share constants
		VarNames:  p.VarNames,  // Share variable names
		LineInfo:  lineInfo,
		NumLocals: p.NumLocals, // Same local count (inherit all vars)
		Source:    p.Source,
	}
}

// AddForkVector extracts Code[bodyIP:bodyIP+bodyLen] plus a trailing
// OP_RETURN_NONE into the program's persisted ForkVectors table and
// returns its index, for the compiler to bake into the OP_FORK operand.
func (p *Program) AddForkVector(bodyIP, bodyLen int) int {
	code := make([]byte, bodyLen+1)
	copy(code, p.Code[bodyIP:bodyIP+bodyLen])
	code[bodyLen] = byte(OP_RETURN_NONE)

	var lineInfo []LineEntry
	for _, entry := range p.LineInfo {
		if entry.StartIP >= bodyIP && entry.StartIP < bodyIP+bodyLen {
			lineInfo = append(lineInfo, LineEntry{
				StartIP: entry.StartIP - bodyIP,
				Line:    entry.Line,
			})
		}
	}

	idx := len(p.ForkVectors)
	p.ForkVectors = append(p.ForkVectors, code)
	p.forkVectorLines = append(p.forkVectorLines, lineInfo)
	return idx
}

// ForkVectorProgram builds the sub-program a forked task executes from
// persisted fork vector idx, sharing the parent's constants and variable
// names the same way ExtractForkBody's live extraction does. Returns nil
// if idx is out of range.
func (p *Program) ForkVectorProgram(idx int) *Program {
	if idx < 0 || idx >= len(p.ForkVectors) {
		return nil
	}
	return &Program{
		Code:      p.ForkVectors[idx],
		Constants: p.Constants,
		VarNames:  p.VarNames,
		LineInfo:  p.forkVectorLines[idx],
		NumLocals: p.NumLocals,
		Source:    p.Source,
	}
}

// Matches checks if a handler matches an error code
func (h *Handler) Matches(errCode types.ErrorCode) bool {
	if h.Type != HandlerExcept {
		return false
	}

	// Empty codes means catch all
	if len(h.Codes) == 0 {
		return true
	}

	// Check if error code matches
	for _, code := range h.Codes {
		if code == errCode {
			return true
		}
	}

	return false
}
