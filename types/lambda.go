package types

import "strings"

// LambdaBody is an opaque reference to a compiled function body. The
// types package cannot import vm (vm already imports types), so the
// concrete type stored here is always a *vm.Program; vm.ApplyLambda
// performs the one authoritative type assertion back to it. This
// mirrors how db.Verb.Program is already an opaque *VerbProgram
// pointer carried through types the verb layer doesn't otherwise
// understand.
type LambdaBody interface{}

// LambdaValue is an immutable captured environment plus a reference
// to a compiled body: `fn (x) x + 1 endfn` style first-class
// functions produce one. The parser has no arrow form (`[x] => x + 1`).
type LambdaValue struct {
	Params   []string // positional parameter names, in order
	Optional map[string]Value
	Rest     string // name of the rest ("@args") parameter, "" if none
	Body     LambdaBody

	// CapturedNames/CapturedValues together form the closed-over
	// environment snapshotted at creation time, read-only from the
	// lambda's own frame per spec 4.4 ("lambda's captured locals
	// chained as a read-only outer environment").
	CapturedNames  []string
	CapturedValues []Value

	// DefiningObj/DefiningVerb anchor where `pass` dispatches from
	// when called inside this lambda's body (DESIGN.md Open Question
	// #3: bound at lambda-creation time, not at call time).
	DefiningObj  ObjID
	DefiningVerb string
}

func (l LambdaValue) Type() TypeCode {
	return TYPE_LAMBDA
}

func (l LambdaValue) String() string {
	var b strings.Builder
	b.WriteString("fn (")
	b.WriteString(strings.Join(l.Params, ", "))
	if l.Rest != "" {
		if len(l.Params) > 0 {
			b.WriteString(", ")
		}
		b.WriteString("@" + l.Rest)
	}
	b.WriteString(") ... endfn")
	return b.String()
}

func (l LambdaValue) Truthy() bool {
	return true
}

// Equal follows MOO lambda semantics: lambdas are equal only by
// identity of their compiled body and captured environment contents,
// never structurally recompiled.
func (l LambdaValue) Equal(other Value) bool {
	o, ok := other.(LambdaValue)
	if !ok {
		return false
	}
	if l.Body != o.Body {
		return false
	}
	if len(l.CapturedValues) != len(o.CapturedValues) {
		return false
	}
	for i := range l.CapturedValues {
		if !l.CapturedValues[i].Equal(o.CapturedValues[i]) {
			return false
		}
	}
	return true
}

// Arity reports the inclusive [min,max] argument count this lambda
// accepts; max is -1 when Rest makes it unbounded.
func (l LambdaValue) Arity() (min, max int) {
	min = 0
	for _, p := range l.Params {
		if _, isOpt := l.Optional[p]; !isOpt {
			min++
		}
	}
	if l.Rest != "" {
		return min, -1
	}
	return min, len(l.Params)
}
