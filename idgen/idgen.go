// Package idgen centralizes the random identifiers the daemon hands
// out to workers, tasks, and connections. It wraps google/uuid so
// every caller generates IDs the same way instead of calling
// uuid.New() ad hoc, and gives tests a seam to substitute a
// deterministic generator.
package idgen

import "github.com/google/uuid"

// Generator produces new random identifiers. The zero value is not
// usable; use New() or NewDeterministic() for tests.
type Generator struct {
	next func() uuid.UUID
}

// New returns a Generator backed by crypto-random UUIDs (the same
// source github.com/google/uuid uses by default).
func New() *Generator {
	return &Generator{next: uuid.New}
}

// NewDeterministic returns a Generator that yields ids from seq in
// order, wrapping around once exhausted. Intended for tests that need
// reproducible ids (e.g. asserting dispatch ordering).
func NewDeterministic(seq ...uuid.UUID) *Generator {
	if len(seq) == 0 {
		seq = []uuid.UUID{uuid.Nil}
	}
	i := 0
	return &Generator{next: func() uuid.UUID {
		id := seq[i%len(seq)]
		i++
		return id
	}}
}

// NewID returns the next identifier.
func (g *Generator) NewID() uuid.UUID {
	return g.next()
}

// Default is the package-level generator most callers use; tests that
// need determinism construct their own Generator instead of touching
// this one.
var Default = New()

// NewID returns a new random identifier from the default generator.
func NewID() uuid.UUID {
	return Default.NewID()
}
