// Package dice rolls dice for non-player combatants.
//
// Player dice are never rolled here: the combat engine only accepts player
// results from the client. Everything in this package is deterministic with
// respect to its seed, so an encounter can be replayed from its log.
package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
)

// ErrInvalidSides indicates a die with fewer than one side.
var ErrInvalidSides = errors.New("dice must have positive sides")

// Roller produces a deterministic sequence of die results.
type Roller struct {
	rng *rand.Rand
}

// New returns a roller seeded with seed.
func New(seed int64) *Roller {
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

// Roll rolls one die with the given number of sides.
func (r *Roller) Roll(sides int) (int, error) {
	if sides <= 0 {
		return 0, ErrInvalidSides
	}
	return r.rng.Intn(sides) + 1, nil
}

// D20 rolls a twenty-sided die.
func (r *Roller) D20() int {
	return r.rng.Intn(20) + 1
}

// Pick returns an index in [0, n). n must be positive.
func (r *Roller) Pick(n int) int {
	return r.rng.Intn(n)
}

// SeedFor derives a stable seed from the parts that identify one turn.
func SeedFor(parts ...any) int64 {
	h := fnv.New64a()
	for _, p := range parts {
		fmt.Fprintf(h, "%v|", p)
	}
	return int64(h.Sum64())
}

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}
