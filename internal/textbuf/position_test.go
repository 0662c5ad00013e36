package textbuf

import (
	"math/rand"
	"sort"
	"testing"

	"cothread/internal/clock"
)

// TestBetweenPositionsOrdering tests that generated positions always land
// strictly between their bounds, even under repeated narrowing.
func TestBetweenPositionsOrdering(t *testing.T) {
	left := Position(nil)
	right := Position(nil)

	// Repeatedly insert at the front: right bound tightens every time.
	prev := Position(nil)
	for i := 0; i < 200; i++ {
		p := betweenPositions(left, prev, 1)
		if prev != nil && comparePositions(p, prev) >= 0 {
			t.Fatalf("iteration %d: %v not before %v", i, p, prev)
		}
		prev = p
	}

	// And at the back: left bound tightens.
	prev = nil
	for i := 0; i < 200; i++ {
		p := betweenPositions(prev, right, 1)
		if prev != nil && comparePositions(p, prev) <= 0 {
			t.Fatalf("iteration %d: %v not after %v", i, p, prev)
		}
		prev = p
	}
}

// TestBetweenPositionsRandomized tests order invariants over random
// insertion points and replicas.
func TestBetweenPositionsRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	positions := []Position{
		betweenPositions(nil, nil, 0),
	}

	for i := 0; i < 500; i++ {
		ix := rng.Intn(len(positions) + 1)
		var left, right Position
		if ix > 0 {
			left = positions[ix-1]
		}
		if ix < len(positions) {
			right = positions[ix]
		}
		p := betweenPositions(left, right, clock.ReplicaID(rng.Intn(4)))
		if left != nil && comparePositions(p, left) <= 0 {
			t.Fatalf("generated position not after left bound")
		}
		if right != nil && comparePositions(p, right) >= 0 {
			t.Fatalf("generated position not before right bound")
		}
		positions = append(positions[:ix], append([]Position{p}, positions[ix:]...)...)
	}

	if !sort.SliceIsSorted(positions, func(i, j int) bool {
		return comparePositions(positions[i], positions[j]) < 0
	}) {
		t.Fatal("positions lost their total order")
	}
}
