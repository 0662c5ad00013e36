package clock

import "testing"

// TestLamportOrdering tests timestamp comparison by value then replica.
func TestLamportOrdering(t *testing.T) {
	a := Lamport{Replica: 1, Value: 5}
	b := Lamport{Replica: 2, Value: 5}
	c := Lamport{Replica: 1, Value: 6}

	if a.Cmp(b) != -1 {
		t.Errorf("expected %v < %v", a, b)
	}
	if c.Cmp(b) != 1 {
		t.Errorf("expected %v > %v", c, b)
	}
	if a.Cmp(a) != 0 {
		t.Errorf("expected %v == %v", a, a)
	}
}

// TestClockTickAndObserve tests that ticks advance past observed timestamps.
func TestClockTickAndObserve(t *testing.T) {
	c := NewClock(1)
	first := c.Tick()
	if first != (Lamport{Replica: 1, Value: 1}) {
		t.Fatalf("unexpected first tick: %v", first)
	}

	c.Observe(Lamport{Replica: 2, Value: 10})
	next := c.Tick()
	if next.Value != 11 {
		t.Errorf("expected tick past observed value, got %v", next)
	}

	// Observing an older timestamp must not rewind the clock.
	c.Observe(Lamport{Replica: 3, Value: 2})
	if got := c.Tick(); got.Value != 12 {
		t.Errorf("clock rewound: %v", got)
	}
}

// TestGlobalObservation tests version vector observation semantics.
func TestGlobalObservation(t *testing.T) {
	g := Global{}
	if !g.Observed(Lamport{}) {
		t.Error("zero timestamp should always be observed")
	}

	g.Observe(Lamport{Replica: 1, Value: 3})
	if !g.Observed(Lamport{Replica: 1, Value: 2}) {
		t.Error("expected earlier value from same replica to be observed")
	}
	if g.Observed(Lamport{Replica: 1, Value: 4}) {
		t.Error("did not expect later value to be observed")
	}
	if g.Observed(Lamport{Replica: 2, Value: 1}) {
		t.Error("did not expect other replica to be observed")
	}
}

// TestGlobalJoinAndObservedAll tests vector merge and dominance checks.
func TestGlobalJoinAndObservedAll(t *testing.T) {
	a := Global{1: 5, 2: 1}
	b := Global{2: 3, 3: 7}

	if a.ObservedAll(b) {
		t.Error("a should not dominate b")
	}

	a.Join(b)
	if !a.ObservedAll(b) {
		t.Error("a should dominate b after join")
	}
	if a[1] != 5 || a[2] != 3 || a[3] != 7 {
		t.Errorf("unexpected join result: %v", a)
	}

	clone := a.Clone()
	clone[1] = 99
	if a[1] != 5 {
		t.Error("clone should not alias the original")
	}
}
