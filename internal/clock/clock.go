// Package clock provides the logical clocks that order replicated document
// operations: Lamport timestamps scoped to a replica, and version vectors
// summarizing which timestamps a replica has observed.
package clock

import "fmt"

// ReplicaID identifies a single replica of a document.
type ReplicaID uint16

// Lamport is a logical timestamp. Timestamps are totally ordered by value,
// with the replica id breaking ties.
type Lamport struct {
	Replica ReplicaID `json:"replica"`
	Value   uint32    `json:"value"`
}

// Cmp returns -1, 0 or 1 ordering l relative to other.
func (l Lamport) Cmp(other Lamport) int {
	switch {
	case l.Value < other.Value:
		return -1
	case l.Value > other.Value:
		return 1
	case l.Replica < other.Replica:
		return -1
	case l.Replica > other.Replica:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether l is the zero timestamp.
func (l Lamport) IsZero() bool {
	return l.Replica == 0 && l.Value == 0
}

func (l Lamport) String() string {
	return fmt.Sprintf("%d.%d", l.Replica, l.Value)
}

// MarshalText encodes l as "replica.value" so timestamps can key JSON maps.
func (l Lamport) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses the "replica.value" form produced by MarshalText.
func (l *Lamport) UnmarshalText(text []byte) error {
	var replica, value uint32
	if _, err := fmt.Sscanf(string(text), "%d.%d", &replica, &value); err != nil {
		return fmt.Errorf("malformed timestamp %q: %w", text, err)
	}
	l.Replica = ReplicaID(replica)
	l.Value = value
	return nil
}

// Clock generates Lamport timestamps for one replica.
type Clock struct {
	Replica ReplicaID
	value   uint32
}

// NewClock returns a clock for the given replica. The first Tick yields
// value 1; value 0 is reserved for construction-time state shared by all
// replicas.
func NewClock(replica ReplicaID) *Clock {
	return &Clock{Replica: replica}
}

// Tick advances the clock and returns a fresh timestamp.
func (c *Clock) Tick() Lamport {
	c.value++
	return Lamport{Replica: c.Replica, Value: c.value}
}

// Observe advances the clock past a remotely generated timestamp so that
// subsequently generated timestamps order after it.
func (c *Clock) Observe(t Lamport) {
	if t.Value > c.value {
		c.value = t.Value
	}
}

// Global is a version vector: the maximum timestamp value observed from each
// replica. The zero value is usable and observes nothing.
type Global map[ReplicaID]uint32

// Observe records t in the vector.
func (g Global) Observe(t Lamport) {
	if t.Value > g[t.Replica] {
		g[t.Replica] = t.Value
	}
}

// Observed reports whether t has been recorded. The zero timestamp is
// always observed.
func (g Global) Observed(t Lamport) bool {
	return g[t.Replica] >= t.Value
}

// ObservedAll reports whether every timestamp summarized by other has been
// recorded in g.
func (g Global) ObservedAll(other Global) bool {
	for replica, value := range other {
		if g[replica] < value {
			return false
		}
	}
	return true
}

// Join merges other into g.
func (g Global) Join(other Global) {
	for replica, value := range other {
		if value > g[replica] {
			g[replica] = value
		}
	}
}

// Clone returns an independent copy of g.
func (g Global) Clone() Global {
	out := make(Global, len(g))
	for replica, value := range g {
		out[replica] = value
	}
	return out
}
