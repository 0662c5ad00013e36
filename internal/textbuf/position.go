package textbuf

import "cothread/internal/clock"

// digitBase is the exclusive upper bound for position digits. New digits are
// chosen by midpoint, so a level holds roughly 32 halvings before the
// generator descends to the next level.
const digitBase = uint64(1) << 32

// Segment is one level of a dense position identifier. Ordering is by digit,
// with the generating replica breaking ties.
type Segment struct {
	Digit   uint64          `json:"d"`
	Replica clock.ReplicaID `json:"r"`
}

// Position is a dense, totally ordered identifier for one buffer element.
// Positions compare level by level; a strict prefix orders before its
// extensions. Positions are never reused, so the order of elements is the
// same on every replica regardless of delivery order.
type Position []Segment

func comparePositions(a, b Position) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i].Digit != b[i].Digit {
			if a[i].Digit < b[i].Digit {
				return -1
			}
			return 1
		}
		if a[i].Replica != b[i].Replica {
			if a[i].Replica < b[i].Replica {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// betweenPositions returns a fresh position strictly between left and right.
// A nil left means the start of the document, a nil right means the end.
// The caller guarantees left < right. Generated positions always end in a
// segment with a nonzero digit; zero-digit segments only ever appear as
// interior padding, which keeps prefix comparisons unambiguous.
func betweenPositions(left, right Position, replica clock.ReplicaID) Position {
	out := make(Position, 0, len(left)+1)
	leftBound, rightBound := true, true
	for depth := 0; ; depth++ {
		low := uint64(0)
		var leftSeg Segment
		haveLeft := leftBound && depth < len(left)
		if haveLeft {
			leftSeg = left[depth]
			low = leftSeg.Digit
		}
		high := digitBase
		var rightSeg Segment
		haveRight := rightBound && depth < len(right)
		if haveRight {
			rightSeg = right[depth]
			high = rightSeg.Digit
		}

		if high > low+1 {
			mid := low + (high-low)/2
			return append(out, Segment{Digit: mid, Replica: replica})
		}

		// No room at this level. Adopt a digit and descend.
		if haveLeft {
			out = append(out, leftSeg)
			if haveRight && (leftSeg.Digit < rightSeg.Digit ||
				(leftSeg.Digit == rightSeg.Digit && leftSeg.Replica < rightSeg.Replica)) {
				rightBound = false
			}
		} else {
			out = append(out, Segment{Digit: low})
			leftBound = false
			if haveRight && (low < rightSeg.Digit || rightSeg.Replica > 0) {
				rightBound = false
			}
		}
	}
}

func clonePosition(p Position) Position {
	out := make(Position, len(p))
	copy(out, p)
	return out
}
