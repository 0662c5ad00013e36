package textbuf

import "cothread/internal/clock"

// Side says which side of its element an anchor sticks to. A Before anchor
// resolves in front of the element and moves right when text is inserted at
// its offset; an After anchor resolves behind the element and stays put.
type Side string

const (
	SideBefore Side = "before"
	SideAfter  Side = "after"
)

type anchorKind string

const (
	anchorMin     anchorKind = "min"
	anchorMax     anchorKind = "max"
	anchorElement anchorKind = "element"
)

// Anchor is a stable position in a buffer. It survives concurrent edits:
// the element it references keeps its identity through deletion (tombstone)
// and undo, so an anchor can become invalid and later valid again.
type Anchor struct {
	Kind anchorKind `json:"kind"`
	Elem ElementID  `json:"elem,omitempty"`
	Side Side       `json:"side,omitempty"`
}

// AnchorMin is valid in every buffer and resolves to offset 0.
var AnchorMin = Anchor{Kind: anchorMin}

// AnchorMax is valid in every buffer and resolves to the buffer length.
var AnchorMax = Anchor{Kind: anchorMax}

// Timestamp returns the edit operation the anchor's element belongs to.
// The sentinels return the zero timestamp, which every replica has observed.
func (a Anchor) Timestamp() clock.Lamport {
	if a.Kind != anchorElement {
		return clock.Lamport{}
	}
	return a.Elem.Op
}

// AnchorRange is a pair of anchors delimiting a span of text.
type AnchorRange struct {
	Start Anchor `json:"start"`
	End   Anchor `json:"end"`
}

// AnchorBefore returns an anchor that keeps text inserted at offset on its
// right: it attaches behind the element preceding offset.
func (b *Buffer) AnchorBefore(offset int) Anchor {
	if offset <= 0 {
		return AnchorMin
	}
	elem := b.visibleElement(offset - 1)
	if elem == nil {
		return AnchorMax
	}
	return Anchor{Kind: anchorElement, Elem: elem.id, Side: SideAfter}
}

// AnchorAfter returns an anchor that keeps text inserted at offset on its
// left: it attaches in front of the element at offset.
func (b *Buffer) AnchorAfter(offset int) Anchor {
	elem := b.visibleElement(offset)
	if elem == nil {
		return AnchorMax
	}
	return Anchor{Kind: anchorElement, Elem: elem.id, Side: SideBefore}
}

// Offset resolves an anchor to its current offset. Anchors on deleted
// elements resolve to the deletion boundary.
func (b *Buffer) Offset(a Anchor) int {
	switch a.Kind {
	case anchorMin:
		return 0
	case anchorMax:
		return b.visibleLen
	}
	elem, ok := b.byID[a.Elem]
	if !ok {
		return 0
	}
	offset := b.visibleCountBefore(elem)
	if a.Side == SideAfter && b.isVisible(elem) {
		offset++
	}
	return offset
}

// IsValidAnchor reports whether the anchor's element is present and visible.
// Deleting the element (or undoing its insertion) invalidates the anchor;
// undoing the deletion restores it.
func (b *Buffer) IsValidAnchor(a Anchor) bool {
	if a.Kind != anchorElement {
		return true
	}
	elem, ok := b.byID[a.Elem]
	return ok && b.isVisible(elem)
}

// CompareAnchors orders two anchors by buffer position. An After anchor on
// element x orders before a Before anchor on the next element even though
// both resolve to the same offset.
func (b *Buffer) CompareAnchors(x, y Anchor) int {
	xk, xp, xs := b.anchorSortKey(x)
	yk, yp, ys := b.anchorSortKey(y)
	if xk != yk {
		if xk < yk {
			return -1
		}
		return 1
	}
	if xk == 1 {
		if c := comparePositions(xp, yp); c != 0 {
			return c
		}
		if xs != ys {
			if xs < ys {
				return -1
			}
			return 1
		}
	}
	return 0
}

// anchorSortKey returns (class, position, side rank) where class orders
// min < element < max.
func (b *Buffer) anchorSortKey(a Anchor) (int, Position, int) {
	switch a.Kind {
	case anchorMin:
		return 0, nil, 0
	case anchorMax:
		return 2, nil, 0
	}
	elem, ok := b.byID[a.Elem]
	if !ok {
		return 0, nil, 0
	}
	side := 0
	if a.Side == SideAfter {
		side = 1
	}
	return 1, elem.pos, side
}
