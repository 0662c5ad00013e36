package textbuf

// Subscription accumulates the ranges touched by edits since it was last
// consumed, in current buffer coordinates. The owning document uses it to
// reparse only the affected lines.
type Subscription struct {
	ranges []Range
}

// Subscribe registers a new edit subscription.
func (b *Buffer) Subscribe() *Subscription {
	sub := &Subscription{}
	b.subs = append(b.subs, sub)
	return sub
}

// Consume returns the accumulated ranges and resets the subscription.
func (s *Subscription) Consume() []Range {
	out := s.ranges
	s.ranges = nil
	return out
}

// recordChange rebases every subscription across one atomic change that
// replaced oldLen bytes at pos with newLen bytes, then records the new
// range. Previously recorded ranges are shifted or widened conservatively.
func (b *Buffer) recordChange(pos, oldLen, newLen int) {
	delta := newLen - oldLen
	for _, sub := range b.subs {
		for i := range sub.ranges {
			r := &sub.ranges[i]
			switch {
			case r.Start >= pos+oldLen:
				r.Start += delta
				r.End += delta
			case r.End <= pos:
				// untouched
			default:
				if r.Start > pos {
					r.Start = pos
				}
				if r.End >= pos+oldLen {
					r.End += delta
				} else {
					r.End = pos + newLen
				}
			}
		}
		sub.ranges = mergeRanges(append(sub.ranges, Range{Start: pos, End: pos + newLen}))
	}
}

func mergeRanges(ranges []Range) []Range {
	if len(ranges) < 2 {
		return ranges
	}
	// Insertion order is nearly sorted; a simple pass keeps it tidy.
	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Start < sorted[j-1].Start; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	out := sorted[:1]
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
		} else {
			out = append(out, r)
		}
	}
	return out
}
