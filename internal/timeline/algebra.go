package timeline

import (
	"encoding/json"
	"sort"
)

// Accepted is a time window in which an activity is explicitly permitted.
// Accepted and Rejected are distinct types on purpose: the algebra below is
// polarity-specific, and nothing generic may erase which side a window is on.
type Accepted Interval

// Rejected is a time window in which an activity is explicitly forbidden.
type Rejected Interval

// MarshalJSON serializes the window as {"start":"HHMM","end":"HHMM"}.
func (a Accepted) MarshalJSON() ([]byte, error) {
	return json.Marshal(Interval(a))
}

// MarshalJSON serializes the window as {"start":"HHMM","end":"HHMM"}.
func (r Rejected) MarshalJSON() ([]byte, error) {
	return json.Marshal(Interval(r))
}

// SimplifyAccepted sorts the windows by start and merges every overlapping
// or touching pair. The result is sorted and pairwise disjoint, and the
// operation is idempotent.
func SimplifyAccepted(windows []Accepted) []Accepted {
	sorted := append([]Accepted(nil), windows...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})
	var simplified []Accepted
	for _, w := range sorted {
		if n := len(simplified); n > 0 {
			if merged, ok := Interval(simplified[n-1]).Merge(Interval(w)); ok {
				simplified[n-1] = Accepted(merged)
				continue
			}
		}
		simplified = append(simplified, w)
	}
	return simplified
}

// SimplifyRejected is SimplifyAccepted for the forbidden polarity.
func SimplifyRejected(windows []Rejected) []Rejected {
	sorted := append([]Rejected(nil), windows...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})
	var simplified []Rejected
	for _, w := range sorted {
		if n := len(simplified); n > 0 {
			if merged, ok := Interval(simplified[n-1]).Merge(Interval(w)); ok {
				simplified[n-1] = Rejected(merged)
				continue
			}
		}
		simplified = append(simplified, w)
	}
	return simplified
}

// SubtractSet removes every rejected window from the accepted windows. Both
// inputs are simplified first; the output stays sorted and pairwise
// disjoint.
//
// The walk keeps a cursor on each list. Every step either consumes an
// accepted window, consumes a rejected window, or strictly shrinks the
// current accepted window, so the loop terminates.
func SubtractSet(accepted []Accepted, rejected []Rejected) []Accepted {
	if len(rejected) == 0 {
		return accepted
	}
	acc := SimplifyAccepted(accepted)
	rej := SimplifyRejected(rejected)

	var committed []Accepted
	ai, ri := 0, 0
	for ai < len(acc) && ri < len(rej) {
		out := Interval(acc[ai]).Subtract(Interval(rej[ri]))
		switch out.Kind {
		case SubtractEmpty:
			// The accepted window is gone, but this rejected window may
			// still reach into later accepted windows.
			ai++
		case SubtractMissLeft:
			// acc is sorted, so this rejected window is spent.
			ri++
		case SubtractMissRight:
			// rej is sorted, so nothing further can touch this window.
			committed = append(committed, acc[ai])
			ai++
		case SubtractHitLeft, SubtractHitRight:
			// The remnant may still intersect either cursor's current
			// window, so only shrink in place.
			acc[ai] = Accepted(out.Left)
		case SubtractHitCenter:
			// The rejected window was strictly interior: rej is sorted, so
			// the left remnant is final.
			committed = append(committed, Accepted(out.Left))
			acc[ai] = Accepted(out.Right)
			ri++
		}
	}
	committed = append(committed, acc[ai:]...)
	return committed
}

// Complement turns accepted windows into the rejected windows covering the
// rest of the day: the gap before the first window, the gaps between
// consecutive windows, and the gap after the last one. With no accepted
// windows the whole day is rejected.
func Complement(accepted []Accepted) []Rejected {
	simplified := SimplifyAccepted(accepted)
	if len(simplified) == 0 {
		return []Rejected{Rejected(FullDay)}
	}
	var rejected []Rejected
	latest := DayStart
	for _, w := range simplified {
		if w.Start.After(latest) {
			rejected = append(rejected, Rejected(Interval{Start: latest, End: w.Start}))
		}
		latest = w.End
	}
	if latest.Before(DayEnd) {
		rejected = append(rejected, Rejected(Interval{Start: latest, End: DayEnd}))
	}
	return rejected
}

// Diff is one configuration source's contribution for one target: the
// windows it permits and the windows it forbids.
type Diff struct {
	Accepted []Accepted
	Rejected []Rejected
}

// ComputeAccepted folds the diffs, in the order given, into the final
// accepted windows. The fold is deliberately not commutative: each step
// unions in the diff's accepted windows and then applies that same diff's
// rejected windows, so a later rejection carves into earlier acceptances,
// while an earlier rejection is never undone by a later acceptance of the
// same clock range. Callers order diffs by the creation time of the file
// they came from.
func ComputeAccepted(diffs []Diff) []Accepted {
	var accepted []Accepted
	for _, diff := range diffs {
		accepted = append(accepted, diff.Accepted...)
		accepted = SubtractSet(accepted, diff.Rejected)
	}
	return SimplifyAccepted(accepted)
}

// ComputeRejected folds the diffs and complements the result, for targets
// whose default posture is "allowed unless explicitly windowed".
func ComputeRejected(diffs []Diff) []Rejected {
	return Complement(ComputeAccepted(diffs))
}
