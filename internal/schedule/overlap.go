package schedule

// Window is a half-open [Start, End) interval within one day.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// WellFormed reports whether both ends are set and Start < End.
func (w Window) WellFormed() bool {
	return w.Start.Valid() && w.End.Valid() && w.Start.Before(w.End)
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// Overlaps uses the half-open test, so windows that only touch do not overlap:
// not (a.End <= b.Start or a.Start >= b.End).
func Overlaps(a, b Window) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Conflicts reports whether candidate overlaps any of existing. The candidate
// is assumed to be well formed.
func Conflicts(candidate Window, existing []Window) bool {
	for _, w := range existing {
		if Overlaps(candidate, w) {
			return true
		}
	}
	return false
}
