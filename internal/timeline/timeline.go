// Package timeline holds the time-of-day primitives and the interval
// algebra that the policy compiler is built on. Every value lives within a
// single calendar day: intervals never span midnight.
package timeline

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hostfocus/focusd/internal/faults"
)

// TimeOfDay is a wall-clock time within one day, ordered by (Hours, Minutes).
// The sentinel value 24:00 means "end of day" and is only ever used as an
// interval endpoint, never as a current time.
type TimeOfDay struct {
	Hours   int
	Minutes int
}

// DayStart is midnight, the first instant of a day.
var DayStart = TimeOfDay{Hours: 0, Minutes: 0}

// DayEnd is the 24:00 sentinel, the instant just past the last minute of
// a day.
var DayEnd = TimeOfDay{Hours: 24, Minutes: 0}

// TimeOfDayAt extracts the time of day from a wall-clock instant.
func TimeOfDayAt(t time.Time) TimeOfDay {
	return TimeOfDay{Hours: t.Hour(), Minutes: t.Minute()}
}

// ParseTimeOfDay parses a 4-digit military time string such as "0911"
// (9:11 am) or "1759" (5:59 pm). "2400" yields the end-of-day sentinel.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 4 {
		return TimeOfDay{}, faults.New(faults.KindParse, "invalid time of day %q, expecting e.g. \"1135\" (11:35 am) or \"1759\" (5:59 pm)", s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return TimeOfDay{}, faults.New(faults.KindParse, "invalid time of day %q, expecting 4 digits", s)
		}
	}
	hh := int(s[0]-'0')*10 + int(s[1]-'0')
	mm := int(s[2]-'0')*10 + int(s[3]-'0')
	return makeTimeOfDay(hh, mm)
}

func makeTimeOfDay(hh, mm int) (TimeOfDay, error) {
	if hh == 24 && mm == 0 {
		return DayEnd, nil
	}
	if hh < 0 || hh > 23 {
		return TimeOfDay{}, faults.New(faults.KindParse, "invalid hours %d, expected a number in [0, 23]", hh)
	}
	if mm < 0 || mm > 59 {
		return TimeOfDay{}, faults.New(faults.KindParse, "invalid minutes %d, expected a number in [0, 59]", mm)
	}
	return TimeOfDay{Hours: hh, Minutes: mm}, nil
}

// TotalMinutes returns the number of minutes since midnight.
func (t TimeOfDay) TotalMinutes() int {
	return t.Hours*60 + t.Minutes
}

// Duration returns the time elapsed since midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t.TotalMinutes()) * time.Minute
}

// Compare orders two times of day: -1 if t is earlier, 0 if equal, 1 if later.
func (t TimeOfDay) Compare(other TimeOfDay) int {
	switch {
	case t.TotalMinutes() < other.TotalMinutes():
		return -1
	case t.TotalMinutes() > other.TotalMinutes():
		return 1
	default:
		return 0
	}
}

// Before reports whether t is strictly earlier than other.
func (t TimeOfDay) Before(other TimeOfDay) bool { return t.Compare(other) < 0 }

// After reports whether t is strictly later than other.
func (t TimeOfDay) After(other TimeOfDay) bool { return t.Compare(other) > 0 }

// String formats the time as "HH:MM", the form iptables accepts.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hours, t.Minutes)
}

// Compact formats the time as a 4-digit military string, e.g. "0911".
func (t TimeOfDay) Compact() string {
	return fmt.Sprintf("%02d%02d", t.Hours, t.Minutes)
}

// UnmarshalYAML accepts either a 4-digit military string ("0911") or a bare
// integer (911). 2400 in either form means end of day.
func (t *TimeOfDay) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!int":
		var n int
		if err := value.Decode(&n); err != nil {
			return err
		}
		parsed, err := makeTimeOfDay(n/100, n%100)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	case "!!str":
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		parsed, err := ParseTimeOfDay(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	default:
		return faults.New(faults.KindParse, "expected a time of day as a 4-digit string or integer, got %s", value.Tag)
	}
}

// MarshalYAML emits the 4-digit military form.
func (t TimeOfDay) MarshalYAML() (interface{}, error) {
	return t.Compact(), nil
}

// MarshalJSON emits the 4-digit military form, which is what the browser
// extension parses.
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Compact() + `"`), nil
}

// DayOfWeek numbers the days with Monday = 0 through Sunday = 6.
type DayOfWeek int

// Days of the week, Monday first.
const (
	Monday DayOfWeek = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// AllDays lists the days in Monday-first order, for deterministic iteration.
var AllDays = []DayOfWeek{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var dayNames = [...]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// DayOfWeekAt converts a wall-clock instant to its Monday-based day number.
func DayOfWeekAt(t time.Time) DayOfWeek {
	// time.Weekday counts Sunday = 0.
	return DayOfWeek((int(t.Weekday()) + 6) % 7)
}

// ParseDayOfWeek accepts a digit "0".."6" or a day name in any case; only
// the first three letters of a name are considered, so "WEDanythinggoes"
// resolves to Wednesday.
func ParseDayOfWeek(s string) (DayOfWeek, error) {
	if len(s) == 1 && s[0] >= '0' && s[0] <= '6' {
		return DayOfWeek(s[0] - '0'), nil
	}
	if len(s) >= 3 {
		switch strings.ToLower(s[:3]) {
		case "mon":
			return Monday, nil
		case "tue":
			return Tuesday, nil
		case "wed", "wen":
			return Wednesday, nil
		case "thu":
			return Thursday, nil
		case "fri":
			return Friday, nil
		case "sat":
			return Saturday, nil
		case "sun":
			return Sunday, nil
		}
	}
	return 0, faults.New(faults.KindParse, "invalid day %q, expected a number in [0, 6] or a named day of week", s)
}

// String returns the lowercase English day name.
func (d DayOfWeek) String() string {
	if d < 0 || int(d) >= len(dayNames) {
		return fmt.Sprintf("day(%d)", int(d))
	}
	return dayNames[d]
}

// UnmarshalYAML accepts either a day number or a day name.
func (d *DayOfWeek) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!int":
		var n int
		if err := value.Decode(&n); err != nil {
			return err
		}
		if n < 0 || n > 6 {
			return faults.New(faults.KindParse, "invalid day %d, expected a number in [0, 6]", n)
		}
		*d = DayOfWeek(n)
		return nil
	case "!!str":
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		parsed, err := ParseDayOfWeek(s)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	default:
		return faults.New(faults.KindParse, "expected a day of week as a name or number, got %s", value.Tag)
	}
}

// MarshalYAML emits the day name.
func (d DayOfWeek) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Interval is a time window within one day, with Start <= End. A zero bound
// in YAML defaults to the matching edge of the day.
type Interval struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// FullDay is the interval covering the whole day.
var FullDay = Interval{Start: DayStart, End: DayEnd}

// UnmarshalYAML decodes an interval, defaulting an omitted start to 00:00
// and an omitted end to 24:00, and rejecting start > end.
func (iv *Interval) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Start *TimeOfDay `yaml:"start"`
		End   *TimeOfDay `yaml:"end"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed := FullDay
	if raw.Start != nil {
		parsed.Start = *raw.Start
	}
	if raw.End != nil {
		parsed.End = *raw.End
	}
	if parsed.Start.After(parsed.End) {
		return faults.New(faults.KindInvariant, "interval start %s is after end %s", parsed.Start, parsed.End)
	}
	*iv = parsed
	return nil
}

// Len returns the interval's length in minutes.
func (iv Interval) Len() int {
	return iv.End.TotalMinutes() - iv.Start.TotalMinutes()
}

// String formats the interval as "HH:MM-HH:MM".
func (iv Interval) String() string {
	return iv.Start.String() + "-" + iv.End.String()
}

// Remaining returns how long the interval still holds at the given time.
// The second return is false when now falls outside the interval.
func (iv Interval) Remaining(now TimeOfDay) (time.Duration, bool) {
	if iv.Start.After(now) || iv.End.Before(now) {
		return 0, false
	}
	return iv.End.Duration() - now.Duration(), true
}

// Intersects reports whether the two intervals share at least one instant.
// Touching endpoints count as intersecting, so adjacent windows merge.
func (iv Interval) Intersects(other Interval) bool {
	if !iv.Start.After(other.Start) && !iv.End.Before(other.Start) {
		return true
	}
	if !iv.Start.After(other.End) && !iv.End.Before(other.End) {
		return true
	}
	return false
}

// Merge combines two intersecting intervals into their hull. The second
// return is false when the intervals do not intersect.
func (iv Interval) Merge(other Interval) (Interval, bool) {
	if !iv.Intersects(other) {
		return Interval{}, false
	}
	merged := iv
	if other.Start.Before(merged.Start) {
		merged.Start = other.Start
	}
	if other.End.After(merged.End) {
		merged.End = other.End
	}
	return merged, true
}

// SubtractionKind classifies the geometric outcome of subtracting one
// interval from another.
type SubtractionKind int

const (
	// SubtractEmpty: a is fully contained in b, nothing survives.
	SubtractEmpty SubtractionKind = iota

	// SubtractMissLeft: no overlap, a lies entirely at or after b's end.
	SubtractMissLeft

	// SubtractMissRight: no overlap, a lies entirely at or before b's start.
	SubtractMissRight

	// SubtractHitLeft: partial overlap leaving a single remnant, either the
	// right remnant (b eats a's left) or the left remnant (b eats a's right).
	SubtractHitLeft

	// SubtractHitCenter: b is strictly interior to a, two remnants survive.
	SubtractHitCenter

	// SubtractHitRight: partial overlap leaving a single remnant strictly
	// shorter than a, in a shape SubtractHitLeft does not cover. The cursor
	// walk in SubtractSet relies on the remnant being strictly smaller.
	SubtractHitRight
)

// Subtraction is the outcome of Interval.Subtract. Left holds the surviving
// remnant for the single-remnant kinds and the left remnant for
// SubtractHitCenter; Right is only meaningful for SubtractHitCenter.
type Subtraction struct {
	Kind  SubtractionKind
	Left  Interval
	Right Interval
}

// Subtract computes a minus b as a geometric case split. The boundary
// conditions are exact: an off-by-one here silently shrinks or duplicates
// windows by a minute.
func (a Interval) Subtract(b Interval) Subtraction {
	switch {
	// a included in b.
	case !a.Start.Before(b.Start) && !a.End.After(b.End):
		return Subtraction{Kind: SubtractEmpty}
	// No overlap.
	case !a.Start.Before(b.End):
		return Subtraction{Kind: SubtractMissLeft, Left: a}
	case !a.End.After(b.Start):
		return Subtraction{Kind: SubtractMissRight, Left: a}
	// Overlap, but b not included in a: one remnant survives.
	case !a.Start.Before(b.Start) && a.End.After(b.End):
		return Subtraction{Kind: SubtractHitLeft, Left: Interval{Start: b.End, End: a.End}}
	case !a.Start.After(b.Start) && a.End.Before(b.End):
		return Subtraction{Kind: SubtractHitLeft, Left: Interval{Start: a.Start, End: b.Start}}
	// b strictly interior to a.
	default:
		return Subtraction{
			Kind:  SubtractHitCenter,
			Left:  Interval{Start: a.Start, End: b.Start},
			Right: Interval{Start: b.End, End: a.End},
		}
	}
}
