package timeline

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// span builds an interval from two 4-digit military times.
func span(t *testing.T, start, end string) Interval {
	t.Helper()
	s, err := ParseTimeOfDay(start)
	if err != nil {
		t.Fatalf("parsing %q: %v", start, err)
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		t.Fatalf("parsing %q: %v", end, err)
	}
	return Interval{Start: s, End: e}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "0000", want: TimeOfDay{0, 0}},
		{in: "0911", want: TimeOfDay{9, 11}},
		{in: "1759", want: TimeOfDay{17, 59}},
		{in: "2400", want: DayEnd},
		{in: "2401", wantErr: true},
		{in: "2500", wantErr: true},
		{in: "1260", wantErr: true},
		{in: "911", wantErr: true},
		{in: "09:11", wantErr: true},
		{in: "abcd", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTimeOfDay(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeOfDay(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseTimeOfDay(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTimeOfDayYAML(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    TimeOfDay
		wantErr bool
	}{
		{name: "string form", yaml: `"0911"`, want: TimeOfDay{9, 11}},
		{name: "integer form", yaml: `911`, want: TimeOfDay{9, 11}},
		{name: "integer midnight", yaml: `0`, want: DayStart},
		{name: "end of day string", yaml: `"2400"`, want: DayEnd},
		{name: "end of day integer", yaml: `2400`, want: DayEnd},
		{name: "bad minutes", yaml: `1275`, wantErr: true},
		{name: "mapping", yaml: `{h: 9}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got TimeOfDay
			err := yaml.Unmarshal([]byte(tt.yaml), &got)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("unmarshal %q = %v, want error", tt.yaml, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal %q: %v", tt.yaml, err)
			}
			if got != tt.want {
				t.Errorf("unmarshal %q = %v, want %v", tt.yaml, got, tt.want)
			}
		})
	}
}

func TestTimeOfDayCompare(t *testing.T) {
	early := TimeOfDay{9, 0}
	late := TimeOfDay{9, 30}
	if !early.Before(late) || late.Before(early) {
		t.Error("9:00 should be before 9:30")
	}
	if !late.After(early) {
		t.Error("9:30 should be after 9:00")
	}
	if early.Compare(early) != 0 {
		t.Error("a time should compare equal to itself")
	}
	if !(TimeOfDay{23, 59}).Before(DayEnd) {
		t.Error("23:59 should be before the end-of-day sentinel")
	}
}

func TestParseDayOfWeek(t *testing.T) {
	tests := []struct {
		in      string
		want    DayOfWeek
		wantErr bool
	}{
		{in: "monday", want: Monday},
		{in: "MON", want: Monday},
		{in: "tue", want: Tuesday},
		{in: "WEDanythinggoes", want: Wednesday},
		{in: "wen", want: Wednesday},
		{in: "Sunday", want: Sunday},
		{in: "0", want: Monday},
		{in: "6", want: Sunday},
		{in: "7", wantErr: true},
		{in: "xy", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDayOfWeek(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDayOfWeek(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDayOfWeek(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDayOfWeek(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDayOfWeekAt(t *testing.T) {
	// 2026-08-31 is a Monday.
	monday := time.Date(2026, 8, 31, 12, 0, 0, 0, time.Local)
	if got := DayOfWeekAt(monday); got != Monday {
		t.Errorf("DayOfWeekAt(monday) = %v, want %v", got, Monday)
	}
	sunday := monday.AddDate(0, 0, 6)
	if got := DayOfWeekAt(sunday); got != Sunday {
		t.Errorf("DayOfWeekAt(sunday) = %v, want %v", got, Sunday)
	}
}

func TestIntervalYAMLDefaults(t *testing.T) {
	var full Interval
	if err := yaml.Unmarshal([]byte(`{}`), &full); err != nil {
		t.Fatalf("unmarshal empty interval: %v", err)
	}
	if full != FullDay {
		t.Errorf("empty interval = %v, want full day", full)
	}

	var tail Interval
	if err := yaml.Unmarshal([]byte(`start: "1300"`), &tail); err != nil {
		t.Fatalf("unmarshal open-ended interval: %v", err)
	}
	if tail.Start != (TimeOfDay{13, 0}) || tail.End != DayEnd {
		t.Errorf("open-ended interval = %v, want 13:00-24:00", tail)
	}

	var inverted Interval
	err := yaml.Unmarshal([]byte("start: \"1300\"\nend: \"1200\""), &inverted)
	if err == nil {
		t.Fatal("interval with start after end should be rejected at parse time")
	}
}

func TestIntervalRemaining(t *testing.T) {
	window := span(t, "0900", "0930")
	tests := []struct {
		now    TimeOfDay
		want   time.Duration
		inside bool
	}{
		{now: TimeOfDay{9, 25}, want: 5 * time.Minute, inside: true},
		{now: TimeOfDay{9, 0}, want: 30 * time.Minute, inside: true},
		{now: TimeOfDay{9, 30}, want: 0, inside: true},
		{now: TimeOfDay{9, 31}, inside: false},
		{now: TimeOfDay{8, 59}, inside: false},
	}
	for _, tt := range tests {
		got, ok := window.Remaining(tt.now)
		if ok != tt.inside {
			t.Errorf("Remaining(%v) inside = %v, want %v", tt.now, ok, tt.inside)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("Remaining(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestIntervalIntersectsAndMerge(t *testing.T) {
	tests := []struct {
		name       string
		a, b       Interval
		intersects bool
		merged     Interval
	}{
		{
			name: "overlapping", a: span(t, "0900", "1000"), b: span(t, "0930", "1030"),
			intersects: true, merged: span(t, "0900", "1030"),
		},
		{
			name: "touching endpoints", a: span(t, "0900", "1000"), b: span(t, "1000", "1100"),
			intersects: true, merged: span(t, "0900", "1100"),
		},
		{
			name: "contained", a: span(t, "0900", "1200"), b: span(t, "1000", "1100"),
			intersects: true, merged: span(t, "0900", "1200"),
		},
		{
			name: "disjoint", a: span(t, "0900", "0930"), b: span(t, "1000", "1100"),
			intersects: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Intersects(tt.b); got != tt.intersects {
				t.Fatalf("Intersects = %v, want %v", got, tt.intersects)
			}
			if got := tt.b.Intersects(tt.a); got != tt.intersects {
				t.Fatalf("Intersects should be symmetric")
			}
			merged, ok := tt.a.Merge(tt.b)
			if ok != tt.intersects {
				t.Fatalf("Merge defined = %v, want %v", ok, tt.intersects)
			}
			if ok && merged != tt.merged {
				t.Errorf("Merge = %v, want %v", merged, tt.merged)
			}
		})
	}
}

func TestIntervalSubtract(t *testing.T) {
	tests := []struct {
		name string
		a, b Interval
		want Subtraction
	}{
		{
			name: "self is empty",
			a:    span(t, "0900", "1000"), b: span(t, "0900", "1000"),
			want: Subtraction{Kind: SubtractEmpty},
		},
		{
			name: "contained is empty",
			a:    span(t, "0930", "0945"), b: span(t, "0900", "1000"),
			want: Subtraction{Kind: SubtractEmpty},
		},
		{
			name: "miss left",
			a:    span(t, "1200", "1300"), b: span(t, "1000", "1100"),
			want: Subtraction{Kind: SubtractMissLeft, Left: span(t, "1200", "1300")},
		},
		{
			name: "miss left touching",
			a:    span(t, "1100", "1200"), b: span(t, "1000", "1100"),
			want: Subtraction{Kind: SubtractMissLeft, Left: span(t, "1100", "1200")},
		},
		{
			name: "miss right",
			a:    span(t, "0800", "0900"), b: span(t, "1000", "1100"),
			want: Subtraction{Kind: SubtractMissRight, Left: span(t, "0800", "0900")},
		},
		{
			name: "eats the left",
			a:    span(t, "0900", "1000"), b: span(t, "0830", "0930"),
			want: Subtraction{Kind: SubtractHitLeft, Left: span(t, "0930", "1000")},
		},
		{
			name: "eats the right",
			a:    span(t, "0900", "1000"), b: span(t, "0930", "1030"),
			want: Subtraction{Kind: SubtractHitLeft, Left: span(t, "0900", "0930")},
		},
		{
			name: "strictly interior",
			a:    span(t, "0900", "1200"), b: span(t, "1000", "1100"),
			want: Subtraction{
				Kind:  SubtractHitCenter,
				Left:  span(t, "0900", "1000"),
				Right: span(t, "1100", "1200"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Subtract(tt.b); got != tt.want {
				t.Errorf("Subtract = %+v, want %+v", got, tt.want)
			}
		})
	}
}
