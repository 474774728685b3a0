package offers

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock offset from local midnight.
type TimeOfDay time.Duration

// ParseTimeOfDay accepts "HH:MM" or a bare hour "HH".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	hourPart, minutePart, hasMinutes := strings.Cut(s, ":")
	hour, err := strconv.Atoi(hourPart)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid time of day %q (expected HH:MM)", s)
	}
	minute := 0
	if hasMinutes {
		minute, err = strconv.Atoi(minutePart)
		if err != nil || len(minutePart) != 2 || minute < 0 || minute > 59 {
			return 0, fmt.Errorf("invalid time of day %q (expected HH:MM)", s)
		}
	}
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), nil
}

// ClockOf returns the wall-clock time of t.
func ClockOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second + time.Duration(t.Nanosecond()))
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// Window is a half-open time-of-day interval [From, To) evaluated in Location.
// A window with From > To wraps past midnight. The zero Window admits every time.
type Window struct {
	From     TimeOfDay
	To       TimeOfDay
	Location *time.Location
	enabled  bool
}

// NewWindow builds an enabled window.
func NewWindow(from, to TimeOfDay, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	return Window{From: from, To: to, Location: loc, enabled: true}
}

// ParseWindow parses "HH:MM" bounds. Both bounds empty yields the unrestricted window.
func ParseWindow(from, to string, loc *time.Location) (Window, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" && to == "" {
		return Window{Location: loc}, nil
	}
	if from == "" || to == "" {
		return Window{}, fmt.Errorf("window needs both bounds, got from=%q to=%q", from, to)
	}
	f, err := ParseTimeOfDay(from)
	if err != nil {
		return Window{}, err
	}
	t, err := ParseTimeOfDay(to)
	if err != nil {
		return Window{}, err
	}
	return NewWindow(f, t, loc), nil
}

// Enabled reports whether the window restricts anything.
func (w Window) Enabled() bool {
	return w.enabled
}

// Wraps reports whether the window crosses midnight.
func (w Window) Wraps() bool {
	return w.enabled && w.From > w.To
}

// Contains reports whether t's time of day, in the window's location, falls inside the window.
// Equal bounds cover the whole day.
func (w Window) Contains(t time.Time) bool {
	if !w.enabled {
		return true
	}
	if w.Location != nil {
		t = t.In(w.Location)
	}
	tod := ClockOf(t)
	if w.From < w.To {
		return tod >= w.From && tod < w.To
	}
	return tod >= w.From || tod < w.To
}

func (w Window) String() string {
	if !w.enabled {
		return "any"
	}
	return fmt.Sprintf("[%s, %s)", w.From, w.To)
}
