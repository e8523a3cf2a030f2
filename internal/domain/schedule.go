package domain

import (
	"fmt"
	"time"
)

// TimeSlot is an inclusive HH:MM window. A slot whose end is before its start
// runs past midnight into the following day.
type TimeSlot struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Validate checks both bounds parse as HH:MM.
func (s TimeSlot) Validate() error {
	if _, _, ok := s.minutes(); !ok {
		return fmt.Errorf("invalid time slot %q-%q", s.Start, s.End)
	}
	return nil
}

func (s TimeSlot) minutes() (start, end int, ok bool) {
	st, err := time.Parse("15:04", s.Start)
	if err != nil {
		return 0, 0, false
	}
	en, err := time.Parse("15:04", s.End)
	if err != nil {
		return 0, 0, false
	}
	return st.Hour()*60 + st.Minute(), en.Hour()*60 + en.Minute(), true
}

// WeeklySchedule lists the open slots for each weekday.
type WeeklySchedule struct {
	Monday    []TimeSlot `json:"monday,omitempty" yaml:"monday,omitempty"`
	Tuesday   []TimeSlot `json:"tuesday,omitempty" yaml:"tuesday,omitempty"`
	Wednesday []TimeSlot `json:"wednesday,omitempty" yaml:"wednesday,omitempty"`
	Thursday  []TimeSlot `json:"thursday,omitempty" yaml:"thursday,omitempty"`
	Friday    []TimeSlot `json:"friday,omitempty" yaml:"friday,omitempty"`
	Saturday  []TimeSlot `json:"saturday,omitempty" yaml:"saturday,omitempty"`
	Sunday    []TimeSlot `json:"sunday,omitempty" yaml:"sunday,omitempty"`
}

// Slots returns the slots configured for the weekday.
func (w WeeklySchedule) Slots(day time.Weekday) []TimeSlot {
	switch day {
	case time.Monday:
		return w.Monday
	case time.Tuesday:
		return w.Tuesday
	case time.Wednesday:
		return w.Wednesday
	case time.Thursday:
		return w.Thursday
	case time.Friday:
		return w.Friday
	case time.Saturday:
		return w.Saturday
	default:
		return w.Sunday
	}
}

// SetSlots replaces the slots of one weekday.
func (w *WeeklySchedule) SetSlots(day time.Weekday, slots []TimeSlot) {
	switch day {
	case time.Monday:
		w.Monday = slots
	case time.Tuesday:
		w.Tuesday = slots
	case time.Wednesday:
		w.Wednesday = slots
	case time.Thursday:
		w.Thursday = slots
	case time.Friday:
		w.Friday = slots
	case time.Saturday:
		w.Saturday = slots
	default:
		w.Sunday = slots
	}
}

// Empty reports whether no slot is configured on any day.
func (w WeeklySchedule) Empty() bool {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if len(w.Slots(d)) > 0 {
			return false
		}
	}
	return true
}

// Validate checks every slot.
func (w WeeklySchedule) Validate() error {
	for d := time.Sunday; d <= time.Saturday; d++ {
		for _, slot := range w.Slots(d) {
			if err := slot.Validate(); err != nil {
				return fmt.Errorf("%s: %w", d, err)
			}
		}
	}
	return nil
}

// Contains reports whether t, read in its own location, falls inside a slot.
func (w WeeklySchedule) Contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()

	for _, slot := range w.Slots(t.Weekday()) {
		start, end, ok := slot.minutes()
		if !ok {
			continue
		}
		if end < start {
			// window spans midnight
			if minute >= start {
				return true
			}
			continue
		}
		if minute >= start && minute <= end {
			return true
		}
	}

	previous := (t.Weekday() + 6) % 7
	for _, slot := range w.Slots(previous) {
		start, end, ok := slot.minutes()
		if ok && end < start && minute <= end {
			return true
		}
	}

	return false
}

// Next returns the earliest instant at or after from that is inside the
// schedule. The second result is false when the schedule has no usable slot.
func (w WeeklySchedule) Next(from time.Time) (time.Time, bool) {
	if w.Contains(from) {
		return from, true
	}

	y, m, d := from.Date()
	loc := from.Location()
	for offset := 0; offset <= 7; offset++ {
		var best time.Time
		day := time.Date(y, m, d+offset, 0, 0, 0, 0, loc)
		for _, slot := range w.Slots(day.Weekday()) {
			start, _, ok := slot.minutes()
			if !ok {
				continue
			}
			at := time.Date(y, m, d+offset, start/60, start%60, 0, 0, loc)
			if !at.After(from) {
				continue
			}
			if best.IsZero() || at.Before(best) {
				best = at
			}
		}
		if !best.IsZero() {
			return best, true
		}
	}
	return time.Time{}, false
}

// BusinessDays returns a schedule with the same slot on Monday through Friday.
func BusinessDays(start, end string) WeeklySchedule {
	slot := []TimeSlot{{Start: start, End: end}}
	return WeeklySchedule{
		Monday:    slot,
		Tuesday:   slot,
		Wednesday: slot,
		Thursday:  slot,
		Friday:    slot,
	}
}

// LoadLocation resolves name, falling back to UTC for empty or unknown zones.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
