package domain

import (
	"testing"
	"time"
)

func TestWeeklyScheduleContains(t *testing.T) {
	schedule := WeeklySchedule{Monday: []TimeSlot{{Start: "09:00", End: "17:00"}}}

	mondayMorning := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !schedule.Contains(mondayMorning) {
		t.Fatalf("expected %v to be within business hours", mondayMorning)
	}

	mondayClose := time.Date(2024, 1, 1, 17, 0, 0, 0, time.UTC)
	if !schedule.Contains(mondayClose) {
		t.Fatalf("expected %v to be inside the inclusive end bound", mondayClose)
	}

	mondayNight := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	if schedule.Contains(mondayNight) {
		t.Fatalf("expected %v to be outside business hours", mondayNight)
	}

	tuesdayMorning := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	if schedule.Contains(tuesdayMorning) {
		t.Fatalf("expected %v to be outside business hours (wrong day)", tuesdayMorning)
	}
}

func TestWeeklyScheduleSpanningMidnight(t *testing.T) {
	schedule := WeeklySchedule{Monday: []TimeSlot{{Start: "22:00", End: "02:00"}}}

	night := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	if !schedule.Contains(night) {
		t.Fatalf("expected %v to be within cross-midnight window", night)
	}

	earlyMorning := time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC)
	if !schedule.Contains(earlyMorning) {
		t.Fatalf("expected %v to be within cross-midnight window", earlyMorning)
	}

	lateMorning := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	if schedule.Contains(lateMorning) {
		t.Fatalf("expected %v to be outside cross-midnight window", lateMorning)
	}
}

func TestWeeklyScheduleNext(t *testing.T) {
	schedule := BusinessDays("09:00", "17:00")

	// Friday evening rolls over the weekend.
	friday := time.Date(2024, 1, 5, 18, 0, 0, 0, time.UTC)
	next, ok := schedule.Next(friday)
	if !ok {
		t.Fatal("expected a next slot")
	}
	want := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}

	inside := time.Date(2024, 1, 8, 11, 30, 0, 0, time.UTC)
	if next, _ := schedule.Next(inside); !next.Equal(inside) {
		t.Fatalf("expected an open instant to be returned as-is, got %v", next)
	}

	if _, ok := (WeeklySchedule{}).Next(friday); ok {
		t.Fatal("expected an empty schedule to have no next slot")
	}
}

func TestCallScheduleBlackoutAndTimezone(t *testing.T) {
	schedule := &CallSchedule{
		Timezone:      "America/New_York",
		AllowedHours:  BusinessDays("09:00", "17:00"),
		BlackoutDates: []string{"2024-01-08"},
	}

	// 15:00 UTC is 10:00 in New York on a Tuesday.
	tuesday := time.Date(2024, 1, 9, 15, 0, 0, 0, time.UTC)
	if !schedule.Allows(tuesday) {
		t.Fatalf("expected %v to be allowed", tuesday)
	}

	// 13:00 UTC is 08:00 in New York.
	early := time.Date(2024, 1, 9, 13, 0, 0, 0, time.UTC)
	if schedule.Allows(early) {
		t.Fatalf("expected %v to be outside hours", early)
	}

	blackout := time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)
	if schedule.Allows(blackout) {
		t.Fatalf("expected %v to be blacked out", blackout)
	}

	next := schedule.NextAllowed(blackout)
	want := time.Date(2024, 1, 9, 14, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected next allowed %v, got %v", want, next)
	}
}

func TestNilCallScheduleAllowsEverything(t *testing.T) {
	var schedule *CallSchedule
	now := time.Date(2024, 1, 7, 3, 0, 0, 0, time.UTC)
	if !schedule.Allows(now) {
		t.Fatal("expected nil schedule to allow")
	}
	if !schedule.NextAllowed(now).Equal(now) {
		t.Fatal("expected nil schedule to return now")
	}
}
