package main

import (
	"testing"
	"time"
)

func TestDueResetSlot(t *testing.T) {
	slots := []string{"04:00", "16:00"}

	at := func(hour, minute int) time.Time {
		return time.Date(2026, time.March, 10, hour, minute, 0, 0, time.UTC)
	}

	if _, due := dueResetSlot(slots, at(3, 59)); due {
		t.Fatal("no slot should be due before 04:00")
	}
	slot, due := dueResetSlot(slots, at(4, 0))
	if !due || slot != "04:00" {
		t.Fatalf("expected 04:00 slot due, got %q due=%v", slot, due)
	}
	slot, due = dueResetSlot(slots, at(15, 59))
	if !due || slot != "04:00" {
		t.Fatalf("expected 04:00 still the latest slot, got %q due=%v", slot, due)
	}
	slot, due = dueResetSlot(slots, at(23, 30))
	if !due || slot != "16:00" {
		t.Fatalf("expected 16:00 slot after the afternoon reset, got %q due=%v", slot, due)
	}
}

func TestDueResetSlotIgnoresMalformed(t *testing.T) {
	if _, due := dueResetSlot([]string{"nope", "25:00", "12:99"}, time.Now()); due {
		t.Fatal("malformed slots must never fire")
	}
}

func TestParseClock(t *testing.T) {
	if m, ok := parseClock("04:30"); !ok || m != 270 {
		t.Fatalf("parseClock(04:30) = %d, %v", m, ok)
	}
	if _, ok := parseClock("24:00"); ok {
		t.Fatal("hour 24 must be rejected")
	}
	if _, ok := parseClock("0400"); ok {
		t.Fatal("missing colon must be rejected")
	}
}

func TestResetMarkerIsPerDayAndSlot(t *testing.T) {
	day1 := time.Date(2026, time.March, 10, 4, 1, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	if resetMarker(day1, "04:00") == resetMarker(day2, "04:00") {
		t.Fatal("markers on different days must differ")
	}
	if resetMarker(day1, "04:00") == resetMarker(day1, "16:00") {
		t.Fatal("markers for different slots must differ")
	}
}
