package systems

import (
	"testing"

	"aldea.world/internal/sim/engine"
)

func TestClock_DayRollover(t *testing.T) {
	w := newTestWorld()
	bus := engine.NewBus()
	clock := NewClock(ClockConfig{DayLength: 10}, bus)

	if err := clock.Update(w, 9); err != nil {
		t.Fatal(err)
	}
	if w.Clock.Day != 0 {
		t.Fatalf("day rolled early: %d", w.Clock.Day)
	}
	if got := eventsOfType(bus.Flush(), EventDayStarted); len(got) != 0 {
		t.Fatalf("premature day_started: %v", got)
	}

	if err := clock.Update(w, 2); err != nil {
		t.Fatal(err)
	}
	if w.Clock.Day != 1 {
		t.Fatalf("day = %d, want 1", w.Clock.Day)
	}
	if w.Clock.TimeOfDay < 0 || w.Clock.TimeOfDay >= 1 {
		t.Fatalf("time of day out of range: %v", w.Clock.TimeOfDay)
	}
	got := eventsOfType(bus.Flush(), EventDayStarted)
	if len(got) != 1 {
		t.Fatalf("day_started events = %d, want 1", len(got))
	}
	if p := got[0].Payload.(DayStarted); p.Day != 1 {
		t.Fatalf("payload day = %d, want 1", p.Day)
	}
}

func TestClock_NightTransition(t *testing.T) {
	w := newTestWorld()
	bus := engine.NewBus()
	clock := NewClock(ClockConfig{DayLength: 10}, bus)

	if err := clock.Update(w, 4); err != nil {
		t.Fatal(err)
	}
	if got := eventsOfType(bus.Flush(), EventNightStarted); len(got) != 0 {
		t.Fatalf("night before dusk: %v", got)
	}

	// Crossing the half-day mark announces nightfall once.
	if err := clock.Update(w, 2); err != nil {
		t.Fatal(err)
	}
	got := eventsOfType(bus.Flush(), EventNightStarted)
	if len(got) != 1 {
		t.Fatalf("night_started events = %d, want 1", len(got))
	}
	if p := got[0].Payload.(NightStarted); p.Day != 0 {
		t.Fatalf("payload day = %d, want 0", p.Day)
	}

	// Deeper into the same night there is nothing new to announce.
	if err := clock.Update(w, 1); err != nil {
		t.Fatal(err)
	}
	if got := eventsOfType(bus.Flush(), EventNightStarted); len(got) != 0 {
		t.Fatalf("night announced twice: %v", got)
	}

	// Wrapping into the next morning announces the day, not another night.
	if err := clock.Update(w, 4); err != nil {
		t.Fatal(err)
	}
	batch := bus.Flush()
	if got := eventsOfType(batch, EventDayStarted); len(got) != 1 {
		t.Fatalf("day_started events = %d, want 1", len(got))
	}
	if got := eventsOfType(batch, EventNightStarted); len(got) != 0 {
		t.Fatalf("dawn step announced night: %v", got)
	}
}

func TestClock_LongStepCrossesSeveralDays(t *testing.T) {
	w := newTestWorld()
	bus := engine.NewBus()
	clock := NewClock(ClockConfig{DayLength: 10}, bus)

	if err := clock.Update(w, 35); err != nil {
		t.Fatal(err)
	}
	if w.Clock.Day != 3 {
		t.Fatalf("day = %d, want 3", w.Clock.Day)
	}
	batch := bus.Flush()
	if got := eventsOfType(batch, EventDayStarted); len(got) != 3 {
		t.Fatalf("day_started events = %d, want 3", len(got))
	}
	// 3.5 days from midnight lands at 0.5, just past dusk.
	if got := eventsOfType(batch, EventNightStarted); len(got) != 1 {
		t.Fatalf("night_started events = %d, want 1", len(got))
	}
}
