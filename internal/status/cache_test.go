package status

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCache_UpdateAndGet(t *testing.T) {
	c := NewCache()

	if _, ok := c.Get("kettle-01"); ok {
		t.Fatal("Get() found snapshot in empty cache")
	}

	c.Update("kettle-01", SourceStatus, map[string]any{"power": true, "temperature": 40.0})
	c.Update("kettle-01", SourceFeedback, map[string]any{"temperature": 95.0})

	snap, ok := c.Get("kettle-01")
	if !ok {
		t.Fatal("Get() found no snapshot after Update()")
	}
	if _, has := snap.State["power"]; has {
		t.Error("Update() merged state; want wholesale overwrite")
	}
	if snap.State["temperature"] != 95.0 || snap.Source != SourceFeedback {
		t.Errorf("snapshot = %+v, want latest feedback", snap)
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestCache_OlderPushDoesNotOverwriteNewer(t *testing.T) {
	c := NewCache()
	var notified int
	c.RegisterObserver(func(string, map[string]any) error {
		notified++
		return nil
	})

	t0 := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

	// Feedback from t0+1s lands before the status push from t0.
	if !c.UpdateAt("kettle-01", SourceFeedback, map[string]any{"power": false}, t0.Add(time.Second)) {
		t.Fatal("UpdateAt() rejected first push")
	}
	if c.UpdateAt("kettle-01", SourceStatus, map[string]any{"power": true}, t0) {
		t.Error("UpdateAt() applied an older push")
	}

	snap, _ := c.Get("kettle-01")
	if snap.State["power"] != false || snap.Source != SourceFeedback {
		t.Errorf("snapshot = %+v, want the newer feedback push", snap)
	}
	if !snap.ReportedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("ReportedAt = %v, want %v", snap.ReportedAt, t0.Add(time.Second))
	}
	if notified != 1 {
		t.Errorf("observers notified %d times, want 1", notified)
	}
	if st := c.Stats(); st.Updates != 1 || st.Stale != 1 {
		t.Errorf("Stats() = %+v, want 1 update and 1 stale", st)
	}

	// Same instant is not older.
	if !c.UpdateAt("kettle-01", SourceStatus, map[string]any{"power": true}, t0.Add(time.Second)) {
		t.Error("UpdateAt() rejected a push with an equal timestamp")
	}
}

func TestCache_UntimedPushIsLastApplied(t *testing.T) {
	c := NewCache()
	t0 := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

	c.UpdateAt("kettle-01", SourceStatus, map[string]any{"n": 1}, t0)
	c.Update("kettle-01", SourceFeedback, map[string]any{"n": 2})

	snap, _ := c.Get("kettle-01")
	if snap.State["n"] != 2 {
		t.Errorf("State = %v, want the untimed push applied", snap.State)
	}

	// With no stored device time, any timed push applies.
	if !c.UpdateAt("kettle-01", SourceStatus, map[string]any{"n": 3}, t0.Add(-time.Hour)) {
		t.Error("UpdateAt() rejected push after an untimed snapshot")
	}
}

func TestCache_GetReturnsCopy(t *testing.T) {
	c := NewCache()
	input := map[string]any{"power": true}
	c.Update("kettle-01", SourceStatus, input)

	input["power"] = false
	snap, _ := c.Get("kettle-01")
	snap.State["power"] = "mutated"

	again, _ := c.Get("kettle-01")
	if again.State["power"] != true {
		t.Errorf("cached state = %v, want isolated from caller maps", again.State)
	}
}

func TestCache_NilStateStored(t *testing.T) {
	c := NewCache()
	c.Update("kettle-01", SourceStatus, nil)

	snap, ok := c.Get("kettle-01")
	if !ok || snap.State == nil {
		t.Errorf("Get() = %+v, %v; want empty non-nil state", snap, ok)
	}
}

// =============================================================================
// Observer Tests
// =============================================================================

func TestCache_ObserversNotified(t *testing.T) {
	c := NewCache()

	var got []string
	c.RegisterObserver(func(id string, state map[string]any) error {
		got = append(got, id)
		return nil
	})
	c.Update("a", SourceStatus, map[string]any{"x": 1})
	c.Update("b", SourceStatus, map[string]any{"x": 2})

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("observer saw %v, want [a b]", got)
	}
}

func TestCache_ObserverFailureIsolated(t *testing.T) {
	c := NewCache()

	c.RegisterObserver(func(string, map[string]any) error { return errors.New("disk full") })
	c.RegisterObserver(func(string, map[string]any) error { panic("observer exploded") })

	var delivered int
	c.RegisterObserver(func(string, map[string]any) error {
		delivered++
		return nil
	})

	c.Update("a", SourceStatus, map[string]any{})
	c.Update("a", SourceStatus, map[string]any{})

	if delivered != 2 {
		t.Errorf("healthy observer called %d times, want 2", delivered)
	}
	if s := c.Stats(); s.ObserverErrors != 4 || s.Updates != 2 {
		t.Errorf("Stats() = %+v, want 4 observer errors and 2 updates", s)
	}
}

func TestCache_ObserverCannotMutateOthers(t *testing.T) {
	c := NewCache()

	c.RegisterObserver(func(_ string, state map[string]any) error {
		state["power"] = "hijacked"
		return nil
	})
	var seen any
	c.RegisterObserver(func(_ string, state map[string]any) error {
		seen = state["power"]
		return nil
	})

	c.Update("a", SourceStatus, map[string]any{"power": true})

	if seen != true {
		t.Errorf("second observer saw power=%v, want true", seen)
	}
	if snap, _ := c.Get("a"); snap.State["power"] != true {
		t.Errorf("cached power = %v, want true", snap.State["power"])
	}
}

func TestCache_RemoveObserver(t *testing.T) {
	c := NewCache()

	var calls int
	remove := c.RegisterObserver(func(string, map[string]any) error {
		calls++
		return nil
	})
	c.Update("a", SourceStatus, nil)

	remove()
	remove()
	c.Update("a", SourceStatus, nil)

	if calls != 1 {
		t.Errorf("observer called %d times, want 1", calls)
	}
	if c.ObserverCount() != 0 {
		t.Errorf("ObserverCount() = %d, want 0", c.ObserverCount())
	}
}

func TestCache_RegisterDuringNotify(t *testing.T) {
	c := NewCache()

	var late int
	c.RegisterObserver(func(string, map[string]any) error {
		if c.ObserverCount() == 1 {
			c.RegisterObserver(func(string, map[string]any) error {
				late++
				return nil
			})
		}
		return nil
	})

	c.Update("a", SourceStatus, nil)
	if late != 0 {
		t.Errorf("observer registered mid-notify ran in same round")
	}

	c.Update("a", SourceStatus, nil)
	if late != 1 {
		t.Errorf("late observer called %d times, want 1", late)
	}
}

// =============================================================================
// Maintenance Tests
// =============================================================================

func TestCache_ClearAndPrune(t *testing.T) {
	c := NewCache()
	for _, id := range []string{"kettle-01", "curtain-02", "ghost"} {
		c.Update(id, SourceStatus, nil)
	}

	known := map[string]bool{"kettle-01": true, "curtain-02": true}
	if n := c.Prune(func(id string) bool { return known[id] }); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if c.Len() != 2 || len(c.All()) != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear() = %d, want 0", c.Len())
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache()
	c.RegisterObserver(func(string, map[string]any) error { return nil })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Update("kettle-01", SourceStatus, map[string]any{"n": j})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Get("kettle-01")
			}
		}()
	}
	wg.Wait()

	if s := c.Stats(); s.Updates != 800 {
		t.Errorf("Updates = %d, want 800", s.Updates)
	}
}
