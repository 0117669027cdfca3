package mingle

import "testing"

func TestPresenceTracker(t *testing.T) {
	t.Run("replace installs full set", func(t *testing.T) {
		p := NewPresenceTracker()
		p.Replace([]int64{1, 2, 3})
		for _, id := range []int64{1, 2, 3} {
			if !p.IsOnline(id) {
				t.Errorf("user %d should be online", id)
			}
		}
		if p.IsOnline(4) {
			t.Error("user 4 should be offline")
		}
		if got := p.OnlineCount(); got != 3 {
			t.Errorf("count = %d, want 3", got)
		}
	})

	t.Run("replace removes users absent from new set", func(t *testing.T) {
		p := NewPresenceTracker()
		p.Replace([]int64{1, 2, 3})
		p.Replace([]int64{2, 4})
		if p.IsOnline(1) || p.IsOnline(3) {
			t.Error("users from the old set leaked into the new one")
		}
		if !p.IsOnline(2) || !p.IsOnline(4) {
			t.Error("users from the new set missing")
		}
	})

	t.Run("apply toggles a single user", func(t *testing.T) {
		p := NewPresenceTracker()
		p.Apply(7, true)
		if !p.IsOnline(7) {
			t.Fatal("user 7 should be online")
		}
		p.Apply(7, false)
		if p.IsOnline(7) {
			t.Fatal("user 7 should be offline")
		}
	})

	t.Run("duplicate events are idempotent", func(t *testing.T) {
		p := NewPresenceTracker()
		p.Apply(7, true)
		p.Apply(7, true)
		if got := p.OnlineCount(); got != 1 {
			t.Fatalf("count = %d after duplicate online, want 1", got)
		}
		p.Apply(7, false)
		p.Apply(7, false)
		if got := p.OnlineCount(); got != 0 {
			t.Fatalf("count = %d after duplicate offline, want 0", got)
		}
		// Offline for a user never seen is also a no-op.
		p.Apply(99, false)
		if got := p.OnlineCount(); got != 0 {
			t.Fatalf("count = %d, want 0", got)
		}
	})

	t.Run("non-positive IDs ignored", func(t *testing.T) {
		p := NewPresenceTracker()
		p.Apply(0, true)
		p.Apply(-5, true)
		p.Replace([]int64{0, -1, 8})
		if got := p.OnlineCount(); got != 1 {
			t.Fatalf("count = %d, want 1", got)
		}
		if p.IsOnline(0) || p.IsOnline(-1) {
			t.Error("non-positive ID reported online")
		}
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		p := NewPresenceTracker()
		p.Replace([]int64{1, 2})
		snap := p.Snapshot()
		if len(snap) != 2 {
			t.Fatalf("snapshot size = %d, want 2", len(snap))
		}
		snap[0] = 999
		if p.IsOnline(999) {
			t.Fatal("mutating the snapshot changed the tracker")
		}
	})
}
