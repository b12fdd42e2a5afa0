package mutation

import (
	"testing"
	"time"
)

func TestNotifierCoalescesFailuresInsideWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	n := NewNotifier(2*time.Second, 6*time.Second)
	n.now = func() time.Time { return now }

	n.Failure("Could not save transaction")
	now = now.Add(500 * time.Millisecond)
	n.Failure("Could not save category")
	now = now.Add(time.Second)
	got := n.Failure("Could not save allocation")

	if got.Count != 3 {
		t.Fatalf("expected 3 coalesced failures, got %d", got.Count)
	}
	if active := n.Active(); len(active) != 1 {
		t.Fatalf("expected one toast, got %d", len(active))
	}

	now = now.Add(3 * time.Second)
	n.Failure("Could not save transaction")
	if active := n.Active(); len(active) != 2 {
		t.Fatalf("expected a new toast after the window, got %d", len(active))
	}

	now = now.Add(7 * time.Second)
	if active := n.Active(); len(active) != 0 {
		t.Fatalf("expected toasts to expire, got %d", len(active))
	}
}

func TestNotifierDismissAndInfo(t *testing.T) {
	n := NewNotifier(2*time.Second, time.Minute)
	info := n.Info("Budget seeded")
	fail := n.Failure("Could not save transaction")
	if info.Level != LevelInfo || fail.Level != LevelError {
		t.Fatalf("unexpected levels %q %q", info.Level, fail.Level)
	}
	n.Dismiss(info.ID)
	active := n.Active()
	if len(active) != 1 || active[0].ID != fail.ID {
		t.Fatalf("unexpected active toasts %+v", active)
	}
}
