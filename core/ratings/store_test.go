package ratings

import (
	"testing"
	"time"
)

func TestStoreSubmitAndFilter(t *testing.T) {
	store := NewStore()
	store.SetNow(func() time.Time { return time.Unix(1700000000, 0).UTC() })

	for i, score := range []int{3, 4, 5} {
		if _, err := store.Submit("0.0.100", "video-a", score, "session-1"); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if _, err := store.Submit("0.0.200", "video-b", 2, "session-2"); err != nil {
		t.Fatalf("submit other account: %v", err)
	}

	if count := store.CountFor("0.0.100"); count != 3 {
		t.Fatalf("expected 3 ratings, got %d", count)
	}
	entries := store.AllFor("0.0.100")
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []int{3, 4, 5} {
		if entries[i].Rating != want {
			t.Fatalf("expected insertion order preserved, position %d got %d", i, entries[i].Rating)
		}
	}
}

func TestStoreRejectsOutOfRange(t *testing.T) {
	store := NewStore()
	for _, score := range []int{0, -1, 6, 100} {
		if _, err := store.Submit("0.0.100", "video-a", score, "session-1"); err != ErrInvalidRating {
			t.Fatalf("rating %d: expected ErrInvalidRating, got %v", score, err)
		}
	}
	if store.Len() != 0 {
		t.Fatalf("rejected submissions must not be stored, len=%d", store.Len())
	}
}

func TestStoreDefaultsUnknownFields(t *testing.T) {
	store := NewStore()
	entry, err := store.Submit("0.0.100", "  ", 4, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if entry.ContentID != "unknown" || entry.SessionID != "unknown" {
		t.Fatalf("expected unknown placeholders, got %q %q", entry.ContentID, entry.SessionID)
	}
}
