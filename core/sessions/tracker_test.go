package sessions

import (
	"strings"
	"testing"
	"time"

	"viewrewards/core/catalog"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker := NewTracker(catalog.Default().Rewards)
	tracker.SetNow(func() time.Time { return time.Unix(1700000000, 0).UTC() })
	return tracker
}

func watch(t *testing.T, tracker *Tracker, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := tracker.RecordVideo(sessionID, "video"); err != nil {
			t.Fatalf("record video %d: %v", i, err)
		}
	}
}

func TestTrackerStartIssuesUniqueIDs(t *testing.T) {
	tracker := newTracker(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := tracker.Start("0.0.100")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if !strings.HasPrefix(id, "session_") {
			t.Fatalf("unexpected session id shape %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}
}

func TestTrackerRecordVideoCounts(t *testing.T) {
	tracker := newTracker(t)
	id, err := tracker.Start("0.0.100")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for want := 1; want <= 3; want++ {
		count, err := tracker.RecordVideo(id, "video-a")
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if count != want {
			t.Fatalf("expected count %d, got %d", want, count)
		}
	}
	if _, err := tracker.RecordVideo("session_bogus", "video-a"); err != ErrUnknownSession {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestTrackerTotalsSpanSessions(t *testing.T) {
	tracker := newTracker(t)
	first, _ := tracker.Start("0.0.100")
	second, _ := tracker.Start("0.0.100")
	other, _ := tracker.Start("0.0.200")

	watch(t, tracker, first, 4)
	watch(t, tracker, second, 6)
	watch(t, tracker, other, 3)

	if total := tracker.TotalVideosWatched("0.0.100"); total != 10 {
		t.Fatalf("expected 10 across sessions, got %d", total)
	}
	if total := tracker.TotalVideosWatched("0.0.200"); total != 3 {
		t.Fatalf("expected 3 for other account, got %d", total)
	}
}

func TestTrackerBonusThresholds(t *testing.T) {
	cases := []struct {
		videos    int
		base      int64
		threshold int
	}{
		{0, 0, 0},
		{2, 0, 0},
		{3, 5, 3},
		{4, 5, 3},
		{5, 15, 5},
		{9, 15, 5},
	}
	for _, tc := range cases {
		tracker := newTracker(t)
		id, _ := tracker.Start("0.0.100")
		watch(t, tracker, id, tc.videos)

		bonus, err := tracker.BonusFor(id)
		if err != nil {
			t.Fatalf("bonus for %d videos: %v", tc.videos, err)
		}
		if bonus.BaseBonus != tc.base || bonus.Threshold != tc.threshold {
			t.Fatalf("videos=%d: expected base=%d threshold=%d, got %+v", tc.videos, tc.base, tc.threshold, bonus)
		}
		if bonus.VideosWatched != tc.videos {
			t.Fatalf("videos=%d: bonus reports %d watched", tc.videos, bonus.VideosWatched)
		}
	}
}

func TestTrackerClaimBonusOncePerThreshold(t *testing.T) {
	tracker := newTracker(t)
	id, _ := tracker.Start("0.0.100")
	watch(t, tracker, id, 3)

	bonus, newly, err := tracker.ClaimBonus(id)
	if err != nil || !newly {
		t.Fatalf("first claim at 3: newly=%v err=%v", newly, err)
	}
	if bonus.BaseBonus != 5 {
		t.Fatalf("expected base 5 at threshold 3, got %d", bonus.BaseBonus)
	}

	if _, newly, _ := tracker.ClaimBonus(id); newly {
		t.Fatalf("second claim at same threshold must not settle again")
	}

	// Crossing five opens the higher threshold exactly once.
	watch(t, tracker, id, 2)
	bonus, newly, err = tracker.ClaimBonus(id)
	if err != nil || !newly {
		t.Fatalf("claim at 5: newly=%v err=%v", newly, err)
	}
	if bonus.BaseBonus != 15 {
		t.Fatalf("expected base 15 at threshold 5, got %d", bonus.BaseBonus)
	}
	if _, newly, _ := tracker.ClaimBonus(id); newly {
		t.Fatalf("five-threshold must settle at most once")
	}
}

func TestTrackerClaimBelowThreshold(t *testing.T) {
	tracker := newTracker(t)
	id, _ := tracker.Start("0.0.100")
	watch(t, tracker, id, 2)

	bonus, newly, err := tracker.ClaimBonus(id)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if newly || bonus.BaseBonus != 0 {
		t.Fatalf("no threshold crossed, got newly=%v bonus=%+v", newly, bonus)
	}
	if bonus.Message == "" {
		t.Fatalf("expected watch-more message")
	}
}
