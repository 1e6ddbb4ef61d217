// Package sessions tracks open viewing sessions and derives binge
// milestone bonuses from the watched-video count.
package sessions

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"viewrewards/core/catalog"
)

var (
	ErrAccountRequired = errors.New("sessions: account id required")
	// ErrUnknownSession is returned when the session id has never been
	// issued by this process.
	ErrUnknownSession = errors.New("sessions: invalid session")
)

// WatchedVideo is one playback event inside a session.
type WatchedVideo struct {
	ContentID string    `json:"content_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Bonus describes the binge bonus state for a session at some count.
type Bonus struct {
	Threshold     int
	BaseBonus     int64
	VideosWatched int
	Message       string
}

type sessionState struct {
	id        string
	accountID string
	startedAt time.Time
	watched   []WatchedVideo
	// thresholds whose bonus has already been settled for this session
	claimed map[int]bool
}

// Tracker owns every session started during the process lifetime.
// Sessions are never deleted.
type Tracker struct {
	mu       sync.Mutex
	now      func() time.Time
	rewards  catalog.Rewards
	sessions map[string]*sessionState
}

// NewTracker constructs an empty tracker paying the given bonus bases.
func NewTracker(rewards catalog.Rewards) *Tracker {
	return &Tracker{
		now:      time.Now,
		rewards:  rewards,
		sessions: make(map[string]*sessionState),
	}
}

// SetNow overrides the time source. It is intended for tests.
func (t *Tracker) SetNow(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Start opens a session for the account and returns its identifier. The id
// combines a millisecond timestamp with a random component so collisions
// are negligible even across rapid starts.
func (t *Tracker) Start(accountID string) (string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", ErrAccountRequired
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	id := fmt.Sprintf("session_%d_%s", now.UnixMilli(), uuid.NewString())
	t.sessions[id] = &sessionState{
		id:        id,
		accountID: accountID,
		startedAt: now,
		claimed:   make(map[int]bool),
	}
	return id, nil
}

// RecordVideo appends a watched-video entry and returns the session's new
// total count.
func (t *Tracker) RecordVideo(sessionID, contentID string) (int, error) {
	if contentID = strings.TrimSpace(contentID); contentID == "" {
		contentID = "unknown"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return 0, ErrUnknownSession
	}
	state.watched = append(state.watched, WatchedVideo{
		ContentID: contentID,
		Timestamp: t.now().UTC(),
	})
	return len(state.watched), nil
}

// AccountFor resolves the owner of a session.
func (t *Tracker) AccountFor(sessionID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return "", ErrUnknownSession
	}
	return state.accountID, nil
}

// TotalVideosWatched sums watched counts over every session the account
// has opened. Sessions are never merged; each start counts separately.
func (t *Tracker) TotalVideosWatched(accountID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, state := range t.sessions {
		if state.accountID == accountID {
			total += len(state.watched)
		}
	}
	return total
}

// BonusFor reports the bonus the session currently qualifies for without
// claiming it. The two thresholds are mutually exclusive: crossing five
// yields the five-threshold base alone, evaluated highest-first.
func (t *Tracker) BonusFor(sessionID string) (Bonus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return Bonus{}, ErrUnknownSession
	}
	return t.bonusLocked(state), nil
}

// ClaimBonus marks the session's current threshold as settled and reports
// whether it was newly claimed. Each threshold settles at most once per
// session, so repeated polls after a milestone no longer re-trigger
// payouts.
func (t *Tracker) ClaimBonus(sessionID string) (Bonus, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return Bonus{}, false, ErrUnknownSession
	}
	bonus := t.bonusLocked(state)
	if bonus.Threshold == 0 {
		return bonus, false, nil
	}
	if state.claimed[bonus.Threshold] {
		return bonus, false, nil
	}
	state.claimed[bonus.Threshold] = true
	return bonus, true, nil
}

func (t *Tracker) bonusLocked(state *sessionState) Bonus {
	count := len(state.watched)
	bonus := Bonus{VideosWatched: count}
	switch {
	case count >= 5:
		bonus.Threshold = 5
		bonus.BaseBonus = t.rewards.BingeFiveBase
		bonus.Message = "Watched 5+ videos!"
	case count >= 3:
		bonus.Threshold = 3
		bonus.BaseBonus = t.rewards.BingeThreeBase
		bonus.Message = "Watched 3+ videos!"
	default:
		bonus.Message = fmt.Sprintf("Watch %d more video(s) for bonus", 3-count)
	}
	return bonus
}
