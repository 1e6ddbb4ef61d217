// Package ratings keeps the append-only log of star-rating submissions.
package ratings

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrAccountRequired = errors.New("ratings: account id required")
	// ErrInvalidRating is returned for ratings outside the 1..5 range.
	ErrInvalidRating = errors.New("ratings: rating must be between 1 and 5")
)

// Rating is a single submission. Entries are never mutated or deleted.
type Rating struct {
	Timestamp time.Time `json:"timestamp"`
	AccountID string    `json:"account_id"`
	ContentID string    `json:"content_id"`
	Rating    int       `json:"rating"`
	SessionID string    `json:"session_id"`
}

// Store holds every rating submitted during the process lifetime.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	entries []Rating
}

// NewStore constructs an empty rating store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// SetNow overrides the time source. It is intended for tests.
func (s *Store) SetNow(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Submit validates and appends a rating, returning the stored entry.
func (s *Store) Submit(accountID, contentID string, rating int, sessionID string) (Rating, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Rating{}, ErrAccountRequired
	}
	if rating < 1 || rating > 5 {
		return Rating{}, ErrInvalidRating
	}
	if contentID = strings.TrimSpace(contentID); contentID == "" {
		contentID = "unknown"
	}
	if sessionID = strings.TrimSpace(sessionID); sessionID == "" {
		sessionID = "unknown"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Rating{
		Timestamp: s.now().UTC(),
		AccountID: accountID,
		ContentID: contentID,
		Rating:    rating,
		SessionID: sessionID,
	}
	s.entries = append(s.entries, entry)
	return entry, nil
}

// CountFor reports the number of ratings submitted by accountID.
func (s *Store) CountFor(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, entry := range s.entries {
		if entry.AccountID == accountID {
			count++
		}
	}
	return count
}

// AllFor returns the account's ratings in insertion order.
func (s *Store) AllFor(accountID string) []Rating {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := make([]Rating, 0)
	for _, entry := range s.entries {
		if entry.AccountID == accountID {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// Len reports the total number of stored ratings.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
