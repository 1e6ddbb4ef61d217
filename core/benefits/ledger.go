// Package benefits tracks the single active redeemed benefit per account
// and derives the reward multiplier from it.
package benefits

import (
	"errors"
	"strings"
	"sync"
	"time"

	"viewrewards/core/catalog"
)

var (
	ErrAccountRequired = errors.New("benefits: account id required")
	// ErrUnknownBenefit is returned when the benefit type is not in the
	// redemption catalog.
	ErrUnknownBenefit = errors.New("benefits: unknown benefit type")
)

// VIP benefits double rewards; everything else leaves them unchanged.
const (
	TypeVIPDay = "vip_day"

	vipMultiplier  = 2.0
	baseMultiplier = 1.0
)

// Benefit is an active redeemed perk. ExpiresAt is zero for benefits
// without a time box.
type Benefit struct {
	Type        string
	Name        string
	ActivatedAt time.Time
	ExpiresAt   time.Time
}

// Expires reports whether the benefit has a time box.
func (b Benefit) Expires() bool { return !b.ExpiresAt.IsZero() }

// RemainingSeconds reports whole seconds until expiry, or -1 when the
// benefit never expires.
func (b Benefit) RemainingSeconds(now time.Time) int64 {
	if !b.Expires() {
		return -1
	}
	remaining := b.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return int64(remaining / time.Second)
}

// Ledger holds at most one benefit per account. A new redemption
// overwrites the previous benefit; expired benefits are evicted lazily on
// read.
type Ledger struct {
	mu      sync.Mutex
	now     func() time.Time
	catalog *catalog.Catalog
	active  map[string]Benefit
}

// NewLedger constructs an empty ledger backed by the given catalog.
func NewLedger(cat *catalog.Catalog) *Ledger {
	if cat == nil {
		cat = catalog.Default()
	}
	return &Ledger{
		now:     time.Now,
		catalog: cat,
		active:  make(map[string]Benefit),
	}
}

// SetNow overrides the time source. It is intended for tests.
func (l *Ledger) SetNow(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Redeem activates the benefit for the account, replacing any prior one.
// The token charge itself is the settlement gateway's business; the ledger
// only records the activation window.
func (l *Ledger) Redeem(accountID, benefitType string) (Benefit, catalog.Redemption, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Benefit{}, catalog.Redemption{}, ErrAccountRequired
	}
	entry, ok := l.catalog.RedemptionFor(benefitType)
	if !ok {
		return Benefit{}, catalog.Redemption{}, ErrUnknownBenefit
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	benefit := Benefit{
		Type:        entry.Type,
		Name:        entry.Name,
		ActivatedAt: now,
	}
	if entry.DurationSeconds > 0 {
		benefit.ExpiresAt = now.Add(time.Duration(entry.DurationSeconds) * time.Second)
	}
	l.active[accountID] = benefit
	return benefit, entry, nil
}

// ActiveMultiplier returns the reward multiplier for the account. This is
// the single source of truth for reward doubling; expired benefits are
// evicted as a side effect of the read.
func (l *Ledger) ActiveMultiplier(accountID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	benefit, ok := l.activeLocked(accountID)
	if !ok {
		return baseMultiplier
	}
	if benefit.Type == TypeVIPDay {
		return vipMultiplier
	}
	return baseMultiplier
}

// Current returns the account's active benefit, if any. Expired benefits
// are evicted as a side effect.
func (l *Ledger) Current(accountID string) (Benefit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeLocked(accountID)
}

// Now exposes the ledger clock so callers computing remaining time agree
// with the eviction decisions.
func (l *Ledger) Now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now()
}

func (l *Ledger) activeLocked(accountID string) (Benefit, bool) {
	benefit, ok := l.active[accountID]
	if !ok {
		return Benefit{}, false
	}
	if benefit.Expires() && benefit.ExpiresAt.Before(l.now()) {
		delete(l.active, accountID)
		return Benefit{}, false
	}
	return benefit, true
}
