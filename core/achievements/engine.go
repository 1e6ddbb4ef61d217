// Package achievements drives the idempotent badge-award state machine.
// A badge moves NOT_EARNED → EARNED exactly once per account; the mint on
// the external ledger may fail without blocking that transition.
package achievements

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"viewrewards/core/benefits"
	"viewrewards/core/catalog"
	"viewrewards/observability"
	"viewrewards/settlement"
	"viewrewards/settlement/eventlog"
)

var (
	ErrAccountRequired = errors.New("achievements: account id required")
	// ErrUnknownBadge is returned for badge types missing from the
	// achievement catalog.
	ErrUnknownBadge = errors.New("achievements: unknown badge type")
	// ErrNotPending is returned when a settlement retry targets a badge
	// that is not earned or already carries a serial.
	ErrNotPending = errors.New("achievements: badge has no pending settlement")
)

// Badge keys evaluated by CheckAchievements, in order.
const (
	BadgeFirstWatch   = "first_watch"
	BadgeBingeWatcher = "binge_watcher"
	BadgeRatingMaster = "rating_master"
	BadgeVIPMember    = "vip_member"
)

// Fallbacks for catalogs whose entries carry no numeric requirement.
const (
	defaultFirstWatchNeed   = 1
	defaultBingeWatcherNeed = 10
	defaultRatingMasterNeed = 5
)

// SessionSource exposes the watched-video totals the predicates need.
type SessionSource interface {
	TotalVideosWatched(accountID string) int
}

// RatingSource exposes per-account rating counts.
type RatingSource interface {
	CountFor(accountID string) int
}

// BenefitSource exposes the account's active benefit.
type BenefitSource interface {
	Current(accountID string) (benefits.Benefit, bool)
}

// EventSink receives audit events after awards commit.
type EventSink interface {
	Enqueue(eventlog.Event)
}

// AwardResult reports the outcome of one award attempt.
type AwardResult struct {
	Badge             catalog.Achievement
	NewlyAwarded      bool
	AlreadyOwned      bool
	Serial            *int64
	TransactionID     string
	SettlementPending bool
}

// BadgeStatus describes one badge for an account.
type BadgeStatus struct {
	Definition        catalog.Achievement
	Owned             bool
	Serial            *int64
	SettlementPending bool
	EarnedAt          time.Time
}

type record struct {
	earnedAt time.Time
	serial   *int64
	txID     string
	pending  bool
	inFlight bool
}

// Engine evaluates achievement predicates and awards badges. Gateway
// calls happen outside the engine lock: the record is marked in-flight in
// one critical section, minted without the lock, then reconciled in a
// second critical section, so two concurrent awards for the same
// (account, badge) can never both reach the ledger.
type Engine struct {
	sessions SessionSource
	ratings  RatingSource
	benefits BenefitSource
	gateway  settlement.Gateway
	events   EventSink
	catalog  *catalog.Catalog
	metrics  *observability.RewardsdMetrics
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time

	firstWatchNeed   int
	bingeWatcherNeed int
	ratingMasterNeed int

	mu      sync.Mutex
	records map[string]map[string]*record
}

// EngineOption customises the engine instance.
type EngineOption func(*Engine)

// WithTimeout bounds each settlement call.
func WithTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithLogger supplies the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// NewEngine constructs an achievement engine over the given sources.
func NewEngine(sessions SessionSource, ratings RatingSource, benefitSource BenefitSource, gateway settlement.Gateway, events EventSink, cat *catalog.Catalog, opts ...EngineOption) *Engine {
	if cat == nil {
		cat = catalog.Default()
	}
	engine := &Engine{
		sessions: sessions,
		ratings:  ratings,
		benefits: benefitSource,
		gateway:  gateway,
		events:   events,
		catalog:  cat,
		metrics:  observability.Rewardsd(),
		logger:   slog.Default(),
		timeout:  10 * time.Second,
		now:      time.Now,
		records:  make(map[string]map[string]*record),
	}
	engine.firstWatchNeed = requirementFor(cat, BadgeFirstWatch, defaultFirstWatchNeed)
	engine.bingeWatcherNeed = requirementFor(cat, BadgeBingeWatcher, defaultBingeWatcherNeed)
	engine.ratingMasterNeed = requirementFor(cat, BadgeRatingMaster, defaultRatingMasterNeed)
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// requirementFor reads a badge's numeric threshold from the catalog, so
// the catalog stays the single source of truth for the counts.
func requirementFor(cat *catalog.Catalog, key string, fallback int) int {
	if definition, ok := cat.AchievementFor(key); ok && definition.Requirement > 0 {
		return definition.Requirement
	}
	return fallback
}

// HasBadge reports whether the account has earned the badge.
func (e *Engine) HasBadge(accountID, badge string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[accountID][badge]
	return ok && !rec.inFlight
}

// CheckAchievements evaluates every predicate for the account in a fixed
// order and awards badges whose predicate holds. It is safe to call after
// every video, rating, or redemption: already-earned badges are no-ops.
func (e *Engine) CheckAchievements(ctx context.Context, accountID string) ([]AwardResult, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ErrAccountRequired
	}

	newBadges := make([]AwardResult, 0)
	award := func(badge string) error {
		result, err := e.AwardBadge(ctx, accountID, badge)
		if err != nil {
			return err
		}
		if result.NewlyAwarded {
			newBadges = append(newBadges, result)
		}
		return nil
	}

	watched := e.sessions.TotalVideosWatched(accountID)
	if watched >= e.firstWatchNeed && !e.HasBadge(accountID, BadgeFirstWatch) {
		if err := award(BadgeFirstWatch); err != nil {
			return newBadges, err
		}
	}
	if watched >= e.bingeWatcherNeed && !e.HasBadge(accountID, BadgeBingeWatcher) {
		if err := award(BadgeBingeWatcher); err != nil {
			return newBadges, err
		}
	}
	if e.ratings.CountFor(accountID) >= e.ratingMasterNeed && !e.HasBadge(accountID, BadgeRatingMaster) {
		if err := award(BadgeRatingMaster); err != nil {
			return newBadges, err
		}
	}
	if benefit, ok := e.benefits.Current(accountID); ok && benefit.Type == benefits.TypeVIPDay {
		if !e.HasBadge(accountID, BadgeVIPMember) {
			if err := award(BadgeVIPMember); err != nil {
				return newBadges, err
			}
		}
	}
	return newBadges, nil
}

// AwardBadge awards the badge to the account if it is not yet earned. The
// badge becomes EARNED even when the mint fails; the failure is surfaced
// as SettlementPending and can be retried by an operator.
func (e *Engine) AwardBadge(ctx context.Context, accountID, badge string) (AwardResult, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return AwardResult{}, ErrAccountRequired
	}
	definition, ok := e.catalog.AchievementFor(badge)
	if !ok {
		return AwardResult{}, ErrUnknownBadge
	}

	e.mu.Lock()
	if rec, ok := e.records[accountID][badge]; ok {
		// An in-flight award counts as owned for the racing caller;
		// the winning call finishes the record either way.
		result := AwardResult{
			Badge:             definition,
			AlreadyOwned:      true,
			Serial:            rec.serial,
			TransactionID:     rec.txID,
			SettlementPending: rec.pending,
		}
		e.mu.Unlock()
		return result, nil
	}
	if e.records[accountID] == nil {
		e.records[accountID] = make(map[string]*record)
	}
	rec := &record{inFlight: true}
	e.records[accountID][badge] = rec
	e.mu.Unlock()

	mint, mintErr := e.mint(ctx, accountID, definition)

	e.mu.Lock()
	rec.inFlight = false
	rec.earnedAt = e.now().UTC()
	if mintErr == nil {
		serial := mint.Serial
		rec.serial = &serial
		rec.txID = mint.TransactionID
	} else {
		rec.pending = true
	}
	result := AwardResult{
		Badge:             definition,
		NewlyAwarded:      true,
		Serial:            rec.serial,
		TransactionID:     rec.txID,
		SettlementPending: rec.pending,
	}
	e.mu.Unlock()

	if mintErr != nil {
		e.metrics.RecordAward(badge, "pending")
		e.logger.Warn("badge minted locally, settlement failed",
			"account", accountID,
			"badge", badge,
			"err", mintErr,
		)
	} else {
		e.metrics.RecordAward(badge, "minted")
		e.logger.Info("badge awarded",
			"account", accountID,
			"badge", badge,
			"serial", mint.Serial,
		)
	}

	e.emit(accountID, definition, result.Serial)
	return result, nil
}

// RetrySettlement re-attempts the mint for a badge that is earned but has
// no settlement serial.
func (e *Engine) RetrySettlement(ctx context.Context, accountID, badge string) (AwardResult, error) {
	accountID = strings.TrimSpace(accountID)
	definition, ok := e.catalog.AchievementFor(badge)
	if !ok {
		return AwardResult{}, ErrUnknownBadge
	}

	e.mu.Lock()
	rec, ok := e.records[accountID][badge]
	if !ok || !rec.pending || rec.inFlight {
		e.mu.Unlock()
		return AwardResult{}, ErrNotPending
	}
	rec.inFlight = true
	e.mu.Unlock()

	mint, mintErr := e.mint(ctx, accountID, definition)

	e.mu.Lock()
	rec.inFlight = false
	if mintErr == nil {
		serial := mint.Serial
		rec.serial = &serial
		rec.txID = mint.TransactionID
		rec.pending = false
	}
	result := AwardResult{
		Badge:             definition,
		AlreadyOwned:      true,
		Serial:            rec.serial,
		TransactionID:     rec.txID,
		SettlementPending: rec.pending,
	}
	e.mu.Unlock()

	if mintErr != nil {
		e.metrics.RecordSettlement("mint_retry", "failure")
		return result, mintErr
	}
	e.metrics.RecordSettlement("mint_retry", "success")
	e.emit(accountID, definition, result.Serial)
	return result, nil
}

// Badges lists every catalog badge with the account's ownership state,
// preserving catalog order.
func (e *Engine) Badges(accountID string) []BadgeStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	statuses := make([]BadgeStatus, 0, len(e.catalog.Achievements))
	for _, definition := range e.catalog.Achievements {
		status := BadgeStatus{Definition: definition}
		if rec, ok := e.records[accountID][definition.Key]; ok && !rec.inFlight {
			status.Owned = true
			status.Serial = rec.serial
			status.SettlementPending = rec.pending
			status.EarnedAt = rec.earnedAt
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func (e *Engine) mint(ctx context.Context, accountID string, definition catalog.Achievement) (settlement.MintResult, error) {
	callCtx, cancel := settlement.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := e.now()
	mint, err := e.gateway.MintAndTransferBadge(callCtx, accountID, settlement.BadgeMetadata{
		Badge: definition.Key,
		Name:  definition.Name,
	})
	e.metrics.ObserveSettlementLatency("mint", e.now().Sub(start))
	if err != nil {
		e.metrics.RecordSettlement("mint", "failure")
		return settlement.MintResult{}, err
	}
	e.metrics.RecordSettlement("mint", "success")
	return mint, nil
}

func (e *Engine) emit(accountID string, definition catalog.Achievement, serial *int64) {
	if e.events == nil {
		return
	}
	data := map[string]interface{}{
		"account_id": accountID,
		"badge_type": definition.Key,
		"badge_name": definition.Name,
	}
	if serial != nil {
		data["nft_serial"] = *serial
	} else {
		data["nft_serial"] = nil
	}
	e.events.Enqueue(eventlog.Event{
		Type:      "achievement",
		Timestamp: e.now().UTC(),
		Data:      data,
	})
}
