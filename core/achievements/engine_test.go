package achievements

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"viewrewards/core/benefits"
	"viewrewards/core/catalog"
	"viewrewards/settlement"
	"viewrewards/settlement/eventlog"
)

type stubSessions struct{ watched map[string]int }

func (s stubSessions) TotalVideosWatched(accountID string) int { return s.watched[accountID] }

type stubRatings struct{ counts map[string]int }

func (s stubRatings) CountFor(accountID string) int { return s.counts[accountID] }

type stubBenefits struct{ active map[string]benefits.Benefit }

func (s stubBenefits) Current(accountID string) (benefits.Benefit, bool) {
	benefit, ok := s.active[accountID]
	return benefit, ok
}

type captureSink struct {
	mu     sync.Mutex
	events []eventlog.Event
}

func (c *captureSink) Enqueue(evt eventlog.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func mintingGateway(calls *int) settlement.FuncGateway {
	return settlement.FuncGateway{
		MintFunc: func(ctx context.Context, accountID string, meta settlement.BadgeMetadata) (settlement.MintResult, error) {
			*calls++
			return settlement.MintResult{Serial: int64(*calls), TransactionID: "tx-mint"}, nil
		},
	}
}

func newTestEngine(t *testing.T, sessions stubSessions, ratings stubRatings, benefitSource stubBenefits, gateway settlement.Gateway, sink EventSink) *Engine {
	t.Helper()
	return NewEngine(sessions, ratings, benefitSource, gateway, sink, nil, WithTimeout(time.Second))
}

func TestAwardBadgeIdempotent(t *testing.T) {
	calls := 0
	sink := &captureSink{}
	engine := newTestEngine(t, stubSessions{}, stubRatings{}, stubBenefits{}, mintingGateway(&calls), sink)

	first, err := engine.AwardBadge(context.Background(), "acct-1", BadgeFirstWatch)
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if !first.NewlyAwarded || first.AlreadyOwned {
		t.Fatalf("first award: got %+v", first)
	}
	if first.Serial == nil || *first.Serial != 1 {
		t.Fatalf("expected serial 1, got %v", first.Serial)
	}

	second, err := engine.AwardBadge(context.Background(), "acct-1", BadgeFirstWatch)
	if err != nil {
		t.Fatalf("repeat award: %v", err)
	}
	if second.NewlyAwarded || !second.AlreadyOwned {
		t.Fatalf("repeat award: got %+v", second)
	}
	if calls != 1 {
		t.Fatalf("expected 1 mint, got %d", calls)
	}
	if sink.len() != 1 {
		t.Fatalf("expected 1 audit event, got %d", sink.len())
	}
}

func TestAwardBadgeUnknownType(t *testing.T) {
	engine := newTestEngine(t, stubSessions{}, stubRatings{}, stubBenefits{}, settlement.FuncGateway{}, nil)
	if _, err := engine.AwardBadge(context.Background(), "acct-1", "nope"); !errors.Is(err, ErrUnknownBadge) {
		t.Fatalf("expected ErrUnknownBadge, got %v", err)
	}
}

func TestAwardBadgeSettlementFailure(t *testing.T) {
	gateway := settlement.FuncGateway{
		MintFunc: func(ctx context.Context, accountID string, meta settlement.BadgeMetadata) (settlement.MintResult, error) {
			return settlement.MintResult{}, settlement.ErrTimeout
		},
	}
	sink := &captureSink{}
	engine := newTestEngine(t, stubSessions{}, stubRatings{}, stubBenefits{}, gateway, sink)

	result, err := engine.AwardBadge(context.Background(), "acct-1", BadgeFirstWatch)
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if !result.NewlyAwarded || !result.SettlementPending {
		t.Fatalf("expected pending award, got %+v", result)
	}
	if result.Serial != nil {
		t.Fatalf("expected nil serial, got %v", *result.Serial)
	}
	if !engine.HasBadge("acct-1", BadgeFirstWatch) {
		t.Fatal("badge should be earned despite settlement failure")
	}
	if sink.len() != 1 {
		t.Fatalf("expected audit event on pending award, got %d", sink.len())
	}
}

func TestRetrySettlement(t *testing.T) {
	fail := true
	engine := newTestEngine(t, stubSessions{}, stubRatings{}, stubBenefits{}, settlement.FuncGateway{
		MintFunc: func(ctx context.Context, accountID string, meta settlement.BadgeMetadata) (settlement.MintResult, error) {
			if fail {
				return settlement.MintResult{}, settlement.ErrTimeout
			}
			return settlement.MintResult{Serial: 42, TransactionID: "tx-retry"}, nil
		},
	}, nil)

	if _, err := engine.AwardBadge(context.Background(), "acct-1", BadgeFirstWatch); err != nil {
		t.Fatalf("award: %v", err)
	}

	fail = false
	result, err := engine.RetrySettlement(context.Background(), "acct-1", BadgeFirstWatch)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.SettlementPending {
		t.Fatal("retry should clear pending state")
	}
	if result.Serial == nil || *result.Serial != 42 {
		t.Fatalf("expected serial 42, got %v", result.Serial)
	}

	if _, err := engine.RetrySettlement(context.Background(), "acct-1", BadgeFirstWatch); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending after success, got %v", err)
	}
}

func TestRetrySettlementTrimsAccountID(t *testing.T) {
	fail := true
	engine := newTestEngine(t, stubSessions{}, stubRatings{}, stubBenefits{}, settlement.FuncGateway{
		MintFunc: func(ctx context.Context, accountID string, meta settlement.BadgeMetadata) (settlement.MintResult, error) {
			if fail {
				return settlement.MintResult{}, settlement.ErrTimeout
			}
			if accountID != "acct-1" {
				t.Errorf("mint received account %q", accountID)
			}
			return settlement.MintResult{Serial: 7, TransactionID: "tx"}, nil
		},
	}, nil)

	if _, err := engine.AwardBadge(context.Background(), "acct-1", BadgeFirstWatch); err != nil {
		t.Fatalf("award: %v", err)
	}

	fail = false
	result, err := engine.RetrySettlement(context.Background(), "  acct-1  ", BadgeFirstWatch)
	if err != nil {
		t.Fatalf("retry with padded account: %v", err)
	}
	if result.Serial == nil || *result.Serial != 7 {
		t.Fatalf("expected serial 7, got %v", result.Serial)
	}
}

func TestRetrySettlementNotPending(t *testing.T) {
	engine := newTestEngine(t, stubSessions{}, stubRatings{}, stubBenefits{}, settlement.FuncGateway{}, nil)
	if _, err := engine.RetrySettlement(context.Background(), "acct-1", BadgeFirstWatch); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestCheckAchievementsOrder(t *testing.T) {
	calls := 0
	engine := newTestEngine(t,
		stubSessions{watched: map[string]int{"acct-1": 12}},
		stubRatings{counts: map[string]int{"acct-1": 6}},
		stubBenefits{active: map[string]benefits.Benefit{
			"acct-1": {Type: benefits.TypeVIPDay},
		}},
		mintingGateway(&calls), nil)

	awarded, err := engine.CheckAchievements(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	want := []string{BadgeFirstWatch, BadgeBingeWatcher, BadgeRatingMaster, BadgeVIPMember}
	if len(awarded) != len(want) {
		t.Fatalf("expected %d badges, got %d", len(want), len(awarded))
	}
	for i, key := range want {
		if awarded[i].Badge.Key != key {
			t.Fatalf("badge %d: expected %s, got %s", i, key, awarded[i].Badge.Key)
		}
	}

	again, err := engine.CheckAchievements(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("recheck should award nothing, got %d", len(again))
	}
	if calls != len(want) {
		t.Fatalf("expected %d mints, got %d", len(want), calls)
	}
}

func TestCheckAchievementsBelowThresholds(t *testing.T) {
	calls := 0
	engine := newTestEngine(t,
		stubSessions{watched: map[string]int{"acct-1": 0}},
		stubRatings{counts: map[string]int{"acct-1": 4}},
		stubBenefits{},
		mintingGateway(&calls), nil)

	awarded, err := engine.CheckAchievements(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(awarded) != 0 {
		t.Fatalf("expected no badges, got %d", len(awarded))
	}
}

func TestThresholdsComeFromCatalog(t *testing.T) {
	cat := &catalog.Catalog{
		Achievements: []catalog.Achievement{
			{Key: BadgeFirstWatch, Name: "First Watch", Requirement: 5},
			{Key: BadgeBingeWatcher, Name: "Binge Watcher", Requirement: 3},
			{Key: BadgeRatingMaster, Name: "Rating Master", Requirement: 5},
			{Key: BadgeVIPMember, Name: "VIP Member"},
		},
	}
	calls := 0
	engine := NewEngine(
		stubSessions{watched: map[string]int{"acct-1": 3}},
		stubRatings{},
		stubBenefits{},
		mintingGateway(&calls),
		nil,
		cat,
	)

	awarded, err := engine.CheckAchievements(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(awarded) != 1 || awarded[0].Badge.Key != BadgeBingeWatcher {
		t.Fatalf("expected only %s at a 3-video requirement, got %+v", BadgeBingeWatcher, awarded)
	}
	if engine.HasBadge("acct-1", BadgeFirstWatch) {
		t.Fatal("first_watch should not unlock below its 5-video requirement")
	}
}

func TestConcurrentAwardMintsOnce(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	gateway := settlement.FuncGateway{
		MintFunc: func(ctx context.Context, accountID string, meta settlement.BadgeMetadata) (settlement.MintResult, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			return settlement.MintResult{Serial: 1, TransactionID: "tx"}, nil
		},
	}
	engine := newTestEngine(t, stubSessions{}, stubRatings{}, stubBenefits{}, gateway, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.AwardBadge(context.Background(), "acct-1", BadgeFirstWatch); err != nil {
				t.Errorf("award: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected exactly 1 mint, got %d", calls)
	}
}

func TestBadgesListing(t *testing.T) {
	calls := 0
	engine := newTestEngine(t, stubSessions{}, stubRatings{}, stubBenefits{}, mintingGateway(&calls), nil)
	if _, err := engine.AwardBadge(context.Background(), "acct-1", BadgeRatingMaster); err != nil {
		t.Fatalf("award: %v", err)
	}

	statuses := engine.Badges("acct-1")
	if len(statuses) != 4 {
		t.Fatalf("expected 4 badge statuses, got %d", len(statuses))
	}
	owned := 0
	for _, status := range statuses {
		if status.Owned {
			owned++
			if status.Definition.Key != BadgeRatingMaster {
				t.Fatalf("unexpected owned badge %s", status.Definition.Key)
			}
			if status.Serial == nil {
				t.Fatal("owned badge missing serial")
			}
		}
	}
	if owned != 1 {
		t.Fatalf("expected 1 owned badge, got %d", owned)
	}
}
