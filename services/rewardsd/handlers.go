package rewardsd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"viewrewards/core/achievements"
	"viewrewards/core/benefits"
	"viewrewards/core/devices"
	"viewrewards/core/ratings"
	"viewrewards/settlement"
	"viewrewards/settlement/eventlog"
)

type badgeView struct {
	Badge             string `json:"badge"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	Icon              string `json:"icon,omitempty"`
	NFTSerial         *int64 `json:"nftSerial"`
	SettlementPending bool   `json:"settlementPending,omitempty"`
}

func badgeViews(results []achievements.AwardResult) []badgeView {
	views := make([]badgeView, 0, len(results))
	for _, result := range results {
		views = append(views, badgeView{
			Badge:             result.Badge.Key,
			Name:              result.Badge.Name,
			Description:       result.Badge.Description,
			Icon:              result.Badge.Icon,
			NFTSerial:         result.Serial,
			SettlementPending: result.SettlementPending,
		})
	}
	return views
}

// Health reports liveness.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "rewardsd",
		"timestamp": s.now().UTC(),
	})
}

// ListRedemptions returns the redemption catalog.
func (s *Server) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"redemptions": s.catalog.Redemptions,
	})
}

// RegisterDevice binds a device to an account, rejecting conflicts.
func (s *Server) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"accountId"`
		DeviceID  string `json:"deviceId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, err := s.devices.Register(req.AccountID, req.DeviceID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch status {
	case devices.StatusRegistered, devices.StatusAlreadyRegistered:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"status":  status,
		})
	case devices.StatusFraudConflict:
		s.metrics.RecordFraudRejection(string(status))
		s.logger.Warn("device registration rejected",
			"device", req.DeviceID,
			"account", req.AccountID,
			"status", status,
		)
		s.writeJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"status":  status,
			"error":   "device is registered to another account",
		})
	case devices.StatusMultipleDevices:
		s.metrics.RecordFraudRejection(string(status))
		s.writeJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"status":  status,
			"error":   "account already has a registered device",
		})
	}
}

// VerifyDevice checks a device/account binding.
func (s *Server) VerifyDevice(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	deviceID := strings.TrimSpace(r.URL.Query().Get("deviceId"))
	if accountID == "" || deviceID == "" {
		s.writeError(w, http.StatusBadRequest, "accountId and deviceId are required")
		return
	}
	verified, reason := s.devices.Verify(accountID, deviceID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"verified": verified,
		"reason":   reason,
	})
}

// DeviceInfo returns the binding for one account, or every binding. The
// enumeration branch previews device ids instead of echoing them whole:
// knowledge of the full id is what verification treats as proof of
// ownership.
func (s *Server) DeviceInfo(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	if accountID != "" {
		binding, ok := s.devices.DeviceFor(accountID)
		if !ok {
			s.writeError(w, http.StatusNotFound, "no device registered for account")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"binding": bindingView(binding, false),
		})
		return
	}
	all := s.devices.Bindings()
	views := make([]map[string]any, 0, len(all))
	for _, binding := range all {
		views = append(views, bindingView(binding, true))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"count":    len(views),
		"bindings": views,
	})
}

const deviceIDPreviewLen = 30

func bindingView(b devices.Binding, preview bool) map[string]any {
	deviceID := b.DeviceID
	if preview && len(deviceID) > deviceIDPreviewLen {
		deviceID = deviceID[:deviceIDPreviewLen] + "..."
	}
	return map[string]any{
		"deviceId":     deviceID,
		"accountId":    b.AccountID,
		"registeredAt": b.RegisteredAt.UTC(),
	}
}

// StartSession opens a watch session for an account.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"accountId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID, err := s.sessions.Start(req.AccountID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": sessionID,
	})
}

// RecordVideo counts a completed video against a session and re-evaluates
// achievements for the owning account.
func (s *Server) RecordVideo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		ContentID string `json:"contentId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	watched, err := s.sessions.RecordVideo(req.SessionID, req.ContentID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid session")
		return
	}
	accountID, err := s.sessions.AccountFor(req.SessionID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid session")
		return
	}
	newBadges, err := s.engine.CheckAchievements(r.Context(), accountID)
	if err != nil {
		s.logger.Warn("achievement check failed", "account", accountID, "err", err)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"videosWatched": watched,
		"newBadges":     badgeViews(newBadges),
	})
}

// SessionBonus reports the binge bonus for a session and settles it the
// first time each threshold is reached.
func (s *Server) SessionBonus(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	accountID, err := s.sessions.AccountFor(sessionID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid session")
		return
	}

	// A single ClaimBonus call is both the snapshot and the claim: the
	// settled amount always matches the threshold that was marked.
	bonus, newlyClaimed, err := s.sessions.ClaimBonus(sessionID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid session")
		return
	}

	resp := map[string]any{
		"success":       true,
		"baseBonus":     bonus.BaseBonus,
		"bonus":         int64(0),
		"multiplier":    1.0,
		"videosWatched": bonus.VideosWatched,
	}
	if bonus.Message != "" {
		resp["message"] = bonus.Message
	}
	if bonus.Threshold == 0 {
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	amount, multiplier := s.calculator.Reward(bonus.BaseBonus, accountID)
	resp["bonus"] = amount
	resp["multiplier"] = multiplier

	if !newlyClaimed {
		resp["alreadyClaimed"] = true
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	s.metrics.RecordBonusClaim(strconv.Itoa(bonus.Threshold))
	memo := fmt.Sprintf("Binge bonus (%d videos)", bonus.Threshold)
	txID, settled := s.transfer(r.Context(), accountID, amount, memo)
	if settled {
		resp["settlementTxId"] = txID
	} else {
		resp["settlementPending"] = true
	}
	s.emit("binge_bonus", map[string]interface{}{
		"account_id":     accountID,
		"session_id":     sessionID,
		"threshold":      bonus.Threshold,
		"base_bonus":     bonus.BaseBonus,
		"bonus":          amount,
		"multiplier":     multiplier,
		"videos_watched": bonus.VideosWatched,
	})
	s.writeJSON(w, http.StatusOK, resp)
}

// SubmitRating stores a rating, pays the rating reward, and re-evaluates
// achievements.
func (s *Server) SubmitRating(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"accountId"`
		ContentID string `json:"contentId"`
		Rating    int    `json:"rating"`
		SessionID string `json:"sessionId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rating, err := s.ratings.Submit(req.AccountID, req.ContentID, req.Rating, req.SessionID)
	if err != nil {
		if errors.Is(err, ratings.ErrInvalidRating) {
			s.writeError(w, http.StatusBadRequest, "rating must be between 1 and 5")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	base := s.catalog.Rewards.RatingBase
	amount, multiplier := s.calculator.Reward(base, rating.AccountID)
	txID, settled := s.transfer(r.Context(), rating.AccountID, amount, "Rating reward")

	s.emit("rating", map[string]interface{}{
		"account_id": rating.AccountID,
		"content_id": rating.ContentID,
		"rating":     rating.Rating,
		"session_id": rating.SessionID,
	})
	s.emit("reward", map[string]interface{}{
		"account_id": rating.AccountID,
		"amount":     amount,
		"reason":     "rating",
	})

	newBadges, err := s.engine.CheckAchievements(r.Context(), rating.AccountID)
	if err != nil {
		s.logger.Warn("achievement check failed", "account", rating.AccountID, "err", err)
	}

	resp := map[string]any{
		"success":    true,
		"reward":     amount,
		"baseReward": base,
		"multiplier": multiplier,
		"newBadges":  badgeViews(newBadges),
	}
	if settled {
		resp["settlementTxId"] = txID
	} else {
		resp["settlementPending"] = true
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// RedeemBenefit activates a benefit from the redemption catalog.
func (s *Server) RedeemBenefit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID   string `json:"accountId"`
		BenefitType string `json:"benefitType"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	benefit, redemption, err := s.benefits.Redeem(req.AccountID, req.BenefitType)
	if err != nil {
		if errors.Is(err, benefits.ErrUnknownBenefit) {
			s.writeError(w, http.StatusBadRequest, "unknown benefit type")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.emit("redemption", map[string]interface{}{
		"account_id":   req.AccountID,
		"benefit_type": benefit.Type,
		"cost":         redemption.Cost,
	})

	newBadges, err := s.engine.CheckAchievements(r.Context(), req.AccountID)
	if err != nil {
		s.logger.Warn("achievement check failed", "account", req.AccountID, "err", err)
	}

	resp := map[string]any{
		"success": true,
		"benefit": map[string]any{
			"type":        benefit.Type,
			"name":        benefit.Name,
			"activatedAt": benefit.ActivatedAt.UTC(),
		},
		"newBadges": badgeViews(newBadges),
	}
	if benefit.Expires() {
		resp["expiresAt"] = benefit.ExpiresAt.UTC()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// CurrentBenefit returns the account's active benefit, if any.
func (s *Server) CurrentBenefit(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	if accountID == "" {
		s.writeError(w, http.StatusBadRequest, "accountId is required")
		return
	}
	benefit, ok := s.benefits.Current(accountID)
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"hasBenefit": false,
		})
		return
	}
	view := map[string]any{
		"type":        benefit.Type,
		"name":        benefit.Name,
		"activatedAt": benefit.ActivatedAt.UTC(),
	}
	if benefit.Expires() {
		view["expiresAt"] = benefit.ExpiresAt.UTC()
		view["remainingSeconds"] = benefit.RemainingSeconds(s.benefits.Now())
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"hasBenefit": true,
		"benefit":    view,
	})
}

// ListBadges splits the badge catalog into owned and available for one
// account.
func (s *Server) ListBadges(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	if accountID == "" {
		s.writeError(w, http.StatusBadRequest, "accountId is required")
		return
	}
	owned := make([]map[string]any, 0)
	available := make([]map[string]any, 0)
	for _, status := range s.engine.Badges(accountID) {
		if status.Owned {
			owned = append(owned, map[string]any{
				"badge":             status.Definition.Key,
				"name":              status.Definition.Name,
				"icon":              status.Definition.Icon,
				"nftSerial":         status.Serial,
				"settlementPending": status.SettlementPending,
				"earnedAt":          status.EarnedAt.UTC(),
			})
			continue
		}
		available = append(available, map[string]any{
			"badge":       status.Definition.Key,
			"name":        status.Definition.Name,
			"icon":        status.Definition.Icon,
			"description": status.Definition.Description,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"ownedBadges":     owned,
		"availableBadges": available,
	})
}

// CheckAchievements re-evaluates every achievement predicate for an
// account.
func (s *Server) CheckAchievements(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"accountId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	newBadges, err := s.engine.CheckAchievements(r.Context(), req.AccountID)
	if err != nil && !errors.Is(err, achievements.ErrAccountRequired) {
		s.logger.Warn("achievement check failed", "account", req.AccountID, "err", err)
	}
	if errors.Is(err, achievements.ErrAccountRequired) {
		s.writeError(w, http.StatusBadRequest, "accountId is required")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"newBadges": badgeViews(newBadges),
	})
}

// ListRatings returns every rating an account has submitted.
func (s *Server) ListRatings(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	if accountID == "" {
		s.writeError(w, http.StatusBadRequest, "accountId is required")
		return
	}
	all := s.ratings.AllFor(accountID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(all),
		"ratings": all,
	})
}

// ListEvents exposes recent audit-event history and topic metadata.
func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	history := []eventlog.Event{}
	if s.queue != nil {
		history = s.queue.History()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"topic":   s.eventTopic,
		"count":   len(history),
		"events":  history,
	})
}

// GrantReward transfers tokens to an account outside the normal reward
// flows. Admin only.
func (s *Server) GrantReward(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"accountId"`
		Amount    int64  `json:"amount"`
		Reason    string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		s.writeError(w, http.StatusBadRequest, "accountId is required")
		return
	}
	if req.Amount <= 0 {
		s.writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	memo := strings.TrimSpace(req.Reason)
	if memo == "" {
		memo = "Manual reward"
	}
	txID, settled := s.transfer(r.Context(), accountID, req.Amount, memo)
	s.emit("reward", map[string]interface{}{
		"account_id": accountID,
		"amount":     req.Amount,
		"reason":     memo,
	})
	resp := map[string]any{
		"success": true,
		"reward":  req.Amount,
	}
	if settled {
		resp["settlementTxId"] = txID
	} else {
		resp["settlementPending"] = true
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// RetrySettlement re-attempts the mint for a badge stuck in pending
// settlement. Admin only.
func (s *Server) RetrySettlement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"accountId"`
		Badge     string `json:"badge"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.engine.RetrySettlement(r.Context(), req.AccountID, req.Badge)
	if err != nil {
		switch {
		case errors.Is(err, achievements.ErrUnknownBadge):
			s.writeError(w, http.StatusBadRequest, "unknown badge type")
		case errors.Is(err, achievements.ErrNotPending):
			s.writeError(w, http.StatusConflict, "badge has no pending settlement")
		default:
			s.writeJSON(w, http.StatusBadGateway, map[string]any{
				"success":           false,
				"error":             "settlement retry failed",
				"settlementPending": true,
			})
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"badge":     result.Badge.Key,
		"nftSerial": result.Serial,
	})
}

// transfer moves tokens from the treasury with a bounded call budget. A
// failed transfer never rolls back the local state that triggered it.
func (s *Server) transfer(ctx context.Context, to string, amount int64, memo string) (string, bool) {
	callCtx, cancel := settlement.WithTimeout(ctx, s.settleTimeout)
	defer cancel()
	start := s.now()
	txID, err := s.gateway.TransferTokens(callCtx, s.treasury, to, amount, memo)
	s.metrics.ObserveSettlementLatency("transfer", s.now().Sub(start))
	if err != nil {
		s.metrics.RecordSettlement("transfer", "failure")
		s.logger.Warn("settlement transfer failed",
			"to", to,
			"amount", amount,
			"err", err,
		)
		return "", false
	}
	s.metrics.RecordSettlement("transfer", "success")
	return txID, true
}

func (s *Server) emit(eventType string, data map[string]interface{}) {
	if s.queue == nil {
		return
	}
	s.queue.Enqueue(eventlog.Event{
		Type:      eventType,
		Timestamp: s.now().UTC(),
		Data:      data,
	})
}
