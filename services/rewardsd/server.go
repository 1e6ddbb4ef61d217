package rewardsd

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"viewrewards/core/achievements"
	"viewrewards/core/benefits"
	"viewrewards/core/catalog"
	"viewrewards/core/devices"
	"viewrewards/core/ratings"
	"viewrewards/core/rewards"
	"viewrewards/core/sessions"
	"viewrewards/observability"
	"viewrewards/settlement"
	"viewrewards/settlement/eventlog"
)

// ServerConfig captures the dependencies required to construct the server.
type ServerConfig struct {
	Devices       *devices.Registry
	Sessions      *sessions.Tracker
	Ratings       *ratings.Store
	Benefits      *benefits.Ledger
	Engine        *achievements.Engine
	Calculator    *rewards.Calculator
	Gateway       settlement.Gateway
	Queue         *eventlog.Queue
	Catalog       *catalog.Catalog
	Treasury      string
	SettleTimeout time.Duration
	EventTopic    string
	Auth          *Authenticator
	AdminScope    string
	RateLimits    map[string]RateLimit
	Logger        *slog.Logger
}

// Server exposes the rewards coordination core over HTTP.
type Server struct {
	devices       *devices.Registry
	sessions      *sessions.Tracker
	ratings       *ratings.Store
	benefits      *benefits.Ledger
	engine        *achievements.Engine
	calculator    *rewards.Calculator
	gateway       settlement.Gateway
	queue         *eventlog.Queue
	catalog       *catalog.Catalog
	treasury      string
	settleTimeout time.Duration
	eventTopic    string
	auth          *Authenticator
	adminScope    string
	limiter       *RateLimiter
	metrics       *observability.RewardsdMetrics
	logger        *slog.Logger
	now           func() time.Time

	router http.Handler
}

// NewServer constructs a configured HTTP router over the coordination core.
func NewServer(cfg ServerConfig) *Server {
	srv := &Server{
		devices:       cfg.Devices,
		sessions:      cfg.Sessions,
		ratings:       cfg.Ratings,
		benefits:      cfg.Benefits,
		engine:        cfg.Engine,
		calculator:    cfg.Calculator,
		gateway:       cfg.Gateway,
		queue:         cfg.Queue,
		catalog:       cfg.Catalog,
		treasury:      cfg.Treasury,
		settleTimeout: cfg.SettleTimeout,
		eventTopic:    cfg.EventTopic,
		auth:          cfg.Auth,
		adminScope:    cfg.AdminScope,
		limiter:       NewRateLimiter(cfg.RateLimits),
		metrics:       observability.Rewardsd(),
		logger:        cfg.Logger,
		now:           time.Now,
	}
	if srv.catalog == nil {
		srv.catalog = catalog.Default()
	}
	if srv.settleTimeout <= 0 {
		srv.settleTimeout = 10 * time.Second
	}
	if srv.adminScope == "" {
		srv.adminScope = "rewards.admin"
	}
	if srv.auth == nil {
		srv.auth = NewAuthenticator(AuthConfig{}, cfg.Logger)
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetNow overrides the clock for tests.
func (s *Server) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.Health)
	r.Get("/redemptions", s.ListRedemptions)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		api.Use(s.auth.Middleware())
		api.With(s.limiter.Middleware("device")).Post("/device/register", s.RegisterDevice)
		api.Get("/device/verify", s.VerifyDevice)
		api.Get("/device/info", s.DeviceInfo)
		api.With(s.limiter.Middleware("session")).Post("/session/start", s.StartSession)
		api.With(s.limiter.Middleware("session")).Post("/session/video", s.RecordVideo)
		api.Get("/session/bonus", s.SessionBonus)
		api.With(s.limiter.Middleware("rate")).Post("/rate", s.SubmitRating)
		api.With(s.limiter.Middleware("redeem")).Post("/redeem", s.RedeemBenefit)
		api.Get("/benefits", s.CurrentBenefit)
		api.Get("/badges", s.ListBadges)
		api.Post("/achievements/check", s.CheckAchievements)
		api.Get("/ratings", s.ListRatings)
		api.Get("/events", s.ListEvents)
	})

	r.Group(func(admin chi.Router) {
		admin.Use(s.auth.Middleware(s.adminScope))
		admin.Post("/reward", s.GrantReward)
		admin.Post("/admin/settlement/retry", s.RetrySettlement)
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
