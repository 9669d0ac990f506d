package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/HrishiK1107/AuthGuard/pkg/archive"
	"github.com/HrishiK1107/AuthGuard/pkg/clock"
	"github.com/HrishiK1107/AuthGuard/pkg/enforce"
	"github.com/HrishiK1107/AuthGuard/pkg/pipeline"
	"github.com/HrishiK1107/AuthGuard/pkg/rules"
	"github.com/HrishiK1107/AuthGuard/pkg/store"
)

// shutdownGrace bounds how long in-flight requests may run after a stop
// signal.
const shutdownGrace = 5 * time.Second

// Options wires a Server. Exporter may be nil (archive endpoint returns
// 503); everything else is required.
type Options struct {
	Processor *pipeline.Processor
	Rules     *rules.Table
	Blocks    *store.BlockStore
	Settings  *store.SettingsStore
	Campaigns *store.CampaignStore
	Log       store.EventLog
	Bridge    *enforce.Bridge
	Exporter  *archive.Exporter

	AdminSecret string
	RateRPS     float64
	RateBurst   int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	processor *pipeline.Processor
	rules     *rules.Table
	blocks    *store.BlockStore
	settings  *store.SettingsStore
	campaigns *store.CampaignStore
	log       store.EventLog
	bridge    *enforce.Bridge
	exporter  *archive.Exporter

	adminSecret string
	limiter     *RateLimiter

	clk    clock.Clock
	logger *slog.Logger
}

// NewServer builds the server. Rate limiting is active when RateRPS > 0.
func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.Wall{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		processor:   opts.Processor,
		rules:       opts.Rules,
		blocks:      opts.Blocks,
		settings:    opts.Settings,
		campaigns:   opts.Campaigns,
		log:         opts.Log,
		bridge:      opts.Bridge,
		exporter:    opts.Exporter,
		adminSecret: opts.AdminSecret,
		clk:         opts.Clock,
		logger:      opts.Logger.With("component", "api"),
	}
	if opts.RateRPS > 0 {
		s.limiter = NewRateLimiter(opts.RateRPS, opts.RateBurst)
	}
	return s
}

// Close releases background resources (the rate-limiter reaper).
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Close()
	}
}

// Handler builds the routing table. The admin plane sits behind bearer
// auth; ingest and the dashboard reads are open (the limiter still covers
// everything).
func (s *Server) Handler() http.Handler {
	admin := AdminAuth(s.adminSecret)
	protected := func(h http.HandlerFunc) http.Handler { return admin(h) }

	mux := http.NewServeMux()

	mux.HandleFunc("POST /events/auth", s.handleIngest)

	mux.Handle("GET /rules", protected(s.handleRulesList))
	mux.Handle("POST /rules/enable/{rule_id}", protected(s.handleRuleEnable))
	mux.Handle("POST /rules/disable/{rule_id}", protected(s.handleRuleDisable))
	mux.Handle("POST /rules/threshold/{rule_id}", protected(s.handleRuleThreshold))
	mux.Handle("POST /rules/guard/{rule_id}", protected(s.handleRuleGuard))

	mux.Handle("GET /blocks", protected(s.handleBlocksActive))
	mux.Handle("GET /blocks/history", protected(s.handleBlocksHistory))
	mux.Handle("POST /blocks/block", protected(s.handleBlock))
	mux.Handle("POST /blocks/unblock", protected(s.handleUnblock))
	mux.Handle("GET /blocks/enforcer/health", protected(s.handleEnforcerHealth))

	mux.Handle("GET /settings", protected(s.handleSettingsGet))
	mux.Handle("POST /settings", protected(s.handleSettingsUpdate))
	mux.Handle("POST /settings/mode", protected(s.handleSettingsMode))

	mux.Handle("POST /logs/archive", protected(s.handleArchive))

	mux.HandleFunc("GET /logs", s.handleLogsList)
	mux.HandleFunc("GET /dashboard/summary", s.handleDashboardSummary)
	mux.HandleFunc("GET /campaigns", s.handleCampaignsList)
	mux.HandleFunc("GET /health", s.handleHealth)

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return RequestID(h)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
