// Package server exposes the thin HTTP surface over the core operations:
// trigger a publish, control the continuous scheduler, create alerts, and a
// health probe.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-feed-oracle/internal/alerts"
	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/ledger"
	"price-feed-oracle/internal/provider"
	"price-feed-oracle/internal/publisher"
	"price-feed-oracle/internal/registrar"
	"price-feed-oracle/internal/scheduler"
	"price-feed-oracle/internal/sourceclient"
)

// Options parameterise the HTTP server.
type Options struct {
	Addr            string
	DefaultSymbols  []string
	DefaultInterval time.Duration
	Decimals        int32
	HealthTimeout   time.Duration
	ShutdownTimeout time.Duration
}

// Deps carries the optional read-only sources exposed over HTTP.
type Deps struct {
	Sentiment provider.SentimentSource
	FearGreed provider.FearGreedSource
}

// Server wires the core components behind JSON endpoints.
type Server struct {
	opts   Options
	pub    *publisher.Publisher
	sched  *scheduler.Scheduler
	alerts *alerts.Store
	led    ledger.Ledger
	deps   Deps
	logger zerolog.Logger
	engine *gin.Engine
}

func New(opts Options, pub *publisher.Publisher, sched *scheduler.Scheduler, alertStore *alerts.Store, led ledger.Ledger, deps Deps, logger zerolog.Logger) *Server {
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 5 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		opts:   opts,
		pub:    pub,
		sched:  sched,
		alerts: alertStore,
		led:    led,
		deps:   deps,
		logger: logger.With().Str("component", "http_server").Logger(),
		engine: engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/api/v1")
	api.POST("/publish", s.handlePublish)
	api.POST("/scheduler/start", s.handleSchedulerStart)
	api.POST("/scheduler/stop", s.handleSchedulerStop)
	api.GET("/scheduler/status", s.handleSchedulerStatus)
	api.POST("/alerts", s.handleCreateAlert)
	api.GET("/alerts", s.handleListAlerts)
	api.GET("/sentiment/:symbol", s.handleSentiment)
	api.GET("/feargreed", s.handleFearGreed)
}

// Engine exposes the router, for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.opts.Addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// handleHealth reports local status plus downstream ledger reachability.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.HealthTimeout)
	defer cancel()

	ledgerOK := true
	if _, err := s.led.Query(ctx, ledger.Filter{Schema: registrar.PriceFeedSchema}); err != nil {
		ledgerOK = false
	}

	status := http.StatusOK
	if !ledgerOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status": "ok",
		"ledger": gin.H{"reachable": ledgerOK},
	})
}

type publishRequest struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) handlePublish(c *gin.Context) {
	var req publishRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = s.opts.DefaultSymbols
	}

	report := s.pub.PublishAll(c.Request.Context(), symbols)

	succeeded := make([]gin.H, 0, len(report.Succeeded))
	for _, result := range report.Succeeded {
		succeeded = append(succeeded, gin.H{
			"symbol": result.Symbol,
			"tx":     string(result.Tx),
			"price":  result.Reading.Decimal().String(),
			"source": string(result.Reading.Source),
		})
	}
	failed := make([]gin.H, 0, len(report.Failed))
	for _, failure := range report.Failed {
		failed = append(failed, gin.H{
			"symbol": failure.Symbol,
			"error":  failure.Err.Error(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"succeeded": succeeded, "failed": failed})
}

type schedulerStartRequest struct {
	Symbols    []string `json:"symbols"`
	IntervalMS int64    `json:"interval_ms"`
}

func (s *Server) handleSchedulerStart(c *gin.Context) {
	var req schedulerStartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = s.opts.DefaultSymbols
	}
	interval := s.opts.DefaultInterval
	if req.IntervalMS > 0 {
		interval = time.Duration(req.IntervalMS) * time.Millisecond
	}

	// The scheduler outlives the request; cycles run against the server's
	// lifetime, not the caller's connection.
	if err := s.sched.Start(context.Background(), symbols, interval); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, s.sched.Status())
}

func (s *Server) handleSchedulerStop(c *gin.Context) {
	s.sched.Stop()
	c.JSON(http.StatusOK, s.sched.Status())
}

func (s *Server) handleSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.sched.Status())
}

type createAlertRequest struct {
	UserAddress    string `json:"user_address"`
	Asset          string `json:"asset"`
	Condition      string `json:"condition"`
	ThresholdPrice string `json:"threshold_price"`
}

func (s *Server) handleCreateAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	condition, err := feed.ParseCondition(req.Condition)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	threshold, err := decimal.NewFromString(req.ThresholdPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threshold_price"})
		return
	}

	record, tx, err := s.alerts.CreateAlert(c.Request.Context(), alerts.CreateParams{
		UserAddress:       req.UserAddress,
		Asset:             req.Asset,
		Condition:         condition,
		ThresholdPrice:    feed.ScaleDecimal(threshold, s.opts.Decimals),
		ThresholdDecimals: s.opts.Decimals,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrSubmitFailed) {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"alert_id": record.AlertID,
		"tx":       string(tx),
		"status":   string(record.Status),
	})
}

func (s *Server) handleSentiment(c *gin.Context) {
	if s.deps.Sentiment == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "sentiment source not configured"})
		return
	}
	reading, err := s.deps.Sentiment.FetchSentiment(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		if errors.Is(err, sourceclient.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, reading)
}

func (s *Server) handleFearGreed(c *gin.Context) {
	if s.deps.FearGreed == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "fear/greed source not configured"})
		return
	}
	reading, err := s.deps.FearGreed.FetchIndex(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, reading)
}

func (s *Server) handleListAlerts(c *gin.Context) {
	active, err := s.alerts.GetActiveAlerts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(active))
	for _, alert := range active {
		out = append(out, gin.H{
			"alert_id":     alert.AlertID,
			"user_address": alert.UserAddress,
			"asset":        alert.Asset,
			"condition":    string(alert.Condition),
			"threshold":    decimal.NewFromBigInt(alert.ThresholdPrice, -alert.ThresholdDecimals).String(),
			"status":       string(alert.Status),
		})
	}
	c.JSON(http.StatusOK, gin.H{"alerts": out})
}
