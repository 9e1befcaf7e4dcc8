// Package dashboard implements C11: one tenant's HTTP/WS status façade.
// Grounded on the koshedutech-binance-trading-app internal/api package —
// gin.New()+Logger+Recovery+CORS and a gorilla/websocket hub driven by the event bus rather than a
// per-request poll.
package dashboard

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"krw-trading-engine/config"
	"krw-trading-engine/internal/candle"
	"krw-trading-engine/internal/events"
	"krw-trading-engine/internal/indicators"
	"krw-trading-engine/internal/learning"
	"krw-trading-engine/internal/notification"
	"krw-trading-engine/internal/tradingloop"
)

// TenantLoop is the subset of *tradingloop.Loop the dashboard reads from.
// Defined as an interface so dashboard tests can fake it without spinning
// up a real loop, mirroring the teacher's BotAPI seam.
type TenantLoop interface {
	Snapshot() tradingloop.Snapshot
	Candles(ctx context.Context, symbol candle.Symbol, tf candle.Timeframe, count int) ([]candle.Candle, bool)
	SetBlacklist(symbols []string) error
	TriggerLearning(now time.Time) (learning.Report, error)
}

// RegisterFunc is invoked by POST /api/register once a new tenant's env
// file has been written, letting the supervisor (C10) hot-start the tenant
// without a process restart.
type RegisterFunc func(req RegisterRequest) (config.TenantConfig, error)

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	InviteCode string `json:"invite_code"`
	Nickname   string `json:"nickname"`
	AccessKey  string `json:"access_key"`
	SecretKey  string `json:"secret_key"`
}

// Server is one tenant's dashboard instance. A process running N tenants
// runs N Servers, each bound to its own port, per spec.md §4.9's "starts
// one instance of C5+C7+C11 per tenant".
type Server struct {
	router *gin.Engine
	http   *http.Server

	tenantID string
	loop     TenantLoop
	notifier notification.Notifier
	auth     config.AuthConfig
	log      zerolog.Logger

	hub *wsHub

	register   RegisterFunc
	inviteCode string
}

// Config bundles what NewServer needs beyond the loop itself.
type Config struct {
	TenantID   string
	Host       string
	Port       int
	Auth       config.AuthConfig
	InviteCode string // only honored on the registration-capable instance
	Register   RegisterFunc
}

// NewServer wires a gin engine, middleware, and the websocket hub around
// loop, and subscribes the hub to bus so every published event reaches
// connected clients without the handlers polling anything.
func NewServer(cfg Config, loop TenantLoop, notifier notification.Notifier, bus *events.Bus, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:     router,
		tenantID:   cfg.TenantID,
		loop:       loop,
		notifier:   notifier,
		auth:       cfg.Auth,
		log:        log.With().Str("component", "dashboard").Str("tenant", cfg.TenantID).Logger(),
		hub:        newWSHub(),
		register:   cfg.Register,
		inviteCode: cfg.InviteCode,
	}
	go s.hub.run()
	if bus != nil {
		bus.Subscribe(func(e events.Event) {
			if e.TenantID != "" && e.TenantID != s.tenantID {
				return
			}
			s.hub.broadcastEvent(e)
		})
	}

	s.setupRoutes()
	s.http = &http.Server{
		Addr:         cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run starts the HTTP server and blocks until ctx is canceled, then
// performs a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "tenant": s.tenantID})
	})

	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/trades", s.handleTrades)
	api.GET("/logs", s.handleLogs)
	api.GET("/candles/:symbol", s.handleCandles)
	api.GET("/pnl-history", s.handlePnLHistory)
	api.GET("/blacklist", s.handleGetBlacklist)
	api.POST("/blacklist", s.authGuard(), s.handlePostBlacklist)
	api.POST("/register", s.handleRegister)
	api.POST("/learn", s.authGuard(), s.handleTriggerLearning)

	s.router.GET("/ws", s.handleWebSocket)
}

// authGuard rejects mutating requests unless auth is disabled or a valid
// bearer JWT is presented, mirroring the teacher's auth-enabled toggle.
func (s *Server) authGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.auth.Enabled {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenString := header[len(prefix):]
		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			return []byte(s.auth.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.loop.Snapshot())
}

func (s *Server) handleTrades(c *gin.Context) {
	c.JSON(http.StatusOK, s.loop.Snapshot().RecentTrades)
}

func (s *Server) handleLogs(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.recentLogs())
}

// candleOverlay is the response shape for /api/candles/<symbol>: raw
// candles plus a Bollinger overlay, per spec.md §6.
type candleOverlay struct {
	Symbol    string           `json:"symbol"`
	Candles   []candle.Candle  `json:"candles"`
	Bollinger *indicators.Bollinger `json:"bollinger,omitempty"`
}

func (s *Server) handleCandles(c *gin.Context) {
	symbol := candle.Symbol(c.Param("symbol"))
	candles, ok := s.loop.Candles(c.Request.Context(), symbol, candle.Timeframe5m, 60)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no candle data"})
		return
	}
	bb := indicators.ComputeBollinger(candle.Closes(candles), indicators.DefaultBBPeriod, indicators.DefaultBBK)
	c.JSON(http.StatusOK, candleOverlay{Symbol: string(symbol), Candles: candles, Bollinger: bb})
}

func (s *Server) handlePnLHistory(c *gin.Context) {
	tf := c.DefaultQuery("tf", "1h")
	c.JSON(http.StatusOK, gin.H{"tf": tf, "history": s.loop.Snapshot().PnLHistory})
}

func (s *Server) handleGetBlacklist(c *gin.Context) {
	c.JSON(http.StatusOK, s.loop.Snapshot().Blacklist)
}

type blacklistRequest struct {
	Action string `json:"action"`
	Symbol string `json:"symbol,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

func (s *Server) handlePostBlacklist(c *gin.Context) {
	var req blacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// "add" and "remove" edit the current list; "set_mode" replaces the whole
	// list with the single given symbol (the mode field is not read).
	next := []string{req.Symbol}
	if req.Action == "add" || req.Action == "remove" {
		next = make([]string, 0)
		for _, sym := range s.loop.Snapshot().Blacklist {
			if sym != req.Symbol {
				next = append(next, sym)
			}
		}
		if req.Action == "add" {
			next = append(next, req.Symbol)
		}
	}
	switch req.Action {
	case "add", "remove", "set_mode":
		if err := s.loop.SetBlacklist(next); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleRegister(c *gin.Context) {
	if s.register == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "registration not available on this instance"})
		return
	}
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.inviteCode != "" && req.InviteCode != s.inviteCode {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid invite code"})
		return
	}
	tc, err := s.register(req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tc)
}

func (s *Server) handleTriggerLearning(c *gin.Context) {
	report, err := s.loop.TriggerLearning(time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

