package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/perpfunk/internal/agent"
	"github.com/ajitpratap0/perpfunk/internal/db"
)

// CycleStatus is the scheduler-side state the status endpoint reports
type CycleStatus interface {
	Phase() string
	State() db.BotState
	FatalStreak() int
}

// RunTimes exposes the trigger schedule
type RunTimes interface {
	NextRunTime() time.Time
	LastRunTime() time.Time
}

// HealthChecker reports one dependency's liveness
type HealthChecker func(ctx context.Context) error

// Server is the read-only operational surface: health, status and metrics.
// It never exposes trading controls.
type Server struct {
	router *gin.Engine
	server *http.Server
	addr   string

	version string
	env     string
	cycles  CycleStatus
	runs    RunTimes
	agents  *agent.Manager
	checks  map[string]HealthChecker
}

// Config contains server wiring
type Config struct {
	Host    string
	Port    int
	Version string
	Env     string
	Cycles  CycleStatus
	Runs    RunTimes
	Agents  *agent.Manager
	Checks  map[string]HealthChecker
}

// NewServer creates the status server
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		router:  router,
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		version: cfg.Version,
		env:     cfg.Env,
		cycles:  cfg.Cycles,
		runs:    cfg.Runs,
		agents:  cfg.Agents,
		checks:  cfg.Checks,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/agents", s.handleAgents)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Start serves until Stop; it returns nil on graceful shutdown
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting status server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("Stopping status server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	return nil
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	deps := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			healthy = false
			continue
		}
		deps[name] = "ok"
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"version":      s.version,
		"dependencies": deps,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	state := s.cycles.State()

	resp := gin.H{
		"environment":        s.env,
		"phase":              s.cycles.Phase(),
		"cycle_count":        state.CycleCount,
		"service_start_time": state.ServiceStartTime,
		"fatal_streak":       s.cycles.FatalStreak(),
		"next_run":           s.runs.NextRunTime(),
		"last_run":           s.runs.LastRunTime(),
	}
	if state.LastCycleTime != nil {
		resp["last_cycle_time"] = state.LastCycleTime
	}
	if state.LastError != nil {
		resp["last_error"] = *state.LastError
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAgents(c *gin.Context) {
	type agentView struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Model    string `json:"model"`
		Strategy string `json:"strategy,omitempty"`
	}

	active := s.agents.Active()
	views := make([]agentView, 0, len(active))
	for _, a := range active {
		views = append(views, agentView{
			ID:       a.ID.String(),
			Name:     a.Name,
			Model:    a.LLMModelID,
			Strategy: a.StrategyDescription,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"agents":         views,
		"provider_stats": s.agents.Stats(),
	})
}

// LoggerMiddleware logs each request through zerolog
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}
		logEvent.Msg("API request")
	}
}
