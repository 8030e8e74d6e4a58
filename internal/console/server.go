// Package console serves the clinic admin web console. Protected pages go
// through the session guard: they wait while the session is unknown,
// redirect to the login page once it is unauthenticated, and render only
// for a confirmed admin.
package console

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/gulfclinic/clinicadmin/internal/cli/client"
	"github.com/gulfclinic/clinicadmin/internal/session"
)

const (
	statsTTL      = 30 * time.Second
	settingsTTL   = 5 * time.Minute
	flashTTL      = time.Minute
	verifyTimeout = 15 * time.Second
)

// Backend is the part of the clinic API the console pages use
type Backend interface {
	Stats(ctx context.Context) (*client.Stats, error)
	ListAppointments(ctx context.Context, params client.ListAppointmentsParams) ([]client.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id string, status client.AppointmentStatus) (*client.Appointment, error)
	Settings(ctx context.Context) (*client.Settings, error)
	UpdateSetting(ctx context.Context, field string, value bool) (*client.Settings, error)
}

// Options configures the console server
type Options struct {
	ListenAddr       string
	AllowedOrigins   []string
	ReverifySchedule string // cron expression, empty disables periodic checks
	Version          string
}

// Server represents the console HTTP server
type Server struct {
	router  *gin.Engine
	api     Backend
	session *session.Holder
	logger  zerolog.Logger
	opts    Options

	// cache holds dashboard stats and the last known settings; it is
	// flushed whenever the session stops being the same authenticated admin
	cache    *cache.Cache
	settings sync.Mutex // serializes optimistic settings updates
	flashes  *cache.Cache

	// baseCtx bounds background verifications started by page requests
	baseCtx   context.Context
	verifying atomic.Bool
	errMu     sync.Mutex
	lastErr   error
}

// New creates a new console server
func New(api Backend, holder *session.Holder, zlog zerolog.Logger, opts Options) (*Server, error) {
	if opts.ListenAddr == "" {
		opts.ListenAddr = "127.0.0.1:8080"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173"}
	}
	for _, origin := range opts.AllowedOrigins {
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return nil, fmt.Errorf("invalid allowed origin %q, must start with http:// or https://", origin)
		}
	}

	s := &Server{
		api:     api,
		session: holder,
		logger:  zlog.With().Str("component", "console").Logger(),
		opts:    opts,
		cache:   cache.New(statsTTL, time.Minute),
		flashes: cache.New(flashTTL, 5*time.Minute),
		baseCtx: context.Background(),
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s.setupRouter(tmpl)
	return s, nil
}

// Handler returns the HTTP handler serving the console
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter(tmpl *template.Template) {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.SetHTMLTemplate(tmpl)

	// Add middleware
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.sameOriginMiddleware())

	// Health check and metrics (no session required)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Session state for browser clients on other origins
	apiGroup := s.router.Group("/api")
	apiGroup.Use(cors.New(cors.Config{
		AllowOrigins:     s.opts.AllowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	{
		apiGroup.GET("/session", s.sessionStatus)
	}

	// Public pages
	s.router.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/dashboard") })
	s.router.GET("/login", s.loginPage)
	s.router.POST("/login", s.login)
	s.router.POST("/logout", s.logout)
	s.router.POST("/session/verify", s.verifySession)

	// Protected pages
	protected := s.router.Group("/")
	protected.Use(s.guardMiddleware())
	{
		protected.GET("/dashboard", s.dashboard)
		protected.GET("/appointments", s.appointments)
		protected.POST("/appointments/:id/status", s.updateAppointmentStatus)
		protected.GET("/settings", s.settingsPage)
		protected.POST("/settings/:field", s.toggleSetting)
	}
}

// Run verifies the session, starts periodic re-verification and serves
// until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx

	stopWatch := s.watchSession()
	defer stopWatch()

	s.session.Init(ctx)

	if s.opts.ReverifySchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.opts.ReverifySchedule, s.reverify); err != nil {
			return fmt.Errorf("invalid re-verify schedule %q: %w", s.opts.ReverifySchedule, err)
		}
		c.Start()
		defer func() {
			<-c.Stop().Done()
		}()
		s.logger.Info().Str("schedule", s.opts.ReverifySchedule).Msg("Periodic session verification enabled")
	}

	// Create HTTP server with production timeouts
	srv := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.ListenAddr).Msg("Starting console")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("console server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down console...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down console")
		return err
	}

	s.logger.Info().Msg("Console shutdown complete")
	return nil
}

// watchSession drops cached data whenever the signed-in admin changes
func (s *Server) watchSession() func() {
	updates, stop := s.session.Subscribe()
	go func() {
		var current string
		for st := range updates {
			next := ""
			if st.Authenticated() {
				next = st.Identity.ID
			}
			if next != current {
				s.cache.Flush()
				current = next
			}
		}
	}()
	return stop
}

// reverify is the periodic check. It also picks up a credential stored by
// another process, such as the CLI login command.
func (s *Server) reverify() {
	ctx, cancel := context.WithTimeout(s.baseCtx, verifyTimeout)
	defer cancel()
	if _, err := s.session.Verify(ctx); err != nil {
		s.setLastError(err)
		s.logger.Debug().Err(err).Msg("Periodic session verification failed")
		return
	}
	s.setLastError(nil)
}

// startVerify runs one background verification unless one is already running
func (s *Server) startVerify() {
	if !s.verifying.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.verifying.Store(false)
		ctx, cancel := context.WithTimeout(s.baseCtx, verifyTimeout)
		defer cancel()
		_, err := s.session.Verify(ctx)
		s.setLastError(err)
	}()
}

func (s *Server) setLastError(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.lastErr = err
}

func (s *Server) lastError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		pageRequests.WithLabelValues(route, statusClass(c.Writer.Status())).Inc()

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "clinicadmin-console",
		"version":   s.opts.Version,
		"session":   s.session.State().Status.String(),
	})
}
