package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/justestif/syncmaster/internal/auth"
	"github.com/justestif/syncmaster/internal/dashboard"
	"github.com/justestif/syncmaster/internal/gateway"
	"github.com/justestif/syncmaster/internal/logging"
	"github.com/justestif/syncmaster/internal/models"
	"github.com/justestif/syncmaster/internal/research"
	"github.com/justestif/syncmaster/internal/supabase"
)

const (
	// DefaultAddr is the default server address.
	DefaultAddr = "127.0.0.1:8080"

	// DefaultRedirectURL must be listed as a redirect URL in the Supabase
	// auth settings.
	DefaultRedirectURL = "http://127.0.0.1:8080/callback"

	dashboardSweepInterval = 10 * time.Minute
)

// Researcher answers placement research queries.
type Researcher interface {
	Research(ctx context.Context, query string) (*research.Result, error)
}

var _ Researcher = (*research.Client)(nil)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr        string
	RedirectURL string
	Gateway     *gateway.Gateway
	Sessions    SessionStore

	// OAuth is optional; without it the OAuth routes answer 503.
	OAuth auth.Provider

	// Research and Lookup are optional.
	Research Researcher
	Lookup   dashboard.ArtistLookup

	Logger zerolog.Logger
}

// userDashboard is the view-model bound to one browser session. Exactly one
// of artist and supervisor is set. ready is closed once Mount has returned;
// nothing reads the view-model before that.
type userDashboard struct {
	artist     *dashboard.Artist
	supervisor *dashboard.Supervisor
	remote     *supabase.Client
	ready      chan struct{}
}

func (d *userDashboard) mount(ctx context.Context) error {
	defer close(d.ready)
	if d.supervisor != nil {
		return d.supervisor.Mount(ctx)
	}
	return d.artist.Mount(ctx)
}

func (d *userDashboard) mounted() bool {
	select {
	case <-d.ready:
		return true
	default:
		return false
	}
}

func (d *userDashboard) close() {
	<-d.ready
	if d.artist != nil {
		d.artist.Close()
	}
	if d.supervisor != nil {
		d.supervisor.Close()
	}
}

// Server is the HTTP server for the JSON API.
type Server struct {
	router      chi.Router
	server      *http.Server
	gw          *gateway.Gateway
	sessions    SessionStore
	cookie      sessionCookie
	oauth       auth.Provider
	research    Researcher
	lookup      dashboard.ArtistLookup
	redirectURL string
	log         zerolog.Logger

	// ctx outlives requests; dashboard subscriptions are bound to it.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	dashboards map[string]*userDashboard
}

// NewServer creates a new web server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("creating server: gateway is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = DefaultRedirectURL
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewMemorySessions()
	}

	ctx, cancel := context.WithCancel(context.Background())
	router := chi.NewRouter()

	s := &Server{
		router:      router,
		gw:          cfg.Gateway,
		sessions:    cfg.Sessions,
		cookie:      sessionCookie{secure: strings.HasPrefix(cfg.RedirectURL, "https://")},
		oauth:       cfg.OAuth,
		research:    cfg.Research,
		lookup:      cfg.Lookup,
		redirectURL: cfg.RedirectURL,
		log:         logging.Component(cfg.Logger, "web"),
		ctx:         ctx,
		cancel:      cancel,
		dashboards:  make(map[string]*userDashboard),
	}

	// Configure middleware
	s.setupMiddleware()

	// Configure routes
	s.setupRoutes()

	// Create HTTP server
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.sweepLoop(dashboardSweepInterval)
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(logging.RequestLogger(s.log))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	// Auth routes
	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signin", s.handleSignIn)
		r.Post("/signup", s.handleSignUp)
		r.Post("/signout", s.handleSignOut)
		r.Post("/resend", s.handleResend)
		r.Get("/session", s.handleSession)
		r.Get("/oauth/{provider}", s.handleOAuth)
	})
	s.router.Get("/callback", s.handleCallback)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.requireSession)

		r.Get("/state", s.handleState)
		r.Get("/directory", s.handleDirectory)
		r.Post("/research", s.handleResearch)

		r.Route("/player", func(r chi.Router) {
			r.Get("/", s.handlePlayerState)
			r.Post("/play", s.handlePlay)
			r.Post("/pause", s.handlePause)
			r.Post("/next", s.handleNext)
			r.Post("/previous", s.handlePrevious)
			r.Post("/seek", s.handleSeek)
			r.Post("/volume", s.handleVolume)
			r.Post("/mute", s.handleMute)
			r.Post("/loop", s.handleLoop)
			r.Post("/tick", s.handleTick)
			r.Post("/ended", s.handleEnded)
			r.Post("/error", s.handleMediaError)
		})

		// Artist routes
		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(models.RoleArtist))
			r.Get("/briefs", s.handleBriefs)
			r.Get("/briefs/{id}/suggestions", s.handleSuggestions)
			r.Get("/tracks", s.handleTracks)
			r.Post("/tracks", s.handleUpload)
			r.Patch("/tracks/{id}", s.handleUpdateTrack)
			r.Get("/applications", s.handleApplications)
			r.Post("/applications", s.handleApply)
			r.Get("/profile", s.handleProfile)
			r.Patch("/profile", s.handleUpdateProfile)
			r.Get("/upload/progress", s.handleUploadProgress)
		})

		// Supervisor routes
		r.Route("/supervisor", func(r chi.Router) {
			r.Use(s.requireRole(models.RoleSupervisor))
			r.Get("/briefs", s.handleSupervisorBriefs)
			r.Get("/received", s.handleReceived)
			r.Post("/refresh", s.handleRefresh)
			r.Get("/submissions", s.handleSubmissions)
			r.Patch("/applications/{id}", s.handleSetStatus)
			r.Get("/briefs/{id}/rank", s.handleRank)
			r.Get("/groups", s.handleGroups)
		})
	})
}

// dashboardFor returns the dashboard bound to session, creating and mounting
// it on first use. Concurrent first requests share one mount and all wait
// for it to finish.
func (s *Server) dashboardFor(session *Session) *userDashboard {
	s.mu.Lock()
	if d, ok := s.dashboards[session.ID]; ok {
		s.mu.Unlock()
		<-d.ready
		return d
	}

	gw := s.gw.ForSession(&session.Auth)
	log := s.log.With().Str("session", session.ID[:8]).Logger()
	d := &userDashboard{ready: make(chan struct{})}
	if remote, ok := gw.Remote().(*gateway.Remote); ok {
		d.remote = remote.Client()
	}

	opts := []dashboard.Option{dashboard.WithLogger(log)}
	if session.Role() == models.RoleSupervisor {
		d.supervisor = dashboard.NewSupervisor(gw, session.UserID(), opts...)
	} else {
		if s.lookup != nil {
			opts = append(opts, dashboard.WithArtistLookup(s.lookup))
		}
		d.artist = dashboard.NewArtist(gw, session.UserID(), opts...)
	}
	s.dashboards[session.ID] = d
	s.mu.Unlock()

	if err := d.mount(s.ctx); err != nil {
		s.log.Warn().Err(err).Msg("dashboard mounted with errors")
	}
	return d
}

// sweepDashboards closes the dashboards whose session has expired or was
// deleted, including those whose browser never came back.
func (s *Server) sweepDashboards(ctx context.Context) int {
	s.mu.Lock()
	ids := make([]string, 0, len(s.dashboards))
	for id, d := range s.dashboards {
		if d.mounted() {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	dropped := 0
	for _, id := range ids {
		if s.sessions.Get(ctx, id) == nil {
			s.dropDashboard(id)
			dropped++
		}
	}
	if dropped > 0 {
		s.log.Debug().Int("count", dropped).Msg("closed dashboards of expired sessions")
	}
	return dropped
}

func (s *Server) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepDashboards(s.ctx)
		}
	}
}

// dropDashboard closes and forgets the dashboard of a session.
func (s *Server) dropDashboard(id string) {
	s.mu.Lock()
	d, ok := s.dashboards[id]
	delete(s.dashboards, id)
	s.mu.Unlock()
	if ok {
		d.close()
	}
}

// persistToken saves tokens the remote client refreshed during a request.
func (s *Server) persistToken(ctx context.Context, session *Session, d *userDashboard) {
	if d.remote == nil {
		return
	}
	current := d.remote.CurrentSession()
	if current == nil || current.AccessToken == "" || current.AccessToken == session.Auth.AccessToken {
		return
	}
	s.sessions.UpdateToken(ctx, session.ID, supabase.SessionToken(current))
	s.log.Debug().Msg("session token refreshed")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msgf("starting server at http://%s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server and closes every dashboard.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)

	s.cancel()
	s.mu.Lock()
	dashboards := s.dashboards
	s.dashboards = make(map[string]*userDashboard)
	s.mu.Unlock()
	for _, d := range dashboards {
		d.close()
	}
	return err
}

// Run starts the server and handles graceful shutdown on interrupt signals.
func (s *Server) Run() error {
	// Channel to receive shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt or error
	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.log.Info().Msg("shutting down server")
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.log.Info().Msg("server stopped")
	return nil
}
