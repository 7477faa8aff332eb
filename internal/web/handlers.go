package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/justestif/syncmaster/internal/auth"
	"github.com/justestif/syncmaster/internal/dashboard"
	"github.com/justestif/syncmaster/internal/gateway"
	"github.com/justestif/syncmaster/internal/matching"
	"github.com/justestif/syncmaster/internal/models"
	"github.com/justestif/syncmaster/internal/player"
	"github.com/justestif/syncmaster/internal/supabase"
	"github.com/justestif/syncmaster/internal/upload"
)

const (
	oauthStateCookie    = "oauth_state"
	oauthVerifierCookie = "oauth_verifier"

	maxUploadMemory = 32 << 20
)

type ctxKey int

const sessionKey ctxKey = iota

func sessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey).(*Session)
	return s
}

// ============================================================================
// Responses
// ============================================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to the HTTP status shown to the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrAlreadyApplied):
		return http.StatusConflict
	case errors.Is(err, models.ErrTrackNotOwned):
		return http.StatusForbidden
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, supabase.ErrInvalidCredentials),
		errors.Is(err, supabase.ErrEmailNotConfirmed),
		errors.Is(err, supabase.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, supabase.ErrRateLimited):
		return http.StatusTooManyRequests
	case gateway.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, player.ErrPlayback):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.Validationf("invalid request body: %v", err)
	}
	return nil
}

// ============================================================================
// Middleware
// ============================================================================

// currentSession returns the session named by the request's cookie, or nil.
// A cookie naming an expired session releases that session's dashboard.
func (s *Server) currentSession(r *http.Request) *Session {
	id := s.cookie.read(r)
	if id == "" {
		return nil
	}
	session := s.sessions.Get(r.Context(), id)
	if session == nil {
		s.dropDashboard(id)
	}
	return session
}

// requireSession rejects requests without a session cookie, and persists any
// token the remote refreshed while serving the request.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := s.currentSession(r)
		if session == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not signed in"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, session)))
		if d := s.lookupDashboard(session.ID); d != nil {
			s.persistToken(r.Context(), session, d)
		}
	})
}

func (s *Server) requireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sessionFrom(r.Context()).Role() != role {
				writeJSON(w, http.StatusForbidden, errorResponse{Error: fmt.Sprintf("%s accounts only", role)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// lookupDashboard returns the session's dashboard if it exists and has
// finished mounting.
func (s *Server) lookupDashboard(id string) *userDashboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dashboards[id]; ok && d.mounted() {
		return d
	}
	return nil
}

func (s *Server) artist(r *http.Request) *dashboard.Artist {
	return s.dashboardFor(sessionFrom(r.Context())).artist
}

func (s *Server) supervisor(r *http.Request) *dashboard.Supervisor {
	return s.dashboardFor(sessionFrom(r.Context())).supervisor
}

func (s *Server) player(r *http.Request) *player.Player {
	d := s.dashboardFor(sessionFrom(r.Context()))
	if d.supervisor != nil {
		return d.supervisor.Player()
	}
	return d.artist.Player()
}

// ============================================================================
// Auth
// ============================================================================

type credentials struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Name     string      `json:"name"`
	Role     models.Role `json:"role"`
}

type sessionResponse struct {
	User    models.AuthUser `json:"user"`
	Role    models.Role     `json:"role"`
	Offline bool            `json:"offline"`
}

func newSessionResponse(s *Session) sessionResponse {
	return sessionResponse{User: s.Auth.User, Role: s.Role(), Offline: s.Auth.Offline}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startSession stores authSession as a new browser session and sets the cookie.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, authSession *models.Session) (*Session, error) {
	if old := s.currentSession(r); old != nil {
		s.dropDashboard(old.ID)
		s.sessions.Delete(r.Context(), old.ID)
	}
	session, err := s.sessions.Create(r.Context(), *authSession)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	s.cookie.set(w, session)
	s.log.Info().Str("user_id", session.UserID()).Bool("offline", authSession.Offline).Msg("signed in")
	return session, nil
}

// handleSignIn signs in with email and password (POST /auth/signin).
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decode(r, &c); err != nil {
		s.writeError(w, r, err)
		return
	}

	authSession, err := s.gw.Detached().SignIn(r.Context(), strings.TrimSpace(c.Email), c.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.startSession(w, r, authSession)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

// handleSignUp registers an account (POST /auth/signup). Accounts that need
// email confirmation get 202 and no session.
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decode(r, &c); err != nil {
		s.writeError(w, r, err)
		return
	}
	if c.Role == "" {
		c.Role = models.RoleArtist
	}
	if !c.Role.Valid() {
		s.writeError(w, r, models.Validationf("unknown role %q", c.Role))
		return
	}

	authSession, err := s.gw.Detached().SignUp(r.Context(), strings.TrimSpace(c.Email), c.Password, strings.TrimSpace(c.Name), c.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if authSession == nil {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"confirmationRequired": true,
			"email":                c.Email,
		})
		return
	}
	session, err := s.startSession(w, r, authSession)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(session))
}

// handleSignOut ends the session (POST /auth/signout).
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	session := s.currentSession(r)
	if session != nil {
		s.dropDashboard(session.ID)
		if err := s.gw.ForSession(&session.Auth).SignOut(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("remote sign-out failed")
		}
		s.sessions.Delete(r.Context(), session.ID)
	}

	s.cookie.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleResend resends the sign-up confirmation email (POST /auth/resend).
func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decode(r, &c); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(c.Email) == "" {
		s.writeError(w, r, models.Validationf("email is required"))
		return
	}
	if err := s.gw.Detached().ResendConfirmation(r.Context(), strings.TrimSpace(c.Email)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSession reports the current session (GET /auth/session).
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session := s.currentSession(r)
	if session == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "not signed in"})
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

// handleOAuth starts a provider sign-in (GET /auth/oauth/{provider}).
func (s *Server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "OAuth sign-in is not configured"})
		return
	}

	// Generate state for CSRF protection
	state, err := generateSessionID()
	if err != nil {
		s.writeError(w, r, fmt.Errorf("generating state: %w", err))
		return
	}

	redirect := s.redirectURL + "?state=" + state
	authURL, verifier, err := s.oauth.AuthorizeURL(chi.URLParam(r, "provider"), redirect)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	setShortCookie(w, oauthStateCookie, state)
	setShortCookie(w, oauthVerifierCookie, verifier)
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// handleCallback completes a provider sign-in (GET /callback).
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "OAuth sign-in is not configured"})
		return
	}

	// Verify state
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing state cookie"})
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: auth.ErrStateMismatch.Error()})
		return
	}
	verifierCookie, err := r.Cookie(oauthVerifierCookie)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing verifier cookie"})
		return
	}

	clearShortCookie(w, oauthStateCookie)
	clearShortCookie(w, oauthVerifierCookie)

	if msg := r.URL.Query().Get("error_description"); msg != "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "provider error: " + msg})
		return
	}

	// Exchange code for session
	authSession, err := s.oauth.ExchangeCode(r.Context(), r.URL.Query().Get("code"), verifierCookie.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.startSession(w, r, authSession); err != nil {
		s.writeError(w, r, err)
		return
	}

	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

func setShortCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})
}

func clearShortCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// ============================================================================
// Shared API
// ============================================================================

// handleState returns the dashboard snapshot for the session's role
// (GET /api/state).
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	d := s.dashboardFor(sessionFrom(r.Context()))
	if d.supervisor != nil {
		writeJSON(w, http.StatusOK, d.supervisor.State())
		return
	}
	writeJSON(w, http.StatusOK, d.artist.State())
}

// handleDirectory lists directory entries (GET /api/directory?q=&type=).
func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.gw.Directory(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query().Get("q")
	kind := models.AgencyType(r.URL.Query().Get("type"))
	out := make([]models.Agency, 0, len(entries))
	for _, e := range entries {
		if kind != "" && e.Type != kind {
			continue
		}
		if q != "" && !matching.Contains(e.Name, q) && !matching.Contains(e.Location, q) && !matching.Contains(e.Description, q) {
			continue
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleResearch runs a placement research query (POST /api/research).
func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	if s.research == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "research is not configured"})
		return
	}
	var req struct {
		Query string `json:"query"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.research.Research(r.Context(), req.Query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ============================================================================
// Player
// ============================================================================

func (s *Server) playerResult(w http.ResponseWriter, r *http.Request, p *player.Player, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.State())
}

func (s *Server) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.player(r).State())
}

// handlePlay plays a library track for artists or a submission for
// supervisors (POST /api/player/play).
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackID       string `json:"trackId"`
		ApplicationID string `json:"applicationId"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	d := s.dashboardFor(sessionFrom(r.Context()))
	if d.supervisor != nil {
		err := d.supervisor.PlaySubmission(r.Context(), req.ApplicationID)
		s.playerResult(w, r, d.supervisor.Player(), err)
		return
	}
	err := d.artist.PlayTrack(req.TrackID)
	s.playerResult(w, r, d.artist.Player(), err)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	p := s.player(r)
	s.playerResult(w, r, p, p.Pause())
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	p := s.player(r)
	s.playerResult(w, r, p, p.Advance(false))
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	p := s.player(r)
	s.playerResult(w, r, p, p.Previous())
}

// handleSeek drives the seek control. Phase "start" and "drag" only move the
// displayed position; "end", or no phase, seeks the media.
func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phase    string  `json:"phase"`
		Position float64 `json:"position"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	p := s.player(r)
	pos := seconds(req.Position)
	switch req.Phase {
	case "start":
		p.BeginSeek()
		p.DragSeek(pos)
		s.playerResult(w, r, p, nil)
	case "drag":
		p.DragSeek(pos)
		s.playerResult(w, r, p, nil)
	case "end", "":
		s.playerResult(w, r, p, p.EndSeek(pos))
	default:
		s.writeError(w, r, models.Validationf("unknown seek phase %q", req.Phase))
	}
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume float64 `json:"volume"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := s.player(r)
	s.playerResult(w, r, p, p.SetVolume(req.Volume))
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	p := s.player(r)
	s.playerResult(w, r, p, p.ToggleMute())
}

// handleLoop sets the loop mode, or cycles it when the body names none.
func (s *Server) handleLoop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode player.LoopMode `json:"mode"`
	}
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	p := s.player(r)
	if req.Mode == "" {
		p.CycleLoop()
	} else {
		p.SetLoop(req.Mode)
	}
	s.playerResult(w, r, p, nil)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Elapsed float64 `json:"elapsed"`
		Total   float64 `json:"total"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := s.player(r)
	p.OnTimeTick(seconds(req.Elapsed), seconds(req.Total))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnded(w http.ResponseWriter, r *http.Request) {
	p := s.player(r)
	s.playerResult(w, r, p, p.OnEnded())
}

// handleMediaError reports a media element failure and returns the
// diagnostic to show (POST /api/player/error).
func (s *Server) handleMediaError(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Message == "" {
		req.Message = "media error"
	}
	writeJSON(w, http.StatusOK, s.player(r).OnError(errors.New(req.Message)))
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// ============================================================================
// Artist
// ============================================================================

// handleBriefs lists briefs filtered by ?q= and repeated ?tag= parameters
// (GET /api/briefs).
func (s *Server) handleBriefs(w http.ResponseWriter, r *http.Request) {
	a := s.artist(r)
	applyFilters(a, r)
	writeJSON(w, http.StatusOK, map[string]any{
		"briefs": a.FilteredBriefs(),
		"tags":   a.BriefTags(),
	})
}

func applyFilters(a *dashboard.Artist, r *http.Request) {
	q := r.URL.Query()
	a.ClearFilters()
	a.SetSearch(q.Get("q"))
	for _, tag := range q["tag"] {
		a.ToggleTag(tag)
	}
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	matches, err := s.artist(r).Suggestions(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	a := s.artist(r)
	applyFilters(a, r)
	writeJSON(w, http.StatusOK, a.FilteredTracks())
}

// handleUpload adds a track from a multipart form, and pitches it to the brief
// named by briefId when present (POST /api/tracks).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.writeError(w, r, models.Validationf("invalid upload form: %v", err))
		return
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, models.Validationf("an audio file is required"))
		return
	}
	defer f.Close()

	meta, err := formMetadata(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	file := models.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        f,
	}

	a := s.artist(r)
	if briefID := r.FormValue("briefId"); briefID != "" {
		track, app, err := a.ApplyWithUpload(r.Context(), file, meta, briefID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"track": track, "application": app})
		return
	}

	track, err := a.UploadTrack(r.Context(), file, meta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"track": track})
}

func formMetadata(r *http.Request) (upload.Metadata, error) {
	meta := upload.Metadata{
		Title:       strings.TrimSpace(r.FormValue("title")),
		Artist:      strings.TrimSpace(r.FormValue("artist")),
		Genre:       strings.TrimSpace(r.FormValue("genre")),
		Tags:        models.ParseTags(r.FormValue("tags")),
		Description: strings.TrimSpace(r.FormValue("description")),
	}
	if v := strings.TrimSpace(r.FormValue("bpm")); v != "" {
		bpm, err := strconv.Atoi(v)
		if err != nil {
			return meta, models.Validationf("bpm must be a positive integer")
		}
		meta.BPM = &bpm
	}
	return meta, nil
}

func (s *Server) handleUploadProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.artist(r).UploadProgress())
}

// handleUpdateTrack edits track metadata (PATCH /api/tracks/{id}).
func (s *Server) handleUpdateTrack(w http.ResponseWriter, r *http.Request) {
	var patch models.TrackPatch
	if err := decode(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.artist(r).SaveTrackMetadata(r.Context(), chi.URLParam(r, "id"), patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApplications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.artist(r).ApplicationRows())
}

// handleApply pitches a library track to a brief (POST /api/applications).
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BriefID string `json:"briefId"`
		TrackID string `json:"trackId"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	app, err := s.artist(r).Apply(r.Context(), req.BriefID, req.TrackID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p := s.artist(r).Profile()
	if p == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "profile not loaded"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleUpdateProfile saves profile edits (PATCH /api/profile). The body is
// either JSON or a multipart form with a "profile" JSON field and an optional
// "avatar" file.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var patch models.ProfilePatch
	var avatar *models.File

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			s.writeError(w, r, models.Validationf("invalid profile form: %v", err))
			return
		}
		if raw := r.FormValue("profile"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &patch); err != nil {
				s.writeError(w, r, models.Validationf("invalid profile field: %v", err))
				return
			}
		}
		if f, header, err := r.FormFile("avatar"); err == nil {
			defer f.Close()
			avatar = &models.File{
				Name:        header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Body:        f,
			}
		}
	} else if err := decode(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}

	a := s.artist(r)
	res, err := a.SaveProfile(r.Context(), patch, avatar)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": a.Profile(),
		"result":  res,
	})
}

// ============================================================================
// Supervisor
// ============================================================================

func (s *Server) handleSupervisorBriefs(w http.ResponseWriter, r *http.Request) {
	sv := s.supervisor(r)
	sv.SetSearch(r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, sv.Briefs())
}

// handleReceived lists received applications, optionally for one brief
// (GET /api/supervisor/received?brief=).
func (s *Server) handleReceived(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor(r).Received(r.URL.Query().Get("brief")))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sv := s.supervisor(r)
	if err := sv.Refresh(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sv.Received(""))
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor(r).Submissions(r.Context(), r.URL.Query().Get("brief")))
}

// handleSetStatus moves a received application out of pending
// (PATCH /api/supervisor/applications/{id}).
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.Status `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.supervisor(r).SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	matches, err := s.supervisor(r).RankSubmissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleGroups clusters submitted tracks by tags
// (GET /api/supervisor/groups?k=).
func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	cfg := matching.DefaultGroupConfig()
	if v := r.URL.Query().Get("k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k < 1 {
			s.writeError(w, r, models.Validationf("k must be a positive integer"))
			return
		}
		cfg.NumGroups = k
	}
	groups, ungrouped := s.supervisor(r).GroupSubmissions(r.Context(), cfg)
	writeJSON(w, http.StatusOK, map[string]any{
		"groups":    groups,
		"ungrouped": ungrouped,
	})
}
