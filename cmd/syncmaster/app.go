package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/justestif/syncmaster/internal/auth"
	"github.com/justestif/syncmaster/internal/config"
	"github.com/justestif/syncmaster/internal/db"
	"github.com/justestif/syncmaster/internal/gateway"
	"github.com/justestif/syncmaster/internal/localstore"
	"github.com/justestif/syncmaster/internal/logging"
	"github.com/justestif/syncmaster/internal/models"
	"github.com/justestif/syncmaster/internal/research"
	"github.com/justestif/syncmaster/internal/spotify"
	"github.com/justestif/syncmaster/internal/supabase"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    *localstore.Store
	client   *supabase.Client
	database *db.DB
	gw       *gateway.Gateway
	auth     *auth.Authenticator
}

// newApp loads configuration and wires the gateway. The database is optional;
// without it rows go through the Supabase REST API.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	log := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	store, err := localstore.Open(cfg.Fallback.Backend, cfg.Fallback.Path, cfg.Fallback.RedisAddr, cfg.Fallback.RedisKey,
		localstore.WithLogger(logging.Component(log, "localstore")))
	if err != nil {
		return nil, fmt.Errorf("opening fallback store: %w", err)
	}

	a := &app{cfg: cfg, log: log, store: store}

	a.client = supabase.New(supabase.Config{
		URL:           cfg.Supabase.URL,
		AnonKey:       cfg.Supabase.AnonKey,
		AudioBuckets:  cfg.Storage.AudioBuckets,
		AvatarBuckets: cfg.Storage.AvatarBuckets,
		Timeout:       cfg.Supabase.Timeout,
	}, supabase.WithLogger(logging.Component(log, "supabase")))

	var direct gateway.Rows
	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("database unreachable, using the Supabase REST API for rows")
		} else {
			a.database = database
			direct = database.RowStore()
		}
	}

	var localOpts []gateway.LocalOption
	if cfg.Fallback.MediaDir != "" {
		localOpts = append(localOpts, gateway.WithMediaDir(cfg.Fallback.MediaDir))
	}

	var remote gateway.Backend
	if cfg.Supabase.Configured() {
		remote = gateway.NewRemote(a.client, direct)
	} else {
		log.Info().Msg("supabase not configured, running on the fallback store")
	}
	a.gw = gateway.New(remote, gateway.NewLocal(store, localOpts...),
		gateway.WithLogger(logging.Component(log, "gateway")))

	cache, err := auth.DefaultSessionCache()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.auth = auth.New(a.client.WithSession(nil), cache,
		auth.WithRedirectURL(auth.DefaultRedirectURL),
		auth.WithOutput(os.Stdout))

	return a, nil
}

// Close releases the store, database and realtime connections.
func (a *app) Close() {
	if a.database != nil {
		a.database.Close()
	}
	if err := a.client.Close(); err != nil {
		a.log.Debug().Err(err).Msg("closing supabase client")
	}
	if err := a.store.Close(); err != nil {
		a.log.Debug().Err(err).Msg("closing fallback store")
	}
}

// session returns the signed-in user's session: the cached remote session when
// there is one, otherwise the offline session kept by the fallback store.
func (a *app) session(ctx context.Context) (*models.Session, error) {
	session, err := a.auth.Restore()
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, auth.ErrNotSignedIn) {
		a.log.Warn().Err(err).Msg("ignoring unreadable session cache")
	}

	offline, err := a.store.MockSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading offline session: %w", err)
	}
	if offline == nil {
		return nil, errors.New(`not signed in; run "syncmaster signin" or "syncmaster login"`)
	}
	return offline, nil
}

// lookup returns the Spotify artist lookup, or nil when not configured.
func (a *app) lookup(ctx context.Context) *spotify.Client {
	if !a.cfg.Spotify.Configured() {
		return nil
	}
	c, err := spotify.NewWithCredentials(ctx, a.cfg.Spotify.ClientID, a.cfg.Spotify.ClientSecret)
	if err != nil {
		a.log.Warn().Err(err).Msg("spotify lookups disabled")
		return nil
	}
	return c
}

// researcher returns the research client, or an error naming the missing key.
func (a *app) researcher() (*research.Client, error) {
	return research.NewClient(research.Config{
		APIKey:            a.cfg.Gemini.APIKey,
		Model:             a.cfg.Gemini.Model,
		RequestsPerMinute: a.cfg.Gemini.RequestsPerM,
	}, research.WithLogger(logging.Component(a.log, "research")))
}
