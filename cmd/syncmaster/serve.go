package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justestif/syncmaster/internal/logging"
	"github.com/justestif/syncmaster/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON API server",
	Long: `Serve the SyncMaster JSON API. Browser sessions are kept in Postgres when
database_url is set and reachable, otherwise in memory.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8080)")
	_ = v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := web.ServerConfig{
		Addr:        a.cfg.Server.Addr,
		RedirectURL: a.cfg.Server.RedirectURL,
		Gateway:     a.gw,
		Sessions:    web.NewMemorySessions(),
		Logger:      a.log,
	}

	if a.database != nil {
		cfg.Sessions = web.NewDBSessions(a.database, a.log)
		if n, err := a.database.Sessions().DeleteExpired(ctx); err != nil {
			a.log.Warn().Err(err).Msg("pruning expired sessions")
		} else if n > 0 {
			a.log.Info().Int64("count", n).Msg("pruned expired sessions")
		}
	}
	if a.client.Configured() {
		cfg.OAuth = a.client.WithSession(nil)
	}
	if lookup := a.lookup(ctx); lookup != nil {
		cfg.Lookup = lookup
	}
	if r, err := a.researcher(); err != nil {
		a.log.Info().Err(err).Msg("research disabled")
	} else {
		cfg.Research = r
	}

	server, err := web.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	log := logging.Component(a.log, "serve")
	log.Info().Bool("database", a.database != nil).
		Bool("supabase", a.client.Configured()).Msg("configured")

	return server.Run()
}

