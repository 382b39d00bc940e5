package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/rideboard/internal/auth"
	"github.com/sakif/rideboard/internal/config"
	"github.com/sakif/rideboard/internal/handler"
	"github.com/sakif/rideboard/internal/queue"
	sqliteRepo "github.com/sakif/rideboard/internal/repository/sqlite"
	"github.com/sakif/rideboard/internal/server"
)

func newServerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			return runServer(cfg, logger)
		},
	}
}

func runServer(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signalContext()
	defer stop()

	// === DATABASE ===
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	store, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// === QUEUE (producer side) ===
	rdb, err := queue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()
	jobs := queue.NewClient(queue.NewWorkQueue(rdb, cfg.QueuePrefix), logger)

	// === AUTH ===
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Addr: cfg.Addr(),
		Auth: handler.AuthConfig{
			RedirectDomain: cfg.RedirectDomain,
			SessionTTL:     cfg.SessionTTL,
			Secure:         !cfg.Development,
		},
	}, server.Deps{
		Store:     store,
		Jobs:      jobs,
		Tokens:    tokens,
		Providers: providers(cfg, logger),
	}, logger)

	return srv.Start(ctx)
}

// providers builds the login realms that have credentials configured.
// Callback URLs follow the /api/v1/auth/{realm}/redirect route.
func providers(cfg *config.Config, logger *slog.Logger) []handler.OAuthProvider {
	base := strings.TrimRight(cfg.RedirectDomain, "/") + "/api/v1/auth"

	var out []handler.OAuthProvider
	if cfg.CSHEnabled() {
		out = append(out, auth.NewCSHProvider(cfg.CSHClientID, cfg.CSHClientSecret, base+"/csh/redirect", auth.CSHEndpoints{
			AuthURL:     cfg.CSHAuthURL,
			TokenURL:    cfg.CSHTokenURL,
			UserinfoURL: cfg.CSHUserinfoURL,
		}))
	}
	if cfg.GoogleEnabled() {
		out = append(out, auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, base+"/google/redirect"))
	}
	for _, p := range out {
		logger.Info("login realm enabled", slog.String("realm", string(p.Realm())))
	}
	return out
}
