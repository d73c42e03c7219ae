// Command looped runs the listening-stats backend: the JSON API plus the
// hourly sync-and-aggregate scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/daviidltp/looped/internal/config"
	"github.com/daviidltp/looped/internal/db"
	"github.com/daviidltp/looped/internal/logging"
	"github.com/daviidltp/looped/internal/scheduler"
	"github.com/daviidltp/looped/internal/spotify"
	"github.com/daviidltp/looped/internal/stats"
	syncsvc "github.com/daviidltp/looped/internal/sync"
	"github.com/daviidltp/looped/internal/tokens"
	"github.com/daviidltp/looped/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env file is a convenience for local development; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	log := logging.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	database, err := db.New(ctx, cfg.Database.URL)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	spotifyClient := spotify.NewClient(
		cfg.Spotify.ClientID,
		cfg.Spotify.ClientSecret,
		spotify.WithTimeout(cfg.Spotify.Timeout),
	)

	tokenManager := tokens.NewManager(spotifyClient, database.Users(), logging.WithComponent("tokens"))
	syncService := syncsvc.New(spotifyClient, database.Plays(), tokenManager, logging.WithComponent("sync"))
	statsService := stats.New(database.Plays(), database.Stats(), logging.WithComponent("stats"))

	sched := scheduler.New(
		database.Users(),
		syncService,
		statsService,
		cfg.Scheduler.Interval,
		logging.WithComponent("scheduler"),
	)
	if cfg.Scheduler.Enabled {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	} else {
		log.Info().Msg("scheduler disabled by configuration")
	}

	server, err := web.NewServer(web.ServerConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JWTSecret:    cfg.JWT.Secret,
		JWTTTL:       cfg.JWT.TTL,
		Users:        database.Users(),
		Plays:        database.Plays(),
		Syncer:       syncService,
		Stats:        statsService,
		Profile:      spotifyClient,
		Log:          logging.WithComponent("web"),
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return server.Run(sched.Stop)
}
