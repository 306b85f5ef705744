package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/tagai-dao/tagclaw/internal/ai"
	"github.com/tagai-dao/tagclaw/internal/api"
	"github.com/tagai-dao/tagclaw/internal/bot"
	"github.com/tagai-dao/tagclaw/internal/config"
	"github.com/tagai-dao/tagclaw/internal/database"
	"github.com/tagai-dao/tagclaw/internal/jobqueue"
	"github.com/tagai-dao/tagclaw/internal/poller"
	"github.com/tagai-dao/tagclaw/internal/secrets"
	"github.com/tagai-dao/tagclaw/internal/store"
)

// ServeCommand returns the CLI command for running the bot service
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the mention reply bot",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the HTTP server (overrides config)",
			},
			&cli.StringFlag{
				Name:  "encrypted-env",
				Usage: "Path to an encrypted .env file to decrypt at startup",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging with console output",
			},
		},
		Action: runServe,
	}
}

func setupLogging(debug bool) {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
}

func runServe(c *cli.Context) error {
	setupLogging(c.Bool("debug"))

	// Decrypted secrets must land in the environment before the config
	// loads, since the config falls back to env vars for credentials.
	if envPath := c.String("encrypted-env"); envPath != "" {
		if err := secrets.LoadEncryptedEnv(envPath); err != nil {
			return fmt.Errorf("failed to load encrypted env: %w", err)
		}
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	port := cfg.Server.Port
	if c.Int("port") > 0 {
		port = c.Int("port")
	}

	loc, err := time.LoadLocation(cfg.Bot.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	completer, err := ai.New(ai.Options{
		Provider:  cfg.AI.Provider,
		BaseURL:   cfg.AI.BaseURL,
		Token:     cfg.AI.Token,
		Model:     cfg.AI.Model,
		MaxTokens: cfg.AI.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create completion provider: %w", err)
	}

	// Resolve the connection string once so the job queue's pgx pool and
	// the sql handle always point at the same database, including when
	// the URL comes from the .env walk-up.
	if cfg.Database.URL == "" {
		resolved, err := database.ResolveURL()
		if err != nil {
			return fmt.Errorf("failed to resolve database URL: %w", err)
		}
		cfg.Database.URL = resolved
	}

	db, err := database.Open(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cursors := store.NewCursorStore(db)
	if err := cursors.EnsureSchema(ctx); err != nil {
		return err
	}

	queueCfg := jobqueue.DefaultQueueConfig()
	queueCfg.Delivery.OutboundURL = cfg.Reply.OutboundURL
	queueCfg.Delivery.Token = cfg.Reply.OutboundToken
	queue, err := jobqueue.NewJobQueue(cfg.Database.URL, queueCfg)
	if err != nil {
		return fmt.Errorf("failed to create job queue: %w", err)
	}
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := queue.Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("Job queue shutdown failed")
		}
	}()

	manager := bot.NewManager(bot.Options{
		Limits: bot.QuotaLimits{
			GlobalDaily:  cfg.Bot.GlobalDailyLimit,
			UserDaily:    cfg.Bot.UserDailyLimit,
			UserMinute:   cfg.Bot.UserMinuteLimit,
			MinuteWindow: cfg.Bot.MinuteWindow,
		},
		SessionTTL:    cfg.Bot.SessionTTL,
		QueueInterval: cfg.Bot.QueueInterval,
		Timezone:      loc,
		IntendedLimit: cfg.Reply.IntendedLimit,
		HardLimit:     cfg.Reply.HardLimit,
		CallTimeout:   cfg.AI.Timeout,
	}, completer, queue)
	manager.Start(ctx)

	if cfg.Poller.Enabled {
		p := poller.New(poller.Options{
			FeedURL:  cfg.Poller.FeedURL,
			Token:    cfg.Server.APIKey,
			Interval: cfg.Poller.Interval,
		}, cursors, manager.OnEvent)
		go p.Run(ctx)
	}

	log.Info().
		Int("port", port).
		Str("provider", completer.Name()).
		Bool("poller", cfg.Poller.Enabled).
		Msg("Starting tagclaw")

	server := api.NewServer(port, api.Deps{
		Bot:       manager,
		Completer: completer,
		APIKey:    cfg.Server.APIKey,
		HealthCheck: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
	})
	return server.Start()
}
