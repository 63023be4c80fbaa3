package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mymmrac/telego"
	"github.com/spf13/cobra"

	"github.com/askdesk/askdesk/pkg/config"
	"github.com/askdesk/askdesk/pkg/correlate"
	"github.com/askdesk/askdesk/pkg/ingest"
	"github.com/askdesk/askdesk/pkg/logger"
	"github.com/askdesk/askdesk/pkg/relay"
	"github.com/askdesk/askdesk/pkg/server"
	"github.com/askdesk/askdesk/pkg/store"
	"github.com/askdesk/askdesk/pkg/uploads"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "askdesk",
		Short: "Relay between client app users and a human expert on Telegram",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "~/.askdesk/config.json", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Config helpers",
	}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SaveConfig(config.ExpandHome(configPath), config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", configPath)
			return nil
		},
	}
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(serveCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogging(cfg)
	logger.InfoCF("main", "Starting askdesk", map[string]interface{}{
		"ingest":              cfg.Telegram.Ingest,
		"telegram_configured": cfg.TelegramConfigured(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.NewStore(store.Options{
		WelcomeMessages: cfg.Welcome.Messages,
		SeedOnFetch:     cfg.Welcome.SeedOnFetch,
		DedupWindow:     cfg.Correlation.DedupWindow,
	})

	up, err := uploads.NewStore(cfg.UploadsPath())
	if err != nil {
		return fmt.Errorf("open uploads store: %w", err)
	}

	bot, err := newBot(cfg)
	if err != nil {
		return err
	}

	relayOpts := relay.Options{
		ChatID:       cfg.Telegram.ChatID,
		Marker:       cfg.Correlation.Marker,
		TextTimeout:  time.Duration(cfg.Telegram.TextTimeoutSeconds) * time.Second,
		MediaTimeout: time.Duration(cfg.Telegram.MediaTimeoutSeconds) * time.Second,
	}
	var rel *relay.Relay
	if bot != nil {
		rel = relay.New(bot, relayOpts)
	} else {
		rel = relay.New(nil, relayOpts)
	}

	polling := cfg.Telegram.Ingest == config.IngestPolling
	correlator := correlate.New(correlate.Options{
		Marker:     cfg.Correlation.Marker,
		Known:      st.Known,
		KnownUsers: st.KnownUsers,
		// The substring scan is lossy; it only ever runs for pull ingestion.
		SubstringFallback: cfg.Correlation.SubstringFallback && polling,
	})

	var processor *ingest.Processor
	if bot != nil {
		processor = ingest.NewProcessor(st, correlator, up, bot, cfg.Uploads.MaxBytes)
	} else {
		processor = ingest.NewProcessor(st, correlator, up, nil, cfg.Uploads.MaxBytes)
	}

	if polling && bot != nil {
		poller := ingest.NewPoller(bot, processor,
			time.Duration(cfg.Telegram.PollIntervalSeconds)*time.Second)
		go poller.Run(ctx)
	}

	return server.Start(ctx, server.Deps{
		Cfg:       cfg,
		Store:     st,
		Relay:     rel,
		Processor: processor,
		Uploads:   up,
	})
}

// newBot builds the telego client, honoring an optional proxy. A missing
// token is not fatal: the server runs in stored-but-unsent mode.
func newBot(cfg *config.Config) (*telego.Bot, error) {
	if cfg.Telegram.Token == "" {
		logger.WarnC("main", "No Telegram token configured; relay disabled")
		return nil, nil
	}

	var opts []telego.BotOption
	if cfg.Telegram.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Telegram.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Telegram.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(cfg.Telegram.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return bot, nil
}

func setupLogging(cfg *config.Config) {
	switch cfg.Logging.Level {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.LogFilePath()); err != nil {
			logger.WarnCF("main", "File logging unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
