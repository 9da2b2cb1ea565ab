package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shohag/fanrelay/internal/api"
	"github.com/shohag/fanrelay/internal/config"
	"github.com/shohag/fanrelay/internal/delivery"
	"github.com/shohag/fanrelay/internal/feishu"
	"github.com/shohag/fanrelay/internal/models"
	"github.com/shohag/fanrelay/internal/relay"
	"github.com/shohag/fanrelay/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "fanrelay",
		Short: "FanRelay: webhook fan-out relay for chat destinations",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(groupsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)
			loc := cfg.Relay.Location()
			now := func() time.Time { return time.Now().In(loc) }

			dispatches, err := setupDispatchLog(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup dispatch log: %w", err)
			}
			defer dispatches.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := dispatches.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			feishuClient := feishu.NewClient(cfg.Feishu.BaseURL, cfg.Delivery.Timeout)
			tokens := feishu.NewTokenCache(feishuClient, cfg.Feishu.TokenMargin, nil)
			images := feishu.NewImageCache(tokens, feishuClient)

			m := relay.New(relay.Deps{
				Store:      storage.NewFileStore(cfg.Storage.SnapshotPath),
				Dispatches: dispatches,
				Sender:     delivery.NewHTTPSender(cfg.Delivery, now, log),
				Images:     images,
				Sink:       tokens,
			}, relay.Options{
				HistorySize:  cfg.Relay.HistorySize,
				NoiseMarkers: cfg.Relay.NoiseMarkers,
				SaveDebounce: cfg.Storage.SaveDebounce,
				DefaultCredentials: models.Credentials{
					AppID:     cfg.Feishu.AppID,
					AppSecret: cfg.Feishu.AppSecret,
				},
				Timezone: cfg.Relay.TimezoneLabel(),
				Now:      now,
			}, log)

			if err := m.Load(ctx); err != nil {
				return fmt.Errorf("failed to load snapshot: %w", err)
			}
			m.Start(ctx)

			scheduler, err := setupRetention(cfg.Retention, dispatches, loc, log)
			if err != nil {
				return fmt.Errorf("failed to schedule retention: %w", err)
			}
			scheduler.Start()

			server := api.NewServer(cfg, m, version, log)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Str("timezone", cfg.Relay.TimezoneLabel()).
				Str("dispatch_log", cfg.Storage.Driver).
				Int("groups", len(m.Groups())).
				Msg("FanRelay is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}
			<-scheduler.Stop().Done()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := m.Stop(stopCtx); err != nil {
				log.Error().Err(err).Msg("final snapshot write failed")
			}

			log.Info().Msg("FanRelay stopped")
			return nil
		},
	}
}

func groupsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List groups and endpoints from the snapshot file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			snap, err := storage.NewFileStore(cfg.Storage.SnapshotPath).Load(context.Background())
			if errors.Is(err, storage.ErrSnapshotNotFound) {
				fmt.Println("No snapshot found.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read snapshot: %w", err)
			}

			ids := make([]string, 0, len(snap.Groups))
			for id := range snap.Groups {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			now := time.Now().In(cfg.Relay.Location())
			for _, id := range ids {
				g := snap.Groups[id]
				fmt.Printf("%s  %s  (%s, %d endpoints)\n", id, g.DisplayName, g.Mode, len(g.Endpoints))
				for _, rec := range g.Endpoints {
					ep := rec.Endpoint(now)
					state := "enabled"
					if !ep.Enabled {
						state = "disabled"
					}
					if ep.Fixed {
						state += ",fixed"
					}
					fmt.Printf("    %s  %-8s %-20s %-16s %s\n", ep.ID, ep.Kind, ep.Name, state, ep.URLPreview())
				}
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("FanRelay v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupDispatchLog(cfg config.StorageConfig, log zerolog.Logger) (storage.DispatchLog, error) {
	switch cfg.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite dispatch log")
		return storage.NewSQLite(cfg.SQLite.Path)
	case "none":
		log.Info().Msg("dispatch log disabled")
		return storage.NopLog{}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// setupRetention registers the periodic prune of old dispatch rows.
func setupRetention(cfg config.RetentionConfig, dispatches storage.DispatchLog, loc *time.Location, log zerolog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(loc))
	if cfg.DispatchTTL <= 0 {
		return c, nil
	}
	_, err := c.AddFunc(cfg.PruneSchedule, func() {
		before := time.Now().Add(-cfg.DispatchTTL)
		n, err := dispatches.Prune(context.Background(), before)
		if err != nil {
			log.Error().Err(err).Msg("dispatch prune failed")
			return
		}
		log.Info().Int64("removed", n).Time("before", before).Msg("dispatch log pruned")
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
