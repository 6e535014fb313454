package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/chatetl/internal/archive"
	"github.com/MikeSquared-Agency/chatetl/internal/config"
	"github.com/MikeSquared-Agency/chatetl/internal/loader"
	"github.com/MikeSquared-Agency/chatetl/internal/notify"
	"github.com/MikeSquared-Agency/chatetl/internal/pipeline"
	"github.com/MikeSquared-Agency/chatetl/internal/store"
)

const (
	exitCodeError       = 1
	exitCodeInterrupted = 130
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "chatetl",
	Short: "Load a chat-export archive into PostgreSQL",
	Long: `chatetl truncates the message, call and conversation tables, loads every
conversation page found under MESSAGES_FILES_PATH, then builds one summary
row per conversation.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "optional config file (yaml or toml)")
}

func main() {
	os.Exit(execute())
}

func execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("chatetl failed", "error", err)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return exitCodeInterrupted
		}
		return exitCodeError
	}
	return 0
}

func run(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	slog.Info("chatetl starting", "root", cfg.MessagesFilesPath)

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connected")

	if cfg.InitSchema {
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	// NATS is optional; without it no progress events are sent.
	var pub pipeline.Publisher
	if cfg.NatsURL != "" {
		client, err := notify.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			return err
		}
		defer client.Close()
		pub = client
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	l := loader.New(db, loader.Options{
		MaxAttempts: cfg.MaxAttempts,
		BackoffUnit: cfg.BackoffUnit,
	}, slog.Default())

	runner := pipeline.New(pipeline.Config{
		Root:   cfg.MessagesFilesPath,
		Ignore: cfg.Ignore,
		Parse: archive.ParseOptions{
			DecodeContent: cfg.DecodeContent,
			Location:      loc,
		},
		ReportPath: cfg.ReportPath,
	}, db, l, pub, slog.Default())

	_, err = runner.Run(ctx)
	return err
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
