// Command listener keeps a connection to a notification pipeline open,
// prints every message it receives and optionally stores them in
// PostgreSQL.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ktrn-dev/pipeline-client/internal/config"
	"github.com/ktrn-dev/pipeline-client/internal/connection"
	"github.com/ktrn-dev/pipeline-client/internal/database"
	"github.com/ktrn-dev/pipeline-client/internal/pipeline"
	"github.com/ktrn-dev/pipeline-client/internal/version"
	"github.com/ktrn-dev/pipeline-client/internal/writer"
)

var errRetriesExhausted = errors.New("reconnect attempts exhausted")

type options struct {
	configPath    string
	address       string
	send          string
	maxRetries    int
	retryInterval time.Duration
	dryRun        bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options

	flagSet := pflag.NewFlagSet("listener", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	flagSet.StringVar(&opts.address, "address", "", "pipeline WebSocket URL (overrides connection.address)")
	flagSet.StringVar(&opts.send, "send", "", "text frame to send each time the connection opens")
	flagSet.IntVar(&opts.maxRetries, "max-retries", -1, "reconnect attempts after an unexpected disconnect (-1 = from config)")
	flagSet.DurationVar(&opts.retryInterval, "retry-interval", 0, "delay between reconnect attempts (0 = from config)")
	flagSet.BoolVar(&opts.dryRun, "dry-run", false, "print messages without writing to the database")
	showVersion := flagSet.Bool("version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		version.Fprint(os.Stdout, "listener")
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting listener",
		"version", version.Version,
		"commit", version.Commit,
		"config", opts.configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database is optional; without it the writer only counts messages.
	var db writer.Batcher
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := writer.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		db = pool
		logger.Info("database connected")
	}

	w := writer.NewMessageWriter(writer.FromConfig(cfg.Writer), db, logger)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start writer: %w", err)
	}

	exhausted := make(chan int, 1)
	var manager *connection.Manager

	mcfg := cfg.Connection.ManagerConfig()
	mcfg.OnStateChange = func(old, new connection.State) {
		logger.Info("connection state changed", "from", old, "to", new)
		if new == connection.StateOpen && opts.send != "" {
			if !manager.SendMessage(opts.send) {
				logger.Warn("failed to send message")
			}
		}
	}
	mcfg.OnRetriesExhausted = func(attempts int) {
		select {
		case exhausted <- attempts:
		default:
		}
	}

	manager = connection.NewManager(mcfg, nil, logger)
	manager.AddObserver(pipeline.NewObserver(func(m pipeline.Message) {
		fmt.Println(pipeline.Summary(m))
		if !w.Observe(m) {
			logger.Debug("writer queue rejected message", "type", m.Type)
		}
	}, logger))

	manager.Connect()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case attempts := <-exhausted:
		runErr = fmt.Errorf("%w after %d attempts", errRetriesExhausted, attempts)
	}

	manager.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.Stop(shutdownCtx); err != nil {
		logger.Warn("writer stop failed", "error", err)
	}

	stats := w.Stats()
	logger.Info("listener stopped",
		"received", stats.Received,
		"inserts", stats.Inserts,
		"conflicts", stats.Conflicts,
		"dropped", stats.Dropped,
		"errors", stats.Errors,
		"observer_panics", manager.Stats().ObserverPanics,
	)
	return runErr
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts options) (*config.Config, error) {
	cfg := &config.Config{}
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.address != "" {
		cfg.Connection.Address = opts.address
	}
	if opts.maxRetries >= 0 {
		n := opts.maxRetries
		cfg.Connection.MaxRetries = &n
	}
	if opts.retryInterval > 0 {
		cfg.Connection.RetryInterval = opts.retryInterval
	}
	if opts.dryRun {
		cfg.Database.Enabled = false
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	// Messages go to stdout; logs stay on stderr.
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
}
