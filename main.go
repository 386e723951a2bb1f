package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"voicebot-qa/api"
	"voicebot-qa/llm"
	"voicebot-qa/logger"
	"voicebot-qa/notify"
	"voicebot-qa/qa"
	"voicebot-qa/runner"
	"voicebot-qa/session"
	"voicebot-qa/store"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "path to dotenv file")
	flag.Parse()

	// A missing .env is normal in production.
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	log.Info("qa.starting", logger.String("config", *configPath))
	if cfg.LLM.APIKey == "" {
		log.Warn("llm.api_key_missing", logger.String("hint", "set llm.api_key or OPENAI_API_KEY; model calls will fail"))
	}

	dataStore, err := openStore(cfg.Store, log)
	if err != nil {
		log.Error("store.init_failed", logger.Err(err))
		os.Exit(1)
	}
	if dataStore != nil {
		defer dataStore.Close()
	}

	client := llm.NewClient(llm.Config{
		Endpoint:    cfg.LLM.Endpoint,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: *cfg.LLM.Temperature,
		Timeout:     ParseDuration(cfg.LLM.Timeout, 120*time.Second),
		MaxRetries:  cfg.LLM.MaxRetries,
		MaxElapsed:  ParseDuration(cfg.LLM.MaxElapsed, 2*time.Minute),
	}, log)

	engine := qa.NewEngine(client, log, qa.EngineConfig{
		Model:            cfg.LLM.Model,
		JSONFixerEnabled: cfg.Analysis.JSONFixerEnabled,
		JSONFixer: qa.JSONFixerConfig{
			Timeout:       ParseDuration(cfg.Analysis.FixerTimeout, 60*time.Second),
			MaxInputChars: cfg.Analysis.FixerMaxChars,
		},
	})

	sessions := session.NewRegistry(cfg.LLM.Model, log)

	var notifier notify.Notifier = notify.Nop()
	if cfg.Feishu.Webhook != "" {
		notifier = notify.NewFeishuNotifier(notify.FeishuConfig{
			Webhook:      cfg.Feishu.Webhook,
			SignKey:      cfg.Feishu.SignKey,
			DashboardURL: cfg.Feishu.DashboardURL,
			Timeout:      ParseDuration(cfg.Feishu.Timeout, 10*time.Second),
			RetryCount:   cfg.Feishu.RetryCount,
		}, log)
	}

	run := runner.New(runner.Config{
		MaxConcurrency: cfg.Runner.MaxConcurrency,
		QueueSize:      cfg.Runner.QueueSize,
		DefaultTimeout: ParseDuration(cfg.Runner.DefaultTimeout, 30*time.Minute),
		RetryCount:     cfg.Runner.RetryCount,
		RetryDelay:     ParseDuration(cfg.Runner.RetryDelay, 5*time.Second),
		HistorySize:    cfg.Runner.HistorySize,
	}, sessions.JobExec(engine), log)

	hooks := &jobHooks{
		sessions:   sessions,
		store:      dataStore,
		notifier:   notifier,
		storageKey: cfg.Analysis.StorageKey,
		autosave:   cfg.Analysis.Autosave,
		log:        log,
	}
	run.OnFinish(hooks.onFinish)
	run.Start()

	srv := api.NewServer(api.Config{
		AuthToken:     cfg.Server.AuthToken,
		StorageKey:    cfg.Analysis.StorageKey,
		MaxUploadSize: cfg.Server.MaxUploadSize,
		ModelTimeout:  ParseDuration(cfg.Server.ModelTimeout, 5*time.Minute),
	}, engine, sessions, run, dataStore, log)

	// Model-backed endpoints can run for minutes, so there is no write timeout.
	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	fatalCh := make(chan error, 1)
	go func() {
		log.Info("api.listening", logger.String("addr", cfg.Server.Listen))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api.listen_failed", logger.Err(err))
			fatalCh <- err
		}
	}()

	log.Info("qa.ready",
		logger.String("model", cfg.LLM.Model),
		logger.String("store", cfg.Store.Type),
		logger.Int("concurrency", cfg.Runner.MaxConcurrency),
		logger.Bool("auth", cfg.Server.AuthToken != ""),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("qa.shutdown", logger.String("signal", sig.String()))
	case err := <-fatalCh:
		log.Error("qa.fatal", logger.Err(err))
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	server.Shutdown(ctx)
	run.Stop()

	log.Info("qa.stopped")
}

func newLogger(cfg LoggerConfig) (logger.Logger, error) {
	level := logger.ParseLevel(cfg.Level)
	loggers := []logger.Logger{logger.NewConsole(level, cfg.Console.Color)}

	if cfg.Structured.Enabled {
		if dir := filepath.Dir(cfg.Structured.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		structLog, err := logger.NewStructured(cfg.Structured.Path, level)
		if err != nil {
			return nil, err
		}
		loggers = append(loggers, structLog)
	}

	if len(loggers) == 1 {
		return loggers[0], nil
	}
	return logger.Multi(loggers...), nil
}

// openStore returns a nil Store for type "none".
func openStore(cfg StoreConfig, log logger.Logger) (store.Store, error) {
	mkdir := func(path string) error {
		if dir := filepath.Dir(path); dir != "." {
			return os.MkdirAll(dir, 0o755)
		}
		return nil
	}

	switch cfg.Type {
	case "none":
		log.Warn("store.disabled")
		return nil, nil
	case "mysql":
		return store.NewMySQLStore(store.MySQLConfig{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: ParseDuration(cfg.MySQL.ConnMaxLifetime, 5*time.Minute),
		}, log)
	case "postgres":
		return store.NewPostgresStore(cfg.Postgres.DSN, log)
	case "json":
		if err := mkdir(cfg.JSON.Path); err != nil {
			return nil, err
		}
		return store.NewJSONStore(cfg.JSON.Path, ParseDuration(cfg.JSON.FlushInterval, 5*time.Second), log)
	case "sqlite":
		if err := mkdir(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		return store.NewSQLiteStore(cfg.SQLite.Path, log)
	}
	return nil, fmt.Errorf("unknown store type %q", cfg.Type)
}
