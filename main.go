package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ci-medic/analysis"
	"ci-medic/api"
	"ci-medic/app"
	"ci-medic/dispatch"
	"ci-medic/github"
	"ci-medic/logger"
	"ci-medic/store"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ci-medic",
		Short:         "Diagnose failed CI jobs and hand them to a coding CLI",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	env := &environment{configPath: &configPath}
	root.AddCommand(
		newServeCmd(env),
		newAnalyzeCmd(env),
		newOpenCLICmd(env),
		newTrackCmd(env),
		newPRCmd(env),
		newLogsCmd(env),
		newRerunCmd(env),
		newHistoryCmd(env),
		newVersionCmd(),
	)
	return root
}

// environment wires the components a command needs. It is built lazily so
// that commands like version never touch config or storage.
type environment struct {
	configPath *string
	serving    bool

	cfg        *Config
	log        logger.Logger
	store      store.Store
	dispatcher *dispatch.Dispatcher
	app        *app.App
}

func (e *environment) open() error {
	cfg, err := LoadConfig(*e.configPath)
	if err != nil {
		return err
	}
	e.cfg = cfg

	log, err := buildLogger(cfg.Logger, !e.serving)
	if err != nil {
		return err
	}
	e.log = log

	dataStore, err := openStore(cfg.Store, log)
	if err != nil {
		log.Error("store.init_failed", logger.Err(err))
		log.Close()
		return err
	}
	e.store = dataStore

	terminal, err := dispatch.ParseTerminalApp(cfg.CLI.TerminalApp)
	if err != nil {
		e.close()
		return err
	}
	e.dispatcher = dispatch.New(dispatch.NewLauncher(log), terminal, log)

	analyzer := analysis.NewClient(analysis.ClientConfig{
		Endpoint: cfg.Analysis.Endpoint,
		Model:    cfg.Analysis.Model,
		Timeout:  ParseDuration(cfg.Analysis.Timeout, 0),
	}, log)

	// Without a token PR details come from the stub and the Actions
	// commands report that GitHub is unavailable.
	var (
		source  github.Source = github.StubSource{}
		actions app.Actions
	)
	if cfg.GitHub.Token != "" {
		gh := github.NewClient(github.ClientConfig{
			BaseURL: cfg.GitHub.APIBase,
			Token:   cfg.GitHub.Token,
			Timeout: ParseDuration(cfg.GitHub.Timeout, 30*time.Second),
		}, log)
		source, actions = gh, gh
	} else {
		log.Debug("github.stub_source", logger.String("reason", "no token configured"))
	}

	e.app = app.New(analyzer, e.dispatcher, source, actions, dataStore, log, app.Options{
		APIKey:      cfg.Analysis.APIKey,
		ReuseWindow: ParseDuration(cfg.Analysis.ReuseWindow, 0),
	})
	return nil
}

func (e *environment) close() {
	if e.store != nil {
		e.store.Close()
	}
	if e.log != nil {
		e.log.Close()
	}
}

// settings is what the local API exposes to the front end. Secrets are
// reported only as present or absent.
func (e *environment) settings() api.Settings {
	return api.Settings{
		Primary:          api.CLIAction{Label: e.cfg.CLI.Primary.Label, Template: e.cfg.CLI.Primary.Template},
		Secondary:        api.CLIAction{Label: e.cfg.CLI.Secondary.Label, Template: e.cfg.CLI.Secondary.Template},
		TerminalApp:      e.cfg.CLI.TerminalApp,
		HasAnalysisKey:   e.cfg.Analysis.APIKey != "",
		HasGitHubToken:   e.cfg.GitHub.Token != "",
		AnalysisModel:    modelName(e.cfg.Analysis.Model),
		ReuseWindowHours: ParseDuration(e.cfg.Analysis.ReuseWindow, 0).Hours(),
	}
}

func modelName(configured string) string {
	if configured == "" {
		return analysis.DefaultModel
	}
	return configured
}

// buildLogger mirrors the configured sinks. One-shot commands print their own
// output, so their console sink only shows warnings and errors.
func buildLogger(cfg LoggerConfig, oneShot bool) (logger.Logger, error) {
	level := logger.ParseLevel(cfg.Level)
	consoleLevel := level
	if oneShot && consoleLevel < logger.LevelWarn {
		consoleLevel = logger.LevelWarn
	}
	loggers := []logger.Logger{logger.NewConsole(consoleLevel, cfg.Console.Color)}

	if cfg.File.Enabled {
		fileLog, err := logger.NewFile(logger.FileConfig{
			Dir:        cfg.File.Dir,
			Level:      level,
			MaxSizeMB:  cfg.File.MaxSizeMB,
			MaxAgeDays: cfg.File.MaxAgeDays,
		})
		if err != nil {
			return nil, fmt.Errorf("init file logger: %w", err)
		}
		loggers = append(loggers, fileLog)
	}

	if cfg.Structured.Enabled {
		structLog, err := logger.NewStructured(cfg.Structured.Path, level)
		if err != nil {
			return nil, fmt.Errorf("init structured logger: %w", err)
		}
		loggers = append(loggers, structLog)
	}

	if len(loggers) == 1 {
		return loggers[0], nil
	}
	return logger.Multi(loggers...), nil
}

func openStore(cfg StoreConfig, log logger.Logger) (store.Store, error) {
	switch cfg.Type {
	case "mysql":
		return store.NewMySQLStore(store.MySQLConfig{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: ParseDuration(cfg.MySQL.ConnMaxLifetime, 5*time.Minute),
		}, log)
	case "json":
		if dir := filepath.Dir(cfg.JSON.Path); dir != "." {
			os.MkdirAll(dir, 0o755)
		}
		return store.NewJSONStore(cfg.JSON.Path, ParseDuration(cfg.JSON.FlushInterval, 30*time.Second), log)
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			os.MkdirAll(dir, 0o755)
		}
		return store.NewSQLiteStore(cfg.SQLite.Path, log)
	default:
		return nil, fmt.Errorf("unknown store type %q (want sqlite, mysql or json)", cfg.Type)
	}
}

func newServeCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local JSON API for the desktop front end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env.serving = true
			if err := env.open(); err != nil {
				return err
			}
			defer env.close()
			log := env.log

			srv := api.NewServer(env.app, env.settings(), log, env.cfg.API.AuthToken)
			server := &http.Server{
				Addr:              env.cfg.API.Listen,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			fatalCh := make(chan error, 1)
			go func() {
				log.Info("api.listening", logger.String("addr", env.cfg.API.Listen))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("api.listen_failed", logger.Err(err))
					fatalCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			var runErr error
			select {
			case sig := <-sigCh:
				log.Info("ci_medic.shutdown", logger.String("signal", sig.String()))
			case runErr = <-fatalCh:
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			server.Shutdown(ctx)

			log.Info("ci_medic.stopped")
			return runErr
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ci-medic %s\n", version)
		},
	}
}
