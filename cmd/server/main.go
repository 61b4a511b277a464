package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aeolun/squadrelay/pkg/logger"
	"github.com/aeolun/squadrelay/pkg/server"
	"github.com/aeolun/squadrelay/pkg/trace"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	configPath string
	envFile    string
	port       int
	debug      bool
	staticDir  string
	historyDB  string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of squadrelay",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("SquadRelay Server %s\n", Version)
		},
	}

	rootCmd = &cobra.Command{
		Use:          "squadrelay",
		Short:        "SquadRelay matchmaking and relay server",
		Long:         `SquadRelay hosts cooperative game sessions of up to four players and relays their traffic over WebSockets`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "~/.squadrelay/config.toml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to .env file")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP port to listen on (overrides config and PORT)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.Flags().StringVar(&staticDir, "static-dir", "", "directory of client files to serve")
	rootCmd.Flags().StringVar(&historyDB, "history-db", "", "path to the SQLite session history database")
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (server.TOMLConfig, error) {
	if err := server.LoadDotEnv(envFile); err != nil {
		return server.TOMLConfig{}, err
	}

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return server.TOMLConfig{}, err
	}

	env, err := server.ParseEnv()
	if err != nil {
		return server.TOMLConfig{}, err
	}
	cfg.ApplyEnv(env)

	// Command-line flags override config file and environment
	if port != 0 {
		cfg.Server.Port = port
	}
	if staticDir != "" {
		cfg.Server.StaticDir = staticDir
	}
	if historyDB != "" {
		cfg.History.DatabasePath = historyDB
	}
	if debug {
		cfg.Logger.Level = "debug"
		cfg.Logger.Format = "console"
	}

	return cfg, nil
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	lg, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.Sync()

	shutdownTracing, err := trace.InitTracing(ctx, cfg.Tracing, lg)
	if err != nil {
		lg.Warn("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	serverConfig := cfg.ToServerConfig()

	srv, err := server.NewServer(serverConfig, lg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	lg.Info("SquadRelay server started",
		zap.String("version", Version),
		zap.String("config", configPath),
		zap.Int("port", serverConfig.Port),
		zap.String("static_dir", serverConfig.StaticDir),
		zap.String("history", serverConfig.HistoryPath))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Wait()
	}()

	select {
	case <-ctx.Done():
		lg.Info("shutting down server")
	case err := <-serveErr:
		if err != nil {
			lg.Error("server exited", zap.Error(err))
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Stop(stopCtx); err != nil {
		lg.Error("error during shutdown", zap.Error(err))
	}
	if err := shutdownTracing(stopCtx); err != nil {
		lg.Warn("failed to flush traces", zap.Error(err))
	}

	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Printf("squadrelay: %v", err)
		os.Exit(1)
	}
}
