package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/captchad/captchad/internal/config"
	"github.com/captchad/captchad/internal/ocr"
	"github.com/captchad/captchad/internal/server"
	"github.com/captchad/captchad/internal/service"
	"github.com/captchad/captchad/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the captchad API server",
		Long:  "Start the HTTP server exposing the recognition endpoints and the admin interface.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int) error {
	cfg := config.FromViper()
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logLevel := slog.LevelInfo
	if cfg.Log.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if cfg.Admin.Username == "" || cfg.Admin.Password == "" {
		return fmt.Errorf("admin credentials not configured: set admin.username and admin.password (or CAPTCHAD_ADMIN_USERNAME / CAPTCHAD_ADMIN_PASSWORD)")
	}

	// 1. Token store (SQLite)
	dir := cfg.Server.DataDir
	if dir == "" {
		dir = resolveDataDir()
	}
	st, err := store.New(dir)
	if err != nil {
		return fmt.Errorf("init token store: %w", err)
	}
	defer st.Close()
	logger.Info("token store initialized", "path", dir)

	// 2. Authorization core: limiter, cache, accumulator, gate
	limiter := service.NewLimiter()
	cache := service.NewCache(st, limiter)
	if err := cache.Refresh(context.Background()); err != nil {
		return fmt.Errorf("warm token cache: %w", err)
	}
	flushInterval := config.Duration(cfg.Limits.UsageFlush, service.DefaultFlushInterval)
	usage := service.NewAccumulator(st, cache, flushInterval, logger)
	gate := service.NewGate(cache, limiter, usage)
	tokens := service.NewTokens(st, cache, limiter, usage)

	if cache.Len() == 0 {
		logger.Warn("no tokens configured - visit /admin or run: captchad token create")
	}

	// 3. Admin sessions
	sessions := service.NewSessionStore(config.Duration(cfg.Admin.SessionTTL, service.DefaultSessionTTL))

	// 4. Recognition engine client
	engine := ocr.NewRemote(cfg.Engine.URL, config.Duration(cfg.Engine.Timeout, 30*time.Second))
	logger.Info("recognition engine configured", "url", cfg.Engine.URL)

	// 5. Background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		usage.Run(ctx)
	}()
	go sessions.Run(ctx)

	// 6. HTTP server
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxImageSize:    cfg.Limits.MaxImageSize,
		AdminUsername:   cfg.Admin.Username,
		AdminPassword:   cfg.Admin.Password,
		LoginRatePerMin: cfg.Limits.LoginRatePerMin,
	}
	srv := server.New(srvCfg, gate, tokens, sessions, engine, logger)

	fmt.Printf("→ captchad\n")
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Admin UI:  http://%s:%d/admin\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:    http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()

	err = srv.ListenAndServe()

	// Stop the flush loop and wait for its final flush so admitted requests
	// are persisted before exit.
	cancel()
	<-flushDone
	return err
}
