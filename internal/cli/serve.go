package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"medihelp/internal/api"
	"medihelp/internal/config"
	"medihelp/internal/redis"
	"medihelp/internal/service/ai"
	"medihelp/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the extraction and chat HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := newServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newServer wires providers, the worker manager and the HTTP routes.
func newServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*http.Server, func(), error) {
	extractor, err := ai.NewExtractor(ctx, cfg, log.Named("extractor"))
	if err != nil {
		return nil, nil, fmt.Errorf("init extractor: %w", err)
	}
	chat, err := ai.NewChatService(ctx, cfg, log.Named("chat"))
	if err != nil {
		return nil, nil, fmt.Errorf("init chat: %w", err)
	}

	var (
		guard worker.Guard
		rdb   *redis.Client
	)
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create redis client: %w", err)
		}
		guard = worker.NewRedisGuard(rdb, 0, log.Named("guard"))
	} else {
		guard = worker.NewMemoryGuard()
	}

	manager := worker.NewManager(extractor, chat, guard, worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
		ChatTimeout:       time.Duration(cfg.BasicConfig.ChatTimeout) * time.Second,
	}, log.Named("worker"))

	if !cfg.BasicConfig.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.NewHandler(manager, cfg.BasicConfig.MaxUploadBytes, log.Named("api")).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	cleanup := func() {
		manager.Close()
		if rdb != nil {
			rdb.Close()
		}
	}
	return srv, cleanup, nil
}
