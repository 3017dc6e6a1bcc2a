package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arhyth/atmxgo"
	"github.com/bwmarrin/snowflake"
	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfp := flag.String("config", "config.yml", "path to configuration file")
	nodeID := flag.Int64("node", 1, "snowflake node ID used for session IDs")
	flag.Parse()

	if err := run(*cfp, *nodeID, &logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
	logger.Info().Msg("server stopped")
}

func run(cfgPath string, nodeID int64, logger *zerolog.Logger) error {
	cfg, err := atmxgo.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	zerolog.SetGlobalLevel(cfg.Log.ZerologLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := atmxgo.OpenRepository(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	store, err := atmxgo.NewService(ctx, repo, logger)
	if err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	svc := atmxgo.Chain(store,
		atmxgo.NewValidationMiddleware(),
		atmxgo.NewLimitMiddleware(atmxgo.NewServiceLimits(cfg.Limits.Concurrency, cfg.Limits.AcquireTimeout)),
		atmxgo.NewCircuitBreakMiddleware(atmxgo.NewServiceBreaker(cfg.Breaker.ConsecutiveFailures, cfg.Breaker.OpenTimeout, logger)),
	)

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("creating snowflake node: %w", err)
	}
	srv := atmxgo.NewServer(cfg.Server, svc, node, logger)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if cfg.Ops.Addr != "" {
		ops := &http.Server{
			Addr:              cfg.Ops.Addr,
			Handler:           atmxgo.NewHTTPHandler(svc, srv, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		grp.Go(func() error {
			logger.Info().Str("addr", cfg.Ops.Addr).Msg("ops HTTP listening")
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		grp.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ops.Shutdown(sctx)
		})
	}

	return grp.Wait()
}
