package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kalbasit/cube/pkg/codec"
	"github.com/kalbasit/cube/pkg/httpapi"
	"github.com/kalbasit/cube/pkg/metrics"
	"github.com/kalbasit/cube/pkg/persistence"
	"github.com/kalbasit/cube/pkg/router"
	"github.com/kalbasit/cube/pkg/shard"
	"github.com/kalbasit/cube/pkg/telemetry"
	"github.com/kalbasit/cube/pkg/tracing"
	"github.com/kalbasit/cube/pkg/txn"
	"github.com/kalbasit/cube/pkg/wal"
)

func serveCommand(flagSources flagSourcesFn) *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "serve the key-value store over HTTP",
		Action:  serveAction(),
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Usage:   "The port to listen on",
				Sources: flagSources("server.port", "PORT"),
				Value:   4000,
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "The directory holding shard data files and WAL files",
				Sources: flagSources("server.data-dir", "DATA_DIR"),
				Value:   ".",
			},
			&cli.IntFlag{
				Name:    "bloom-size",
				Usage:   "Number of counters in each shard's Bloom filter",
				Sources: flagSources("bloom.size", "CUBE_BLOOM_SIZE"),
				Value:   10000,
			},
			&cli.IntFlag{
				Name:    "bloom-hash-count",
				Usage:   "Number of hash functions used by each shard's Bloom filter",
				Sources: flagSources("bloom.hash-count", "CUBE_BLOOM_HASH_COUNT"),
				Value:   3,
			},
			&cli.DurationFlag{
				Name:    "txn-idle-timeout",
				Usage:   "How long an open transaction may sit idle before the sweep reaps it",
				Sources: flagSources("txn.idle-timeout", "CUBE_TXN_IDLE_TIMEOUT"),
				Value:   time.Hour,
			},
			&cli.DurationFlag{
				Name:    "txn-sweep-interval",
				Usage:   "How often the stale-transaction sweep runs",
				Sources: flagSources("txn.sweep-interval", "CUBE_TXN_SWEEP_INTERVAL"),
				Value:   time.Minute,
			},
		},
	}
}

func serveAction() cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		logger := zerolog.Ctx(ctx).With().Str("cmd", "serve").Logger()

		ctx = logger.WithContext(ctx)

		ctx, cancel := context.WithCancel(ctx)

		g, ctx := errgroup.WithContext(ctx)

		defer func() {
			if err := g.Wait(); err != nil {
				logger.Error().Err(err).Msg("error returned from g.Wait()")
			}
		}()

		// NOTE: cancel runs first among these deferred calls (LIFO), which is
		// what starts every goroutine in g unwinding.
		defer cancel()

		g.Go(func() error {
			return autoMaxProcs(ctx, 30*time.Second, logger)
		})

		res, err := telemetry.NewResource(ctx, cmd.Root().Name, Version)
		if err != nil {
			return fmt.Errorf("error building the telemetry resource: %w", err)
		}

		tracingShutdown, err := tracing.Setup(ctx, cmd.Root().Bool("otel-enabled"), res)
		if err != nil {
			return fmt.Errorf("error setting up tracing: %w", err)
		}
		defer func() {
			if err := tracingShutdown(ctx); err != nil {
				logger.Error().Err(err).Msg("error shutting down tracing")
			}
		}()

		m, err := metrics.New(ctx, cmd.Root().Name, Version)
		if err != nil {
			return fmt.Errorf("error setting up metrics: %w", err)
		}
		defer func() {
			if err := m.Shutdown(ctx); err != nil {
				logger.Error().Err(err).Msg("error shutting down metrics")
			}
		}()

		dataDir := cmd.String("data-dir")

		persist, err := persistence.New(dataDir)
		if err != nil {
			return fmt.Errorf("error opening the persistence layer at %q: %w", dataDir, err)
		}

		w, err := wal.New(dataDir)
		if err != nil {
			return fmt.Errorf("error opening the write-ahead log at %q: %w", dataDir, err)
		}

		shards, err := bootShards(ctx, persist, w, int(cmd.Int("bloom-size")), int(cmd.Int("bloom-hash-count")), m, logger)
		if err != nil {
			return err
		}

		for _, s := range shards {
			g.Go(func() error {
				s.Run(ctx)

				return nil
			})
		}

		r := router.New(shards)
		mgr := txn.New(r, m, logger, cmd.Duration("txn-idle-timeout"))

		sweeper := cron.New()

		sweepInterval := cmd.Duration("txn-sweep-interval")
		if _, err := sweeper.AddFunc(fmt.Sprintf("@every %s", sweepInterval), func() { mgr.Sweep(ctx) }); err != nil {
			return fmt.Errorf("error scheduling the stale-transaction sweep: %w", err)
		}

		sweeper.Start()
		defer sweeper.Stop()

		srv := httpapi.New(mgr, m, logger)

		httpServer := &http.Server{
			BaseContext:       func(net.Listener) context.Context { return ctx },
			Addr:              fmt.Sprintf(":%d", cmd.Int("port")),
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			<-ctx.Done()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			return httpServer.Shutdown(shutdownCtx)
		})

		logger.Info().
			Str("addr", httpServer.Addr).
			Str("data_dir", dataDir).
			Msg("server started")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error starting the HTTP listener: %w", err)
		}

		return nil
	}
}

func bootShards(
	ctx context.Context,
	persist *persistence.Store,
	w *wal.WAL,
	bloomSize, bloomHashCount int,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (map[string]*shard.Shard, error) {
	shards := make(map[string]*shard.Shard, codec.ShardCount)

	for i := 0; i < codec.ShardCount; i++ {
		id := fmt.Sprintf("%02d", i)

		s := shard.New(id, persist, w, bloomSize, bloomHashCount, m, logger)
		if err := s.Boot(ctx); err != nil {
			return nil, fmt.Errorf("error booting shard %s: %w", id, err)
		}

		shards[id] = s
	}

	return shards, nil
}
