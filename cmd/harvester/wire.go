package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flightstatus-harvester/pkg/checkpoint"
	"github.com/Sternrassler/flightstatus-harvester/pkg/client"
	"github.com/Sternrassler/flightstatus-harvester/pkg/config"
	"github.com/Sternrassler/flightstatus-harvester/pkg/credentials"
	"github.com/Sternrassler/flightstatus-harvester/pkg/harvest"
	"github.com/Sternrassler/flightstatus-harvester/pkg/logging"
	"github.com/Sternrassler/flightstatus-harvester/pkg/pagination"
	"github.com/Sternrassler/flightstatus-harvester/pkg/query"
	"github.com/Sternrassler/flightstatus-harvester/pkg/ratelimit"
	"github.com/Sternrassler/flightstatus-harvester/pkg/roller"
	"github.com/Sternrassler/flightstatus-harvester/pkg/sink"
	"github.com/Sternrassler/flightstatus-harvester/pkg/storage"
)

// app holds the wired components of one command invocation.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	backend storage.Backend
	store   *checkpoint.Store
	redis   *redis.Client
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	backend, err := storage.NewFS(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
	}
	a.store = a.checkpointStore(false)
	return a, nil
}

func (a *app) checkpointStore(readOnly bool) *checkpoint.Store {
	return checkpoint.NewStore(a.backend, checkpoint.Options{
		Dir:      a.cfg.Storage.MatrixDir,
		Expand:   query.ExpandOptions{RequireDateRange: a.cfg.Harvest.RequireDateRange},
		ReadOnly: readOnly,
	}, logging.NewLogger("checkpoint"))
}

// connectRedis opens the shared limiter store when REDIS_URL is set.
func (a *app) connectRedis(ctx context.Context) error {
	if a.cfg.RedisURL == "" {
		return nil
	}

	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("connect to redis: %w", err)
	}

	a.redis = rdb
	a.logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return nil
}

// ready is the /ready check of the metrics endpoint.
func (a *app) ready(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Ping(ctx).Err()
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
}

func (a *app) roller() *roller.Roller {
	return roller.New(a.cfg.Harvest.LookaheadDays, logging.NewLogger("roller"))
}

// rollRunner can roll date windows but not fetch.
func (a *app) rollRunner() *harvest.Runner {
	return harvest.New(harvest.Deps{
		Store:  a.store,
		Roller: a.roller(),
	}, harvest.Options{}, a.logger)
}

// statusRunner reads matrix files without writing anything.
func (a *app) statusRunner() *harvest.Runner {
	return harvest.New(harvest.Deps{
		Store: a.checkpointStore(true),
	}, harvest.Options{}, a.logger)
}

// fetchingRunner wires the credential pool, transport, limiter and sink.
func (a *app) fetchingRunner(ctx context.Context) (*harvest.Runner, error) {
	secrets, err := credentials.ParseSecrets(a.cfg.Credentials.APIKeys)
	if err != nil {
		return nil, fmt.Errorf("parse API_KEYS: %w", err)
	}

	pool, err := credentials.Load(ctx, a.backend, credentials.Options{
		File:          a.cfg.Storage.KeysFile,
		DailyQuota:    a.cfg.Credentials.DailyQuota,
		RedactSecrets: a.cfg.Credentials.RedactSecrets,
		Secrets:       secrets,
	}, logging.NewLogger("credentials"))
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	api, err := client.New(client.Config{
		BaseURL:     a.cfg.API.BaseURL,
		QuotaMarker: a.cfg.API.QuotaMarker,
		Timeout:     a.cfg.API.RequestTimeout,
		UserAgent:   a.cfg.API.UserAgent,
	}, logging.NewLogger("client"))
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	if err := a.connectRedis(ctx); err != nil {
		return nil, err
	}
	limiterCfg := ratelimit.Config{
		Interval:   a.cfg.Harvest.MinInterval,
		ExtraDelay: a.cfg.Harvest.ExtraDelay,
	}
	if a.redis != nil {
		limiterCfg.Store = ratelimit.NewRedisStore(a.redis)
	}

	engineCfg := pagination.DefaultConfig()
	engineCfg.MaxPages = a.cfg.Harvest.MaxPages
	engineCfg.SkipComplete = a.cfg.Harvest.SkipComplete
	engineCfg.SkipServerErrors = a.cfg.Harvest.SkipServerErrors
	engineCfg.SkipNotFound = a.cfg.Harvest.SkipNotFound
	engineCfg.SkipOtherErrors = a.cfg.Harvest.SkipOtherErrors

	engine := pagination.New(pagination.Deps{
		Fetcher:     api,
		Sink:        sink.New(a.backend, a.cfg.Storage.ArtifactPrefix, logging.NewLogger("sink")),
		Limiter:     ratelimit.NewLimiter(limiterCfg, logging.NewLogger("ratelimit")),
		Credentials: pool,
		Checkpoints: a.store,
	}, engineCfg, logging.NewLogger("pagination"))

	return harvest.New(harvest.Deps{
		Store:  a.store,
		Pool:   pool,
		Engine: engine,
		Roller: a.roller(),
	}, harvest.Options{RollDates: a.cfg.Harvest.RollDates}, a.logger), nil
}
