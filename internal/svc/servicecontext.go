package svc

import (
	"errors"
	"fmt"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"equityfeed/internal/config"
	marketpersist "equityfeed/internal/persistence/market"
	"equityfeed/pkg/acquire"
	"equityfeed/pkg/cache"
	marketpkg "equityfeed/pkg/market"
	"equityfeed/pkg/normalize"
	"equityfeed/pkg/race"
	_ "equityfeed/pkg/sources/eastmoney"
	_ "equityfeed/pkg/sources/httpfeed"
	_ "equityfeed/pkg/sources/polygon"
	_ "equityfeed/pkg/sources/sina"
	_ "equityfeed/pkg/sources/tencent"
)

type ServiceContext struct {
	Config config.Config

	MarketConfig *marketpkg.Config
	Registry     *marketpkg.Registry
	Normalizer   *normalize.Normalizer
	Racer        *race.Coordinator
	Store        *cache.Store
	Guardian     *cache.Guardian
	Acquirer     *acquire.Acquirer

	// Optional backends, nil unless configured.
	Redis       *redis.Redis
	DBConn      sqlx.SqlConn
	Persistence marketpkg.Persistence
}

// NewServiceContext wires every component and exits the process on failure.
func NewServiceContext(c config.Config) *ServiceContext {
	svc, err := Build(c)
	if err != nil {
		log.Fatalf("failed to build service context: %v", err)
	}
	return svc
}

// Build wires the cache, the provider registry, the race coordinator and the acquirer.
func Build(c config.Config) (*ServiceContext, error) {
	marketCfg := c.Market.Value
	if marketCfg == nil {
		return nil, errors.New("market config is required")
	}
	registry, err := marketCfg.BuildRegistry()
	if err != nil {
		return nil, fmt.Errorf("build market registry: %w", err)
	}

	svc := &ServiceContext{
		Config:       c,
		MarketConfig: marketCfg,
		Registry:     registry,
		Normalizer:   normalize.New(normalize.WithMinDirectoryRows(c.MinDirectoryRows)),
	}
	svc.Racer = race.New(c.RaceConfig(), svc.Normalizer.Normalize, race.WithObserver(acquire.ObserveAttempt))

	disk, err := cache.NewDiskTier(c.CachePath())
	if err != nil {
		return nil, fmt.Errorf("open cache dir: %w", err)
	}
	storeOpts := []cache.Option{cache.WithDiskTier(disk)}
	if c.Redis.Host != "" {
		rds, err := redis.NewRedis(c.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		svc.Redis = rds
		storeOpts = append(storeOpts, cache.WithSharedTier(cache.NewRedisTier(rds, c.RedisRetention)))
	}
	svc.Store = cache.NewStore(storeOpts...)

	svc.Guardian, err = cache.NewGuardian(svc.Store,
		cache.WithValidator(svc.Normalizer.Validate),
		cache.WithMinDirectoryRows(c.MinDirectoryRows),
	)
	if err != nil {
		return nil, err
	}

	opts := []acquire.Option{
		acquire.WithGuardian(svc.Guardian),
		acquire.WithTTL(c.TTLSet()),
		acquire.WithRequestTimeout(c.RequestTimeoutDuration()),
		acquire.WithBatchWidth(c.BatchWidth),
	}
	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		svc.DBConn = conn
		svc.Persistence = marketpersist.NewService(marketpersist.Config{SQLConn: conn})
		opts = append(opts, acquire.WithPersistence(svc.Persistence))
	}
	svc.Acquirer = acquire.New(svc.Store, registry, svc.Racer, opts...)
	return svc, nil
}
