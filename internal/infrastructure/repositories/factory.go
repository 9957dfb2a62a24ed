package repositories

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dualgate/internal/core/ports"
	"dualgate/internal/infrastructure/repositories/memory"
	redisrepo "dualgate/internal/infrastructure/repositories/redis"
	"dualgate/pkg/config"
)

// RegistryFactory creates registries, using Redis for shared state when it is
// configured and reachable.
type RegistryFactory struct {
	cfg         *config.Config
	instanceID  string
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRegistryFactory never fails on an unreachable Redis; it falls back to
// process-local registries instead.
func NewRegistryFactory(ctx context.Context, cfg *config.Config, instanceID string, logger *zap.SugaredLogger) *RegistryFactory {
	factory := &RegistryFactory{
		cfg:        cfg,
		instanceID: instanceID,
		logger:     logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, presence stays local",
				"error", err,
			)
		} else {
			factory.redisClient = client
		}
	}

	return factory
}

func (f *RegistryFactory) CreateConnectionRegistry() ports.ConnectionRegistry {
	return memory.NewConnectionRegistry()
}

func (f *RegistryFactory) CreateHistoryRegistry() ports.HistoryRegistry {
	return memory.NewHistoryRegistry()
}

func (f *RegistryFactory) CreatePresenceRegistry() ports.PresenceRegistry {
	if f.redisClient != nil {
		f.logger.Infow("using Redis presence registry", "instance_id", f.instanceID)
		presence := redisrepo.NewPresenceRepository(f.redisClient, f.instanceID, f.cfg.Redis.PresenceTTL, f.logger)
		if f.cfg.Redis.LookupCacheTTL > 0 {
			return NewCachedPresenceRegistry(presence, f.cfg.Redis.LookupCacheTTL)
		}
		return presence
	}
	return memory.NoopPresenceRegistry{}
}

// RedisClient is nil when Redis is disabled or unreachable.
func (f *RegistryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RegistryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}

// HealthCheck pings Redis when it is in use.
func (f *RegistryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
