package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
)

const keyPrefix = "dualgate:presence:"

// deletes the source key only while it still points at this instance
var releaseSource = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type presenceRecord struct {
	InstanceID   string              `json:"instance_id"`
	ConnectionID domain.ConnectionID `json:"connection_id"`
	SourceID     string              `json:"source_id,omitempty"`
	Transport    string              `json:"transport"`
	RemoteAddr   string              `json:"remote_addr"`
	ConnectedAt  time.Time           `json:"connected_at"`
	RegisteredAt time.Time           `json:"registered_at"`
}

// PresenceRepository publishes this instance's connections to Redis so that
// other instances can tell where a source id is connected.
type PresenceRepository struct {
	client     redis.UniversalClient
	instanceID string
	ttl        time.Duration
	logger     *zap.SugaredLogger
}

func NewPresenceRepository(client redis.UniversalClient, instanceID string, ttl time.Duration, logger *zap.SugaredLogger) *PresenceRepository {
	return &PresenceRepository{
		client:     client,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
	}
}

var _ ports.PresenceRegistry = (*PresenceRepository)(nil)

func (r *PresenceRepository) connKey(id domain.ConnectionID) string {
	return fmt.Sprintf("%sconn:%s:%d", keyPrefix, r.instanceID, id)
}

func (r *PresenceRepository) sourceKey(sourceID string) string {
	return keyPrefix + "source:" + sourceID
}

func (r *PresenceRepository) instanceKey() string {
	return keyPrefix + "instance:" + r.instanceID
}

func (r *PresenceRepository) Register(ctx context.Context, info domain.ConnectionInfo) error {
	data, err := json.Marshal(presenceRecord{
		InstanceID:   r.instanceID,
		ConnectionID: info.ID,
		SourceID:     info.SourceID,
		Transport:    info.Transport,
		RemoteAddr:   info.RemoteAddr,
		ConnectedAt:  info.ConnectedAt,
		RegisteredAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.connKey(info.ID), data, r.ttl)
	pipe.SAdd(ctx, r.instanceKey(), strconv.FormatUint(uint64(info.ID), 10))
	pipe.Expire(ctx, r.instanceKey(), r.ttl)
	if info.SourceID != "" {
		pipe.Set(ctx, r.sourceKey(info.SourceID), r.instanceID, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register presence: %w", err)
	}
	return nil
}

func (r *PresenceRepository) Unregister(ctx context.Context, info domain.ConnectionInfo) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.connKey(info.ID))
	pipe.SRem(ctx, r.instanceKey(), strconv.FormatUint(uint64(info.ID), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to unregister presence: %w", err)
	}

	if info.SourceID != "" {
		if err := releaseSource.Run(ctx, r.client, []string{r.sourceKey(info.SourceID)}, r.instanceID).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("failed to release source id: %w", err)
		}
	}
	return nil
}

func (r *PresenceRepository) Refresh(ctx context.Context, infos []domain.ConnectionInfo) error {
	if len(infos) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	pipe.Expire(ctx, r.instanceKey(), r.ttl)
	for _, info := range infos {
		pipe.Expire(ctx, r.connKey(info.ID), r.ttl)
		if info.SourceID != "" {
			pipe.Expire(ctx, r.sourceKey(info.SourceID), r.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

func (r *PresenceRepository) Lookup(ctx context.Context, sourceID string) (string, bool, error) {
	instanceID, err := r.client.Get(ctx, r.sourceKey(sourceID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up source id: %w", err)
	}
	return instanceID, true, nil
}

// Close removes every registration owned by this instance.
func (r *PresenceRepository) Close(ctx context.Context) error {
	ids, err := r.client.SMembers(ctx, r.instanceKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list instance connections: %w", err)
	}

	for _, raw := range ids {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		key := r.connKey(domain.ConnectionID(id))
		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var rec presenceRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			r.logger.Warnw("dropping unreadable presence record", "key", key, "error", err)
			r.client.Del(ctx, key)
			continue
		}
		if err := r.Unregister(ctx, domain.ConnectionInfo{ID: rec.ConnectionID, SourceID: rec.SourceID}); err != nil {
			r.logger.Warnw("failed to unregister connection during cleanup",
				"connection_id", rec.ConnectionID,
				"error", err,
			)
		}
	}

	return r.client.Del(ctx, r.instanceKey()).Err()
}
