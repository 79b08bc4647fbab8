package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// DefaultSnapshotTTL 是进程快照的保留时间。
const DefaultSnapshotTTL = 24 * time.Hour

var _ port.SnapshotStore = (*SnapshotStore)(nil)

type SnapshotStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewSnapshotStore(client redis.Cmdable, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotStore{client: client, ttl: ttl}
}

func snapshotKey(appName string) string {
	return "procs::snapshot::app:" + appName
}

func (s *SnapshotStore) Save(ctx context.Context, snap *domain.ProcessSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, snapshotKey(snap.AppName), data, s.ttl).Err()
}

func (s *SnapshotStore) Get(ctx context.Context, appName string) (*domain.ProcessSnapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey(appName)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap domain.ProcessSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
