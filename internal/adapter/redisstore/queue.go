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

// DefaultQueueKey 是调度任务列表的键。
const DefaultQueueKey = "paas:workloads:tasks"

var _ port.TaskQueue = (*TaskQueue)(nil)

// TaskQueue 是 Redis 列表实现的先进先出队列：LPUSH 入队，BRPOP 出队。
type TaskQueue struct {
	client redis.Cmdable
	key    string
}

func NewTaskQueue(client redis.Cmdable, key string) *TaskQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &TaskQueue{client: client, key: key}
}

func (q *TaskQueue) Enqueue(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

func (q *TaskQueue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.Task, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP 返回 [key, value]
	var task domain.Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, err
	}
	return &task, nil
}
