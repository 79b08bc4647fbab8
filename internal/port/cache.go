package port

import (
	"context"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// SnapshotStore 保存进程快照，未命中时返回 domain.ErrNotFound。
type SnapshotStore interface {
	Save(ctx context.Context, snap *domain.ProcessSnapshot) error
	Get(ctx context.Context, appName string) (*domain.ProcessSnapshot, error)
}

// LogStream 是部署日志流，Close 写入结束标记。
type LogStream interface {
	Append(ctx context.Context, streamID, line string) error
	Close(ctx context.Context, streamID string) error
}

// TaskQueue 是调度任务队列。Dequeue 在 timeout 内无任务时返回 nil, nil。
type TaskQueue interface {
	Enqueue(ctx context.Context, task *domain.Task) error
	Dequeue(ctx context.Context, timeout time.Duration) (*domain.Task, error)
}

// LogQuerier 查询实例日志（如 Loki）。
type LogQuerier interface {
	QueryProcessLogs(ctx context.Context, namespace, appName, processType string, start, end time.Time, limit int) (string, error)
}

// ImageRegistry 访问模块的镜像仓库。
type ImageRegistry interface {
	DeleteImage(ctx context.Context, image string) error
}
