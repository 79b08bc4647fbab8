package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chiwei-platform/paas-workloads/internal/port"
)

const (
	// EventEOF 标记日志流结束，读取方据此停止跟随。
	EventEOF = "EOF"

	streamMaxLen = 10000
	// 流结束后保留一段时间供前端回看。
	closedStreamTTL = 24 * time.Hour
)

var _ port.LogStream = (*LogStream)(nil)

// LogStream 把部署进度写入 Redis Stream，每条记录含 event 与 line 两个字段。
type LogStream struct {
	client redis.Cmdable
}

func NewLogStream(client redis.Cmdable) *LogStream {
	return &LogStream{client: client}
}

func (s *LogStream) Append(ctx context.Context, streamID, line string) error {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamID,
		MaxLen: streamMaxLen,
		Values: map[string]interface{}{"event": "message", "line": line},
	}).Err()
}

func (s *LogStream) Close(ctx context.Context, streamID string) error {
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamID,
		Values: map[string]interface{}{"event": EventEOF, "line": ""},
	}).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, streamID, closedStreamTTL).Err()
}
