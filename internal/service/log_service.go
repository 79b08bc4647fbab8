package service

import (
	"context"
	"fmt"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

const maxLogLimit = 5000

type LogService struct {
	logQuerier port.LogQuerier
}

func NewLogService(logQuerier port.LogQuerier) *LogService {
	return &LogService{logQuerier: logQuerier}
}

// GetProcessLogs 查询实例日志。since 为 Go duration 字符串（如 "1h"），limit 上限 5000，processType 为空时返回全部进程。
func (s *LogService) GetProcessLogs(ctx context.Context, app *domain.WlApp, processType, since string, limit int) (string, error) {
	if since == "" {
		since = "1h"
	}
	duration, err := time.ParseDuration(since)
	if err != nil {
		return "", fmt.Errorf("%w: invalid since %q: %v", domain.ErrInvalidInput, since, err)
	}
	if duration <= 0 {
		return "", fmt.Errorf("%w: since must be positive", domain.ErrInvalidInput)
	}
	if processType != "" {
		if err := domain.ValidateK8sName(processType); err != nil {
			return "", err
		}
	}

	if limit <= 0 {
		limit = 1000
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	end := time.Now()
	start := end.Add(-duration)
	return s.logQuerier.QueryProcessLogs(ctx, app.Namespace, app.Name, processType, start, end, limit)
}
