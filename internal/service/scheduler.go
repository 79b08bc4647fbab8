package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/logging"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// TaskHandler 执行一种任务。
type TaskHandler func(ctx context.Context, task *domain.Task) error

type SchedulerOptions struct {
	Workers     int
	PollTimeout time.Duration
	// Deadlines 按任务类型设置时限，未设置的使用 DefaultDeadline。
	Deadlines       map[domain.TaskKind]time.Duration
	DefaultDeadline time.Duration
}

// Scheduler 从任务队列取出任务并交给对应 handler，每个 worker 同时只执行一个任务。
type Scheduler struct {
	queue    port.TaskQueue
	handlers map[domain.TaskKind]TaskHandler
	opts     SchedulerOptions
}

func NewScheduler(queue port.TaskQueue, opts SchedulerOptions) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 2 * time.Second
	}
	if opts.DefaultDeadline <= 0 {
		opts.DefaultDeadline = 2 * time.Minute
	}
	return &Scheduler{queue: queue, handlers: map[domain.TaskKind]TaskHandler{}, opts: opts}
}

func (s *Scheduler) Handle(kind domain.TaskKind, h TaskHandler) {
	s.handlers[kind] = h
}

// RegisterDefaultHandlers 挂载发布、下架及发布后置任务。
func RegisterDefaultHandlers(s *Scheduler, deploys *DeployService, offlines *OfflineService, ingresses *IngressService, images *ImageService) {
	s.Handle(domain.TaskDeploy, func(ctx context.Context, t *domain.Task) error {
		return deploys.Execute(ctx, t.RefID)
	})
	s.Handle(domain.TaskOffline, func(ctx context.Context, t *domain.Task) error {
		return offlines.Execute(ctx, t.RefID)
	})
	s.Handle(domain.TaskSyncIngress, func(ctx context.Context, t *domain.Task) error {
		return ingresses.SyncByID(ctx, t.AppID)
	})
	s.Handle(domain.TaskCleanupImages, func(ctx context.Context, t *domain.Task) error {
		_, err := images.CleanupImages(ctx, t.RefID)
		return err
	})
	s.Handle(domain.TaskDeployFinished, func(ctx context.Context, t *domain.Task) error {
		return deploys.OnDeployFinished(ctx, t.RefID)
	})
}

// Run 启动 worker 直至 ctx 取消。任务失败只记录日志，不影响其它任务。
func (s *Scheduler) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "scheduler started", "workers", s.opts.Workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Workers; i++ {
		worker := i
		g.Go(func() error { return s.work(ctx, worker) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	slog.Info("scheduler stopped")
	return err
}

func (s *Scheduler) work(ctx context.Context, worker int) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		task, err := s.queue.Dequeue(ctx, s.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.WarnContext(ctx, "dequeue task failed", "worker", worker, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.PollTimeout):
			}
			continue
		}
		if task == nil {
			continue
		}
		s.Dispatch(ctx, task)
	}
}

// Dispatch 在独立的截止时间和请求 ID 下执行一个任务，handler panic 时转为错误。
func (s *Scheduler) Dispatch(ctx context.Context, task *domain.Task) (err error) {
	ctx = logging.WithRequestID(ctx, taskRequestID(task))
	deadline, ok := s.opts.Deadlines[task.Kind]
	if !ok {
		deadline = s.opts.DefaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	h, ok := s.handlers[task.Kind]
	if !ok {
		slog.ErrorContext(ctx, "no handler for task", "kind", task.Kind, "task", task.ID)
		return fmt.Errorf("%w: unknown task kind %q", domain.ErrInvalidInput, task.Kind)
	}

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
		if err != nil {
			slog.ErrorContext(ctx, "task failed", "kind", task.Kind, "task", task.ID, "app", task.AppID, "error", err)
			return
		}
		slog.InfoContext(ctx, "task done", "kind", task.Kind, "task", task.ID, "app", task.AppID, "elapsed", time.Since(started))
	}()
	return h(ctx, task)
}

// taskRequestID 沿用投递方的请求 ID 并加上任务后缀，便于串联日志。
func taskRequestID(task *domain.Task) string {
	if task.RequestID == "" {
		return "task-" + task.ID
	}
	return task.RequestID + "/" + task.ID
}
