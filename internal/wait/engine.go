// Package wait 以固定间隔轮询集群，直到目标收敛、失败、超时或被中断。
package wait

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultInterval 是两次检查之间的间隔。
const DefaultInterval = 2 * time.Second

// Target 是一个可轮询的收敛目标。Check 每次最多发起一次读取。
type Target interface {
	Describe() string
	// Check 返回是否已收敛以及一行进度描述。返回 IsTerminal 的错误时等待立即失败。
	Check(ctx context.Context) (done bool, progress string, err error)
}

// TargetFunc 把函数适配为 Target。
type TargetFunc struct {
	Name string
	Fn   func(ctx context.Context) (bool, string, error)
}

func (t TargetFunc) Describe() string { return t.Name }

func (t TargetFunc) Check(ctx context.Context) (bool, string, error) { return t.Fn(ctx) }

type OutcomeKind string

const (
	Succeeded OutcomeKind = "succeeded"
	Failed    OutcomeKind = "failed"
	TimedOut  OutcomeKind = "timed_out"
	Aborted   OutcomeKind = "aborted"
)

// Outcome 是一次等待的结果。Err 在非 Succeeded 时非空。
type Outcome struct {
	Kind    OutcomeKind
	Message string
	Err     error
}

func (o Outcome) OK() bool { return o.Kind == Succeeded }

// AbortFunc 在每次检查前调用，返回 true 时等待以 Aborted 结束。
type AbortFunc func(ctx context.Context) (abort bool, reason string)

// ProgressFunc 接收人类可读的进度行，相同内容只上报一次。
type ProgressFunc func(line string)

type options struct {
	abort    AbortFunc
	progress ProgressFunc
}

type Option func(*options)

func WithAbort(fn AbortFunc) Option {
	return func(o *options) { o.abort = fn }
}

func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// Engine 是单线程协作式的轮询循环。
type Engine struct {
	interval time.Duration
	logger   *slog.Logger
}

func NewEngine(interval time.Duration, logger *slog.Logger) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{interval: interval, logger: logger}
}

// Wait 轮询 target 直到收敛或 timeout 到期。第一次检查立即执行。
func (e *Engine) Wait(ctx context.Context, target Target, timeout time.Duration, opts ...Option) Outcome {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	name := target.Describe()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var (
		lastErr      error
		lastProgress string
	)
	for {
		if o.abort != nil {
			if abort, reason := o.abort(waitCtx); abort {
				e.logger.InfoContext(ctx, "wait aborted", "target", name, "reason", reason)
				return Outcome{Kind: Aborted, Message: reason, Err: &AbortedError{Reason: reason}}
			}
		}

		done, progress, err := target.Check(waitCtx)
		switch {
		case err != nil && IsTerminal(err):
			return Outcome{Kind: Failed, Message: err.Error(), Err: err}
		case err != nil && waitCtx.Err() == nil:
			lastErr = err
			e.logger.WarnContext(ctx, "check target status failed, will retry", "target", name, "error", err)
		case done:
			if o.progress != nil && progress != "" && progress != lastProgress {
				o.progress(progress)
			}
			return Outcome{Kind: Succeeded, Message: progress}
		}
		if o.progress != nil && progress != "" && progress != lastProgress {
			o.progress(progress)
			lastProgress = progress
		}

		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				terr := &ReadTargetStatusTimeoutError{Target: name, Timeout: timeout, LastErr: lastErr}
				return Outcome{Kind: TimedOut, Message: terr.Error(), Err: terr}
			}
			reason := context.Cause(waitCtx).Error()
			return Outcome{Kind: Aborted, Message: reason, Err: &AbortedError{Reason: reason}}
		case <-ticker.C:
		}
	}
}
