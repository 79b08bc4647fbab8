package wait

import (
	"errors"
	"fmt"
	"time"
)

// ReadTargetStatusTimeoutError 在截止时间到达时目标仍未收敛。
type ReadTargetStatusTimeoutError struct {
	Target  string
	Timeout time.Duration
	// LastErr 是最后一次读取状态时的临时错误，可能为空。
	LastErr error
}

func (e *ReadTargetStatusTimeoutError) Error() string {
	msg := fmt.Sprintf("%s not ready after %s", e.Target, e.Timeout)
	if e.LastErr != nil {
		msg += ": last error: " + e.LastErr.Error()
	}
	return msg
}

func (e *ReadTargetStatusTimeoutError) Unwrap() error { return e.LastErr }

// PodNotSucceededError 表示一次性 Pod 进入了拒绝阶段。
type PodNotSucceededError struct {
	Pod      string
	Phase    string
	ExitCode *int32
	Reason   string
	Message  string
}

func (e *PodNotSucceededError) Error() string {
	msg := fmt.Sprintf("pod %s ended in phase %s", e.Pod, e.Phase)
	if e.ExitCode != nil {
		msg += fmt.Sprintf(", exit code %d", *e.ExitCode)
	}
	if e.Reason != "" {
		msg += ", reason " + e.Reason
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// ResourceMissingError 表示等待中的目标资源已不存在。
type ResourceMissingError struct {
	Kind      string
	Namespace string
	Name      string
}

func (e *ResourceMissingError) Error() string {
	return fmt.Sprintf("%s %s/%s is missing", e.Kind, e.Namespace, e.Name)
}

// TargetFailedError 表示目标进入了不可恢复的失败状态。
type TargetFailedError struct {
	Target string
	Reason string
}

func (e *TargetFailedError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Target, e.Reason)
}

// AbortedError 在等待被中断时返回。
type AbortedError struct {
	Reason string
}

func (e *AbortedError) Error() string { return "wait aborted: " + e.Reason }

// IsTerminal 判断 Check 返回的错误是否应立即结束等待，其余错误视为临时错误继续重试。
func IsTerminal(err error) bool {
	var (
		podErr     *PodNotSucceededError
		missingErr *ResourceMissingError
		failedErr  *TargetFailedError
	)
	return errors.As(err, &podErr) || errors.As(err, &missingErr) || errors.As(err, &failedErr)
}
