package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrConflict      = errors.New("conflict")
	ErrCannotDelete  = errors.New("cannot delete")

	ErrAppNotFound             = fmt.Errorf("wl app %w", ErrNotFound)
	ErrConfigNotFound          = fmt.Errorf("config %w", ErrNotFound)
	ErrBuildNotFound           = fmt.Errorf("build %w", ErrNotFound)
	ErrBuildProcessNotFound    = fmt.Errorf("build process %w", ErrNotFound)
	ErrReleaseNotFound         = fmt.Errorf("release %w", ErrNotFound)
	ErrCommandNotFound         = fmt.Errorf("command %w", ErrNotFound)
	ErrDeployNotFound          = fmt.Errorf("deploy %w", ErrNotFound)
	ErrOfflineNotFound         = fmt.Errorf("offline operation %w", ErrNotFound)
	ErrPlanNotFound            = fmt.Errorf("resource plan %w", ErrNotFound)
	ErrProcessNotFound         = fmt.Errorf("process %w", ErrNotFound)
	ErrSharedCertNotFound      = fmt.Errorf("shared cert %w", ErrNotFound)
	ErrPreviousReleaseNotFound = fmt.Errorf("previous release %w", ErrNotFound)

	// ErrPendingDeployExists 同一 WlApp 已有进行中的部署或下架。
	ErrPendingDeployExists = fmt.Errorf("pending deploy exists: %w", ErrConflict)
	// ErrCommandRunning 同一 WlApp 已有运行中的一次性命令。
	ErrCommandRunning = fmt.Errorf("command already running: %w", ErrConflict)
	ErrEmptyProcfile  = fmt.Errorf("%w: procfile is empty", ErrInvalidInput)
)

// ConfigurationError 表示集群或平台配置错误，不可重试。
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Msg }

func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// ClusterNotFoundError 表示无法为应用找到可见集群。
type ClusterNotFoundError struct {
	Region string
	Name   string
}

func (e *ClusterNotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("cluster %q not found in region %q", e.Name, e.Region)
	}
	return fmt.Sprintf("no default cluster visible in region %q", e.Region)
}

func (e *ClusterNotFoundError) Unwrap() error { return ErrNotFound }

// MapperNotInVersionError 表示 Config 中记录的 mapper 版本未注册。
type MapperNotInVersionError struct {
	Version string
}

func (e *MapperNotInVersionError) Error() string {
	return fmt.Sprintf("mapper version %q is not registered", e.Version)
}

// ScaleProcessError 包装扩缩容失败的底层原因。
type ScaleProcessError struct {
	ProcessType string
	Err         error
	notFound    bool
}

func NewScaleProcessError(procType string, err error, notFound bool) *ScaleProcessError {
	return &ScaleProcessError{ProcessType: procType, Err: err, notFound: notFound}
}

func (e *ScaleProcessError) Error() string {
	return fmt.Sprintf("scale process %s: %v", e.ProcessType, e.Err)
}

func (e *ScaleProcessError) Unwrap() error { return e.Err }

// CausedByNotFound 为 true 时，调用方可视为进程已停止。
func (e *ScaleProcessError) CausedByNotFound() bool { return e.notFound }

// ReplicasExceedQuotaError 在副本数被集群上限截断时返回，截断后的值已生效。
type ReplicasExceedQuotaError struct {
	Requested int32
	Max       int32
}

func (e *ReplicasExceedQuotaError) Error() string {
	return fmt.Sprintf("replicas %d exceed quota, clamped to %d", e.Requested, e.Max)
}

// DeployInterruptionFailedError 表示当前部署不允许被中断。
type DeployInterruptionFailedError struct {
	Reason string
}

func (e *DeployInterruptionFailedError) Error() string {
	return "deploy interruption failed: " + e.Reason
}

func (e *DeployInterruptionFailedError) Unwrap() error { return ErrConflict }

// EmptyAppIngressError 在期望的 Ingress 集合为空时返回，防止误删全部入口。
type EmptyAppIngressError struct {
	AppName string
}

func (e *EmptyAppIngressError) Error() string {
	return fmt.Sprintf("app %s has no desired ingress", e.AppName)
}
