package domain

import "time"

// InitialReleaseVersion 从 11 开始，为历史数据中的旧版本号留出空间。
const InitialReleaseVersion = 11

// Release 是在某个 Config 下运行某个 Build 的一次尝试。
// Version 在 WlApp 内严格递增且连续。
type Release struct {
	UUID         string            `json:"uuid"`
	AppID        string            `json:"app_id"`
	Version      int               `json:"version"`
	BuildID      string            `json:"build_id"`
	ConfigID     string            `json:"config_id"`
	Procfile     map[string]string `json:"procfile"`
	Summary      string            `json:"summary,omitempty"`
	Failed       bool              `json:"failed"`
	FailedReason string            `json:"failed_reason,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// DeployStatus 是部署操作的整体状态。
type DeployStatus string

const (
	DeployPending     DeployStatus = "pending"
	DeploySuccessful  DeployStatus = "successful"
	DeployFailed      DeployStatus = "failed"
	DeployInterrupted DeployStatus = "interrupted"
)

func (s DeployStatus) IsTerminal() bool {
	return s == DeploySuccessful || s == DeployFailed || s == DeployInterrupted
}

// DeployPhase 是发布状态机的当前阶段。
type DeployPhase string

const (
	PhaseCreated           DeployPhase = "created"
	PhasePreRelHookRunning DeployPhase = "pre_release_hook_running"
	PhaseResourcesApplied  DeployPhase = "resources_applied"
	PhaseWaitingForReady   DeployPhase = "waiting_for_ready"
	PhaseSucceeded         DeployPhase = "succeeded"
	PhaseFailed            DeployPhase = "failed"
)

// ReasonInterrupted 是被用户中断的发布的失败原因。
const ReasonInterrupted = "interrupted"

// DeployOperation 记录一次部署请求及其状态机进度，同一 WlApp 同时最多一个 pending。
type DeployOperation struct {
	UUID               string       `json:"uuid"`
	AppID              string       `json:"app_id"`
	BuildID            string       `json:"build_id,omitempty"`
	BuildProcessID     string       `json:"build_process_id,omitempty"`
	Operator           string       `json:"operator"`
	PreReleaseHook     string       `json:"pre_release_hook,omitempty"`
	Status             DeployStatus `json:"status"`
	Phase              DeployPhase  `json:"phase"`
	ReleaseID          string       `json:"release_id,omitempty"`
	ReleaseVersion     int          `json:"release_version,omitempty"`
	InterruptRequested bool         `json:"interrupt_requested"`
	ErrDetail          string       `json:"err_detail,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// LogStreamID 是部署日志流的标识。
func (d *DeployOperation) LogStreamID() string {
	return "deploy:logs:" + d.UUID
}
