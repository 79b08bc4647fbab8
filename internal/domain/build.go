package domain

import "time"

type ArtifactType string

const (
	ArtifactSlug  ArtifactType = "slug"
	ArtifactImage ArtifactType = "image"
	ArtifactNone  ArtifactType = "none"
)

// Build 是构建流水线产出的不可变制品，除 ArtifactDeleted 外字段只读。
// 同一模块的多个 WlApp 可以复用同一个 Build。
type Build struct {
	UUID             string            `json:"uuid"`
	ModuleID         string            `json:"module_id"`
	ArtifactType     ArtifactType      `json:"artifact_type"`
	Image            string            `json:"image"`
	ImageID          string            `json:"image_id,omitempty"`
	Procfile         map[string]string `json:"procfile"`
	BkAppRevisionID  *int64            `json:"bkapp_revision_id,omitempty"`
	ArtifactDeleted  bool              `json:"artifact_deleted"`
	ArtifactMetadata ArtifactMetadata  `json:"artifact_metadata"`
	CreatedAt        time.Time         `json:"created_at"`
}

type ArtifactMetadata struct {
	UseCNB bool `json:"use_cnb,omitempty"`
	// Entrypoints 覆盖进程的容器 command，键为进程类型。
	Entrypoints map[string][]string `json:"entrypoints,omitempty"`
}

// BuildProcessStatus 是构建流水线自身的状态。
type BuildProcessStatus string

const (
	BuildProcessPending     BuildProcessStatus = "pending"
	BuildProcessSuccessful  BuildProcessStatus = "successful"
	BuildProcessFailed      BuildProcessStatus = "failed"
	BuildProcessInterrupted BuildProcessStatus = "interrupted"
)

func (s BuildProcessStatus) IsTerminal() bool {
	return s == BuildProcessSuccessful || s == BuildProcessFailed || s == BuildProcessInterrupted
}

// BuildProcess 仅被引用以便发布流程等待构建完成。
type BuildProcess struct {
	UUID         string             `json:"uuid"`
	AppID        string             `json:"app_id"`
	Status       BuildProcessStatus `json:"status"`
	BuildID      string             `json:"build_id,omitempty"`
	LogsWasReady bool               `json:"logs_was_ready"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}
