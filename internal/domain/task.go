package domain

import "time"

// TaskKind 是调度队列中的任务类型。
type TaskKind string

const (
	TaskDeploy         TaskKind = "deploy"
	TaskOffline        TaskKind = "offline"
	TaskSyncIngress    TaskKind = "sync_ingress"
	TaskCleanupImages  TaskKind = "cleanup_images"
	TaskDeployFinished TaskKind = "deploy_finished"
)

// Task 是投递到调度队列的一次执行请求。RefID 指向 DeployOperation / OfflineOperation / Build 等记录。
type Task struct {
	ID        string    `json:"id"`
	Kind      TaskKind  `json:"kind"`
	AppID     string    `json:"app_id"`
	RefID     string    `json:"ref_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
