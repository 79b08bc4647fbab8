package domain

import "time"

type OfflineStatus string

const (
	OfflinePending    OfflineStatus = "pending"
	OfflineSuccessful OfflineStatus = "successful"
	OfflineFailed     OfflineStatus = "failed"
)

// OfflineOperation 记录一次下架。
type OfflineOperation struct {
	UUID      string        `json:"uuid"`
	AppID     string        `json:"app_id"`
	Operator  string        `json:"operator"`
	Status    OfflineStatus `json:"status"`
	ErrDetail string        `json:"err_detail,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (o *OfflineOperation) MarkSuccessful(now time.Time) {
	o.Status = OfflineSuccessful
	o.UpdatedAt = now
}

func (o *OfflineOperation) MarkFailed(err error, now time.Time) {
	o.Status = OfflineFailed
	o.ErrDetail = err.Error()
	o.UpdatedAt = now
}
