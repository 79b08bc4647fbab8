package domain

import (
	"fmt"
	"strings"
	"time"
)

// AppType 决定 WlApp 的资源投影方式。
type AppType string

const (
	AppTypeDefault     AppType = "default"
	AppTypeCloudNative AppType = "cloud_native"
)

const DefaultModuleName = "default"

// WlApp 是 (应用, 模块, 环境) 在调度侧的投影，与集群中的一个命名空间一一对应。
// Config / Release 只持有 AppID，WlApp 不反向引用它们。
type WlApp struct {
	UUID      string    `json:"uuid"`
	Region    string    `json:"region"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Type      AppType   `json:"type"`
	Namespace string    `json:"namespace"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *WlApp) IsCloudNative() bool {
	return a.Type == AppTypeCloudNative
}

// SchedulerSafeName 把名称中 K8s 不允许的下划线替换为 0us0。
func SchedulerSafeName(name string) string {
	return strings.ReplaceAll(name, "_", "0us0")
}

// GenerateWlAppName 由应用、模块和环境确定性地生成 WlApp 名称。
func GenerateWlAppName(appCode, module, env string) string {
	var name string
	if module == "" || module == DefaultModuleName {
		name = fmt.Sprintf("bkapp-%s-%s", appCode, env)
	} else {
		name = fmt.Sprintf("bkapp-%s-m-%s-%s", appCode, module, env)
	}
	return SchedulerSafeName(strings.ToLower(name))
}
