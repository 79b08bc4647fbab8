package domain

import "time"

const DefaultPlanName = "default"

// ResourcePlan 是进程可选的资源方案，内置方案在启动时确保存在。
type ResourcePlan struct {
	Name      string           `json:"name"`
	IsBuiltin bool             `json:"is_builtin"`
	Limits    ResourceQuantity `json:"limits"`
	Requests  ResourceQuantity `json:"requests"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// BuiltinPlans 返回内置资源方案的初始定义。
func BuiltinPlans() []ResourcePlan {
	req := ResourceQuantity{CPU: "200m", Memory: "256Mi"}
	return []ResourcePlan{
		{Name: DefaultPlanName, IsBuiltin: true, Limits: ResourceQuantity{CPU: "4000m", Memory: "1024Mi"}, Requests: req},
		{Name: "4C1G", IsBuiltin: true, Limits: ResourceQuantity{CPU: "4000m", Memory: "1024Mi"}, Requests: req},
		{Name: "4C2G", IsBuiltin: true, Limits: ResourceQuantity{CPU: "4000m", Memory: "2048Mi"}, Requests: req},
		{Name: "4C4G", IsBuiltin: true, Limits: ResourceQuantity{CPU: "4000m", Memory: "4096Mi"}, Requests: req},
	}
}
