package domain

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// ProcessTargetStatus 是进程的期望运行状态。
type ProcessTargetStatus string

const (
	ProcessStart ProcessTargetStatus = "start"
	ProcessStop  ProcessTargetStatus = "stop"
)

// Config 是挂在 WlApp 上的带版本配置，只追加不原地修改，最新一条生效。
type Config struct {
	UUID                 string                         `json:"uuid"`
	AppID                string                         `json:"app_id"`
	Revision             int                            `json:"revision"`
	Cluster              string                         `json:"cluster,omitempty"`
	Image                string                         `json:"image,omitempty"`
	ResourceRequirements map[string]ResourceRequirement `json:"resource_requirements,omitempty"`
	NodeSelector         map[string]string              `json:"node_selector,omitempty"`
	Tolerations          []Toleration                   `json:"tolerations,omitempty"`
	Runtime              Runtime                        `json:"runtime"`
	Metadata             ConfigMetadata                 `json:"metadata"`
	CreatedAt            time.Time                      `json:"created_at"`
}

// Runtime 描述 slug runner 镜像、环境变量和拉取凭证。
type Runtime struct {
	Image            string            `json:"image,omitempty"`
	ImagePullPolicy  string            `json:"image_pull_policy,omitempty"`
	Envs             map[string]string `json:"envs,omitempty"`
	ImageCredentials []ImageCredential `json:"image_credentials,omitempty"`
}

type ImageCredential struct {
	Name     string `json:"name"`
	Registry string `json:"registry"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ResourceRequirement 使用 K8s quantity 字符串，如 "500m"、"1Gi"。
type ResourceRequirement struct {
	Limits   ResourceQuantity `json:"limits"`
	Requests ResourceQuantity `json:"requests"`
}

type ResourceQuantity struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
}

type Toleration struct {
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
	Effect   string `json:"effect,omitempty" yaml:"effect,omitempty"`
}

type ConfigMetadata struct {
	PaasAppCode   string                   `json:"paas_app_code"`
	ModuleName    string                   `json:"module_name"`
	Environment   string                   `json:"environment"`
	MapperVersion string                   `json:"mapper_version"`
	SiteID        string                   `json:"site_id,omitempty"`
	EnableEgress  bool                     `json:"enable_egress,omitempty"`
	Processes     map[string]ProcessTarget `json:"process_targets,omitempty"`
}

// ProcessTarget 记录进程的期望状态。停止时 Replicas 保留停止前的目标值，启动时据此恢复。
type ProcessTarget struct {
	Replicas    int32               `json:"replicas"`
	Status      ProcessTargetStatus `json:"status"`
	Plan        string              `json:"plan,omitempty"`
	Envs        map[string]string   `json:"envs,omitempty"`
	Services    []ServicePort       `json:"services,omitempty"`
	Autoscaling *Autoscaling        `json:"autoscaling,omitempty"`
	Monitoring  *Monitoring         `json:"monitoring,omitempty"`
}

// DesiredReplicas 是应写入 Deployment 的副本数。
func (t ProcessTarget) DesiredReplicas() int32 {
	if t.Status == ProcessStop {
		return 0
	}
	return t.Replicas
}

type ServicePort struct {
	Name       string `json:"name"`
	Protocol   string `json:"protocol,omitempty"`
	Port       int32  `json:"port,omitempty"`
	TargetPort int32  `json:"target_port,omitempty"`
}

type Autoscaling struct {
	MinReplicas int32  `json:"min_replicas"`
	MaxReplicas int32  `json:"max_replicas"`
	Policy      string `json:"policy"`
}

type Monitoring struct {
	PortName string `json:"port_name"`
	Path     string `json:"path"`
	Interval string `json:"interval,omitempty"`
}

// Target 返回进程的期望状态，未配置时默认 1 副本运行。
func (c *Config) Target(procType string) ProcessTarget {
	if t, ok := c.Metadata.Processes[procType]; ok {
		if t.Status == "" {
			t.Status = ProcessStart
		}
		return t
	}
	return ProcessTarget{Replicas: 1, Status: ProcessStart}
}

// SetTarget 写入进程期望状态，调用方负责把 Config 作为新版本追加。
func (c *Config) SetTarget(procType string, t ProcessTarget) {
	if c.Metadata.Processes == nil {
		c.Metadata.Processes = make(map[string]ProcessTarget)
	}
	c.Metadata.Processes[procType] = t
}

// Clone 复制出一个尚未持久化的新版本。
func (c *Config) Clone() *Config {
	cp := *c
	cp.UUID = ""
	cp.Revision = c.Revision + 1
	cp.ResourceRequirements = copyMap(c.ResourceRequirements)
	cp.NodeSelector = copyMap(c.NodeSelector)
	cp.Tolerations = append([]Toleration(nil), c.Tolerations...)
	cp.Runtime.Envs = copyMap(c.Runtime.Envs)
	cp.Runtime.ImageCredentials = append([]ImageCredential(nil), c.Runtime.ImageCredentials...)
	cp.Metadata.Processes = make(map[string]ProcessTarget, len(c.Metadata.Processes))
	for k, v := range c.Metadata.Processes {
		v.Envs = copyMap(v.Envs)
		v.Services = append([]ServicePort(nil), v.Services...)
		cp.Metadata.Processes[k] = v
	}
	return &cp
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SortedKeys 返回按字典序排列的键。
func SortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
