package mapper

import (
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// Version 是一套资源命名与选择器规则。WlApp 创建时写入最新版本，之后终身不变。
type Version interface {
	Name() string
	DeploymentName(app *domain.WlApp, procType string) string
	ServiceName(app *domain.WlApp, procType string) string
	LabelSelector(app *domain.WlApp, procType string) map[string]string
	PodTemplate(in *RenderInput) (corev1.PodTemplateSpec, error)
}

// Options 是与版本无关的渲染参数。
type Options struct {
	MaxSurge       intstr.IntOrString
	MaxUnavailable intstr.IntOrString
}

func DefaultOptions() Options {
	return Options{MaxSurge: intstr.FromString("25%"), MaxUnavailable: intstr.FromInt32(0)}
}

// Registry 按名称分发 mapper 版本。
type Registry struct {
	versions map[string]Version
	latest   string
	opts     Options
}

// NewRegistry 注册全部内置版本，最后一个为最新版本。
func NewRegistry(opts Options) *Registry {
	r := &Registry{versions: make(map[string]Version), opts: opts}
	r.Register(V1{})
	r.Register(V2{})
	return r
}

// Register 注册版本并把它设为最新。
func (r *Registry) Register(v Version) {
	r.versions[v.Name()] = v
	r.latest = v.Name()
}

func (r *Registry) Latest() string { return r.latest }

func (r *Registry) Options() Options { return r.opts }

func (r *Registry) Get(name string) (Version, error) {
	v, ok := r.versions[name]
	if !ok {
		return nil, &domain.MapperNotInVersionError{Version: name}
	}
	return v, nil
}

// For 返回 Config 所记录的版本。
func (r *Registry) For(cfg *domain.Config) (Version, error) {
	return r.Get(cfg.Metadata.MapperVersion)
}

func (r *Registry) Names() []string {
	return domain.SortedKeys(r.versions)
}

// V1 沿用旧命名：{region}-{app}-{proc}-deployment，Service 为 {region}-{app}-{proc}。
type V1 struct{}

func (V1) Name() string { return "v1" }

func (V1) DeploymentName(app *domain.WlApp, procType string) string {
	return fmt.Sprintf("%s-%s-%s-deployment", app.Region, app.Name, procType)
}

func (V1) ServiceName(app *domain.WlApp, procType string) string {
	return fmt.Sprintf("%s-%s-%s", app.Region, app.Name, procType)
}

func (v V1) LabelSelector(app *domain.WlApp, procType string) map[string]string {
	return map[string]string{LabelPodSelector: v.DeploymentName(app, procType)}
}

func (v V1) PodTemplate(in *RenderInput) (corev1.PodTemplateSpec, error) {
	return renderPodTemplate(v, in)
}

// V2 使用 {app}--{proc}，选择器为 app 与进程类型标签。
type V2 struct{}

func (V2) Name() string { return "v2" }

func (V2) DeploymentName(app *domain.WlApp, procType string) string {
	return fmt.Sprintf("%s--%s", app.Name, procType)
}

func (V2) ServiceName(app *domain.WlApp, procType string) string {
	return fmt.Sprintf("%s--%s", app.Name, procType)
}

func (V2) LabelSelector(app *domain.WlApp, procType string) map[string]string {
	return map[string]string{LabelApp: app.Name, LabelProcessType: procType}
}

func (v V2) PodTemplate(in *RenderInput) (corev1.PodTemplateSpec, error) {
	return renderPodTemplate(v, in)
}

// BackendOf 返回 procfile 的默认入口进程，procfile 为空时按 web 处理。
func BackendOf(procfile map[string]string) string {
	if len(procfile) == 0 {
		return "web"
	}
	return DefaultBackend(domain.SortedKeys(procfile))
}

// DefaultBackend 选出默认入口进程：有 web 用 web，否则取字典序第一个。
func DefaultBackend(procTypes []string) string {
	if len(procTypes) == 0 {
		return ""
	}
	for _, p := range procTypes {
		if p == "web" {
			return p
		}
	}
	sorted := append([]string(nil), procTypes...)
	sort.Strings(sorted)
	return sorted[0]
}
