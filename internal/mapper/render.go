package mapper

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// DefaultContainerPort 是应用进程默认监听端口，通过 PORT 环境变量传入。
const DefaultContainerPort = 5000

// RenderInput 是渲染一个进程所需的全部上下文。
type RenderInput struct {
	App         *domain.WlApp
	Config      *domain.Config
	Release     *domain.Release
	Build       *domain.Build
	Cluster     *domain.Cluster
	ProcessType string
	// Plan 为空时只使用 Config.ResourceRequirements。
	Plan   *domain.ResourcePlan
	Probes []*domain.ProcessProbe
}

func (in *RenderInput) target() domain.ProcessTarget {
	return in.Config.Target(in.ProcessType)
}

func (in *RenderInput) backend() string {
	if in.Release == nil {
		return BackendOf(nil)
	}
	return BackendOf(in.Release.Procfile)
}

// Image 返回进程容器镜像。slug 制品由 runner 镜像运行，制品地址通过 SLUG_URL 传入。
func (in *RenderInput) Image() (string, error) {
	image := in.Build.Image
	if in.Build.ArtifactType == domain.ArtifactSlug {
		image = in.Config.Runtime.Image
	}
	if image == "" {
		image = in.Config.Image
	}
	if image == "" {
		return "", fmt.Errorf("%w: no image for build %s", domain.ErrInvalidInput, in.Build.UUID)
	}
	return image, nil
}

// Envs 按优先级合并环境变量：平台默认 < Config.Runtime.Envs < 进程级 < 占位符渲染。
func (in *RenderInput) Envs() map[string]string {
	envs := map[string]string{
		"BKPAAS_APP_CODE":        in.Config.Metadata.PaasAppCode,
		"BKPAAS_MODULE_NAME":     in.Config.Metadata.ModuleName,
		"BKPAAS_ENVIRONMENT":     in.Config.Metadata.Environment,
		"BKPAAS_PROCESS_TYPE":    domain.ProcessTypePlaceholder(),
		"BKPAAS_LOG_NAME_PREFIX": in.App.Name + "-" + domain.ProcessTypePlaceholder(),
		"PORT":                   strconv.Itoa(DefaultContainerPort),
	}
	if in.Release != nil {
		envs["BKPAAS_RELEASE_VERSION"] = strconv.Itoa(in.Release.Version)
	}
	if in.Build.ArtifactType == domain.ArtifactSlug {
		envs["SLUG_URL"] = in.Build.Image
	}
	for k, v := range in.Config.Runtime.Envs {
		envs[k] = v
	}
	for k, v := range in.target().Envs {
		envs[k] = v
	}
	return domain.RenderVars(envs, domain.VarsRenderContext{ProcessType: in.ProcessType})
}

// Argv 从 procfile 中取出进程启动参数。
func (in *RenderInput) Argv() ([]string, error) {
	procfile := in.Build.Procfile
	if in.Release != nil && len(in.Release.Procfile) > 0 {
		procfile = in.Release.Procfile
	}
	argv := strings.Fields(procfile[in.ProcessType])
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: process %s not in procfile", domain.ErrInvalidInput, in.ProcessType)
	}
	return argv, nil
}

func envsToK8s(envs map[string]string) []corev1.EnvVar {
	out := make([]corev1.EnvVar, 0, len(envs))
	for _, k := range domain.SortedKeys(envs) {
		out = append(out, corev1.EnvVar{Name: k, Value: envs[k]})
	}
	return out
}

// ImagePullSecretRefs 引用每个镜像凭证对应的 Secret。
func ImagePullSecretRefs(cfg *domain.Config) []corev1.LocalObjectReference {
	var refs []corev1.LocalObjectReference
	for _, c := range cfg.Runtime.ImageCredentials {
		refs = append(refs, corev1.LocalObjectReference{Name: ImageCredentialSecretName(c)})
	}
	return refs
}

// Resources 计算进程资源。Config 中按进程声明的值优先于资源方案。
func Resources(in *RenderInput) (corev1.ResourceRequirements, error) {
	var limits, requests domain.ResourceQuantity
	if in.Plan != nil {
		limits, requests = in.Plan.Limits, in.Plan.Requests
	}
	if rr, ok := in.Config.ResourceRequirements[in.ProcessType]; ok {
		limits = overrideQuantity(limits, rr.Limits)
		requests = overrideQuantity(requests, rr.Requests)
	}
	l, err := toResourceList(limits)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}
	r, err := toResourceList(requests)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}
	return corev1.ResourceRequirements{Limits: l, Requests: r}, nil
}

func overrideQuantity(base, override domain.ResourceQuantity) domain.ResourceQuantity {
	if override.CPU != "" {
		base.CPU = override.CPU
	}
	if override.Memory != "" {
		base.Memory = override.Memory
	}
	return base
}

func toResourceList(q domain.ResourceQuantity) (corev1.ResourceList, error) {
	if q.CPU == "" && q.Memory == "" {
		return nil, nil
	}
	list := corev1.ResourceList{}
	if q.CPU != "" {
		v, err := resource.ParseQuantity(q.CPU)
		if err != nil {
			return nil, fmt.Errorf("%w: cpu %q: %v", domain.ErrInvalidInput, q.CPU, err)
		}
		list[corev1.ResourceCPU] = v
	}
	if q.Memory != "" {
		v, err := resource.ParseQuantity(q.Memory)
		if err != nil {
			return nil, fmt.Errorf("%w: memory %q: %v", domain.ErrInvalidInput, q.Memory, err)
		}
		list[corev1.ResourceMemory] = v
	}
	return list, nil
}

func probeToK8s(p *domain.ProcessProbe) *corev1.Probe {
	probe := &corev1.Probe{
		InitialDelaySeconds: p.InitialDelaySeconds,
		TimeoutSeconds:      p.TimeoutSeconds,
		PeriodSeconds:       p.PeriodSeconds,
		SuccessThreshold:    p.SuccessThreshold,
		FailureThreshold:    p.FailureThreshold,
	}
	port := p.Port
	if port == 0 {
		port = DefaultContainerPort
	}
	switch {
	case len(p.ExecCommand) > 0:
		probe.Exec = &corev1.ExecAction{Command: p.ExecCommand}
	case p.HTTPPath != "":
		probe.HTTPGet = &corev1.HTTPGetAction{Path: p.HTTPPath, Port: intstr.FromInt32(port)}
	default:
		probe.TCPSocket = &corev1.TCPSocketAction{Port: intstr.FromInt32(port)}
	}
	return probe
}

func containerPorts(procType, backend string, target domain.ProcessTarget) []corev1.ContainerPort {
	seen := map[int32]bool{}
	var ports []corev1.ContainerPort
	for _, sp := range ResolveServicePorts(procType, backend, target.Services) {
		if seen[sp.TargetPort] {
			continue
		}
		seen[sp.TargetPort] = true
		ports = append(ports, corev1.ContainerPort{ContainerPort: sp.TargetPort, Protocol: protocolOf(sp.Protocol)})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].ContainerPort < ports[j].ContainerPort })
	return ports
}

func protocolOf(p string) corev1.Protocol {
	if strings.EqualFold(p, "UDP") {
		return corev1.ProtocolUDP
	}
	return corev1.ProtocolTCP
}

// renderPodTemplate 是各版本共用的 Pod 模板渲染，版本只决定选择器标签。
func renderPodTemplate(v Version, in *RenderInput) (corev1.PodTemplateSpec, error) {
	image, err := in.Image()
	if err != nil {
		return corev1.PodTemplateSpec{}, err
	}
	argv, err := in.Argv()
	if err != nil {
		return corev1.PodTemplateSpec{}, err
	}
	res, err := Resources(in)
	if err != nil {
		return corev1.PodTemplateSpec{}, err
	}

	container := corev1.Container{
		Name:            in.ProcessType,
		Image:           image,
		ImagePullPolicy: pullPolicy(in.Config.Runtime.ImagePullPolicy),
		Env:             envsToK8s(in.Envs()),
		Ports:           containerPorts(in.ProcessType, in.backend(), in.target()),
		Resources:       res,
	}
	switch {
	case len(in.Build.ArtifactMetadata.Entrypoints[in.ProcessType]) > 0:
		container.Command = in.Build.ArtifactMetadata.Entrypoints[in.ProcessType]
		container.Args = argv
	case in.Build.ArtifactType == domain.ArtifactSlug:
		container.Args = argv
	default:
		container.Command = argv
	}
	for _, p := range in.Probes {
		if p.ProcessType != in.ProcessType {
			continue
		}
		switch p.ProbeType {
		case domain.ProbeLiveness:
			container.LivenessProbe = probeToK8s(p)
		case domain.ProbeReadiness:
			container.ReadinessProbe = probeToK8s(p)
		case domain.ProbeStartup:
			container.StartupProbe = probeToK8s(p)
		}
	}

	podLabels := withLabels(AppLabels(in.App),
		LabelProcessType, in.ProcessType,
		LabelCategory, CategoryProcess,
		LabelMapperVer, v.Name(),
	)
	for k, val := range v.LabelSelector(in.App, in.ProcessType) {
		podLabels[k] = val
	}
	annotations := map[string]string{}
	if in.Release != nil {
		annotations[AnnotationVersion] = strconv.Itoa(in.Release.Version)
	}

	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: podLabels, Annotations: annotations},
		Spec: corev1.PodSpec{
			Containers:       []corev1.Container{container},
			ImagePullSecrets: ImagePullSecretRefs(in.Config),
			NodeSelector:     nodeSelector(in),
			Tolerations:      tolerations(in),
		},
	}, nil
}

func pullPolicy(p string) corev1.PullPolicy {
	switch corev1.PullPolicy(p) {
	case corev1.PullAlways, corev1.PullNever:
		return corev1.PullPolicy(p)
	default:
		return corev1.PullIfNotPresent
	}
}

func nodeSelector(in *RenderInput) map[string]string {
	out := map[string]string{}
	if in.Cluster != nil {
		for k, v := range in.Cluster.DefaultNodeSelector {
			out[k] = v
		}
	}
	for k, v := range in.Config.NodeSelector {
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func tolerations(in *RenderInput) []corev1.Toleration {
	var src []domain.Toleration
	if in.Cluster != nil {
		src = append(src, in.Cluster.DefaultTolerations...)
	}
	src = append(src, in.Config.Tolerations...)
	if len(src) == 0 {
		return nil
	}
	out := make([]corev1.Toleration, 0, len(src))
	for _, t := range src {
		out = append(out, corev1.Toleration{
			Key:      t.Key,
			Operator: corev1.TolerationOperator(t.Operator),
			Value:    t.Value,
			Effect:   corev1.TaintEffect(t.Effect),
		})
	}
	return out
}
