package mapper

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// 未声明端口号的 Service 端口从该区间分配。
const (
	ServicePortMin int32 = 8000
	ServicePortMax int32 = 8999
)

// HookPodName 是发布前钩子 Pod 的固定名称，同一 WlApp 同时只有一个。
const HookPodName = "pre-release-hook"

// HookProcessType 是钩子 Pod 渲染环境变量时使用的进程类型。
const HookProcessType = "sys-pre-rel"

// Namespace 渲染 WlApp 独占的命名空间。
func Namespace(app *domain.WlApp, cfg *domain.Config) *corev1.Namespace {
	l := withLabels(AppLabels(app))
	if cfg != nil {
		l[LabelAppCode] = cfg.Metadata.PaasAppCode
		l[LabelModule] = cfg.Metadata.ModuleName
		l[LabelEnv] = cfg.Metadata.Environment
	}
	return &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: app.Namespace, Labels: l}}
}

// Deployment 渲染进程的 Deployment，副本数取 Config 中的期望状态。
func (r *Registry) Deployment(v Version, in *RenderInput) (*appsv1.Deployment, error) {
	tmpl, err := v.PodTemplate(in)
	if err != nil {
		return nil, err
	}
	target := in.target()
	deployLabels := withLabels(AppLabels(in.App),
		LabelProcessType, in.ProcessType,
		LabelCategory, CategoryProcess,
		LabelMapperVer, v.Name(),
	)
	annotations := map[string]string{}
	if in.Release != nil {
		annotations[AnnotationVersion] = strconv.Itoa(in.Release.Version)
	}
	if in.Plan != nil {
		annotations[AnnotationPlan] = in.Plan.Name
	}
	maxSurge, maxUnavailable := r.opts.MaxSurge, r.opts.MaxUnavailable

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:        v.DeploymentName(in.App, in.ProcessType),
			Namespace:   in.App.Namespace,
			Labels:      deployLabels,
			Annotations: annotations,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas:             ptr.To(target.DesiredReplicas()),
			RevisionHistoryLimit: ptr.To[int32](5),
			Selector:             &metav1.LabelSelector{MatchLabels: v.LabelSelector(in.App, in.ProcessType)},
			Strategy: appsv1.DeploymentStrategy{
				Type: appsv1.RollingUpdateDeploymentStrategyType,
				RollingUpdate: &appsv1.RollingUpdateDeployment{
					MaxSurge:       &maxSurge,
					MaxUnavailable: &maxUnavailable,
				},
			},
			Template: tmpl,
		},
	}, nil
}

// ResolveServicePorts 补齐进程的 Service 端口。默认入口进程 backend 未声明时使用 80 -> 5000，
// 未填端口号的从 [ServicePortMin, ServicePortMax] 分配。
func ResolveServicePorts(procType, backend string, declared []domain.ServicePort) []domain.ServicePort {
	if len(declared) == 0 {
		if procType != backend {
			return nil
		}
		return []domain.ServicePort{{Name: "http", Protocol: "TCP", Port: 80, TargetPort: DefaultContainerPort}}
	}
	used := map[int32]struct{}{}
	for _, p := range declared {
		if p.Port != 0 {
			used[p.Port] = struct{}{}
		}
	}
	out := make([]domain.ServicePort, 0, len(declared))
	for i, p := range declared {
		if p.Port == 0 {
			port, ok := domain.AllocatePort(ServicePortMin, ServicePortMax, used)
			if !ok {
				continue
			}
			p.Port = port
			used[port] = struct{}{}
		}
		if p.TargetPort == 0 {
			p.TargetPort = DefaultContainerPort
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("port-%d", i)
		}
		if p.Protocol == "" {
			p.Protocol = "TCP"
		}
		out = append(out, p)
	}
	return out
}

// Service 渲染进程的 Service，没有任何端口时返回 nil。
func Service(v Version, app *domain.WlApp, procType, backend string, target domain.ProcessTarget) *corev1.Service {
	ports := ResolveServicePorts(procType, backend, target.Services)
	if len(ports) == 0 {
		return nil
	}
	svcPorts := make([]corev1.ServicePort, 0, len(ports))
	for _, p := range ports {
		svcPorts = append(svcPorts, corev1.ServicePort{
			Name:       strings.ToLower(p.Name),
			Protocol:   protocolOf(p.Protocol),
			Port:       p.Port,
			TargetPort: intstr.FromInt32(p.TargetPort),
		})
	}
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      v.ServiceName(app, procType),
			Namespace: app.Namespace,
			Labels: withLabels(AppLabels(app),
				LabelProcessType, procType,
				LabelCategory, CategoryProcess,
				LabelMapperVer, v.Name(),
			),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: v.LabelSelector(app, procType),
			Ports:    svcPorts,
		},
	}
}

// ImageCredentialSecretName 由凭证名得到 Secret 名称。
func ImageCredentialSecretName(c domain.ImageCredential) string {
	return "image-credential-" + domain.SchedulerSafeName(strings.ToLower(c.Name))
}

type dockerConfigEntry struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Auth     string `json:"auth"`
}

type dockerConfigJSON struct {
	Auths map[string]dockerConfigEntry `json:"auths"`
}

// ImageCredentialSecrets 为每个镜像凭证渲染一个 dockerconfigjson Secret。
func ImageCredentialSecrets(app *domain.WlApp, creds []domain.ImageCredential) ([]*corev1.Secret, error) {
	out := make([]*corev1.Secret, 0, len(creds))
	for _, c := range creds {
		data, err := json.Marshal(dockerConfigJSON{Auths: map[string]dockerConfigEntry{
			c.Registry: {
				Username: c.Username,
				Password: c.Password,
				Auth:     base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password)),
			},
		}})
		if err != nil {
			return nil, err
		}
		out = append(out, &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Name:      ImageCredentialSecretName(c),
				Namespace: app.Namespace,
				Labels:    withLabels(AppLabels(app), LabelCategory, CategoryImageCredential),
			},
			Type: corev1.SecretTypeDockerConfigJson,
			Data: map[string][]byte{corev1.DockerConfigJsonKey: data},
		})
	}
	return out, nil
}

// HookPod 渲染发布前钩子 Pod，镜像与环境变量与进程一致。
func HookPod(in *RenderInput, cmd *domain.Command) (*corev1.Pod, error) {
	hookIn := *in
	hookIn.ProcessType = HookProcessType
	in = &hookIn
	image, err := in.Image()
	if err != nil {
		return nil, err
	}
	argv := cmd.Argv()
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: hook command is empty", domain.ErrInvalidInput)
	}
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      HookPodName,
			Namespace: in.App.Namespace,
			Labels:    withLabels(AppLabels(in.App), LabelCategory, CategoryHook),
			Annotations: map[string]string{
				AnnotationVersion: strconv.Itoa(cmd.Version),
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:            "hook",
				Image:           image,
				ImagePullPolicy: pullPolicy(in.Config.Runtime.ImagePullPolicy),
				Command:         argv,
				Env:             envsToK8s(in.Envs()),
			}},
			ImagePullSecrets: ImagePullSecretRefs(in.Config),
			NodeSelector:     nodeSelector(in),
			Tolerations:      tolerations(in),
		},
	}, nil
}
