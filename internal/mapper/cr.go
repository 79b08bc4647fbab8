package mapper

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// 集群中预装的自定义资源
var (
	BkAppGVK              = schema.GroupVersionKind{Group: "paas.bk.tencent.com", Version: "v1alpha2", Kind: "BkApp"}
	DomainGroupMappingGVK = schema.GroupVersionKind{Group: "paas.bk.tencent.com", Version: "v1alpha1", Kind: "DomainGroupMapping"}
	GPAGVK                = schema.GroupVersionKind{Group: "autoscaling.tkex.tencent.com", Version: "v1alpha1", Kind: "GeneralPodAutoscaler"}
	EgressGVK             = schema.GroupVersionKind{Group: "paas.bk.tencent.com", Version: "v1alpha1", Kind: "Egress"}
	BkLogConfigGVK        = schema.GroupVersionKind{Group: "bk.tencent.com", Version: "v1alpha1", Kind: "BkLogConfig"}
	ServiceMonitorGVK     = schema.GroupVersionKind{Group: "monitoring.coreos.com", Version: "v1", Kind: "ServiceMonitor"}
)

// BkApp 阶段
const (
	BkAppPhaseRunning = "Running"
	BkAppPhaseFailed  = "Failed"
	BkAppPhasePending = "Pending"
)

func newUnstructured(gvk schema.GroupVersionKind, namespace, name string, l map[string]string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{}}
	obj.SetGroupVersionKind(gvk)
	obj.SetNamespace(namespace)
	obj.SetName(name)
	obj.SetLabels(l)
	return obj
}

func stringSlice(in []string) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

// BkAppInput 是云原生应用 BkApp 的渲染输入。
type BkAppInput struct {
	App     *domain.WlApp
	Config  *domain.Config
	Release *domain.Release
	Build   *domain.Build
	// PreReleaseHook 为空时不下发钩子。
	PreReleaseHook string
}

// BkApp 渲染云原生应用的 BkApp，进程的 Pod 由集群中的 operator 派生。
func BkApp(in *BkAppInput) (*unstructured.Unstructured, error) {
	ri := &RenderInput{App: in.App, Config: in.Config, Release: in.Release, Build: in.Build}
	image, err := ri.Image()
	if err != nil {
		return nil, err
	}

	procfile := in.Release.Procfile
	processes := make([]interface{}, 0, len(procfile))
	for _, procType := range domain.SortedKeys(procfile) {
		target := in.Config.Target(procType)
		argv := strings.Fields(procfile[procType])
		proc := map[string]interface{}{
			"name":     procType,
			"replicas": int64(target.DesiredReplicas()),
			"command":  stringSlice(argv),
		}
		if target.Plan != "" {
			proc["resQuotaPlan"] = target.Plan
		}
		if ports := ResolveServicePorts(procType, BackendOf(procfile), target.Services); len(ports) > 0 {
			proc["targetPort"] = int64(ports[0].TargetPort)
		}
		if as := target.Autoscaling; as != nil {
			proc["autoscaling"] = map[string]interface{}{
				"minReplicas": int64(as.MinReplicas),
				"maxReplicas": int64(as.MaxReplicas),
				"policy":      as.Policy,
			}
		}
		processes = append(processes, proc)
	}

	// BkApp 中的环境变量对所有进程一致，占位符由 operator 按进程渲染
	envs := []interface{}{}
	for _, k := range domain.SortedKeys(in.Config.Runtime.Envs) {
		envs = append(envs, map[string]interface{}{"name": k, "value": in.Config.Runtime.Envs[k]})
	}

	spec := map[string]interface{}{
		"build": map[string]interface{}{
			"image":           image,
			"imagePullPolicy": string(pullPolicy(in.Config.Runtime.ImagePullPolicy)),
		},
		"processes":     processes,
		"configuration": map[string]interface{}{"env": envs},
	}
	if argv := strings.Fields(in.PreReleaseHook); len(argv) > 0 {
		spec["hooks"] = map[string]interface{}{
			"preRelease": map[string]interface{}{"command": stringSlice(argv)},
		}
	}

	obj := newUnstructured(BkAppGVK, in.App.Namespace, in.App.Name, AppLabels(in.App))
	obj.SetAnnotations(map[string]string{AnnotationVersion: strconv.Itoa(in.Release.Version)})
	obj.Object["spec"] = spec
	return obj, nil
}

// BkAppState 从 BkApp status 中读取阶段与消息。generation 未被观察到时视为 Pending。
func BkAppState(obj *unstructured.Unstructured) (phase, message string) {
	observed, _, _ := unstructured.NestedInt64(obj.Object, "status", "observedGeneration")
	if observed < obj.GetGeneration() {
		return BkAppPhasePending, "waiting for operator to observe latest generation"
	}
	phase, _, _ = unstructured.NestedString(obj.Object, "status", "phase")
	conds, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	for _, c := range conds {
		cm, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if s, _ := cm["status"].(string); s == "False" {
			msg, _ := cm["message"].(string)
			t, _ := cm["type"].(string)
			message = fmt.Sprintf("%s: %s", t, msg)
			break
		}
	}
	if phase == "" {
		phase = BkAppPhasePending
	}
	return phase, message
}

// GeneralPodAutoscaler 为进程渲染 GPA，与 Deployment 同名。
func GeneralPodAutoscaler(v Version, app *domain.WlApp, procType string, as *domain.Autoscaling) *unstructured.Unstructured {
	name := v.DeploymentName(app, procType)
	obj := newUnstructured(GPAGVK, app.Namespace, name,
		withLabels(AppLabels(app), LabelProcessType, procType, LabelCategory, CategoryProcess))
	obj.Object["spec"] = map[string]interface{}{
		"minReplicas": int64(as.MinReplicas),
		"maxReplicas": int64(as.MaxReplicas),
		"scaleTargetRef": map[string]interface{}{
			"apiVersion": "apps/v1",
			"kind":       "Deployment",
			"name":       name,
		},
		"metric": map[string]interface{}{
			"metrics": []interface{}{autoscalingMetric(as.Policy)},
		},
	}
	return obj
}

// autoscalingMetric 把策略名转换为 GPA 指标，目前只支持按 CPU 利用率。
func autoscalingMetric(policy string) map[string]interface{} {
	utilization := int64(85)
	if policy == "aggressive" {
		utilization = 60
	}
	return map[string]interface{}{
		"type": "Resource",
		"resource": map[string]interface{}{
			"name": "cpu",
			"target": map[string]interface{}{
				"type":               "Utilization",
				"averageUtilization": utilization,
			},
		},
	}
}

// ServiceMonitor 让 Prometheus 采集进程声明的指标端口。
func ServiceMonitor(v Version, app *domain.WlApp, procType string, mon *domain.Monitoring) *unstructured.Unstructured {
	interval := mon.Interval
	if interval == "" {
		interval = "30s"
	}
	obj := newUnstructured(ServiceMonitorGVK, app.Namespace, v.ServiceName(app, procType),
		withLabels(AppLabels(app), LabelProcessType, procType, LabelCategory, CategoryProcess))
	matchLabels := map[string]interface{}{}
	for k, val := range v.LabelSelector(app, procType) {
		matchLabels[k] = val
	}
	matchLabels[LabelCategory] = CategoryProcess
	obj.Object["spec"] = map[string]interface{}{
		"endpoints": []interface{}{map[string]interface{}{
			"port":     mon.PortName,
			"path":     mon.Path,
			"interval": interval,
		}},
		"selector":          map[string]interface{}{"matchLabels": matchLabels},
		"namespaceSelector": map[string]interface{}{"matchNames": []interface{}{app.Namespace}},
	}
	return obj
}

// Egress 把 WlApp 的出口流量固定到集群出口 IP，digest 变化时 operator 重写白名单。
func Egress(app *domain.WlApp, digest string, ips []string) *unstructured.Unstructured {
	obj := newUnstructured(EgressGVK, app.Namespace, app.Name, AppLabels(app))
	obj.Object["spec"] = map[string]interface{}{
		"podSelector": map[string]interface{}{
			"matchLabels": map[string]interface{}{LabelApp: app.Name, LabelCategory: CategoryProcess},
		},
		"digest":    digest,
		"egressIPs": stringSlice(ips),
	}
	return obj
}

// DomainGroupMapping 把云原生应用的访问入口交给 operator 生成 Ingress。
func DomainGroupMapping(app *domain.WlApp, routes []Route) *unstructured.Unstructured {
	groups := map[domain.DomainKind][]interface{}{}
	var kinds []domain.DomainKind
	for _, r := range routes {
		if _, ok := groups[r.Kind]; !ok {
			kinds = append(kinds, r.Kind)
		}
		d := map[string]interface{}{
			"host":           r.Host,
			"pathPrefixList": stringSlice(r.PathPrefixes),
			"https":          r.HTTPS,
		}
		if r.Cert != nil {
			d["tlsSecretName"] = CertSecretName(r.Cert)
		}
		groups[r.Kind] = append(groups[r.Kind], d)
	}
	data := make([]interface{}, 0, len(kinds))
	for _, k := range kinds {
		data = append(data, map[string]interface{}{
			"sourceType": string(k),
			"domains":    groups[k],
		})
	}
	obj := newUnstructured(DomainGroupMappingGVK, app.Namespace, app.Name, AppLabels(app))
	obj.Object["spec"] = map[string]interface{}{
		"ref": map[string]interface{}{
			"apiVersion": BkAppGVK.GroupVersion().String(),
			"kind":       BkAppGVK.Kind,
			"name":       app.Name,
		},
		"data": data,
	}
	return obj
}
