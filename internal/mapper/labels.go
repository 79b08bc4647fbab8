// Package mapper 在平台实体与 K8s 对象之间做双向转换，命名规则按 mapper 版本区分。
package mapper

import (
	"strconv"

	"k8s.io/apimachinery/pkg/labels"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

const (
	LabelApp          = "paas.chiwei/app"
	LabelAppCode      = "paas.chiwei/app-code"
	LabelModule       = "paas.chiwei/module"
	LabelEnv          = "paas.chiwei/env"
	LabelRegion       = "paas.chiwei/region"
	LabelTenantID     = "paas.chiwei/tenant-id"
	LabelProcessType  = "paas.chiwei/process-type"
	LabelCategory     = "paas.chiwei/category"
	LabelMapperVer    = "paas.chiwei/mapper-version"
	LabelManagedBy    = "paas.chiwei/managed-by"
	LabelDomainKind   = "paas.chiwei/domain-kind"
	LabelPodSelector  = "paas.chiwei/pod-selector"
	LabelBuildID      = "paas.chiwei/build-id"
	AnnotationVersion = "paas.chiwei/release-version"
	AnnotationPlan    = "paas.chiwei/plan"
	// AnnotationRestartedAt 写入 Pod 模板以触发滚动重启。
	AnnotationRestartedAt = "paas.chiwei/restarted-at"

	ManagedBy = "paas-workloads"
)

// 资源类别
const (
	CategoryProcess         = "process"
	CategoryHook            = "hook"
	CategoryIngress         = "ingress"
	CategoryImageCredential = "image-credential"
	CategoryCert            = "cert"
)

// AppLabels 是 WlApp 名下所有资源共有的标签。
func AppLabels(app *domain.WlApp) map[string]string {
	return map[string]string{
		LabelApp:       app.Name,
		LabelRegion:    app.Region,
		LabelTenantID:  app.TenantID,
		LabelManagedBy: ManagedBy,
	}
}

func withLabels(base map[string]string, kv ...string) map[string]string {
	out := make(map[string]string, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

// ProcessPodsSelector 选中 WlApp 所有进程 Pod，不含一次性命令 Pod。
func ProcessPodsSelector(app *domain.WlApp) string {
	return labels.SelectorFromSet(labels.Set{LabelApp: app.Name, LabelCategory: CategoryProcess}).String()
}

// CategorySelector 选中 WlApp 某一类别的资源。
func CategorySelector(app *domain.WlApp, category string) string {
	return labels.SelectorFromSet(labels.Set{LabelApp: app.Name, LabelCategory: category}).String()
}

// ReleaseVersionOf 读取对象上的 Release 版本注解，缺失时为 0。
func ReleaseVersionOf(annotations map[string]string) int {
	v, err := strconv.Atoi(annotations[AnnotationVersion])
	if err != nil {
		return 0
	}
	return v
}
