package domain

import "strings"

const processTypePlaceholder = "{{bk_var_process_type}}"

// renderableSuffixes 只有以这些后缀结尾的环境变量才做占位符替换。
var renderableSuffixes = []string{"_LOG_NAME_PREFIX", "_PROCESS_TYPE"}

// VarsRenderContext 是环境变量渲染的上下文。
type VarsRenderContext struct {
	ProcessType string
}

// RenderVars 替换白名单环境变量中的占位符，其余键原样保留。不修改入参。
func RenderVars(vars map[string]string, ctx VarsRenderContext) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		if isRenderableKey(k) {
			v = strings.ReplaceAll(v, processTypePlaceholder, ctx.ProcessType)
		}
		out[k] = v
	}
	return out
}

func isRenderableKey(key string) bool {
	for _, suffix := range renderableSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// ProcessTypePlaceholder 供平台默认环境变量引用。
func ProcessTypePlaceholder() string {
	return processTypePlaceholder
}
