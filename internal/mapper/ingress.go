package mapper

import (
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

const (
	nginxPrefix = "nginx.ingress.kubernetes.io/"

	AnnotationServerSnippet        = nginxPrefix + "server-snippet"
	AnnotationConfigurationSnippet = nginxPrefix + "configuration-snippet"
	AnnotationRewriteTarget        = nginxPrefix + "rewrite-target"
	AnnotationSSLRedirect          = nginxPrefix + "ssl-redirect"
	AnnotationUseRegex             = nginxPrefix + "use-regex"
	AnnotationSkipFilterCLB        = "bkbcs.tencent.com/skip-filter-clb"

	IngressClassName = "nginx"
)

// reservedAnnotations 由平台管理，用户设置的同名注解会被丢弃。
var reservedAnnotations = map[string]bool{
	"server-snippet":        true,
	"configuration-snippet": true,
	"rewrite-target":        true,
	"ssl-redirect":          true,
	"skip-filter-clb":       true,
}

// StripReservedAnnotations 去掉保留注解，按 "/" 之后的名称匹配。
func StripReservedAnnotations(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		name := k
		if i := strings.LastIndex(k, "/"); i >= 0 {
			name = k[i+1:]
		}
		if reservedAnnotations[name] {
			continue
		}
		out[k] = v
	}
	return out
}

// Route 是一个 host 下的一组访问路径，对应一个 Ingress。
type Route struct {
	Kind         domain.DomainKind
	Host         string
	PathPrefixes []string
	HTTPS        bool
	Cert         *domain.AppDomainSharedCert
	Annotations  map[string]string
}

// IngressName 按类型和 host 命名，同一 WlApp 内唯一。
func (r Route) IngressName() string {
	return fmt.Sprintf("%s--%s", r.Kind, strings.ToLower(r.Host))
}

// RouteInput 是计算期望入口集合的输入。
type RouteInput struct {
	App     *domain.WlApp
	Cluster *domain.Cluster
	Custom  []*domain.Domain
	Certs   []*domain.AppDomainSharedCert
}

// SubpathPrefix 是子路径访问的前缀。WlApp 名称已包含环境。
func SubpathPrefix(app *domain.WlApp) string {
	return fmt.Sprintf("/%s-%s/", app.Region, app.Name)
}

// DesiredRoutes 计算 WlApp 的全部访问入口：自动子域名、子路径、自定义域名。
func DesiredRoutes(in RouteInput) ([]Route, error) {
	var routes []Route
	ic := in.Cluster.IngressConfig

	for _, root := range ic.AppRootDomains {
		if root.Reserved {
			continue
		}
		host := ic.SubdomainHost(in.App.Name, root)
		routes = append(routes, Route{
			Kind:         domain.DomainAuto,
			Host:         host,
			PathPrefixes: []string{"/"},
			HTTPS:        root.HTTPSEnabled,
			Cert:         matchCert(in.Certs, host),
		})
	}
	for _, d := range ic.SubPathDomains {
		if d.Reserved {
			continue
		}
		routes = append(routes, Route{
			Kind:         domain.DomainSubpath,
			Host:         d.Name,
			PathPrefixes: []string{SubpathPrefix(in.App)},
			HTTPS:        d.HTTPSEnabled,
			Cert:         matchCert(in.Certs, d.Name),
		})
	}

	// 自定义域名按 host 合并，同一 host 的多个路径落在一个 Ingress
	byHost := map[string]*Route{}
	var hosts []string
	for _, d := range in.Custom {
		prefix, err := domain.NormalizePathPrefix(d.PathPrefix)
		if err != nil {
			return nil, err
		}
		host := strings.ToLower(d.Host)
		r, ok := byHost[host]
		if !ok {
			r = &Route{Kind: domain.DomainCustom, Host: host, Cert: matchCert(in.Certs, host), Annotations: map[string]string{}}
			byHost[host] = r
			hosts = append(hosts, host)
		}
		if !containsString(r.PathPrefixes, prefix) {
			r.PathPrefixes = append(r.PathPrefixes, prefix)
		}
		r.HTTPS = r.HTTPS || d.HTTPSEnabled
		for k, v := range StripReservedAnnotations(d.Annotations) {
			r.Annotations[k] = v
		}
	}
	sort.Strings(hosts)
	for _, h := range hosts {
		r := byHost[h]
		sort.Strings(r.PathPrefixes)
		routes = append(routes, *r)
	}
	return routes, nil
}

func matchCert(certs []*domain.AppDomainSharedCert, host string) *domain.AppDomainSharedCert {
	for _, c := range certs {
		if c.Matches(host) {
			return c
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// CertSecretName 是共享证书在应用命名空间中的 Secret 名。
func CertSecretName(c *domain.AppDomainSharedCert) string {
	return "eng-shared-" + c.Name
}

// CertSecret 渲染共享证书的 TLS Secret。
func CertSecret(app *domain.WlApp, c *domain.AppDomainSharedCert) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      CertSecretName(c),
			Namespace: app.Namespace,
			Labels:    withLabels(AppLabels(app), LabelCategory, CategoryCert),
		},
		Type: corev1.SecretTypeTLS,
		Data: map[string][]byte{
			corev1.TLSCertKey:       []byte(c.Cert),
			corev1.TLSPrivateKeyKey: []byte(c.Key),
		},
	}
}

// pathRegex 把前缀转换为正则路径，$2 为去掉前缀后的剩余部分。
func pathRegex(prefix string) string {
	if prefix == "/" {
		return "/()(.*)"
	}
	return strings.TrimSuffix(prefix, "/") + "(/|$)(.*)"
}

// scriptNameSnippet 生成设置 X-Script-Name 的 nginx 片段。多路径时用 Lua 按请求 URI 选出前缀，
// 要求 ingress controller 启用了 Lua 模块。
func scriptNameSnippet(prefixes []string) string {
	if len(prefixes) == 1 {
		return fmt.Sprintf("proxy_set_header X-Script-Name %s;", strings.TrimSuffix(prefixes[0], "/"))
	}
	quoted := make([]string, 0, len(prefixes))
	// 长前缀优先匹配
	sorted := append([]string(nil), prefixes...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for _, p := range sorted {
		quoted = append(quoted, fmt.Sprintf("%q", p))
	}
	return fmt.Sprintf(`set_by_lua_block $script_name {
  local uri = ngx.var.uri .. "/"
  local prefixes = {%s}
  for _, p in ipairs(prefixes) do
    if string.sub(uri, 1, string.len(p)) == p then
      return string.sub(p, 1, -2)
    end
  end
  return ""
}
proxy_set_header X-Script-Name $script_name;`, strings.Join(quoted, ", "))
}

// Ingress 把 Route 渲染为 Ingress，后端为 serviceName:servicePort。
func Ingress(app *domain.WlApp, r Route, serviceName string, servicePort int32) *networkingv1.Ingress {
	annotations := map[string]string{}
	for k, v := range r.Annotations {
		annotations[k] = v
	}

	rewrite := false
	var scriptPrefixes []string
	for _, p := range r.PathPrefixes {
		if p != "/" {
			rewrite = true
			scriptPrefixes = append(scriptPrefixes, p)
		}
	}

	pathType := networkingv1.PathTypePrefix
	backend := networkingv1.IngressBackend{
		Service: &networkingv1.IngressServiceBackend{
			Name: serviceName,
			Port: networkingv1.ServiceBackendPort{Number: servicePort},
		},
	}
	var paths []networkingv1.HTTPIngressPath
	for _, p := range r.PathPrefixes {
		path := p
		if rewrite {
			path = pathRegex(p)
			pathType = networkingv1.PathTypeImplementationSpecific
		}
		paths = append(paths, networkingv1.HTTPIngressPath{Path: path, Backend: backend})
	}
	for i := range paths {
		paths[i].PathType = ptr.To(pathType)
	}
	if rewrite {
		annotations[AnnotationUseRegex] = "true"
		annotations[AnnotationRewriteTarget] = "/$2"
		annotations[AnnotationConfigurationSnippet] = scriptNameSnippet(scriptPrefixes)
	}

	ing := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      r.IngressName(),
			Namespace: app.Namespace,
			Labels: withLabels(AppLabels(app),
				LabelCategory, CategoryIngress,
				LabelDomainKind, string(r.Kind),
			),
			Annotations: annotations,
		},
		Spec: networkingv1.IngressSpec{
			IngressClassName: ptr.To(IngressClassName),
			Rules: []networkingv1.IngressRule{{
				Host: r.Host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{Paths: paths},
				},
			}},
		},
	}
	if r.Cert != nil {
		ing.Spec.TLS = []networkingv1.IngressTLS{{Hosts: []string{r.Host}, SecretName: CertSecretName(r.Cert)}}
		annotations[AnnotationSSLRedirect] = fmt.Sprintf("%t", r.HTTPS)
	} else {
		annotations[AnnotationSSLRedirect] = "false"
	}
	return ing
}
