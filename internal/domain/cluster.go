package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Cluster 是一个可部署的 K8s 集群。每个 Region 有且只有一个默认集群。
type Cluster struct {
	UUID                string            `json:"uuid"`
	Name                string            `json:"name" yaml:"name"`
	Region              string            `json:"region" yaml:"region"`
	TenantID            string            `json:"tenant_id" yaml:"tenant_id"`
	IsDefault           bool              `json:"is_default" yaml:"is_default"`
	Description         string            `json:"description,omitempty" yaml:"description,omitempty"`
	APIServers          []APIServer       `json:"api_servers" yaml:"api_servers"`
	CAData              string            `json:"-" yaml:"ca_data,omitempty"`
	CertData            string            `json:"-" yaml:"cert_data,omitempty"`
	KeyData             string            `json:"-" yaml:"key_data,omitempty"`
	Token               string            `json:"-" yaml:"token,omitempty"`
	IngressConfig       IngressConfig     `json:"ingress_config" yaml:"ingress_config"`
	DefaultNodeSelector map[string]string `json:"default_node_selector,omitempty" yaml:"default_node_selector,omitempty"`
	DefaultTolerations  []Toleration      `json:"default_tolerations,omitempty" yaml:"default_tolerations,omitempty"`
	FeatureFlags        map[string]bool   `json:"feature_flags,omitempty" yaml:"feature_flags,omitempty"`
	AvailableTenantIDs  []string          `json:"available_tenant_ids,omitempty" yaml:"available_tenant_ids,omitempty"`
	CreatedAt           time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt           time.Time         `json:"updated_at" yaml:"-"`
}

// APIServer 是集群的一个 apiserver 入口，OverriddenHostname 用于 TLS SNI 校验。
type APIServer struct {
	Host               string `json:"host" yaml:"host"`
	OverriddenHostname string `json:"overridden_hostname,omitempty" yaml:"overridden_hostname,omitempty"`
}

// 集群特性开关
const (
	FeatureEnableEgressIP    = "ENABLE_EGRESS_IP"
	FeatureEnableAutoscaling = "ENABLE_AUTOSCALING"
	FeatureEnableBkMonitor   = "ENABLE_BK_MONITOR"
)

func (c *Cluster) HasFeature(flag string) bool {
	return c.FeatureFlags[flag]
}

// IsVisibleTo 集群属于该租户，或租户在可用列表中。
func (c *Cluster) IsVisibleTo(tenantID string) bool {
	return c.TenantID == tenantID || lo.Contains(c.AvailableTenantIDs, tenantID)
}

// HasTLSMaterial 判断是否具备访问 apiserver 的凭证。
func (c *Cluster) HasTLSMaterial() bool {
	return (c.CertData != "" && c.KeyData != "") || c.Token != ""
}

// IngressConfig 声明集群的地址生成规则，是访问地址 scheme 的权威来源。
type IngressConfig struct {
	AppRootDomains           []DomainConfig `json:"app_root_domains,omitempty" yaml:"app_root_domains,omitempty"`
	SubPathDomains           []DomainConfig `json:"sub_path_domains,omitempty" yaml:"sub_path_domains,omitempty"`
	DefaultIngressDomainTmpl string         `json:"default_ingress_domain_tmpl,omitempty" yaml:"default_ingress_domain_tmpl,omitempty"`
	FrontendIngressIP        string         `json:"frontend_ingress_ip,omitempty" yaml:"frontend_ingress_ip,omitempty"`
	PortMap                  PortMap        `json:"port_map" yaml:"port_map"`
}

type DomainConfig struct {
	Name         string `json:"name" yaml:"name"`
	HTTPSEnabled bool   `json:"https_enabled,omitempty" yaml:"https_enabled,omitempty"`
	Reserved     bool   `json:"reserved,omitempty" yaml:"reserved,omitempty"`
}

type PortMap struct {
	HTTP  int `json:"http" yaml:"http"`
	HTTPS int `json:"https" yaml:"https"`
}

// Scheme 根据域名配置返回访问协议。
func (d DomainConfig) Scheme() string {
	if d.HTTPSEnabled {
		return "https"
	}
	return "http"
}

// URL 生成访问地址，非默认端口会拼接到 host 后。
func (c IngressConfig) URL(d DomainConfig, host, path string) string {
	scheme := d.Scheme()
	port := c.PortMap.HTTP
	defaultPort := 80
	if scheme == "https" {
		port = c.PortMap.HTTPS
		defaultPort = 443
	}
	if port != 0 && port != defaultPort {
		host = fmt.Sprintf("%s:%d", host, port)
	}
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

// SubdomainHost 生成应用在某个根域名下的默认子域名。
func (c IngressConfig) SubdomainHost(appName string, root DomainConfig) string {
	tmpl := c.DefaultIngressDomainTmpl
	if tmpl == "" {
		tmpl = "%s"
	}
	return fmt.Sprintf(tmpl, appName) + "." + root.Name
}

// FindSubdomainDomain 找到 host 所属的根域名配置。
func (c IngressConfig) FindSubdomainDomain(host string) (DomainConfig, bool) {
	host = strings.ToLower(host)
	for _, d := range c.AppRootDomains {
		if strings.HasSuffix(host, "."+strings.ToLower(d.Name)) {
			return d, true
		}
	}
	return DomainConfig{}, false
}

// FindSubpathDomain 找到与 host 完全一致的子路径共享域名配置。
func (c IngressConfig) FindSubpathDomain(host string) (DomainConfig, bool) {
	for _, d := range c.SubPathDomains {
		if strings.EqualFold(d.Name, host) {
			return d, true
		}
	}
	return DomainConfig{}, false
}
