package domain

import (
	"strings"
	"time"
)

// DomainKind 区分三类访问入口。
type DomainKind string

const (
	DomainAuto    DomainKind = "auto"
	DomainSubpath DomainKind = "subpath"
	DomainCustom  DomainKind = "custom"
)

// Domain 是用户绑定的自定义域名；自动子域名和子路径由集群配置推导，不落库。
type Domain struct {
	UUID         string            `json:"uuid"`
	AppID        string            `json:"app_id"`
	Host         string            `json:"host"`
	PathPrefix   string            `json:"path_prefix"`
	HTTPSEnabled bool              `json:"https_enabled"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// AppDomainSharedCert 是多个应用可共享的证书，AutoMatchCNs 以分号分隔。
type AppDomainSharedCert struct {
	Name         string    `json:"name"`
	Region       string    `json:"region"`
	TenantID     string    `json:"tenant_id"`
	AutoMatchCNs string    `json:"auto_match_cns"`
	Cert         string    `json:"-"`
	Key          string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Patterns 返回证书可匹配的域名规则。
func (c *AppDomainSharedCert) Patterns() []string {
	var out []string
	for _, p := range strings.Split(c.AutoMatchCNs, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Matches 判断证书能否用于 host。
func (c *AppDomainSharedCert) Matches(host string) bool {
	for _, p := range c.Patterns() {
		if MatchCertPattern(p, host) {
			return true
		}
	}
	return false
}

// MatchCertPattern 按证书 CN 规则匹配：*.foo.com 只匹配一级子域名，不匹配 foo.com 本身。
func MatchCertPattern(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)
	if !strings.HasPrefix(pattern, "*.") {
		return pattern == host
	}
	suffix := pattern[1:]
	if !strings.HasSuffix(host, suffix) {
		return false
	}
	label := strings.TrimSuffix(host, suffix)
	return label != "" && !strings.Contains(label, ".")
}
