package kube

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"k8s.io/client-go/rest"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// ClusterLoader 读取集群记录。
type ClusterLoader interface {
	FindByName(ctx context.Context, name string) (*domain.Cluster, error)
}

type PoolOptions struct {
	// Timeout 是单个请求的超时。
	Timeout time.Duration
	// FailureWindow 内失败过的 endpoint 不再被选中。
	FailureWindow time.Duration
	Factory       Factory
}

// Pool 按集群名缓存 Client，集群记录更新后重建。
type Pool struct {
	loader ClusterLoader
	opts   PoolOptions

	mu      sync.Mutex
	clients map[string]*pooledClient
}

type pooledClient struct {
	client    *Client
	updatedAt time.Time
}

func NewPool(loader ClusterLoader, opts PoolOptions) *Pool {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.FailureWindow == 0 {
		opts.FailureWindow = 30 * time.Second
	}
	if opts.Factory == nil {
		opts.Factory = NewClient
	}
	return &Pool{loader: loader, opts: opts, clients: make(map[string]*pooledClient)}
}

// For 返回集群的 Client。
func (p *Pool) For(ctx context.Context, clusterName string) (*Client, error) {
	cluster, err := p.loader.FindByName(ctx, clusterName)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if pc, ok := p.clients[cluster.Name]; ok && pc.updatedAt.Equal(cluster.UpdatedAt) {
		return pc.client, nil
	}

	cfg, err := RestConfig(cluster, p.opts.Timeout, p.opts.FailureWindow)
	if err != nil {
		return nil, err
	}
	client, err := p.opts.Factory(cluster.Name, cfg)
	if err != nil {
		return nil, err
	}
	p.clients[cluster.Name] = &pooledClient{client: client, updatedAt: cluster.UpdatedAt}
	return client, nil
}

// RestConfig 为集群的所有 apiserver 构造带故障转移的 rest.Config。
// 凭证挂在每个 endpoint 自己的 transport 上，顶层 Config 不再携带 TLS 配置。
func RestConfig(cluster *domain.Cluster, timeout, window time.Duration) (*rest.Config, error) {
	if len(cluster.APIServers) == 0 {
		return nil, domain.NewConfigurationError("cluster %s has no api server", cluster.Name)
	}
	if !cluster.HasTLSMaterial() {
		return nil, domain.NewConfigurationError("cluster %s is missing TLS material", cluster.Name)
	}

	endpoints := make([]*endpoint, 0, len(cluster.APIServers))
	for _, s := range cluster.APIServers {
		base, err := url.Parse(s.Host)
		if err != nil || base.Host == "" {
			return nil, domain.NewConfigurationError("cluster %s has invalid api server %q", cluster.Name, s.Host)
		}
		rt, err := rest.TransportFor(&rest.Config{
			Host:        s.Host,
			BearerToken: cluster.Token,
			TLSClientConfig: rest.TLSClientConfig{
				CAData:     []byte(cluster.CAData),
				CertData:   []byte(cluster.CertData),
				KeyData:    []byte(cluster.KeyData),
				ServerName: s.OverriddenHostname,
			},
		})
		if err != nil {
			return nil, domain.NewConfigurationError("cluster %s api server %s: %v", cluster.Name, s.Host, err)
		}
		endpoints = append(endpoints, &endpoint{base: base, rt: rt})
	}

	return &rest.Config{
		Host:      cluster.APIServers[0].Host,
		Transport: newFailoverTransport(cluster.Name, window, endpoints),
		Timeout:   timeout,
		UserAgent: fmt.Sprintf("paas-workloads/%s", cluster.Name),
		QPS:       50,
		Burst:     100,
	}, nil
}
