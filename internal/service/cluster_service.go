package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// ClusterService 管理集群记录，并为 WlApp 选择部署集群。
type ClusterService struct {
	clusters port.ClusterRepository
	clients  port.ClusterClients
}

func NewClusterService(clusters port.ClusterRepository, clients port.ClusterClients) *ClusterService {
	return &ClusterService{clusters: clusters, clients: clients}
}

// ResolveCluster 优先使用 Config 绑定的集群，否则取 Region 的默认集群。集群必须对应用租户可见。
func (s *ClusterService) ResolveCluster(ctx context.Context, app *domain.WlApp, cfg *domain.Config) (*domain.Cluster, error) {
	if cfg != nil && cfg.Cluster != "" {
		cluster, err := s.clusters.FindByName(ctx, cfg.Cluster)
		if err != nil {
			return nil, err
		}
		if cluster.Region != app.Region || !cluster.IsVisibleTo(app.TenantID) {
			return nil, &domain.ClusterNotFoundError{Region: app.Region, Name: cfg.Cluster}
		}
		return cluster, nil
	}

	clusters, err := s.clusters.FindByRegion(ctx, app.Region)
	if err != nil {
		return nil, err
	}
	for _, c := range clusters {
		if c.IsDefault && c.IsVisibleTo(app.TenantID) {
			return c, nil
		}
	}
	return nil, &domain.ClusterNotFoundError{Region: app.Region}
}

// RegisterCluster 新建或更新集群。
func (s *ClusterService) RegisterCluster(ctx context.Context, cluster *domain.Cluster) error {
	if err := domain.ValidateK8sName(cluster.Name); err != nil {
		return err
	}
	if cluster.Region == "" {
		return fmt.Errorf("%w: cluster region is required", domain.ErrInvalidInput)
	}
	if len(cluster.APIServers) == 0 {
		return domain.NewConfigurationError("cluster %s has no api server", cluster.Name)
	}
	for _, d := range append(cluster.IngressConfig.AppRootDomains, cluster.IngressConfig.SubPathDomains...) {
		if err := domain.ValidateHost(d.Name); err != nil {
			return err
		}
	}
	return s.clusters.Save(ctx, cluster)
}

func (s *ClusterService) GetCluster(ctx context.Context, name string) (*domain.Cluster, error) {
	return s.clusters.FindByName(ctx, name)
}

func (s *ClusterService) ListClusters(ctx context.Context) ([]*domain.Cluster, error) {
	return s.clusters.FindAll(ctx)
}

// EgressInfo 是集群出口 IP 与节点集合的摘要。
type EgressInfo struct {
	Digest string   `json:"digest"`
	IPs    []string `json:"ips"`
}

// ListEgressIPs 返回集群节点的内网 IP。Digest 只由节点名集合决定，节点增减时才变化。
func (s *ClusterService) ListEgressIPs(ctx context.Context, clusterName string) (*EgressInfo, error) {
	client, err := s.clients.For(ctx, clusterName)
	if err != nil {
		return nil, err
	}
	nodes, err := client.Kube.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list nodes of %s: %w", clusterName, err)
	}

	names := make([]string, 0, len(nodes.Items))
	ips := make([]string, 0, len(nodes.Items))
	for _, n := range nodes.Items {
		names = append(names, n.Name)
		for _, addr := range n.Status.Addresses {
			if addr.Type == corev1.NodeInternalIP {
				ips = append(ips, addr.Address)
				break
			}
		}
	}
	sort.Strings(names)
	sort.Strings(ips)
	sum := sha256.Sum256([]byte(strings.Join(names, "\n")))
	return &EgressInfo{Digest: hex.EncodeToString(sum[:]), IPs: ips}, nil
}

// FindSubdomainDomain 在集群的根域名中匹配 host。
func (s *ClusterService) FindSubdomainDomain(ctx context.Context, clusterName, host string) (domain.DomainConfig, error) {
	cluster, err := s.clusters.FindByName(ctx, clusterName)
	if err != nil {
		return domain.DomainConfig{}, err
	}
	d, ok := cluster.IngressConfig.FindSubdomainDomain(host)
	if !ok {
		return domain.DomainConfig{}, fmt.Errorf("root domain of %s: %w", host, domain.ErrNotFound)
	}
	return d, nil
}

// FindSubpathDomain 在集群的子路径共享域名中匹配 host。
func (s *ClusterService) FindSubpathDomain(ctx context.Context, clusterName, host string) (domain.DomainConfig, error) {
	cluster, err := s.clusters.FindByName(ctx, clusterName)
	if err != nil {
		return domain.DomainConfig{}, err
	}
	d, ok := cluster.IngressConfig.FindSubpathDomain(host)
	if !ok {
		return domain.DomainConfig{}, fmt.Errorf("sub path domain %s: %w", host, domain.ErrNotFound)
	}
	return d, nil
}
