package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/kube"
)

func node(name, ip string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status: corev1.NodeStatus{Addresses: []corev1.NodeAddress{
			{Type: corev1.NodeHostName, Address: name},
			{Type: corev1.NodeInternalIP, Address: ip},
		}},
	}
}

func TestClusterService_ResolveCluster(t *testing.T) {
	ctx := context.Background()
	repos := newMemRepos()
	svc := NewClusterService(repos.clusters, &stubClients{})
	api := []domain.APIServer{{Host: "https://10.0.0.1:6443"}}
	require.NoError(t, svc.RegisterCluster(ctx, &domain.Cluster{Name: "c1", Region: "default", TenantID: "t1", IsDefault: true, APIServers: api}))
	require.NoError(t, svc.RegisterCluster(ctx, &domain.Cluster{Name: "c2", Region: "default", TenantID: "t1", APIServers: api}))
	require.NoError(t, svc.RegisterCluster(ctx, &domain.Cluster{Name: "shared", Region: "default", TenantID: "t0", AvailableTenantIDs: []string{"t1"}, APIServers: api}))

	app := &domain.WlApp{Region: "default", TenantID: "t1", Name: "bkapp-app1-prod"}

	got, err := svc.ResolveCluster(ctx, app, &domain.Config{})
	require.NoError(t, err)
	assert.Equal(t, "c1", got.Name)

	got, err = svc.ResolveCluster(ctx, app, &domain.Config{Cluster: "c2"})
	require.NoError(t, err)
	assert.Equal(t, "c2", got.Name)

	got, err = svc.ResolveCluster(ctx, app, &domain.Config{Cluster: "shared"})
	require.NoError(t, err)
	assert.Equal(t, "shared", got.Name)

	// 其他租户看不到 c1
	other := &domain.WlApp{Region: "default", TenantID: "t2", Name: "bkapp-app2-prod"}
	_, err = svc.ResolveCluster(ctx, other, &domain.Config{Cluster: "c1"})
	var notFound *domain.ClusterNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "c1", notFound.Name)
	_, err = svc.ResolveCluster(ctx, other, &domain.Config{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// 设置新的默认集群会取消原默认
	require.NoError(t, svc.RegisterCluster(ctx, &domain.Cluster{Name: "c2", Region: "default", TenantID: "t1", IsDefault: true, APIServers: api}))
	got, err = svc.ResolveCluster(ctx, app, nil)
	require.NoError(t, err)
	assert.Equal(t, "c2", got.Name)
}

func TestClusterService_RegisterClusterValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewClusterService(newMemRepos().clusters, &stubClients{})
	api := []domain.APIServer{{Host: "https://10.0.0.1:6443"}}

	tests := []struct {
		name    string
		cluster *domain.Cluster
	}{
		{"invalid name", &domain.Cluster{Name: "Main_Cluster", Region: "default", APIServers: api}},
		{"missing region", &domain.Cluster{Name: "main", APIServers: api}},
		{"bad root domain", &domain.Cluster{Name: "main", Region: "default", APIServers: api,
			IngressConfig: domain.IngressConfig{AppRootDomains: []domain.DomainConfig{{Name: "not a domain"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.RegisterCluster(ctx, tt.cluster), domain.ErrInvalidInput)
		})
	}

	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, svc.RegisterCluster(ctx, &domain.Cluster{Name: "main", Region: "default"}), &cfgErr)
}

func TestClusterService_ListEgressIPs(t *testing.T) {
	ctx := context.Background()
	client := newFakeKubeClient(node("node-b", "10.0.0.2"), node("node-a", "10.0.0.1"))
	svc := NewClusterService(newMemRepos().clusters, &stubClients{clients: map[string]*kube.Client{testCluster: client}})

	first, err := svc.ListEgressIPs(ctx, testCluster)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, first.IPs)
	assert.Len(t, first.Digest, 64)

	// 节点 IP 变化不影响摘要
	n, err := client.Kube.CoreV1().Nodes().Get(ctx, "node-a", metav1.GetOptions{})
	require.NoError(t, err)
	n.Status.Addresses[1].Address = "10.0.0.9"
	_, err = client.Kube.CoreV1().Nodes().Update(ctx, n, metav1.UpdateOptions{})
	require.NoError(t, err)
	second, err := svc.ListEgressIPs(ctx, testCluster)
	require.NoError(t, err)
	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.9"}, second.IPs)

	// 节点增减时摘要变化
	_, err = client.Kube.CoreV1().Nodes().Create(ctx, node("node-c", "10.0.0.3"), metav1.CreateOptions{})
	require.NoError(t, err)
	third, err := svc.ListEgressIPs(ctx, testCluster)
	require.NoError(t, err)
	assert.NotEqual(t, first.Digest, third.Digest)

	_, err = svc.ListEgressIPs(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClusterService_FindDomains(t *testing.T) {
	ctx := context.Background()
	repos := newMemRepos()
	svc := NewClusterService(repos.clusters, &stubClients{})
	require.NoError(t, svc.RegisterCluster(ctx, &domain.Cluster{
		Name: "main", Region: "default", APIServers: []domain.APIServer{{Host: "https://10.0.0.1:6443"}},
		IngressConfig: domain.IngressConfig{
			AppRootDomains: []domain.DomainConfig{{Name: "apps.example.com", HTTPSEnabled: true}},
			SubPathDomains: []domain.DomainConfig{{Name: "paas.example.com"}},
		},
	}))

	d, err := svc.FindSubdomainDomain(ctx, "main", "bkapp-app1-prod.apps.example.com")
	require.NoError(t, err)
	assert.True(t, d.HTTPSEnabled)
	_, err = svc.FindSubdomainDomain(ctx, "main", "apps.example.org")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	d, err = svc.FindSubpathDomain(ctx, "main", "PAAS.example.com")
	require.NoError(t, err)
	assert.Equal(t, "paas.example.com", d.Name)
	_, err = svc.FindSubpathDomain(ctx, "main", "other.example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
