package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/mapper"
)

func (e *testEnv) getCR(t *testing.T, gvk schema.GroupVersionKind, name string) (*unstructured.Unstructured, error) {
	t.Helper()
	ri, err := e.client.Namespaced(gvk, e.app.Namespace)
	require.NoError(t, err)
	return ri.Get(context.Background(), name, metav1.GetOptions{})
}

func (e *testEnv) enableFeatures(t *testing.T, flags ...string) {
	t.Helper()
	ctx := context.Background()
	cluster, err := e.repos.clusters.FindByName(ctx, testCluster)
	require.NoError(t, err)
	cluster.FeatureFlags = map[string]bool{}
	for _, f := range flags {
		cluster.FeatureFlags[f] = true
	}
	require.NoError(t, e.repos.clusters.Save(ctx, cluster))
}

// useCloudNativeApp 把测试环境的当前应用切换为云原生应用，新建的 BkApp 立即 Running。
func (e *testEnv) useCloudNativeApp(t *testing.T) {
	t.Helper()
	app, err := NewAppService(e.repos.apps, e.repos.configs, e.mappers).EnsureWlApp(context.Background(), EnsureWlAppRequest{
		Region: "default", TenantID: "t1", AppCode: "cnapp", Env: "prod", Type: domain.AppTypeCloudNative, Owner: "admin",
	})
	require.NoError(t, err)
	e.app = app

	dyn := e.client.Dynamic.(*dynamicfake.FakeDynamicClient)
	dyn.PrependReactor("create", "bkapps", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if obj, ok := action.(k8stesting.CreateAction).GetObject().(*unstructured.Unstructured); ok {
			_ = unstructured.SetNestedField(obj.Object, mapper.BkAppPhaseRunning, "status", "phase")
		}
		return false, nil, nil
	})
}

func TestDeployService_ProcessCustomResources(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	markDeploymentsReady(env.client)
	env.enableFeatures(t, domain.FeatureEnableAutoscaling, domain.FeatureEnableBkMonitor, domain.FeatureEnableEgressIP)
	_, err := env.client.Kube.CoreV1().Nodes().Create(ctx, &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
		Status:     corev1.NodeStatus{Addresses: []corev1.NodeAddress{{Type: corev1.NodeInternalIP, Address: "10.0.0.11"}}},
	}, metav1.CreateOptions{})
	require.NoError(t, err)

	_, err = NewAppService(env.repos.apps, env.repos.configs, env.mappers).AppendConfig(ctx, env.app.UUID, func(cfg *domain.Config) error {
		cfg.Metadata.EnableEgress = true
		target := cfg.Target("web")
		target.Autoscaling = &domain.Autoscaling{MinReplicas: 1, MaxReplicas: 3, Policy: "aggressive"}
		target.Monitoring = &domain.Monitoring{PortName: "metrics", Path: "/metrics"}
		cfg.SetTarget("web", target)
		return nil
	})
	require.NoError(t, err)

	got := env.deployBuild(t, env.saveBuild(map[string]string{"web": "start web", "worker": "start worker"}))
	require.Equal(t, domain.DeploySuccessful, got.Status)

	gpa, err := env.getCR(t, mapper.GPAGVK, "bkapp-app1-stag--web")
	require.NoError(t, err)
	maxReplicas, _, _ := unstructured.NestedInt64(gpa.Object, "spec", "maxReplicas")
	assert.Equal(t, int64(3), maxReplicas)
	_, err = env.getCR(t, mapper.ServiceMonitorGVK, "bkapp-app1-stag--web")
	require.NoError(t, err)

	// 未声明的进程不产生附属 CR
	_, err = env.getCR(t, mapper.GPAGVK, "bkapp-app1-stag--worker")
	assert.True(t, apierrors.IsNotFound(err))
	_, err = env.getCR(t, mapper.ServiceMonitorGVK, "bkapp-app1-stag--worker")
	assert.True(t, apierrors.IsNotFound(err))

	egress, err := env.getCR(t, mapper.EgressGVK, env.app.Name)
	require.NoError(t, err)
	ips, _, _ := unstructured.NestedStringSlice(egress.Object, "spec", "egressIPs")
	assert.Equal(t, []string{"10.0.0.11"}, ips)
	info, err := env.clusters.ListEgressIPs(ctx, testCluster)
	require.NoError(t, err)
	digest, _, _ := unstructured.NestedString(egress.Object, "spec", "digest")
	assert.Equal(t, info.Digest, digest)
}

func TestDeployService_ProcessCustomResourcesNeedClusterFeature(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	markDeploymentsReady(env.client)
	_, err := NewAppService(env.repos.apps, env.repos.configs, env.mappers).AppendConfig(ctx, env.app.UUID, func(cfg *domain.Config) error {
		cfg.Metadata.EnableEgress = true
		target := cfg.Target("web")
		target.Autoscaling = &domain.Autoscaling{MinReplicas: 1, MaxReplicas: 3}
		cfg.SetTarget("web", target)
		return nil
	})
	require.NoError(t, err)

	got := env.deployBuild(t, env.saveBuild(map[string]string{"web": "start web"}))
	require.Equal(t, domain.DeploySuccessful, got.Status)

	_, err = env.getCR(t, mapper.GPAGVK, "bkapp-app1-stag--web")
	assert.True(t, apierrors.IsNotFound(err))
	_, err = env.getCR(t, mapper.EgressGVK, env.app.Name)
	assert.True(t, apierrors.IsNotFound(err))
}

func TestCloudNativeApp_Lifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.useCloudNativeApp(t)

	got := env.deployBuild(t, env.saveBuild(map[string]string{"web": "start web", "worker": "start worker"}))
	require.Equal(t, domain.DeploySuccessful, got.Status)

	bkapp, err := env.getCR(t, mapper.BkAppGVK, env.app.Name)
	require.NoError(t, err)
	procs, _, _ := unstructured.NestedSlice(bkapp.Object, "spec", "processes")
	require.Len(t, procs, 2)
	assert.Equal(t, "11", bkapp.GetAnnotations()[mapper.AnnotationVersion])

	// 云原生应用的 Deployment 由 operator 维护，控制面不直接写入
	deps, err := env.client.Kube.AppsV1().Deployments(env.app.Namespace).List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, deps.Items)

	require.NoError(t, env.processService().Scale(ctx, env.app, "web", 2))
	bkapp, err = env.getCR(t, mapper.BkAppGVK, env.app.Name)
	require.NoError(t, err)
	procs, _, _ = unstructured.NestedSlice(bkapp.Object, "spec", "processes")
	web := procs[bkAppProcessIndex(bkapp, "web")].(map[string]interface{})
	assert.EqualValues(t, 2, web["replicas"])
	deps, err = env.client.Kube.AppsV1().Deployments(env.app.Namespace).List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, deps.Items)

	require.NoError(t, env.ingressService().Sync(ctx, env.app))
	_, err = env.getCR(t, mapper.DomainGroupMappingGVK, env.app.Name)
	require.NoError(t, err)
	assert.Empty(t, env.ingressNames(t))

	svc := env.offlineService()
	op, err := svc.Accept(ctx, env.app, "alice")
	require.NoError(t, err)
	require.NoError(t, svc.Execute(ctx, op.UUID))
	off, err := svc.GetOffline(ctx, op.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.OfflineSuccessful, off.Status)

	_, err = env.getCR(t, mapper.BkAppGVK, env.app.Name)
	assert.True(t, apierrors.IsNotFound(err))
	_, err = env.getCR(t, mapper.DomainGroupMappingGVK, env.app.Name)
	assert.True(t, apierrors.IsNotFound(err))
}
