package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/mapper"
)

func (e *testEnv) ingressService() *IngressService {
	return NewIngressService(e.repos.repositories(), e.clusters, e.clients, e.mappers, e.queue)
}

func (e *testEnv) ingressNames(t *testing.T) []string {
	t.Helper()
	list, err := e.client.Kube.NetworkingV1().Ingresses(e.app.Namespace).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	names := make([]string, 0, len(list.Items))
	for _, ing := range list.Items {
		names = append(names, ing.Name)
	}
	return names
}

func TestIngressService_SyncAutoDomain(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.seedRelease(map[string]string{"web": "start web"})
	svc := env.ingressService()

	require.NoError(t, svc.Sync(ctx, env.app))

	ing, err := env.client.Kube.NetworkingV1().Ingresses(env.app.Namespace).Get(ctx, "auto--bkapp-app1-stag.apps.example.com", metav1.GetOptions{})
	require.NoError(t, err)
	rule := ing.Spec.Rules[0]
	assert.Equal(t, "bkapp-app1-stag.apps.example.com", rule.Host)
	backend := rule.HTTP.Paths[0].Backend.Service
	assert.Equal(t, "bkapp-app1-stag--web", backend.Name)
	assert.Equal(t, int32(80), backend.Port.Number)
	assert.Empty(t, ing.Spec.TLS)
	assert.Equal(t, "false", ing.Annotations[mapper.AnnotationSSLRedirect])
}

func TestIngressService_SharedCert(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	require.NoError(t, env.repos.certs.Save(ctx, &domain.AppDomainSharedCert{
		Name: "wildcard", Region: "default", TenantID: "t1", AutoMatchCNs: "*.apps.example.com",
		Cert: "CERT", Key: "KEY",
	}))
	svc := env.ingressService()

	// 从未发布过时后端按 web 进程处理
	require.NoError(t, svc.Sync(ctx, env.app))

	sec, err := env.client.Kube.CoreV1().Secrets(env.app.Namespace).Get(ctx, "eng-shared-wildcard", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("CERT"), sec.Data["tls.crt"])

	ing, err := env.client.Kube.NetworkingV1().Ingresses(env.app.Namespace).Get(ctx, "auto--bkapp-app1-stag.apps.example.com", metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, ing.Spec.TLS, 1)
	assert.Equal(t, "eng-shared-wildcard", ing.Spec.TLS[0].SecretName)
}

func TestIngressService_CustomDomainLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.seedRelease(map[string]string{"web": "start web"})
	svc := env.ingressService()

	d, err := svc.BindDomain(ctx, env.app, BindDomainRequest{
		Host:       "www.example.com",
		PathPrefix: "/api/",
		Annotations: map[string]string{
			"nginx.ingress.kubernetes.io/server-snippet":  "return 403;",
			"nginx.ingress.kubernetes.io/proxy-body-size": "10m",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"nginx.ingress.kubernetes.io/proxy-body-size": "10m"}, d.Annotations)

	require.NoError(t, svc.Sync(ctx, env.app))
	assert.ElementsMatch(t, []string{"auto--bkapp-app1-stag.apps.example.com", "custom--www.example.com"}, env.ingressNames(t))

	ing, err := env.client.Kube.NetworkingV1().Ingresses(env.app.Namespace).Get(ctx, "custom--www.example.com", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/$2", ing.Annotations[mapper.AnnotationRewriteTarget])
	assert.Equal(t, "10m", ing.Annotations["nginx.ingress.kubernetes.io/proxy-body-size"])
	assert.NotContains(t, ing.Annotations, mapper.AnnotationServerSnippet)

	domains, err := svc.ListDomains(ctx, env.app)
	require.NoError(t, err)
	require.Len(t, domains, 1)

	require.NoError(t, svc.UnbindDomain(ctx, env.app, d.UUID))
	require.NoError(t, svc.SyncByID(ctx, env.app.UUID))
	assert.Equal(t, []string{"auto--bkapp-app1-stag.apps.example.com"}, env.ingressNames(t))
}

func TestIngressService_BindDomainValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	svc := env.ingressService()

	_, err := svc.BindDomain(ctx, env.app, BindDomainRequest{Host: "not a host"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.BindDomain(ctx, env.app, BindDomainRequest{Host: "www.example.com"})
	require.NoError(t, err)
	_, err = svc.BindDomain(ctx, env.app, BindDomainRequest{Host: "WWW.example.com"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	assert.ErrorIs(t, svc.UnbindDomain(ctx, env.app, "missing"), domain.ErrNotFound)
}

func TestIngressService_RequestSync(t *testing.T) {
	env := newTestEnv()
	require.NoError(t, env.ingressService().RequestSync(context.Background(), env.app))
	require.Len(t, env.queue.tasks, 1)
	assert.Equal(t, domain.TaskSyncIngress, env.queue.tasks[0].Kind)
	assert.Equal(t, env.app.UUID, env.queue.tasks[0].AppID)
}

func TestIngressService_EmptyRoutes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	cluster, err := env.repos.clusters.FindByName(ctx, testCluster)
	require.NoError(t, err)
	cluster.IngressConfig = domain.IngressConfig{}
	require.NoError(t, env.repos.clusters.Save(ctx, cluster))

	err = env.ingressService().Sync(ctx, env.app)
	var emptyErr *domain.EmptyAppIngressError
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, env.app.Name, emptyErr.AppName)
}

func TestIngressService_NoServicePort(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.seedRelease(map[string]string{"worker": "start worker"})

	err := env.ingressService().Sync(ctx, env.app)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIngressService_WorkerOnlyBackend(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	markDeploymentsReady(env.client)
	got := env.deployBuild(t, env.saveBuild(map[string]string{"worker": "run worker"}))
	require.Equal(t, domain.DeploySuccessful, got.Status)

	svcObj, err := env.client.Kube.CoreV1().Services(env.app.Namespace).Get(ctx, "bkapp-app1-stag--worker", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(80), svcObj.Spec.Ports[0].Port)
	d, err := env.client.Kube.AppsV1().Deployments(env.app.Namespace).Get(ctx, "bkapp-app1-stag--worker", metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, d.Spec.Template.Spec.Containers[0].Ports, 1)
	assert.Equal(t, int32(5000), d.Spec.Template.Spec.Containers[0].Ports[0].ContainerPort)

	require.NoError(t, env.ingressService().Sync(ctx, env.app))
	ing, err := env.client.Kube.NetworkingV1().Ingresses(env.app.Namespace).Get(ctx, "auto--bkapp-app1-stag.apps.example.com", metav1.GetOptions{})
	require.NoError(t, err)
	backend := ing.Spec.Rules[0].HTTP.Paths[0].Backend.Service
	assert.Equal(t, "bkapp-app1-stag--worker", backend.Name)
	assert.Equal(t, int32(80), backend.Port.Number)
}
