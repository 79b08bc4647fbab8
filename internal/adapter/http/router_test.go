package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/redisstore"
	"github.com/chiwei-platform/paas-workloads/internal/adapter/repository"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/kube"
	"github.com/chiwei-platform/paas-workloads/internal/logging"
	"github.com/chiwei-platform/paas-workloads/internal/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/metrics"
	"github.com/chiwei-platform/paas-workloads/internal/service"
	"github.com/chiwei-platform/paas-workloads/internal/wait"
)

const (
	testToken   = "secret"
	testCluster = "main"
)

type fakeClients struct{ client *kube.Client }

func (f fakeClients) For(_ context.Context, name string) (*kube.Client, error) {
	if name != f.client.Cluster {
		return nil, &domain.ClusterNotFoundError{Name: name}
	}
	return f.client, nil
}

type nopLogs struct{}

func (nopLogs) QueryProcessLogs(context.Context, string, string, string, time.Time, time.Time, int) (string, error) {
	return "line 1\n", nil
}

type routerEnv struct {
	handler http.Handler
	repos   *service.Repositories
	queue   *redisstore.TaskQueue
	apps    *service.AppService
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, repository.Migrate(db))

	repos := &service.Repositories{
		Apps:           repository.NewWlAppRepo(db),
		Configs:        repository.NewConfigRepo(db),
		Releases:       repository.NewReleaseRepo(db),
		Builds:         repository.NewBuildRepo(db),
		BuildProcesses: repository.NewBuildProcessRepo(db),
		Commands:       repository.NewCommandRepo(db),
		Clusters:       repository.NewClusterRepo(db),
		Domains:        repository.NewDomainRepo(db),
		SharedCerts:    repository.NewSharedCertRepo(db),
		Deploys:        repository.NewDeployRepo(db),
		Offlines:       repository.NewOfflineRepo(db),
		Probes:         repository.NewProcessProbeRepo(db),
		Plans:          repository.NewResourcePlanRepo(db),
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	queue := redisstore.NewTaskQueue(rdb, redisstore.DefaultQueueKey)

	node := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
		Status:     corev1.NodeStatus{Addresses: []corev1.NodeAddress{{Type: corev1.NodeInternalIP, Address: "10.0.0.11"}}},
	}
	client := &kube.Client{
		Cluster: testCluster,
		Kube:    fake.NewSimpleClientset(node),
		Dynamic: dynamicfake.NewSimpleDynamicClient(runtime.NewScheme()),
		Mapper:  meta.NewDefaultRESTMapper(nil),
	}
	clients := fakeClients{client: client}

	ctx := context.Background()
	require.NoError(t, repos.Clusters.Save(ctx, &domain.Cluster{
		Name: testCluster, Region: "default", TenantID: "t1", IsDefault: true,
		APIServers: []domain.APIServer{{Host: "https://10.0.0.1:6443"}},
		IngressConfig: domain.IngressConfig{
			AppRootDomains: []domain.DomainConfig{{Name: "apps.example.com"}},
		},
	}))
	plans := service.NewPlanService(repos.Plans)
	require.NoError(t, plans.EnsureBuiltinPlans(ctx))

	mappers := mapper.NewRegistry(mapper.DefaultOptions())
	engine := wait.NewEngine(10*time.Millisecond, nil)
	clusters := service.NewClusterService(repos.Clusters, clients)
	apps := service.NewAppService(repos.Apps, repos.Configs, mappers)
	processes := service.NewProcessService(repos, clusters, clients, mappers, redisstore.NewSnapshotStore(rdb, 0), 5)
	deploys := service.NewDeployService(repos, clusters, clients, mappers, processes, engine,
		redisstore.NewLogStream(rdb), queue, service.DeployOptions{Timeout: time.Minute, HookTimeout: time.Minute})
	offlines := service.NewOfflineService(repos, clusters, clients, mappers, processes, engine, queue, time.Minute)
	ingresses := service.NewIngressService(repos, clusters, clients, mappers, queue)

	h := Handlers{
		App:     NewAppHandler(apps, "default"),
		Deploy:  NewDeployHandler(deploys, offlines, apps, "default"),
		Process: NewProcessHandler(processes, apps, "default"),
		Log:     NewLogHandler(service.NewLogService(nopLogs{}), apps, "default"),
		Ingress: NewIngressHandler(ingresses, apps, "default"),
		Cluster: NewClusterHandler(clusters),
	}
	return &routerEnv{handler: NewRouter(h, testToken), repos: repos, queue: queue, apps: apps}
}

func (e *routerEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-API-Key", testToken)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *routerEnv) ensureApp(t *testing.T) *domain.WlApp {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/apps", map[string]string{
		"tenant_id": "t1", "app_code": "app1", "env": "stag", "type": string(domain.AppTypeDefault), "owner": "admin",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	app, err := e.apps.GetApp(context.Background(), "default", "bkapp-app1-stag")
	require.NoError(t, err)
	return app
}

func (e *routerEnv) nextTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := e.queue.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func TestHealthzAndRequestID(t *testing.T) {
	e := newRouterEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(logging.HeaderRequestID, "req-1")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(logging.HeaderRequestID))

	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get(logging.HeaderRequestID))
}

func TestAPIRequiresToken(t *testing.T) {
	e := newRouterEnv(t)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/clusters", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetricsCountRoutePattern(t *testing.T) {
	e := newRouterEnv(t)
	counter := metrics.APIVisited.WithLabelValues(http.MethodGet, "/api/v1/clusters/{name}/egress-ips", "404")
	before := testutil.ToFloat64(counter)

	rec := e.do(t, http.MethodGet, "/api/v1/clusters/nope/egress-ips", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_visited_counter")
}

func TestEnsureAndGetApp(t *testing.T) {
	e := newRouterEnv(t)
	app := e.ensureApp(t)
	assert.Equal(t, "bkapp-app1-stag", app.Namespace)

	rec := e.do(t, http.MethodGet, "/api/v1/apps/bkapp-app1-stag/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/apps/bkapp-app1-stag/?region=other", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/apps", map[string]string{"tenant_id": "t1", "app_code": "app.1", "env": "stag"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/apps", bytes.NewBufferString("{"))
	req.Header.Set("X-API-Key", testToken)
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeployAcceptAndInterrupt(t *testing.T) {
	e := newRouterEnv(t)
	app := e.ensureApp(t)
	ctx := context.Background()
	require.NoError(t, e.repos.Builds.Save(ctx, &domain.Build{
		UUID: "build-1", ModuleID: "m1", ArtifactType: domain.ArtifactImage,
		Image: "example.com/app1:abc", Procfile: map[string]string{"web": "start web"}, CreatedAt: time.Now(),
	}))

	rec := e.do(t, http.MethodPost, "/api/v1/apps/bkapp-app1-stag/deploys", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/apps/bkapp-app1-stag/deploys", map[string]string{"build_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/apps/bkapp-app1-stag/deploys", map[string]string{"build_id": "build-1", "operator": "alice"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var op domain.DeployOperation
	decodeData(t, rec, &op)
	assert.Equal(t, domain.DeployPending, op.Status)

	task := e.nextTask(t)
	assert.Equal(t, domain.TaskDeploy, task.Kind)
	assert.Equal(t, app.UUID, task.AppID)
	assert.Equal(t, op.UUID, task.RefID)
	assert.NotEmpty(t, task.RequestID)

	rec = e.do(t, http.MethodPost, "/api/v1/apps/bkapp-app1-stag/deploys", map[string]string{"build_id": "build-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/v1/apps/bkapp-app1-stag/offline", map[string]string{"operator": "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/deploys/"+op.UUID+"/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/v1/deploys/missing/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/deploys/"+op.UUID+"/interrupt", map[string]string{"operator": "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOfflineAccept(t *testing.T) {
	e := newRouterEnv(t)
	e.ensureApp(t)

	rec := e.do(t, http.MethodPost, "/api/v1/apps/bkapp-app1-stag/offline", map[string]string{"operator": "alice"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var op domain.OfflineOperation
	decodeData(t, rec, &op)
	assert.Equal(t, domain.TaskOffline, e.nextTask(t).Kind)

	rec = e.do(t, http.MethodGet, "/api/v1/offlines/"+op.UUID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessOperate(t *testing.T) {
	e := newRouterEnv(t)
	app := e.ensureApp(t)
	ctx := context.Background()
	procfile := map[string]string{"web": "start web", "w": "start w", "1worker": "start worker"}
	require.NoError(t, e.repos.Builds.Save(ctx, &domain.Build{
		UUID: "build-1", ModuleID: "m1", ArtifactType: domain.ArtifactImage,
		Image: "example.com/app1:abc", Procfile: procfile, CreatedAt: time.Now(),
	}))
	cfg, err := e.repos.Configs.FindLatest(ctx, app.UUID)
	require.NoError(t, err)
	require.NoError(t, e.repos.Releases.CreateNext(ctx, &domain.Release{AppID: app.UUID, BuildID: "build-1", ConfigID: cfg.UUID, Procfile: procfile}))

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantWarn   bool
	}{
		{"unknown action", "/processes/web/explode", nil, http.StatusBadRequest, false},
		{"scale without replicas", "/processes/web/scale", map[string]any{}, http.StatusBadRequest, false},
		{"invalid process type", "/processes/Web_1/start", nil, http.StatusBadRequest, false},
		{"process type too long", "/processes/worker-longname/start", nil, http.StatusBadRequest, false},
		{"unknown process", "/processes/worker/start", nil, http.StatusNotFound, false},
		{"single letter process", "/processes/w/scale", map[string]any{"replicas": 1}, http.StatusOK, false},
		{"process starting with digit", "/processes/1worker/start", nil, http.StatusOK, false},
		{"stop process starting with digit", "/processes/1worker/stop", nil, http.StatusOK, false},
		{"scale", "/processes/web/scale", map[string]any{"replicas": 2}, http.StatusOK, false},
		{"scale over quota", "/processes/web/scale", map[string]any{"replicas": 50}, http.StatusOK, true},
		{"stop", "/processes/web/stop", nil, http.StatusOK, false},
		{"start", "/processes/web/start", nil, http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/v1/apps/bkapp-app1-stag"+tt.path, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantWarn {
				var out map[string]any
				decodeData(t, rec, &out)
				assert.Contains(t, out["warning"], "clamped to 5")
				assert.EqualValues(t, 5, out["replicas"])
			}
		})
	}

	rec := e.do(t, http.MethodGet, "/api/v1/apps/bkapp-app1-stag/processes/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogsQueryParams(t *testing.T) {
	e := newRouterEnv(t)
	e.ensureApp(t)

	rec := e.do(t, http.MethodGet, "/api/v1/apps/bkapp-app1-stag/logs?process_type=web&since=30m&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out map[string]string
	decodeData(t, rec, &out)
	assert.Equal(t, "line 1\n", out["logs"])

	rec = e.do(t, http.MethodGet, "/api/v1/apps/bkapp-app1-stag/logs?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngressSyncAndDomains(t *testing.T) {
	e := newRouterEnv(t)
	e.ensureApp(t)

	rec := e.do(t, http.MethodPost, "/api/v1/apps/bkapp-app1-stag/ingresses/sync", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, domain.TaskSyncIngress, e.nextTask(t).Kind)

	rec = e.do(t, http.MethodPost, "/api/v1/apps/bkapp-app1-stag/domains/", map[string]any{"host": "www.example.org", "path_prefix": "/api/"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var d domain.Domain
	decodeData(t, rec, &d)
	assert.Equal(t, domain.TaskSyncIngress, e.nextTask(t).Kind)

	rec = e.do(t, http.MethodPost, "/api/v1/apps/bkapp-app1-stag/domains/", map[string]any{"host": "www.example.org", "path_prefix": "/api/"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var list []domain.Domain
	rec = e.do(t, http.MethodGet, "/api/v1/apps/bkapp-app1-stag/domains/", nil)
	decodeData(t, rec, &list)
	assert.Len(t, list, 1)

	rec = e.do(t, http.MethodDelete, "/api/v1/apps/bkapp-app1-stag/domains/"+d.UUID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TaskSyncIngress, e.nextTask(t).Kind)
}

func TestClusterEgressIPs(t *testing.T) {
	e := newRouterEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/clusters/main/egress-ips", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var info service.EgressInfo
	decodeData(t, rec, &info)
	assert.Equal(t, []string{"10.0.0.11"}, info.IPs)
	assert.NotEmpty(t, info.Digest)

	rec = e.do(t, http.MethodGet, "/api/v1/clusters/nope/egress-ips", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/clusters", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWriteErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrAppNotFound, http.StatusNotFound},
		{&domain.ClusterNotFoundError{Name: "x"}, http.StatusNotFound},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{domain.ErrPendingDeployExists, http.StatusConflict},
		{&domain.DeployInterruptionFailedError{Reason: "done"}, http.StatusConflict},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{&domain.EmptyAppIngressError{AppName: "a"}, http.StatusUnprocessableEntity},
		{domain.NewConfigurationError("bad"), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusInternalServerError {
				assert.Contains(t, rec.Body.String(), "internal server error")
			}
		})
	}
}
