package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	"k8s.io/utils/ptr"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/kube"
	"github.com/chiwei-platform/paas-workloads/internal/mapper"
)

// --- stubs ---

// table 是按 key 存放记录副本的内存表。
type table[T any] struct {
	mu   sync.Mutex
	rows map[string]T
	keys []string
}

func (t *table[T]) put(key string, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rows == nil {
		t.rows = map[string]T{}
	}
	if _, ok := t.rows[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.rows[key] = v
}

func (t *table[T]) get(key string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.rows[key]
	return v, ok
}

func (t *table[T]) del(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, key)
	t.keys = lo.Without(t.keys, key)
}

// all 按插入顺序返回全部记录。
func (t *table[T]) all() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]T, 0, len(t.keys))
	for _, k := range t.keys {
		out = append(out, t.rows[k])
	}
	return out
}

func clone[T any](v *T) *T {
	c := *v
	return &c
}

type memApps struct{ t table[domain.WlApp] }

func (r *memApps) Save(_ context.Context, app *domain.WlApp) error {
	for _, a := range r.t.all() {
		if a.Region == app.Region && a.Name == app.Name && a.UUID != app.UUID {
			return domain.ErrAlreadyExists
		}
	}
	if app.UUID == "" {
		app.UUID = uuid.NewString()
	}
	r.t.put(app.UUID, *app)
	return nil
}

func (r *memApps) FindByID(_ context.Context, id string) (*domain.WlApp, error) {
	a, ok := r.t.get(id)
	if !ok {
		return nil, domain.ErrAppNotFound
	}
	return &a, nil
}

func (r *memApps) FindByName(_ context.Context, region, name string) (*domain.WlApp, error) {
	for _, a := range r.t.all() {
		if a.Region == region && a.Name == name {
			return &a, nil
		}
	}
	return nil, domain.ErrAppNotFound
}

func (r *memApps) FindAll(_ context.Context, region string) ([]*domain.WlApp, error) {
	var out []*domain.WlApp
	for _, a := range r.t.all() {
		if a.Region == region {
			out = append(out, clone(&a))
		}
	}
	return out, nil
}

type memConfigs struct {
	mu sync.Mutex
	t  table[domain.Config]
}

// storedConfig 是保留 UUID 与 Revision 的深拷贝。
func storedConfig(c *domain.Config) *domain.Config {
	cp := c.Clone()
	cp.UUID = c.UUID
	cp.Revision = c.Revision
	return cp
}

func (r *memConfigs) Append(_ context.Context, cfg *domain.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.append(cfg)
	return nil
}

func (r *memConfigs) append(cfg *domain.Config) {
	rev := 0
	for _, c := range r.t.all() {
		if c.AppID == cfg.AppID && c.Revision > rev {
			rev = c.Revision
		}
	}
	cfg.UUID = uuid.NewString()
	cfg.Revision = rev + 1
	cfg.CreatedAt = time.Now()
	r.t.put(cfg.UUID, *storedConfig(cfg))
}

func (r *memConfigs) AppendFromLatest(ctx context.Context, appID string, mutate func(*domain.Config) error) (*domain.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest, err := r.FindLatest(ctx, appID)
	if err != nil {
		return nil, err
	}
	next := latest.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	r.append(next)
	return next, nil
}

func (r *memConfigs) FindByID(_ context.Context, id string) (*domain.Config, error) {
	c, ok := r.t.get(id)
	if !ok {
		return nil, domain.ErrConfigNotFound
	}
	return storedConfig(&c), nil
}

func (r *memConfigs) FindLatest(_ context.Context, appID string) (*domain.Config, error) {
	var latest *domain.Config
	for _, c := range r.t.all() {
		if c.AppID == appID && (latest == nil || c.Revision > latest.Revision) {
			latest = storedConfig(&c)
		}
	}
	if latest == nil {
		return nil, domain.ErrConfigNotFound
	}
	return latest, nil
}

type memReleases struct {
	t    table[domain.Release]
	apps *memApps
}

func (r *memReleases) CreateNext(ctx context.Context, rel *domain.Release) error {
	if r.apps != nil {
		if _, err := r.apps.FindByID(ctx, rel.AppID); err != nil {
			return err
		}
	}
	version := domain.InitialReleaseVersion
	for _, x := range r.t.all() {
		if x.AppID == rel.AppID && x.Version >= version {
			version = x.Version + 1
		}
	}
	rel.UUID = uuid.NewString()
	rel.Version = version
	rel.CreatedAt = time.Now()
	rel.UpdatedAt = rel.CreatedAt
	r.t.put(rel.UUID, *rel)
	return nil
}

func (r *memReleases) FindByID(_ context.Context, id string) (*domain.Release, error) {
	x, ok := r.t.get(id)
	if !ok {
		return nil, domain.ErrReleaseNotFound
	}
	return &x, nil
}

func (r *memReleases) FindLatest(_ context.Context, appID string) (*domain.Release, error) {
	var latest *domain.Release
	for _, x := range r.t.all() {
		if x.AppID == appID && !x.Failed && (latest == nil || x.Version > latest.Version) {
			latest = clone(&x)
		}
	}
	if latest == nil {
		return nil, domain.ErrReleaseNotFound
	}
	return latest, nil
}

func (r *memReleases) FindPrevious(_ context.Context, rel *domain.Release) (*domain.Release, error) {
	var prev *domain.Release
	for _, x := range r.t.all() {
		if x.AppID == rel.AppID && x.Version < rel.Version && (prev == nil || x.Version > prev.Version) {
			prev = clone(&x)
		}
	}
	if prev == nil {
		return nil, domain.ErrPreviousReleaseNotFound
	}
	return prev, nil
}

func (r *memReleases) FindAll(_ context.Context, appID string) ([]*domain.Release, error) {
	var out []*domain.Release
	for _, x := range r.t.all() {
		if x.AppID == appID {
			out = append(out, clone(&x))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (r *memReleases) Update(_ context.Context, rel *domain.Release) error {
	if _, ok := r.t.get(rel.UUID); !ok {
		return domain.ErrReleaseNotFound
	}
	r.t.put(rel.UUID, *rel)
	return nil
}

type memBuilds struct{ t table[domain.Build] }

func (r *memBuilds) Save(_ context.Context, b *domain.Build) error {
	r.t.put(b.UUID, *b)
	return nil
}

func (r *memBuilds) FindByID(_ context.Context, id string) (*domain.Build, error) {
	b, ok := r.t.get(id)
	if !ok {
		return nil, domain.ErrBuildNotFound
	}
	return &b, nil
}

func (r *memBuilds) FindImageBuilds(_ context.Context, moduleID string) ([]*domain.Build, error) {
	var out []*domain.Build
	for _, b := range r.t.all() {
		if b.ModuleID == moduleID && b.ArtifactType == domain.ArtifactImage && !b.ArtifactDeleted {
			out = append(out, clone(&b))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memBuilds) MarkAsLatestArtifact(_ context.Context, build *domain.Build) error {
	for _, b := range r.t.all() {
		if b.ModuleID == build.ModuleID && b.ArtifactType == domain.ArtifactImage && b.UUID != build.UUID {
			b.ArtifactDeleted = true
			r.t.put(b.UUID, b)
		}
	}
	return nil
}

func (r *memBuilds) MarkArtifactDeleted(_ context.Context, ids []string) error {
	for _, id := range ids {
		if b, ok := r.t.get(id); ok {
			b.ArtifactDeleted = true
			r.t.put(id, b)
		}
	}
	return nil
}

type memBuildProcesses struct{ t table[domain.BuildProcess] }

func (r *memBuildProcesses) Save(_ context.Context, bp *domain.BuildProcess) error {
	r.t.put(bp.UUID, *bp)
	return nil
}

func (r *memBuildProcesses) FindByID(_ context.Context, id string) (*domain.BuildProcess, error) {
	bp, ok := r.t.get(id)
	if !ok {
		return nil, domain.ErrBuildProcessNotFound
	}
	return &bp, nil
}

func (r *memBuildProcesses) Update(_ context.Context, bp *domain.BuildProcess) error {
	r.t.put(bp.UUID, *bp)
	return nil
}

type memCommands struct{ t table[domain.Command] }

func (r *memCommands) Save(_ context.Context, c *domain.Command) error {
	r.t.put(c.UUID, *c)
	return nil
}

func (r *memCommands) FindByID(_ context.Context, id string) (*domain.Command, error) {
	c, ok := r.t.get(id)
	if !ok {
		return nil, domain.ErrCommandNotFound
	}
	return &c, nil
}

func (r *memCommands) FindRunning(_ context.Context, appID string) (*domain.Command, error) {
	for _, c := range r.t.all() {
		if c.AppID == appID && !c.Status.IsTerminal() {
			return &c, nil
		}
	}
	return nil, domain.ErrCommandNotFound
}

func (r *memCommands) Update(_ context.Context, c *domain.Command) error {
	r.t.put(c.UUID, *c)
	return nil
}

type memClusters struct{ t table[domain.Cluster] }

func (r *memClusters) Save(_ context.Context, c *domain.Cluster) error {
	if c.IsDefault {
		for _, other := range r.t.all() {
			if other.Region == c.Region && other.Name != c.Name && other.IsDefault {
				other.IsDefault = false
				r.t.put(other.Name, other)
			}
		}
	}
	if old, ok := r.t.get(c.Name); ok {
		c.UUID = old.UUID
	} else if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	r.t.put(c.Name, *c)
	return nil
}

func (r *memClusters) FindByName(_ context.Context, name string) (*domain.Cluster, error) {
	c, ok := r.t.get(name)
	if !ok {
		return nil, &domain.ClusterNotFoundError{Name: name}
	}
	return &c, nil
}

func (r *memClusters) FindByRegion(_ context.Context, region string) ([]*domain.Cluster, error) {
	var out []*domain.Cluster
	for _, c := range r.t.all() {
		if c.Region == region {
			out = append(out, clone(&c))
		}
	}
	return out, nil
}

func (r *memClusters) FindAll(_ context.Context) ([]*domain.Cluster, error) {
	var out []*domain.Cluster
	for _, c := range r.t.all() {
		out = append(out, clone(&c))
	}
	return out, nil
}

type memDomains struct{ t table[domain.Domain] }

func (r *memDomains) Save(_ context.Context, d *domain.Domain) error {
	d.Host = strings.ToLower(d.Host)
	for _, x := range r.t.all() {
		if x.Host == d.Host && x.PathPrefix == d.PathPrefix && x.UUID != d.UUID {
			return domain.ErrAlreadyExists
		}
	}
	if d.UUID == "" {
		d.UUID = uuid.NewString()
	}
	r.t.put(d.UUID, *d)
	return nil
}

func (r *memDomains) FindByApp(_ context.Context, appID string) ([]*domain.Domain, error) {
	var out []*domain.Domain
	for _, d := range r.t.all() {
		if d.AppID == appID {
			out = append(out, clone(&d))
		}
	}
	return out, nil
}

func (r *memDomains) Delete(_ context.Context, id string) error {
	r.t.del(id)
	return nil
}

type memCerts struct {
	t table[domain.AppDomainSharedCert]
}

func (r *memCerts) Save(_ context.Context, c *domain.AppDomainSharedCert) error {
	r.t.put(c.Name, *c)
	return nil
}

func (r *memCerts) FindByName(_ context.Context, name string) (*domain.AppDomainSharedCert, error) {
	c, ok := r.t.get(name)
	if !ok {
		return nil, domain.ErrSharedCertNotFound
	}
	return &c, nil
}

func (r *memCerts) FindByRegion(_ context.Context, region, tenantID string) ([]*domain.AppDomainSharedCert, error) {
	var out []*domain.AppDomainSharedCert
	for _, c := range r.t.all() {
		if c.Region == region && c.TenantID == tenantID {
			out = append(out, clone(&c))
		}
	}
	return out, nil
}

// pendingGate 让部署与下架的登记共享一把锁，检查与写入不可分割。
type pendingGate struct {
	mu       sync.Mutex
	deploys  *memDeploys
	offlines *memOfflines

	// findDelay 拉长检查与写入之间的窗口。
	findDelay time.Duration
}

func (g *pendingGate) create(ctx context.Context, appID string, insert func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	time.Sleep(g.findDelay)
	if _, err := g.deploys.FindPending(ctx, appID); err == nil {
		return domain.ErrPendingDeployExists
	}
	if _, err := g.offlines.FindPending(ctx, appID); err == nil {
		return domain.ErrPendingDeployExists
	}
	insert()
	return nil
}

// memDeploys 的 Update 与 RequestInterrupt 需要原子地读改写中断标记。
type memDeploys struct {
	mu   sync.Mutex
	t    table[domain.DeployOperation]
	gate *pendingGate

	// beforeSucceed 在写入成功终态前调用，用于在收尾时插入中断
	beforeSucceed func()
}

func (r *memDeploys) CreatePending(ctx context.Context, d *domain.DeployOperation) error {
	return r.gate.create(ctx, d.AppID, func() { r.t.put(d.UUID, *d) })
}

func (r *memDeploys) FindByID(_ context.Context, id string) (*domain.DeployOperation, error) {
	d, ok := r.t.get(id)
	if !ok {
		return nil, domain.ErrDeployNotFound
	}
	return &d, nil
}

func (r *memDeploys) FindPending(_ context.Context, appID string) (*domain.DeployOperation, error) {
	for _, d := range r.t.all() {
		if d.AppID == appID && d.Status == domain.DeployPending {
			return &d, nil
		}
	}
	return nil, domain.ErrDeployNotFound
}

func (r *memDeploys) Update(_ context.Context, d *domain.DeployOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.t.get(d.UUID)
	if !ok {
		return domain.ErrDeployNotFound
	}
	updated := *d
	updated.InterruptRequested = old.InterruptRequested
	r.t.put(d.UUID, updated)
	return nil
}

func (r *memDeploys) MarkSucceeded(_ context.Context, d *domain.DeployOperation) (bool, error) {
	if r.beforeSucceed != nil {
		r.beforeSucceed()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.t.get(d.UUID)
	if !ok {
		return false, domain.ErrDeployNotFound
	}
	if old.Status != domain.DeployPending || old.InterruptRequested {
		return false, nil
	}
	r.t.put(d.UUID, *d)
	return true, nil
}

func (r *memDeploys) RequestInterrupt(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.t.get(id)
	if !ok {
		return false, domain.ErrDeployNotFound
	}
	if d.Status != domain.DeployPending {
		return false, nil
	}
	d.InterruptRequested = true
	r.t.put(id, d)
	return true, nil
}

type memOfflines struct {
	t    table[domain.OfflineOperation]
	gate *pendingGate
}

func (r *memOfflines) CreatePending(ctx context.Context, op *domain.OfflineOperation) error {
	return r.gate.create(ctx, op.AppID, func() { r.t.put(op.UUID, *op) })
}

func (r *memOfflines) FindByID(_ context.Context, id string) (*domain.OfflineOperation, error) {
	op, ok := r.t.get(id)
	if !ok {
		return nil, domain.ErrOfflineNotFound
	}
	return &op, nil
}

func (r *memOfflines) FindPending(_ context.Context, appID string) (*domain.OfflineOperation, error) {
	for _, op := range r.t.all() {
		if op.AppID == appID && op.Status == domain.OfflinePending {
			return &op, nil
		}
	}
	return nil, domain.ErrOfflineNotFound
}

func (r *memOfflines) Update(_ context.Context, op *domain.OfflineOperation) error {
	r.t.put(op.UUID, *op)
	return nil
}

type memProbes struct{ t table[domain.ProcessProbe] }

func (r *memProbes) Save(_ context.Context, p *domain.ProcessProbe) error {
	r.t.put(fmt.Sprintf("%s/%s/%s", p.AppID, p.ProcessType, p.ProbeType), *p)
	return nil
}

func (r *memProbes) FindByApp(_ context.Context, appID string) ([]*domain.ProcessProbe, error) {
	var out []*domain.ProcessProbe
	for _, p := range r.t.all() {
		if p.AppID == appID {
			out = append(out, clone(&p))
		}
	}
	return out, nil
}

type memPlans struct {
	t       table[domain.ResourcePlan]
	updates int
}

func (r *memPlans) Save(_ context.Context, p *domain.ResourcePlan) error {
	if _, ok := r.t.get(p.Name); ok {
		return domain.ErrAlreadyExists
	}
	r.t.put(p.Name, *p)
	return nil
}

func (r *memPlans) FindByName(_ context.Context, name string) (*domain.ResourcePlan, error) {
	p, ok := r.t.get(name)
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return &p, nil
}

func (r *memPlans) FindAll(_ context.Context) ([]*domain.ResourcePlan, error) {
	var out []*domain.ResourcePlan
	for _, p := range r.t.all() {
		out = append(out, clone(&p))
	}
	return out, nil
}

func (r *memPlans) Update(_ context.Context, p *domain.ResourcePlan) error {
	if _, ok := r.t.get(p.Name); !ok {
		return domain.ErrPlanNotFound
	}
	r.updates++
	r.t.put(p.Name, *p)
	return nil
}

// memRepos 持有各内存仓库的具体类型，便于测试直接断言。
type memRepos struct {
	apps           *memApps
	configs        *memConfigs
	releases       *memReleases
	builds         *memBuilds
	buildProcesses *memBuildProcesses
	commands       *memCommands
	clusters       *memClusters
	domains        *memDomains
	certs          *memCerts
	deploys        *memDeploys
	offlines       *memOfflines
	probes         *memProbes
	plans          *memPlans
}

func newMemRepos() *memRepos {
	apps := &memApps{}
	gate := &pendingGate{}
	gate.deploys = &memDeploys{gate: gate}
	gate.offlines = &memOfflines{gate: gate}
	return &memRepos{
		apps:           apps,
		configs:        &memConfigs{},
		releases:       &memReleases{apps: apps},
		builds:         &memBuilds{},
		buildProcesses: &memBuildProcesses{},
		commands:       &memCommands{},
		clusters:       &memClusters{},
		domains:        &memDomains{},
		certs:          &memCerts{},
		deploys:        gate.deploys,
		offlines:       gate.offlines,
		probes:         &memProbes{},
		plans:          &memPlans{},
	}
}

func (m *memRepos) repositories() *Repositories {
	return &Repositories{
		Apps:           m.apps,
		Configs:        m.configs,
		Releases:       m.releases,
		Builds:         m.builds,
		BuildProcesses: m.buildProcesses,
		Commands:       m.commands,
		Clusters:       m.clusters,
		Domains:        m.domains,
		SharedCerts:    m.certs,
		Deploys:        m.deploys,
		Offlines:       m.offlines,
		Probes:         m.probes,
		Plans:          m.plans,
	}
}

type stubClients struct {
	clients map[string]*kube.Client
	err     error
}

func (s *stubClients) For(_ context.Context, name string) (*kube.Client, error) {
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.clients[name]
	if !ok {
		return nil, &domain.ClusterNotFoundError{Name: name}
	}
	return c, nil
}

type stubSnapshots struct {
	mu    sync.Mutex
	snaps map[string]*domain.ProcessSnapshot
	err   error
}

func (s *stubSnapshots) Save(_ context.Context, snap *domain.ProcessSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.snaps == nil {
		s.snaps = map[string]*domain.ProcessSnapshot{}
	}
	s.snaps[snap.AppName] = snap
	return nil
}

func (s *stubSnapshots) Get(_ context.Context, appName string) (*domain.ProcessSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[appName]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snap, nil
}

type stubLogStream struct {
	mu     sync.Mutex
	lines  map[string][]string
	closed map[string]bool
}

func (s *stubLogStream) Append(_ context.Context, streamID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lines == nil {
		s.lines = map[string][]string{}
	}
	s.lines[streamID] = append(s.lines[streamID], line)
	return nil
}

func (s *stubLogStream) Close(_ context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed == nil {
		s.closed = map[string]bool{}
	}
	s.closed[streamID] = true
	return nil
}

func (s *stubLogStream) text(streamID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.lines[streamID], "\n")
}

type stubQueue struct {
	mu    sync.Mutex
	tasks []*domain.Task
	err   error
}

func (q *stubQueue) Enqueue(_ context.Context, t *domain.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}

func (q *stubQueue) Dequeue(_ context.Context, _ time.Duration) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, nil
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, nil
}

func (q *stubQueue) kinds() []domain.TaskKind {
	q.mu.Lock()
	defer q.mu.Unlock()
	return lo.Map(q.tasks, func(t *domain.Task, _ int) domain.TaskKind { return t.Kind })
}

// --- fixtures ---

const testCluster = "main"

var customListKinds = map[schema.GroupVersionResource]string{
	{Group: "paas.bk.tencent.com", Version: "v1alpha2", Resource: "bkapps"}:                         "BkAppList",
	{Group: "paas.bk.tencent.com", Version: "v1alpha1", Resource: "domaingroupmappings"}:            "DomainGroupMappingList",
	{Group: "paas.bk.tencent.com", Version: "v1alpha1", Resource: "egresses"}:                       "EgressList",
	{Group: "autoscaling.tkex.tencent.com", Version: "v1alpha1", Resource: "generalpodautoscalers"}: "GeneralPodAutoscalerList",
	{Group: "monitoring.coreos.com", Version: "v1", Resource: "servicemonitors"}:                    "ServiceMonitorList",
	{Group: "bk.tencent.com", Version: "v1alpha1", Resource: "bklogconfigs"}:                        "BkLogConfigList",
}

// newFakeKubeClient 返回带 fake typed/dynamic 客户端的 Client，RESTMapper 认识全部自定义资源。
func newFakeKubeClient(objects ...runtime.Object) *kube.Client {
	rm := meta.NewDefaultRESTMapper(nil)
	for gvr, listKind := range customListKinds {
		kind := strings.TrimSuffix(listKind, "List")
		rm.AddSpecific(gvr.GroupVersion().WithKind(kind), gvr, gvr.GroupVersion().WithResource(strings.ToLower(kind)), meta.RESTScopeNamespace)
	}
	return &kube.Client{
		Cluster: testCluster,
		Kube:    fake.NewSimpleClientset(objects...),
		Dynamic: dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), customListKinds),
		Mapper:  rm,
	}
}

// markDeploymentsReady 让 fake 集群中写入的 Deployment 立即就绪。
func markDeploymentsReady(client *kube.Client) {
	cs := client.Kube.(*fake.Clientset)
	ready := func(action k8stesting.Action) (bool, runtime.Object, error) {
		var obj runtime.Object
		switch a := action.(type) {
		case k8stesting.CreateAction:
			obj = a.GetObject()
		case k8stesting.UpdateAction:
			obj = a.GetObject()
		}
		if d, ok := obj.(*appsv1.Deployment); ok {
			replicas := ptr.Deref(d.Spec.Replicas, 1)
			d.Status.ObservedGeneration = d.Generation
			d.Status.Replicas = replicas
			d.Status.UpdatedReplicas = replicas
			d.Status.ReadyReplicas = replicas
		}
		return false, nil, nil
	}
	cs.PrependReactor("create", "deployments", ready)
	cs.PrependReactor("update", "deployments", ready)
}

// finishHookPods 让新建的钩子 Pod 以给定退出码结束。
func finishHookPods(client *kube.Client, exitCode int32) {
	cs := client.Kube.(*fake.Clientset)
	cs.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		p, ok := action.(k8stesting.CreateAction).GetObject().(*corev1.Pod)
		if !ok || p.Name != mapper.HookPodName {
			return false, nil, nil
		}
		p.Status.Phase = corev1.PodSucceeded
		if exitCode != 0 {
			p.Status.Phase = corev1.PodFailed
		}
		p.Status.ContainerStatuses = []corev1.ContainerStatus{{
			Name:  "hook",
			State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{ExitCode: exitCode, Reason: "Completed"}},
		}}
		return false, nil, nil
	})
}

// testEnv 组装一套内存仓库、fake 集群与服务。
type testEnv struct {
	repos     *memRepos
	client    *kube.Client
	clients   *stubClients
	clusters  *ClusterService
	mappers   *mapper.Registry
	snapshots *stubSnapshots
	logs      *stubLogStream
	queue     *stubQueue
	app       *domain.WlApp
}

func newTestEnv() *testEnv {
	repos := newMemRepos()
	client := newFakeKubeClient()
	clients := &stubClients{clients: map[string]*kube.Client{testCluster: client}}
	ctx := context.Background()
	_ = repos.clusters.Save(ctx, &domain.Cluster{
		Name: testCluster, Region: "default", TenantID: "t1", IsDefault: true,
		APIServers: []domain.APIServer{{Host: "https://10.0.0.1:6443"}},
		IngressConfig: domain.IngressConfig{
			AppRootDomains: []domain.DomainConfig{{Name: "apps.example.com"}},
		},
	})
	for _, p := range domain.BuiltinPlans() {
		p := p
		_ = repos.plans.Save(ctx, &p)
	}
	env := &testEnv{
		repos:     repos,
		client:    client,
		clients:   clients,
		clusters:  NewClusterService(repos.clusters, clients),
		mappers:   mapper.NewRegistry(mapper.DefaultOptions()),
		snapshots: &stubSnapshots{},
		logs:      &stubLogStream{},
		queue:     &stubQueue{},
	}
	app, err := NewAppService(repos.apps, repos.configs, env.mappers).EnsureWlApp(ctx, EnsureWlAppRequest{
		Region: "default", TenantID: "t1", AppCode: "app1", Env: "stag", Type: domain.AppTypeDefault, Owner: "admin",
	})
	if err != nil {
		panic(err)
	}
	env.app = app
	return env
}

func (e *testEnv) processService() *ProcessService {
	return NewProcessService(e.repos.repositories(), e.clusters, e.clients, e.mappers, e.snapshots, 5)
}

// seedRelease 直接写入一个成功的 Release 及其镜像 Build。
func (e *testEnv) seedRelease(procfile map[string]string) (*domain.Release, *domain.Build) {
	ctx := context.Background()
	build := &domain.Build{
		UUID: uuid.NewString(), ModuleID: "m1", ArtifactType: domain.ArtifactImage,
		Image: "example.com/app1:abc", Procfile: procfile, CreatedAt: time.Now(),
	}
	_ = e.repos.builds.Save(ctx, build)
	cfg, _ := e.repos.configs.FindLatest(ctx, e.app.UUID)
	rel := &domain.Release{AppID: e.app.UUID, BuildID: build.UUID, ConfigID: cfg.UUID, Procfile: procfile}
	_ = e.repos.releases.CreateNext(ctx, rel)
	return rel, build
}
