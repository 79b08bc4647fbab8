package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/kube"
	"github.com/chiwei-platform/paas-workloads/internal/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// IngressService 让集群中的 Ingress 与 WlApp 的访问入口保持一致。
type IngressService struct {
	loader *workloadLoader
	queue  port.TaskQueue
}

func NewIngressService(repos *Repositories, clusters *ClusterService, clients port.ClusterClients, mappers *mapper.Registry, queue port.TaskQueue) *IngressService {
	return &IngressService{
		loader: &workloadLoader{repos: repos, clusters: clusters, clients: clients, mappers: mappers},
		queue:  queue,
	}
}

// BindDomainRequest 绑定一个自定义域名。
type BindDomainRequest struct {
	Host         string            `json:"host"`
	PathPrefix   string            `json:"path_prefix"`
	HTTPSEnabled bool              `json:"https_enabled"`
	Annotations  map[string]string `json:"annotations"`
}

func (s *IngressService) BindDomain(ctx context.Context, app *domain.WlApp, req BindDomainRequest) (*domain.Domain, error) {
	if err := domain.ValidateHost(req.Host); err != nil {
		return nil, err
	}
	prefix, err := domain.NormalizePathPrefix(req.PathPrefix)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	d := &domain.Domain{
		UUID:         uuid.NewString(),
		AppID:        app.UUID,
		Host:         req.Host,
		PathPrefix:   prefix,
		HTTPSEnabled: req.HTTPSEnabled,
		Annotations:  mapper.StripReservedAnnotations(req.Annotations),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.loader.repos.Domains.Save(ctx, d); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "domain bound", "app", app.Name, "host", d.Host, "path", d.PathPrefix)
	return d, nil
}

func (s *IngressService) UnbindDomain(ctx context.Context, app *domain.WlApp, domainID string) error {
	domains, err := s.loader.repos.Domains.FindByApp(ctx, app.UUID)
	if err != nil {
		return err
	}
	if !lo.ContainsBy(domains, func(d *domain.Domain) bool { return d.UUID == domainID }) {
		return fmt.Errorf("domain %s: %w", domainID, domain.ErrNotFound)
	}
	return s.loader.repos.Domains.Delete(ctx, domainID)
}

func (s *IngressService) ListDomains(ctx context.Context, app *domain.WlApp) ([]*domain.Domain, error) {
	return s.loader.repos.Domains.FindByApp(ctx, app.UUID)
}

// RequestSync 投递一次异步同步。
func (s *IngressService) RequestSync(ctx context.Context, app *domain.WlApp) error {
	return s.queue.Enqueue(ctx, newTask(ctx, domain.TaskSyncIngress, app.UUID, ""))
}

// SyncByID 供调度任务使用。
func (s *IngressService) SyncByID(ctx context.Context, appID string) error {
	w, err := s.loader.load(ctx, appID)
	if err != nil {
		return err
	}
	return s.sync(ctx, w)
}

// Sync 计算期望的入口集合并下发，删除不再需要的平台 Ingress。期望为空时返回 EmptyAppIngressError。
func (s *IngressService) Sync(ctx context.Context, app *domain.WlApp) error {
	w, err := s.loader.forApp(ctx, app)
	if err != nil {
		return err
	}
	return s.sync(ctx, w)
}

func (s *IngressService) sync(ctx context.Context, w *workload) error {
	routes, err := s.desiredRoutes(ctx, w)
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		return &domain.EmptyAppIngressError{AppName: w.app.Name}
	}
	if err := s.applyCerts(ctx, w, routes); err != nil {
		return err
	}
	if w.app.IsCloudNative() {
		if err := applyCustomResource(ctx, w.client, mapper.DomainGroupMappingGVK, mapper.DomainGroupMapping(w.app, routes)); err != nil {
			return err
		}
		slog.InfoContext(ctx, "domain group mapping synced", "app", w.app.Name, "routes", len(routes))
		return nil
	}

	svcName, port, err := s.backend(ctx, w)
	if err != nil {
		return err
	}
	desired := make(map[string]bool, len(routes))
	for _, r := range routes {
		if err := kube.ApplyIngress(ctx, w.client.Kube, mapper.Ingress(w.app, r, svcName, port)); err != nil {
			return err
		}
		desired[r.IngressName()] = true
	}

	ingresses := w.client.Kube.NetworkingV1().Ingresses(w.app.Namespace)
	existing, err := ingresses.List(ctx, metav1.ListOptions{LabelSelector: mapper.CategorySelector(w.app, mapper.CategoryIngress)})
	if err != nil {
		return err
	}
	for _, ing := range existing.Items {
		if desired[ing.Name] {
			continue
		}
		if err := kube.IgnoreNotFound(ingresses.Delete(ctx, ing.Name, metav1.DeleteOptions{})); err != nil {
			return err
		}
		slog.InfoContext(ctx, "stale ingress deleted", "app", w.app.Name, "ingress", ing.Name)
	}
	slog.InfoContext(ctx, "ingresses synced", "app", w.app.Name, "routes", len(routes))
	return nil
}

func (s *IngressService) desiredRoutes(ctx context.Context, w *workload) ([]mapper.Route, error) {
	repos := s.loader.repos
	custom, err := repos.Domains.FindByApp(ctx, w.app.UUID)
	if err != nil {
		return nil, err
	}
	certs, err := repos.SharedCerts.FindByRegion(ctx, w.app.Region, w.app.TenantID)
	if err != nil {
		return nil, err
	}
	return mapper.DesiredRoutes(mapper.RouteInput{App: w.app, Cluster: w.cluster, Custom: custom, Certs: certs})
}

func (s *IngressService) applyCerts(ctx context.Context, w *workload, routes []mapper.Route) error {
	certs := lo.UniqBy(
		lo.FilterMap(routes, func(r mapper.Route, _ int) (*domain.AppDomainSharedCert, bool) { return r.Cert, r.Cert != nil }),
		func(c *domain.AppDomainSharedCert) string { return c.Name },
	)
	for _, c := range certs {
		if err := kube.ApplySecret(ctx, w.client.Kube, mapper.CertSecret(w.app, c)); err != nil {
			return err
		}
	}
	return nil
}

// backend 返回默认入口进程的 Service 与端口。从未发布过时按 web 进程处理。
func (s *IngressService) backend(ctx context.Context, w *workload) (string, int32, error) {
	procTypes := []string{"web"}
	release, err := s.loader.repos.Releases.FindLatest(ctx, w.app.UUID)
	switch {
	case err == nil:
		procTypes = domain.SortedKeys(release.Procfile)
	case !errors.Is(err, domain.ErrNotFound):
		return "", 0, err
	}
	procType := mapper.DefaultBackend(procTypes)
	ports := mapper.ResolveServicePorts(procType, procType, w.cfg.Target(procType).Services)
	if len(ports) == 0 {
		return "", 0, fmt.Errorf("%w: process %s exposes no service port", domain.ErrInvalidInput, procType)
	}
	return w.version.ServiceName(w.app, procType), ports[0].Port, nil
}
