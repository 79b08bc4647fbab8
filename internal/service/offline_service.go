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
	"github.com/chiwei-platform/paas-workloads/internal/wait"
)

// OfflineService 下架 WlApp 的全部工作负载，保留 WlApp 记录以便重新部署。
type OfflineService struct {
	loader    *workloadLoader
	processes *ProcessService
	engine    *wait.Engine
	queue     port.TaskQueue
	timeout   time.Duration
}

func NewOfflineService(
	repos *Repositories,
	clusters *ClusterService,
	clients port.ClusterClients,
	mappers *mapper.Registry,
	processes *ProcessService,
	engine *wait.Engine,
	queue port.TaskQueue,
	timeout time.Duration,
) *OfflineService {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &OfflineService{
		loader:    &workloadLoader{repos: repos, clusters: clusters, clients: clients, mappers: mappers},
		processes: processes,
		engine:    engine,
		queue:     queue,
		timeout:   timeout,
	}
}

func (s *OfflineService) Accept(ctx context.Context, app *domain.WlApp, operator string) (*domain.OfflineOperation, error) {
	now := time.Now()
	op := &domain.OfflineOperation{
		UUID:      uuid.NewString(),
		AppID:     app.UUID,
		Operator:  operator,
		Status:    domain.OfflinePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.loader.repos.Offlines.CreatePending(ctx, op); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, newTask(ctx, domain.TaskOffline, app.UUID, op.UUID)); err != nil {
		s.markFailed(ctx, op, fmt.Errorf("enqueue offline: %w", err))
		return nil, fmt.Errorf("enqueue offline: %w", err)
	}
	slog.InfoContext(ctx, "offline accepted", "app", app.Name, "offline", op.UUID, "operator", operator)
	return op, nil
}

func (s *OfflineService) GetOffline(ctx context.Context, id string) (*domain.OfflineOperation, error) {
	return s.loader.repos.Offlines.FindByID(ctx, id)
}

// Execute 执行下架直至终态，由调度 worker 调用。
func (s *OfflineService) Execute(ctx context.Context, offlineID string) error {
	op, err := s.loader.repos.Offlines.FindByID(ctx, offlineID)
	if err != nil {
		return err
	}
	if op.Status != domain.OfflinePending {
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.run(runCtx, op)
	if err != nil {
		s.markFailed(context.WithoutCancel(ctx), op, err)
		slog.ErrorContext(ctx, "offline failed", "offline", op.UUID, "error", err)
		return err
	}
	op.MarkSuccessful(time.Now())
	if err := s.loader.repos.Offlines.Update(context.WithoutCancel(ctx), op); err != nil {
		return err
	}
	slog.InfoContext(ctx, "offline succeeded", "offline", op.UUID)
	return nil
}

func (s *OfflineService) markFailed(ctx context.Context, op *domain.OfflineOperation, cause error) {
	op.MarkFailed(cause, time.Now())
	if err := s.loader.repos.Offlines.Update(ctx, op); err != nil {
		slog.ErrorContext(ctx, "mark offline failed", "offline", op.UUID, "error", err)
	}
}

func (s *OfflineService) run(ctx context.Context, op *domain.OfflineOperation) error {
	w, err := s.loader.load(ctx, op.AppID)
	if err != nil {
		return err
	}
	if w.app.IsCloudNative() {
		if err := deleteCustomResource(ctx, w.client, mapper.BkAppGVK, w.app.Namespace, w.app.Name); err != nil {
			return err
		}
		if err := deleteCustomResource(ctx, w.client, mapper.DomainGroupMappingGVK, w.app.Namespace, w.app.Name); err != nil {
			return err
		}
		return s.waitStopped(ctx, w)
	}

	procTypes, err := s.processTypes(ctx, w)
	if err != nil {
		return err
	}
	// 只把副本降到 0，不写入停止目标，重新部署后进程按原目标恢复
	for _, procType := range procTypes {
		err := scaleDeployment(ctx, w, procType, 0)
		var scaleErr *domain.ScaleProcessError
		if errors.As(err, &scaleErr) && scaleErr.CausedByNotFound() {
			continue
		}
		if err != nil {
			return err
		}
	}
	for _, procType := range procTypes {
		ns := w.app.Namespace
		if err := deleteCustomResource(ctx, w.client, mapper.ServiceMonitorGVK, ns, w.version.ServiceName(w.app, procType)); err != nil {
			return err
		}
		if err := deleteCustomResource(ctx, w.client, mapper.GPAGVK, ns, w.version.DeploymentName(w.app, procType)); err != nil {
			return err
		}
	}
	if err := deleteCustomResource(ctx, w.client, mapper.BkLogConfigGVK, w.app.Namespace, w.app.Name); err != nil {
		return err
	}

	if err := s.waitStopped(ctx, w); err != nil {
		return err
	}
	if err := s.reap(ctx, w); err != nil {
		return err
	}
	s.processes.recordSnapshot(ctx, w)
	return nil
}

// processTypes 合并最新 Release 的 procfile 与集群中已有的进程。
func (s *OfflineService) processTypes(ctx context.Context, w *workload) ([]string, error) {
	var types []string
	release, err := s.loader.repos.Releases.FindLatest(ctx, w.app.UUID)
	switch {
	case err == nil:
		types = domain.SortedKeys(release.Procfile)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}
	deps, err := w.client.Kube.AppsV1().Deployments(w.app.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: mapper.CategorySelector(w.app, mapper.CategoryProcess),
	})
	if err != nil {
		return nil, err
	}
	for _, d := range deps.Items {
		types = append(types, d.Labels[mapper.LabelProcessType])
	}
	return lo.Uniq(lo.Compact(types)), nil
}

func (s *OfflineService) waitStopped(ctx context.Context, w *workload) error {
	target := &wait.AllStopped{
		Client:        w.client.Kube,
		Namespace:     w.app.Namespace,
		LabelSelector: mapper.ProcessPodsSelector(w.app),
	}
	if o := s.engine.Wait(ctx, target, remaining(ctx)); !o.OK() {
		return o.Err
	}
	return nil
}

// reap 删除进程的 Deployment、Service，钩子 Pod，全部 Ingress 与 Egress。
func (s *OfflineService) reap(ctx context.Context, w *workload) error {
	ns := w.app.Namespace
	cs := w.client.Kube
	byCategory := func(category string) metav1.ListOptions {
		return metav1.ListOptions{LabelSelector: mapper.CategorySelector(w.app, category)}
	}

	deps, err := cs.AppsV1().Deployments(ns).List(ctx, byCategory(mapper.CategoryProcess))
	if err != nil {
		return err
	}
	for _, d := range deps.Items {
		if err := kube.IgnoreNotFound(cs.AppsV1().Deployments(ns).Delete(ctx, d.Name, metav1.DeleteOptions{})); err != nil {
			return err
		}
	}
	svcs, err := cs.CoreV1().Services(ns).List(ctx, byCategory(mapper.CategoryProcess))
	if err != nil {
		return err
	}
	for _, svc := range svcs.Items {
		if err := kube.IgnoreNotFound(cs.CoreV1().Services(ns).Delete(ctx, svc.Name, metav1.DeleteOptions{})); err != nil {
			return err
		}
	}
	if err := kube.IgnoreNotFound(cs.CoreV1().Pods(ns).Delete(ctx, mapper.HookPodName, metav1.DeleteOptions{})); err != nil {
		return err
	}
	ings, err := cs.NetworkingV1().Ingresses(ns).List(ctx, byCategory(mapper.CategoryIngress))
	if err != nil {
		return err
	}
	for _, ing := range ings.Items {
		if err := kube.IgnoreNotFound(cs.NetworkingV1().Ingresses(ns).Delete(ctx, ing.Name, metav1.DeleteOptions{})); err != nil {
			return err
		}
	}
	return deleteCustomResource(ctx, w.client, mapper.EgressGVK, ns, w.app.Name)
}
