package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/retry"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/kube"
	"github.com/chiwei-platform/paas-workloads/internal/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/metrics"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// 进程操作名，同时作为 process_operate 指标的 operation 标签。
const (
	OpScale   = "scale"
	OpStart   = "start"
	OpStop    = "stop"
	OpRestart = "restart"
)

// ProcessService 读取进程实时状态并执行扩缩容、启停与重启。
type ProcessService struct {
	loader      *workloadLoader
	snapshots   port.SnapshotStore
	maxReplicas int32
}

func NewProcessService(
	repos *Repositories,
	clusters *ClusterService,
	clients port.ClusterClients,
	mappers *mapper.Registry,
	snapshots port.SnapshotStore,
	maxReplicas int32,
) *ProcessService {
	return &ProcessService{
		loader:      &workloadLoader{repos: repos, clusters: clusters, clients: clients, mappers: mappers},
		snapshots:   snapshots,
		maxReplicas: maxReplicas,
	}
}

// ListProcesses 返回进程及其实例，实例按进程类型归组。
func (s *ProcessService) ListProcesses(ctx context.Context, app *domain.WlApp) (*domain.ProcessesInfo, error) {
	w, err := s.loader.forApp(ctx, app)
	if err != nil {
		return nil, err
	}
	return listProcesses(ctx, w)
}

func listProcesses(ctx context.Context, w *workload) (*domain.ProcessesInfo, error) {
	ns := w.app.Namespace
	deps, err := w.client.Kube.AppsV1().Deployments(ns).List(ctx, metav1.ListOptions{
		LabelSelector: mapper.CategorySelector(w.app, mapper.CategoryProcess),
	})
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	pods, err := w.client.Kube.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{
		LabelSelector: mapper.ProcessPodsSelector(w.app),
	})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}

	instances := map[string][]domain.Instance{}
	for i := range pods.Items {
		inst := mapper.InstanceFromPod(&pods.Items[i])
		instances[inst.ProcessType] = append(instances[inst.ProcessType], inst)
	}
	procs := make([]domain.Process, 0, len(deps.Items))
	for i := range deps.Items {
		p := mapper.ProcessFromDeployment(&deps.Items[i])
		if insts, ok := instances[p.Type]; ok {
			sort.Slice(insts, func(a, b int) bool { return insts[a].Name < insts[b].Name })
			p.Instances = insts
		}
		procs = append(procs, p)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].Type < procs[j].Type })
	return &domain.ProcessesInfo{Processes: procs, RvProc: deps.ResourceVersion, RvInst: pods.ResourceVersion}, nil
}

// Scale 调整进程副本数。超过上限时按上限生效并返回 ReplicasExceedQuotaError，扩到 0 等同于停止。
func (s *ProcessService) Scale(ctx context.Context, app *domain.WlApp, procType string, replicas int32) error {
	if replicas < 0 {
		return fmt.Errorf("%w: replicas must not be negative", domain.ErrInvalidInput)
	}
	var quotaErr error
	if s.maxReplicas > 0 && replicas > s.maxReplicas {
		quotaErr = &domain.ReplicasExceedQuotaError{Requested: replicas, Max: s.maxReplicas}
		replicas = s.maxReplicas
	}
	err := s.changeTarget(ctx, app, procType, OpScale, func(t *domain.ProcessTarget) {
		if replicas == 0 {
			t.Status = domain.ProcessStop
			return
		}
		t.Replicas = replicas
		t.Status = domain.ProcessStart
	})
	if err != nil {
		return err
	}
	return quotaErr
}

// Start 恢复停止前保存的副本数，从未设置过时为 1。
func (s *ProcessService) Start(ctx context.Context, app *domain.WlApp, procType string) error {
	return s.changeTarget(ctx, app, procType, OpStart, func(t *domain.ProcessTarget) {
		if t.Replicas == 0 {
			t.Replicas = 1
		}
		t.Status = domain.ProcessStart
	})
}

// Stop 把副本数降为 0，期望副本数保留在 Config 中。进程不存在时视为已停止。
func (s *ProcessService) Stop(ctx context.Context, app *domain.WlApp, procType string) error {
	return s.changeTarget(ctx, app, procType, OpStop, func(t *domain.ProcessTarget) {
		t.Status = domain.ProcessStop
	})
}

func (s *ProcessService) changeTarget(ctx context.Context, app *domain.WlApp, procType, op string, mutate func(*domain.ProcessTarget)) (err error) {
	defer func() { metrics.ProcessOperate.WithLabelValues(op, metrics.Result(err)).Inc() }()

	w, err := s.loader.forApp(ctx, app)
	if err != nil {
		return err
	}
	exists, err := processExists(ctx, w, procType)
	if err != nil {
		return err
	}
	if !exists && !s.inLatestProcfile(ctx, app, procType) {
		if op == OpStop {
			return nil
		}
		return domain.NewScaleProcessError(procType, domain.ErrProcessNotFound, true)
	}

	var target domain.ProcessTarget
	cfg, err := s.loader.repos.Configs.AppendFromLatest(ctx, app.UUID, func(c *domain.Config) error {
		target = c.Target(procType)
		mutate(&target)
		c.SetTarget(procType, target)
		return nil
	})
	if err != nil {
		return err
	}
	w.cfg = cfg

	replicas := target.DesiredReplicas()
	switch {
	case app.IsCloudNative():
		err = scaleBkApp(ctx, w, procType, replicas)
	case exists:
		err = scaleDeployment(ctx, w, procType, replicas)
	case replicas > 0:
		err = s.createDeployment(ctx, w, procType)
	}
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "process target changed", "app", app.Name, "process", procType, "operation", op, "replicas", replicas)
	s.recordSnapshot(ctx, w)
	return nil
}

func (s *ProcessService) inLatestProcfile(ctx context.Context, app *domain.WlApp, procType string) bool {
	release, err := s.loader.repos.Releases.FindLatest(ctx, app.UUID)
	if err != nil {
		return false
	}
	_, ok := release.Procfile[procType]
	return ok
}

func (s *ProcessService) createDeployment(ctx context.Context, w *workload, procType string) error {
	release, build, err := s.loader.latestRelease(ctx, w.app.UUID)
	if err != nil {
		return domain.NewScaleProcessError(procType, err, errors.Is(err, domain.ErrNotFound))
	}
	in, err := s.loader.renderInput(ctx, w, release, build, procType)
	if err != nil {
		return err
	}
	d, err := s.loader.mappers.Deployment(w.version, in)
	if err != nil {
		return err
	}
	if _, err := kube.ApplyDeployment(ctx, w.client.Kube, d); err != nil {
		return domain.NewScaleProcessError(procType, err, false)
	}
	if svc := mapper.Service(w.version, w.app, procType, mapper.BackendOf(release.Procfile), w.cfg.Target(procType)); svc != nil {
		return kube.ApplyService(ctx, w.client.Kube, svc)
	}
	return nil
}

// Restart 修改 Pod 模板注解触发滚动重启，不改变副本数。已停止的进程不做处理。
func (s *ProcessService) Restart(ctx context.Context, app *domain.WlApp, procType string) (err error) {
	defer func() { metrics.ProcessOperate.WithLabelValues(OpRestart, metrics.Result(err)).Inc() }()

	w, err := s.loader.forApp(ctx, app)
	if err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339)

	if app.IsCloudNative() {
		ri, err := w.client.Namespaced(mapper.BkAppGVK, app.Namespace)
		if err != nil {
			return err
		}
		patch, _ := json.Marshal(map[string]interface{}{
			"metadata": map[string]interface{}{
				"annotations": map[string]string{mapper.AnnotationRestartedAt: stamp},
			},
		})
		_, err = ri.Patch(ctx, app.Name, types.MergePatchType, patch, metav1.PatchOptions{})
		if apierrors.IsNotFound(err) {
			return domain.NewScaleProcessError(procType, err, true)
		}
		return err
	}

	name := w.version.DeploymentName(app, procType)
	deployments := w.client.Kube.AppsV1().Deployments(app.Namespace)
	d, err := deployments.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return domain.NewScaleProcessError(procType, err, true)
	}
	if err != nil {
		return err
	}
	if d.Spec.Replicas != nil && *d.Spec.Replicas == 0 {
		return nil
	}
	patch, _ := json.Marshal(map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"annotations": map[string]string{mapper.AnnotationRestartedAt: stamp},
				},
			},
		},
	})
	if _, err := deployments.Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{}); err != nil {
		return domain.NewScaleProcessError(procType, err, apierrors.IsNotFound(err))
	}
	slog.InfoContext(ctx, "process restarted", "app", app.Name, "process", procType)
	return nil
}

// Snapshot 把当前进程压缩后写入缓存。
func (s *ProcessService) Snapshot(ctx context.Context, app *domain.WlApp) (*domain.ProcessSnapshot, error) {
	w, err := s.loader.forApp(ctx, app)
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, w)
}

func (s *ProcessService) snapshot(ctx context.Context, w *workload) (*domain.ProcessSnapshot, error) {
	info, err := listProcesses(ctx, w)
	if err != nil {
		return nil, err
	}
	snap := &domain.ProcessSnapshot{
		AppName:   w.app.Name,
		Processes: domain.CondenseProcesses(info.Processes),
		CreatedAt: time.Now(),
	}
	if err := s.snapshots.Save(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// GetSnapshot 优先读缓存，未命中时查询集群并回写。
func (s *ProcessService) GetSnapshot(ctx context.Context, app *domain.WlApp) (*domain.ProcessSnapshot, error) {
	snap, err := s.snapshots.Get(ctx, app.Name)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return s.Snapshot(ctx, app)
}

func (s *ProcessService) recordSnapshot(ctx context.Context, w *workload) {
	if _, err := s.snapshot(ctx, w); err != nil {
		slog.WarnContext(ctx, "record process snapshot failed", "app", w.app.Name, "error", err)
	}
}

// processExists 判断进程在集群中是否已有对应资源。
func processExists(ctx context.Context, w *workload, procType string) (bool, error) {
	if w.app.IsCloudNative() {
		ri, err := w.client.Namespaced(mapper.BkAppGVK, w.app.Namespace)
		if err != nil {
			return false, err
		}
		obj, err := ri.Get(ctx, w.app.Name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return bkAppProcessIndex(obj, procType) >= 0, nil
	}
	_, err := w.client.Kube.AppsV1().Deployments(w.app.Namespace).Get(ctx, w.version.DeploymentName(w.app, procType), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func scaleDeployment(ctx context.Context, w *workload, procType string, replicas int32) error {
	name := w.version.DeploymentName(w.app, procType)
	patch := []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
	_, err := w.client.Kube.AppsV1().Deployments(w.app.Namespace).Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return domain.NewScaleProcessError(procType, err, apierrors.IsNotFound(err))
	}
	return nil
}

// scaleBkApp 修改 BkApp 中对应进程的副本数，Deployment 由 operator 同步。
func scaleBkApp(ctx context.Context, w *workload, procType string, replicas int32) error {
	ri, err := w.client.Namespaced(mapper.BkAppGVK, w.app.Namespace)
	if err != nil {
		return err
	}
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		obj, err := ri.Get(ctx, w.app.Name, metav1.GetOptions{})
		if err != nil {
			return domain.NewScaleProcessError(procType, err, apierrors.IsNotFound(err))
		}
		procs, _, _ := unstructured.NestedSlice(obj.Object, "spec", "processes")
		idx := bkAppProcessIndex(obj, procType)
		if idx < 0 {
			return domain.NewScaleProcessError(procType, domain.ErrProcessNotFound, true)
		}
		proc := procs[idx].(map[string]interface{})
		proc["replicas"] = int64(replicas)
		if err := unstructured.SetNestedSlice(obj.Object, procs, "spec", "processes"); err != nil {
			return err
		}
		_, err = ri.Update(ctx, obj, metav1.UpdateOptions{})
		return err
	})
}

func bkAppProcessIndex(obj *unstructured.Unstructured, procType string) int {
	procs, _, _ := unstructured.NestedSlice(obj.Object, "spec", "processes")
	for i, p := range procs {
		pm, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		if name, _ := pm["name"].(string); name == procType {
			return i
		}
	}
	return -1
}
