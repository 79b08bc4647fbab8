package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/utils/ptr"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/kube"
	"github.com/chiwei-platform/paas-workloads/internal/logging"
	"github.com/chiwei-platform/paas-workloads/internal/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/metrics"
	"github.com/chiwei-platform/paas-workloads/internal/port"
	"github.com/chiwei-platform/paas-workloads/internal/wait"
)

type DeployOptions struct {
	// Timeout 是单次部署的总时限。
	Timeout time.Duration
	// HookTimeout 是发布前钩子的独立时限。
	HookTimeout time.Duration
}

// DeployService 驱动发布状态机：等待构建、执行钩子、下发资源、等待就绪。
// 它是 Release 状态的唯一写入方。
type DeployService struct {
	loader    *workloadLoader
	processes *ProcessService
	engine    *wait.Engine
	logs      port.LogStream
	queue     port.TaskQueue
	opts      DeployOptions
}

func NewDeployService(
	repos *Repositories,
	clusters *ClusterService,
	clients port.ClusterClients,
	mappers *mapper.Registry,
	processes *ProcessService,
	engine *wait.Engine,
	logs port.LogStream,
	queue port.TaskQueue,
	opts DeployOptions,
) *DeployService {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.HookTimeout <= 0 {
		opts.HookTimeout = 15 * time.Minute
	}
	return &DeployService{
		loader:    &workloadLoader{repos: repos, clusters: clusters, clients: clients, mappers: mappers},
		processes: processes,
		engine:    engine,
		logs:      logs,
		queue:     queue,
		opts:      opts,
	}
}

type DeployRequest struct {
	BuildID        string `json:"build_id"`
	BuildProcessID string `json:"build_process_id"`
	Operator       string `json:"operator"`
	PreReleaseHook string `json:"pre_release_hook"`
}

// Accept 校验并登记部署请求，实际执行交给调度队列。
func (s *DeployService) Accept(ctx context.Context, app *domain.WlApp, req DeployRequest) (*domain.DeployOperation, error) {
	if req.BuildID == "" && req.BuildProcessID == "" {
		return nil, fmt.Errorf("%w: build_id or build_process_id is required", domain.ErrInvalidInput)
	}
	if req.BuildID != "" {
		if _, err := s.loader.repos.Builds.FindByID(ctx, req.BuildID); err != nil {
			return nil, err
		}
	}
	if req.BuildProcessID != "" {
		if _, err := s.loader.repos.BuildProcesses.FindByID(ctx, req.BuildProcessID); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	op := &domain.DeployOperation{
		UUID:           uuid.NewString(),
		AppID:          app.UUID,
		BuildID:        req.BuildID,
		BuildProcessID: req.BuildProcessID,
		Operator:       req.Operator,
		PreReleaseHook: req.PreReleaseHook,
		Status:         domain.DeployPending,
		Phase:          domain.PhaseCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.loader.repos.Deploys.CreatePending(ctx, op); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, newTask(ctx, domain.TaskDeploy, app.UUID, op.UUID)); err != nil {
		op.Status = domain.DeployFailed
		op.Phase = domain.PhaseFailed
		op.ErrDetail = "enqueue deploy: " + err.Error()
		op.UpdatedAt = time.Now()
		if uerr := s.loader.repos.Deploys.Update(ctx, op); uerr != nil {
			slog.ErrorContext(ctx, "mark deploy failed", "deploy", op.UUID, "error", uerr)
		}
		return nil, fmt.Errorf("enqueue deploy: %w", err)
	}
	slog.InfoContext(ctx, "deploy accepted", "app", app.Name, "deploy", op.UUID, "operator", op.Operator)
	return op, nil
}

func (s *DeployService) GetDeploy(ctx context.Context, id string) (*domain.DeployOperation, error) {
	return s.loader.repos.Deploys.FindByID(ctx, id)
}

// Interrupt 请求中断部署。等待就绪阶段总是可中断；关联构建时须等构建日志就绪。
// 已结束或已请求中断的部署重复调用不做任何事。
func (s *DeployService) Interrupt(ctx context.Context, deployID, operator string) error {
	repos := s.loader.repos
	op, err := repos.Deploys.FindByID(ctx, deployID)
	if err != nil {
		return err
	}
	if op.Status.IsTerminal() || op.InterruptRequested {
		return nil
	}
	if op.Operator != "" && operator != op.Operator {
		return &domain.DeployInterruptionFailedError{Reason: "only the deploy operator can interrupt it"}
	}
	if op.Phase != domain.PhaseWaitingForReady && op.BuildProcessID != "" {
		bp, err := repos.BuildProcesses.FindByID(ctx, op.BuildProcessID)
		if err != nil {
			return err
		}
		if !bp.LogsWasReady {
			return &domain.DeployInterruptionFailedError{Reason: "build logs are not ready yet"}
		}
	}

	set, err := repos.Deploys.RequestInterrupt(ctx, deployID)
	if err != nil {
		return err
	}
	if !set {
		// 部署已先一步结束
		return nil
	}
	if op.ReleaseID != "" {
		release, err := repos.Releases.FindByID(ctx, op.ReleaseID)
		if err != nil {
			return err
		}
		if !release.Failed {
			markReleaseFailed(release, domain.ReasonInterrupted)
			if err := repos.Releases.Update(ctx, release); err != nil {
				return err
			}
		}
	}
	slog.InfoContext(ctx, "deploy interrupt requested", "deploy", deployID, "operator", operator, "phase", op.Phase)
	return nil
}

func markReleaseFailed(r *domain.Release, reason string) {
	r.Failed = true
	r.FailedReason = reason
	r.UpdatedAt = time.Now()
}

// Execute 运行一次部署直至终态，由调度 worker 调用。已结束的部署直接返回。
func (s *DeployService) Execute(ctx context.Context, deployID string) error {
	op, err := s.loader.repos.Deploys.FindByID(ctx, deployID)
	if err != nil {
		return err
	}
	if op.Status.IsTerminal() {
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	r := &deployRun{svc: s, op: op, started: time.Now()}
	runErr := r.run(runCtx)
	// 超时或取消后仍需写回终态
	return s.finish(context.WithoutCancel(ctx), r, runErr)
}

type rollout struct {
	procType   string
	name       string
	generation int64
	replicas   int32
}

// deployRun 保存单次部署执行中的状态。
type deployRun struct {
	svc      *DeployService
	op       *domain.DeployOperation
	started  time.Time
	w        *workload
	build    *domain.Build
	release  *domain.Release
	cmd      *domain.Command
	rollouts []rollout
}

func (r *deployRun) repos() *Repositories { return r.svc.loader.repos }

func (r *deployRun) run(ctx context.Context) error {
	w, err := r.svc.loader.load(ctx, r.op.AppID)
	if err != nil {
		return err
	}
	r.w = w

	if r.op.BuildProcessID != "" {
		if err := r.awaitBuild(ctx); err != nil {
			return err
		}
	}
	build, err := r.repos().Builds.FindByID(ctx, r.op.BuildID)
	if err != nil {
		return err
	}
	if err := domain.ValidateProcfile(build.Procfile); err != nil {
		return err
	}
	r.build = build

	release := &domain.Release{
		AppID:    w.app.UUID,
		BuildID:  build.UUID,
		ConfigID: w.cfg.UUID,
		Procfile: build.Procfile,
		Summary:  fmt.Sprintf("deploy %s by %s", build.Image, r.op.Operator),
	}
	if err := r.repos().Releases.CreateNext(ctx, release); err != nil {
		return err
	}
	r.release = release
	r.op.ReleaseID = release.UUID
	r.op.ReleaseVersion = release.Version
	r.save(ctx)
	r.emit(ctx, fmt.Sprintf("release v%d created for build %s", release.Version, build.UUID))

	if err := r.prepareNamespace(ctx); err != nil {
		return err
	}
	if r.op.PreReleaseHook != "" && !w.app.IsCloudNative() {
		if err := r.runHook(ctx); err != nil {
			return err
		}
	}
	if err := r.checkInterrupt(ctx); err != nil {
		return err
	}

	if w.app.IsCloudNative() {
		err = r.applyBkApp(ctx)
	} else {
		err = r.applyProcesses(ctx)
	}
	if err != nil {
		return err
	}
	r.setPhase(ctx, domain.PhaseResourcesApplied)

	if err := r.checkInterrupt(ctx); err != nil {
		return err
	}
	r.setPhase(ctx, domain.PhaseWaitingForReady)
	return r.waitReady(ctx)
}

func (r *deployRun) awaitBuild(ctx context.Context) error {
	id := r.op.BuildProcessID
	r.emit(ctx, "waiting for build process "+id)
	target := wait.TargetFunc{
		Name: "build process " + id,
		Fn: func(ctx context.Context) (bool, string, error) {
			bp, err := r.repos().BuildProcesses.FindByID(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return false, "", &wait.ResourceMissingError{Kind: "BuildProcess", Name: id}
			}
			if err != nil {
				return false, "", err
			}
			switch bp.Status {
			case domain.BuildProcessSuccessful:
				if bp.BuildID == "" {
					return false, "", &wait.TargetFailedError{Target: "build process " + id, Reason: "finished without build"}
				}
				r.op.BuildID = bp.BuildID
				return true, "build finished", nil
			case domain.BuildProcessFailed, domain.BuildProcessInterrupted:
				return false, "", &wait.TargetFailedError{Target: "build process " + id, Reason: "build " + string(bp.Status)}
			}
			return false, "build is running", nil
		},
	}
	o := r.svc.engine.Wait(ctx, target, remaining(ctx), r.waitOptions()...)
	if !o.OK() {
		return o.Err
	}
	r.save(ctx)
	return nil
}

func (r *deployRun) prepareNamespace(ctx context.Context) error {
	w := r.w
	if err := kube.ApplyNamespace(ctx, w.client.Kube, mapper.Namespace(w.app, w.cfg)); err != nil {
		return fmt.Errorf("apply namespace %s: %w", w.app.Namespace, err)
	}
	secrets, err := mapper.ImageCredentialSecrets(w.app, w.cfg.Runtime.ImageCredentials)
	if err != nil {
		return err
	}
	for _, sec := range secrets {
		if err := kube.ApplySecret(ctx, w.client.Kube, sec); err != nil {
			return err
		}
	}
	return nil
}

// runHook 以 Release 的镜像和环境变量运行发布前钩子 Pod，非零退出码即失败。
func (r *deployRun) runHook(ctx context.Context) error {
	w, repos := r.w, r.repos()
	if running, err := repos.Commands.FindRunning(ctx, w.app.UUID); err == nil && running != nil {
		return domain.ErrCommandRunning
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	now := time.Now()
	cmd := &domain.Command{
		UUID:      uuid.NewString(),
		AppID:     w.app.UUID,
		Type:      domain.CommandPreReleaseHook,
		BuildID:   r.build.UUID,
		Command:   r.op.PreReleaseHook,
		Status:    domain.CommandScheduled,
		Version:   r.release.Version,
		Operator:  r.op.Operator,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repos.Commands.Save(ctx, cmd); err != nil {
		return err
	}
	r.cmd = cmd
	r.setPhase(ctx, domain.PhasePreRelHookRunning)

	if err := r.launchHookPod(ctx); err != nil {
		r.finishCommand(ctx, domain.CommandFailed, nil)
		return fmt.Errorf("launch pre-release hook: %w", err)
	}
	started := time.Now()
	cmd.Status = domain.CommandPending
	cmd.StartTime = &started
	cmd.UpdatedAt = started
	if err := repos.Commands.Update(ctx, cmd); err != nil {
		slog.WarnContext(ctx, "update command failed", "command", cmd.UUID, "error", err)
	}
	r.emit(ctx, "running pre-release hook: "+cmd.Command)

	timeout := min(r.svc.opts.HookTimeout, remaining(ctx))
	o := r.svc.engine.Wait(ctx, wait.HookPodPhase(w.client.Kube, w.app.Namespace, mapper.HookPodName), timeout, r.waitOptions()...)
	switch o.Kind {
	case wait.Succeeded:
		r.finishCommand(ctx, domain.CommandSuccessful, ptr.To[int32](0))
		r.emit(ctx, "pre-release hook succeeded")
		return nil
	case wait.Aborted:
		r.finishCommand(ctx, domain.CommandInterrupted, nil)
	default:
		var exitCode *int32
		var notSucceeded *wait.PodNotSucceededError
		if errors.As(o.Err, &notSucceeded) {
			exitCode = notSucceeded.ExitCode
		}
		r.finishCommand(ctx, domain.CommandFailed, exitCode)
	}
	return fmt.Errorf("pre-release hook: %w", o.Err)
}

// launchHookPod 删除上一次遗留的钩子 Pod，等其消失后再创建。
func (r *deployRun) launchHookPod(ctx context.Context) error {
	w := r.w
	pods := w.client.Kube.CoreV1().Pods(w.app.Namespace)
	if err := kube.IgnoreNotFound(pods.Delete(ctx, mapper.HookPodName, metav1.DeleteOptions{})); err != nil {
		return err
	}
	gone := wait.TargetFunc{
		Name: "previous hook pod",
		Fn: func(ctx context.Context) (bool, string, error) {
			_, err := pods.Get(ctx, mapper.HookPodName, metav1.GetOptions{})
			if apierrors.IsNotFound(err) {
				return true, "", nil
			}
			return false, "", err
		},
	}
	if o := r.svc.engine.Wait(ctx, gone, time.Minute); !o.OK() {
		return o.Err
	}

	in, err := r.svc.loader.renderInput(ctx, w, r.release, r.build, mapper.HookProcessType)
	if err != nil {
		return err
	}
	pod, err := mapper.HookPod(in, r.cmd)
	if err != nil {
		return err
	}
	_, err = pods.Create(ctx, pod, metav1.CreateOptions{})
	return err
}

func (r *deployRun) finishCommand(ctx context.Context, status domain.CommandStatus, exitCode *int32) {
	if r.cmd == nil || !r.cmd.Finish(status, exitCode, time.Now()) {
		return
	}
	if err := r.repos().Commands.Update(context.WithoutCancel(ctx), r.cmd); err != nil {
		slog.WarnContext(ctx, "update command failed", "command", r.cmd.UUID, "error", err)
	}
}

// applyProcesses 下发每个进程的 Deployment、Service 与附属 CR，并删除 procfile 中已移除的进程。
func (r *deployRun) applyProcesses(ctx context.Context) error {
	w := r.w
	procTypes := domain.SortedKeys(r.release.Procfile)
	for _, procType := range procTypes {
		in, err := r.svc.loader.renderInput(ctx, w, r.release, r.build, procType)
		if err != nil {
			return err
		}
		d, err := r.svc.loader.mappers.Deployment(w.version, in)
		if err != nil {
			return err
		}
		applied, err := kube.ApplyDeployment(ctx, w.client.Kube, d)
		if err != nil {
			return err
		}
		r.rollouts = append(r.rollouts, rollout{
			procType:   procType,
			name:       applied.Name,
			generation: applied.Generation,
			replicas:   ptr.Deref(d.Spec.Replicas, 0),
		})
		if svc := mapper.Service(w.version, w.app, procType, mapper.BackendOf(r.release.Procfile), w.cfg.Target(procType)); svc != nil {
			if err := kube.ApplyService(ctx, w.client.Kube, svc); err != nil {
				return err
			}
		}
		if err := r.applyProcessCRs(ctx, procType); err != nil {
			return err
		}
		r.emit(ctx, fmt.Sprintf("process %s applied with %d replicas", procType, ptr.Deref(d.Spec.Replicas, 0)))
	}
	if err := r.reapStaleProcesses(ctx, procTypes); err != nil {
		return err
	}
	return r.applyEgress(ctx)
}

// applyProcessCRs 按集群特性下发 GPA 与 ServiceMonitor，未声明时删除遗留对象。
func (r *deployRun) applyProcessCRs(ctx context.Context, procType string) error {
	w := r.w
	target := w.cfg.Target(procType)
	name := w.version.DeploymentName(w.app, procType)

	if target.Autoscaling != nil && w.cluster.HasFeature(domain.FeatureEnableAutoscaling) {
		if err := applyCustomResource(ctx, w.client, mapper.GPAGVK, mapper.GeneralPodAutoscaler(w.version, w.app, procType, target.Autoscaling)); err != nil {
			return err
		}
	} else if err := deleteCustomResource(ctx, w.client, mapper.GPAGVK, w.app.Namespace, name); err != nil {
		return err
	}

	monitorName := w.version.ServiceName(w.app, procType)
	if target.Monitoring != nil && w.cluster.HasFeature(domain.FeatureEnableBkMonitor) {
		return applyCustomResource(ctx, w.client, mapper.ServiceMonitorGVK, mapper.ServiceMonitor(w.version, w.app, procType, target.Monitoring))
	}
	return deleteCustomResource(ctx, w.client, mapper.ServiceMonitorGVK, w.app.Namespace, monitorName)
}

func (r *deployRun) reapStaleProcesses(ctx context.Context, keep []string) error {
	w := r.w
	deps, err := w.client.Kube.AppsV1().Deployments(w.app.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: mapper.CategorySelector(w.app, mapper.CategoryProcess),
	})
	if err != nil {
		return err
	}
	for _, d := range deps.Items {
		procType := d.Labels[mapper.LabelProcessType]
		if lo.Contains(keep, procType) {
			continue
		}
		if err := removeProcessResources(ctx, w, procType, d.Name); err != nil {
			return err
		}
		r.emit(ctx, fmt.Sprintf("process %s removed", procType))
	}
	return nil
}

func removeProcessResources(ctx context.Context, w *workload, procType, deploymentName string) error {
	ns := w.app.Namespace
	if err := kube.IgnoreNotFound(w.client.Kube.AppsV1().Deployments(ns).Delete(ctx, deploymentName, metav1.DeleteOptions{})); err != nil {
		return err
	}
	svcName := w.version.ServiceName(w.app, procType)
	if err := kube.IgnoreNotFound(w.client.Kube.CoreV1().Services(ns).Delete(ctx, svcName, metav1.DeleteOptions{})); err != nil {
		return err
	}
	if err := deleteCustomResource(ctx, w.client, mapper.GPAGVK, ns, w.version.DeploymentName(w.app, procType)); err != nil {
		return err
	}
	return deleteCustomResource(ctx, w.client, mapper.ServiceMonitorGVK, ns, svcName)
}

func (r *deployRun) applyEgress(ctx context.Context) error {
	w := r.w
	if !w.cfg.Metadata.EnableEgress || !w.cluster.HasFeature(domain.FeatureEnableEgressIP) {
		return nil
	}
	info, err := r.svc.loader.clusters.ListEgressIPs(ctx, w.cluster.Name)
	if err != nil {
		return err
	}
	return applyCustomResource(ctx, w.client, mapper.EgressGVK, mapper.Egress(w.app, info.Digest, info.IPs))
}

// applyBkApp 下发云原生应用的 BkApp，钩子与进程由 operator 执行。
func (r *deployRun) applyBkApp(ctx context.Context) error {
	w := r.w
	obj, err := mapper.BkApp(&mapper.BkAppInput{
		App:            w.app,
		Config:         w.cfg,
		Release:        r.release,
		Build:          r.build,
		PreReleaseHook: r.op.PreReleaseHook,
	})
	if err != nil {
		return err
	}
	if err := applyCustomResource(ctx, w.client, mapper.BkAppGVK, obj); err != nil {
		return err
	}
	r.emit(ctx, "bkapp "+w.app.Name+" applied")
	return nil
}

func (r *deployRun) waitReady(ctx context.Context) error {
	w := r.w
	if w.app.IsCloudNative() {
		ri, err := w.client.Namespaced(mapper.BkAppGVK, w.app.Namespace)
		if err != nil {
			return err
		}
		target := &wait.BkAppReady{Resource: ri, Namespace: w.app.Namespace, Name: w.app.Name}
		if o := r.svc.engine.Wait(ctx, target, remaining(ctx), r.waitOptions()...); !o.OK() {
			return o.Err
		}
		return nil
	}

	for _, ro := range r.rollouts {
		if ro.replicas == 0 {
			continue
		}
		target := &wait.DeploymentRollout{
			Client:             w.client.Kube,
			Namespace:          w.app.Namespace,
			Name:               ro.name,
			ExpectedGeneration: ro.generation,
			Version:            r.release.Version,
		}
		if o := r.svc.engine.Wait(ctx, target, remaining(ctx), r.waitOptions()...); !o.OK() {
			return o.Err
		}
		r.emit(ctx, fmt.Sprintf("process %s is ready", ro.procType))
	}
	return nil
}

func (r *deployRun) waitOptions() []wait.Option {
	return []wait.Option{
		wait.WithAbort(r.interrupted),
		wait.WithProgress(func(line string) { r.emit(context.Background(), line) }),
	}
}

// interrupted 重新读取中断标记。
func (r *deployRun) interrupted(ctx context.Context) (bool, string) {
	cur, err := r.repos().Deploys.FindByID(ctx, r.op.UUID)
	if err != nil || !cur.InterruptRequested {
		return false, ""
	}
	r.op.InterruptRequested = true
	return true, fmt.Sprintf("interrupted by %s", r.op.Operator)
}

func (r *deployRun) checkInterrupt(ctx context.Context) error {
	if abort, reason := r.interrupted(ctx); abort {
		return &wait.AbortedError{Reason: reason}
	}
	return nil
}

func (r *deployRun) setPhase(ctx context.Context, phase domain.DeployPhase) {
	r.op.Phase = phase
	r.save(ctx)
}

func (r *deployRun) save(ctx context.Context) {
	r.op.UpdatedAt = time.Now()
	if err := r.repos().Deploys.Update(ctx, r.op); err != nil {
		slog.WarnContext(ctx, "update deploy failed", "deploy", r.op.UUID, "error", err)
	}
}

func (r *deployRun) emit(ctx context.Context, line string) {
	if err := r.svc.logs.Append(ctx, r.op.LogStreamID(), line); err != nil {
		slog.WarnContext(ctx, "append deploy log failed", "deploy", r.op.UUID, "error", err)
	}
}

// finish 写回部署与 Release 的终态，成功时投递后置任务。
// 成功终态只在未请求中断时写入，收尾期间落下的中断按中断处理。
func (s *DeployService) finish(ctx context.Context, r *deployRun, runErr error) error {
	if runErr == nil {
		runErr = s.commitSuccess(ctx, r)
	}

	var aborted *wait.AbortedError
	switch {
	case runErr == nil:
		// 已由 commitSuccess 写入
	case errors.As(runErr, &aborted) || r.op.InterruptRequested:
		r.op.Status = domain.DeployInterrupted
		r.op.Phase = domain.PhaseFailed
		r.op.ErrDetail = runErr.Error()
	default:
		r.op.Status = domain.DeployFailed
		r.op.Phase = domain.PhaseFailed
		r.op.ErrDetail = runErr.Error()
	}

	if r.release != nil && runErr != nil {
		reason := runErr.Error()
		if r.op.Status == domain.DeployInterrupted {
			reason = domain.ReasonInterrupted
		}
		if cur, err := s.loader.repos.Releases.FindByID(ctx, r.release.UUID); err == nil && cur.Failed {
			r.release = cur
		} else {
			markReleaseFailed(r.release, reason)
			if err := s.loader.repos.Releases.Update(ctx, r.release); err != nil {
				slog.ErrorContext(ctx, "mark release failed", "release", r.release.UUID, "error", err)
			}
		}
	}
	metrics.ObserveDeployment(string(r.op.Status), r.started)

	if runErr != nil {
		r.save(ctx)
		r.emit(ctx, fmt.Sprintf("deploy %s: %v", r.op.Status, runErr))
		slog.ErrorContext(ctx, "deploy failed", "deploy", r.op.UUID, "status", r.op.Status, "error", runErr)
	} else {
		r.emit(ctx, fmt.Sprintf("deploy succeeded, release v%d is running", r.release.Version))
		slog.InfoContext(ctx, "deploy succeeded", "deploy", r.op.UUID, "version", r.release.Version)
		s.enqueuePostSuccess(ctx, r)
	}
	if err := s.logs.Close(ctx, r.op.LogStreamID()); err != nil {
		slog.WarnContext(ctx, "close deploy log failed", "deploy", r.op.UUID, "error", err)
	}
	return runErr
}

// commitSuccess 条件写入成功终态，中断标记已置位时返回 AbortedError。
func (s *DeployService) commitSuccess(ctx context.Context, r *deployRun) error {
	prev := *r.op
	r.op.Status = domain.DeploySuccessful
	r.op.Phase = domain.PhaseSucceeded
	r.op.UpdatedAt = time.Now()
	ok, err := s.loader.repos.Deploys.MarkSucceeded(ctx, r.op)
	if err != nil {
		slog.ErrorContext(ctx, "mark deploy succeeded", "deploy", r.op.UUID, "error", err)
		r.save(ctx)
		return nil
	}
	if ok {
		return nil
	}
	*r.op = prev
	r.op.InterruptRequested = true
	return &wait.AbortedError{Reason: fmt.Sprintf("interrupted by %s", r.op.Operator)}
}

// enqueuePostSuccess 投递成功后的附带任务，失败只记日志。
func (s *DeployService) enqueuePostSuccess(ctx context.Context, r *deployRun) {
	tasks := []*domain.Task{
		newTask(ctx, domain.TaskSyncIngress, r.op.AppID, ""),
		newTask(ctx, domain.TaskDeployFinished, r.op.AppID, r.op.UUID),
	}
	if r.build.ArtifactType == domain.ArtifactImage {
		tasks = append(tasks, newTask(ctx, domain.TaskCleanupImages, r.op.AppID, r.build.ModuleID))
	}
	for _, t := range tasks {
		if err := s.queue.Enqueue(ctx, t); err != nil {
			slog.WarnContext(ctx, "enqueue post deploy task failed", "kind", t.Kind, "error", err)
		}
	}
}

// OnDeployFinished 处理部署完成信号：刷新进程快照。
func (s *DeployService) OnDeployFinished(ctx context.Context, deployID string) error {
	op, err := s.loader.repos.Deploys.FindByID(ctx, deployID)
	if err != nil {
		return err
	}
	w, err := s.loader.load(ctx, op.AppID)
	if err != nil {
		return err
	}
	if _, err := s.processes.snapshot(ctx, w); err != nil {
		return err
	}
	slog.InfoContext(ctx, "deploy finished", "deploy", op.UUID, "app", w.app.Name, "status", op.Status)
	return nil
}

func newTask(ctx context.Context, kind domain.TaskKind, appID, refID string) *domain.Task {
	return &domain.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		AppID:     appID,
		RefID:     refID,
		RequestID: logging.RequestID(ctx),
		CreatedAt: time.Now(),
	}
}

// remaining 返回 ctx 截止前的剩余时间，没有截止时间时为一小时。
func remaining(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return time.Hour
}

func applyCustomResource(ctx context.Context, client *kube.Client, gvk schema.GroupVersionKind, obj *unstructured.Unstructured) error {
	ri, err := client.Namespaced(gvk, obj.GetNamespace())
	if err != nil {
		return err
	}
	_, err = kube.ApplyUnstructured(ctx, ri, obj)
	return err
}

// deleteCustomResource 删除 CR，对象或 CRD 不存在时视为成功。
func deleteCustomResource(ctx context.Context, client *kube.Client, gvk schema.GroupVersionKind, namespace, name string) error {
	ri, err := client.Namespaced(gvk, namespace)
	if meta.IsNoMatchError(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return kube.IgnoreNotFound(ri.Delete(ctx, name, metav1.DeleteOptions{}))
}
