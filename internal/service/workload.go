package service

import (
	"context"
	"errors"

	"github.com/samber/lo"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/kube"
	"github.com/chiwei-platform/paas-workloads/internal/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// workload 是操作一个 WlApp 集群资源所需的上下文。
type workload struct {
	app     *domain.WlApp
	cfg     *domain.Config
	version mapper.Version
	cluster *domain.Cluster
	client  *kube.Client
}

type workloadLoader struct {
	repos    *Repositories
	clusters *ClusterService
	clients  port.ClusterClients
	mappers  *mapper.Registry
}

func (l *workloadLoader) load(ctx context.Context, appID string) (*workload, error) {
	app, err := l.repos.Apps.FindByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	return l.forApp(ctx, app)
}

func (l *workloadLoader) forApp(ctx context.Context, app *domain.WlApp) (*workload, error) {
	cfg, err := l.repos.Configs.FindLatest(ctx, app.UUID)
	if err != nil {
		return nil, err
	}
	v, err := l.mappers.For(cfg)
	if err != nil {
		return nil, err
	}
	cluster, err := l.clusters.ResolveCluster(ctx, app, cfg)
	if err != nil {
		return nil, err
	}
	client, err := l.clients.For(ctx, cluster.Name)
	if err != nil {
		return nil, err
	}
	return &workload{app: app, cfg: cfg, version: v, cluster: cluster, client: client}, nil
}

// renderInput 组装进程渲染输入，资源方案缺失时只使用 Config 中的声明。
func (l *workloadLoader) renderInput(ctx context.Context, w *workload, release *domain.Release, build *domain.Build, procType string) (*mapper.RenderInput, error) {
	planName := w.cfg.Target(procType).Plan
	if planName == "" {
		planName = domain.DefaultPlanName
	}
	plan, err := l.repos.Plans.FindByName(ctx, planName)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	probes, err := l.repos.Probes.FindByApp(ctx, w.app.UUID)
	if err != nil {
		return nil, err
	}
	return &mapper.RenderInput{
		App:         w.app,
		Config:      w.cfg,
		Release:     release,
		Build:       build,
		Cluster:     w.cluster,
		ProcessType: procType,
		Plan:        plan,
		Probes: lo.Filter(probes, func(p *domain.ProcessProbe, _ int) bool {
			return p.ProcessType == procType
		}),
	}, nil
}

// latestRelease 返回最新成功的 Release 及其 Build，从未发布过时返回 ErrReleaseNotFound。
func (l *workloadLoader) latestRelease(ctx context.Context, appID string) (*domain.Release, *domain.Build, error) {
	release, err := l.repos.Releases.FindLatest(ctx, appID)
	if err != nil {
		return nil, nil, err
	}
	build, err := l.repos.Builds.FindByID(ctx, release.BuildID)
	if err != nil {
		return nil, nil, err
	}
	return release, build, nil
}
