package port

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

type WlAppRepository interface {
	Save(ctx context.Context, app *domain.WlApp) error
	FindByID(ctx context.Context, id string) (*domain.WlApp, error)
	FindByName(ctx context.Context, region, name string) (*domain.WlApp, error)
	FindAll(ctx context.Context, region string) ([]*domain.WlApp, error)
}

// ConfigRepository 只追加，FindLatest 返回 Revision 最大的一条。
type ConfigRepository interface {
	Append(ctx context.Context, cfg *domain.Config) error
	// AppendFromLatest 在同一事务内复制最新版本、交给 mutate 修改并追加，同一 WlApp 的调用串行执行。
	AppendFromLatest(ctx context.Context, appID string, mutate func(*domain.Config) error) (*domain.Config, error)
	FindByID(ctx context.Context, id string) (*domain.Config, error)
	FindLatest(ctx context.Context, appID string) (*domain.Config, error)
}

type ReleaseRepository interface {
	// CreateNext 在行锁保护下分配下一个版本号并写入 Release。
	CreateNext(ctx context.Context, release *domain.Release) error
	FindByID(ctx context.Context, id string) (*domain.Release, error)
	// FindLatest 返回最新的未失败 Release。
	FindLatest(ctx context.Context, appID string) (*domain.Release, error)
	// FindPrevious 返回版本号小于 release 的最近一条 Release。
	FindPrevious(ctx context.Context, release *domain.Release) (*domain.Release, error)
	FindAll(ctx context.Context, appID string) ([]*domain.Release, error)
	Update(ctx context.Context, release *domain.Release) error
}

type BuildRepository interface {
	Save(ctx context.Context, build *domain.Build) error
	FindByID(ctx context.Context, id string) (*domain.Build, error)
	// FindImageBuilds 按创建时间倒序返回模块的镜像类构建。
	FindImageBuilds(ctx context.Context, moduleID string) ([]*domain.Build, error)
	// MarkAsLatestArtifact 将模块下其它镜像构建标记为制品已删除。
	MarkAsLatestArtifact(ctx context.Context, build *domain.Build) error
	MarkArtifactDeleted(ctx context.Context, ids []string) error
}

type BuildProcessRepository interface {
	Save(ctx context.Context, bp *domain.BuildProcess) error
	FindByID(ctx context.Context, id string) (*domain.BuildProcess, error)
	Update(ctx context.Context, bp *domain.BuildProcess) error
}

type CommandRepository interface {
	Save(ctx context.Context, cmd *domain.Command) error
	FindByID(ctx context.Context, id string) (*domain.Command, error)
	// FindRunning 返回该 WlApp 下未到终态的命令。
	FindRunning(ctx context.Context, appID string) (*domain.Command, error)
	Update(ctx context.Context, cmd *domain.Command) error
}

type ClusterRepository interface {
	// Save 按名称插入或更新；IsDefault 为 true 时同 Region 其它集群的默认标记被清除。
	Save(ctx context.Context, cluster *domain.Cluster) error
	FindByName(ctx context.Context, name string) (*domain.Cluster, error)
	FindByRegion(ctx context.Context, region string) ([]*domain.Cluster, error)
	FindAll(ctx context.Context) ([]*domain.Cluster, error)
}

type DomainRepository interface {
	Save(ctx context.Context, d *domain.Domain) error
	FindByApp(ctx context.Context, appID string) ([]*domain.Domain, error)
	Delete(ctx context.Context, id string) error
}

type SharedCertRepository interface {
	Save(ctx context.Context, cert *domain.AppDomainSharedCert) error
	FindByName(ctx context.Context, name string) (*domain.AppDomainSharedCert, error)
	FindByRegion(ctx context.Context, region, tenantID string) ([]*domain.AppDomainSharedCert, error)
}

type DeployRepository interface {
	// CreatePending 登记进行中的部署。WlApp 已有进行中的部署或下架时返回 ErrPendingDeployExists。
	CreatePending(ctx context.Context, d *domain.DeployOperation) error
	FindByID(ctx context.Context, id string) (*domain.DeployOperation, error)
	FindPending(ctx context.Context, appID string) (*domain.DeployOperation, error)
	// Update 写回除中断标记外的全部字段。
	Update(ctx context.Context, d *domain.DeployOperation) error
	// MarkSucceeded 仅在未请求中断时写入成功终态，返回是否写入。
	MarkSucceeded(ctx context.Context, d *domain.DeployOperation) (bool, error)
	// RequestInterrupt 仅对进行中的部署置中断标记，部署已结束时返回 false。
	RequestInterrupt(ctx context.Context, id string) (bool, error)
}

type OfflineRepository interface {
	CreatePending(ctx context.Context, op *domain.OfflineOperation) error
	FindByID(ctx context.Context, id string) (*domain.OfflineOperation, error)
	FindPending(ctx context.Context, appID string) (*domain.OfflineOperation, error)
	Update(ctx context.Context, op *domain.OfflineOperation) error
}

type ProcessProbeRepository interface {
	Save(ctx context.Context, probe *domain.ProcessProbe) error
	FindByApp(ctx context.Context, appID string) ([]*domain.ProcessProbe, error)
}

type ResourcePlanRepository interface {
	Save(ctx context.Context, plan *domain.ResourcePlan) error
	FindByName(ctx context.Context, name string) (*domain.ResourcePlan, error)
	FindAll(ctx context.Context) ([]*domain.ResourcePlan, error)
	Update(ctx context.Context, plan *domain.ResourcePlan) error
}
