package service

import "github.com/chiwei-platform/paas-workloads/internal/port"

// Repositories 汇总服务层用到的持久化接口。
type Repositories struct {
	Apps           port.WlAppRepository
	Configs        port.ConfigRepository
	Releases       port.ReleaseRepository
	Builds         port.BuildRepository
	BuildProcesses port.BuildProcessRepository
	Commands       port.CommandRepository
	Clusters       port.ClusterRepository
	Domains        port.DomainRepository
	SharedCerts    port.SharedCertRepository
	Deploys        port.DeployRepository
	Offlines       port.OfflineRepository
	Probes         port.ProcessProbeRepository
	Plans          port.ResourcePlanRepository
}
