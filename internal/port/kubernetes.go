package port

import (
	"context"

	"github.com/chiwei-platform/paas-workloads/internal/kube"
)

// ClusterClients 按集群名返回 K8s 客户端，实现为 kube.Pool。
type ClusterClients interface {
	For(ctx context.Context, clusterName string) (*kube.Client, error)
}

var _ ClusterClients = (*kube.Pool)(nil)
