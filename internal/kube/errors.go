package kube

import "fmt"

// NoEndpointAvailableError 表示集群所有 apiserver 在故障窗口内都已失败。
type NoEndpointAvailableError struct {
	Cluster string
	LastErr error
}

func (e *NoEndpointAvailableError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("no available apiserver endpoint for cluster %s", e.Cluster)
	}
	return fmt.Sprintf("no available apiserver endpoint for cluster %s: %v", e.Cluster, e.LastErr)
}

func (e *NoEndpointAvailableError) Unwrap() error { return e.LastErr }
