package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"

	"github.com/chiwei-platform/paas-workloads/internal/kube"
	"github.com/chiwei-platform/paas-workloads/internal/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// DefaultBuildPodTimeout 是构建 Pod 的默认存活上限。
const DefaultBuildPodTimeout = time.Hour

// PodJanitor 清理各集群中超时的构建 Pod。
type PodJanitor struct {
	clusters *ClusterService
	clients  port.ClusterClients
	now      func() time.Time
}

func NewPodJanitor(clusters *ClusterService, clients port.ClusterClients) *PodJanitor {
	return &PodJanitor{clusters: clusters, clients: clients, now: time.Now}
}

// CleanedPod 是一个被清理（或 dry-run 时将被清理）的 Pod。
type CleanedPod struct {
	Cluster   string
	Namespace string
	Name      string
	Age       time.Duration
}

func (p CleanedPod) String() string {
	return fmt.Sprintf("%s/%s/%s (age %s)", p.Cluster, p.Namespace, p.Name, p.Age.Round(time.Second))
}

// CleanTimeoutPods 删除创建时间早于 timeout 的构建 Pod。单个集群失败时记录日志并继续。
func (j *PodJanitor) CleanTimeoutPods(ctx context.Context, timeout time.Duration, dryRun bool) ([]CleanedPod, error) {
	if timeout <= 0 {
		timeout = DefaultBuildPodTimeout
	}
	clusters, err := j.clusters.ListClusters(ctx)
	if err != nil {
		return nil, err
	}
	var cleaned []CleanedPod
	for _, c := range clusters {
		client, err := j.clients.For(ctx, c.Name)
		if err != nil {
			slog.WarnContext(ctx, "skip cluster", "cluster", c.Name, "error", err)
			continue
		}
		pods, err := j.cleanCluster(ctx, client, timeout, dryRun)
		if err != nil {
			slog.WarnContext(ctx, "clean build pods failed", "cluster", c.Name, "error", err)
		}
		cleaned = append(cleaned, pods...)
	}
	return cleaned, nil
}

func (j *PodJanitor) cleanCluster(ctx context.Context, client *kube.Client, timeout time.Duration, dryRun bool) ([]CleanedPod, error) {
	req, err := labels.NewRequirement(mapper.LabelBuildID, selection.Exists, nil)
	if err != nil {
		return nil, err
	}
	list, err := client.Kube.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		LabelSelector: labels.NewSelector().Add(*req).String(),
	})
	if err != nil {
		return nil, err
	}

	now := j.now()
	var cleaned []CleanedPod
	for i := range list.Items {
		pod := &list.Items[i]
		age := now.Sub(podStartTime(pod))
		if age < timeout {
			continue
		}
		p := CleanedPod{Cluster: client.Cluster, Namespace: pod.Namespace, Name: pod.Name, Age: age}
		if dryRun {
			slog.InfoContext(ctx, "timeout build pod (dry run)", "pod", p.String())
			cleaned = append(cleaned, p)
			continue
		}
		err := kube.IgnoreNotFound(client.Kube.CoreV1().Pods(pod.Namespace).Delete(ctx, pod.Name, metav1.DeleteOptions{}))
		if err != nil {
			return cleaned, fmt.Errorf("delete pod %s/%s: %w", pod.Namespace, pod.Name, err)
		}
		slog.InfoContext(ctx, "timeout build pod deleted", "pod", p.String())
		cleaned = append(cleaned, p)
	}
	return cleaned, nil
}

func podStartTime(pod *corev1.Pod) time.Time {
	if pod.Status.StartTime != nil {
		return pod.Status.StartTime.Time
	}
	return pod.CreationTimestamp.Time
}
