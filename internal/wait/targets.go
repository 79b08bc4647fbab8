package wait

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	"github.com/chiwei-platform/paas-workloads/internal/mapper"
)

// fatalWaitingReasons 出现即判定失败，等待下去也不会恢复。
var fatalWaitingReasons = map[string]string{
	"CrashLoopBackOff":           "container keeps crashing",
	"ImagePullBackOff":           "failed to pull image",
	"ErrImagePull":               "failed to pull image",
	"InvalidImageName":           "invalid image name",
	"CreateContainerConfigError": "invalid container config",
}

// podFailure 检查 Pod 的容器（含 init 容器）是否处于不可恢复的等待状态。
func podFailure(p *corev1.Pod) (string, bool) {
	check := func(prefix string, statuses []corev1.ContainerStatus) (string, bool) {
		for _, cs := range statuses {
			if cs.State.Waiting == nil {
				continue
			}
			if desc, ok := fatalWaitingReasons[cs.State.Waiting.Reason]; ok {
				return fmt.Sprintf("%s%s in pod %s: %s (%s)", prefix, desc, p.Name, cs.State.Waiting.Reason, cs.State.Waiting.Message), true
			}
		}
		return "", false
	}
	if reason, ok := check("init container ", p.Status.InitContainerStatuses); ok {
		return reason, true
	}
	return check("", p.Status.ContainerStatuses)
}

// DeploymentRollout 等待 Deployment 观察到最新 generation 且就绪副本达到期望值。
type DeploymentRollout struct {
	Client    kubernetes.Interface
	Namespace string
	Name      string
	// ExpectedGeneration 为 0 时使用对象当前的 generation。
	ExpectedGeneration int64
	// Version 非 0 时只检查属于该 Release 的 Pod 是否失败。
	Version int
}

func (t *DeploymentRollout) Describe() string {
	return fmt.Sprintf("deployment %s/%s", t.Namespace, t.Name)
}

func (t *DeploymentRollout) Check(ctx context.Context) (bool, string, error) {
	d, err := t.Client.AppsV1().Deployments(t.Namespace).Get(ctx, t.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, "", &ResourceMissingError{Kind: "Deployment", Namespace: t.Namespace, Name: t.Name}
	}
	if err != nil {
		return false, "", err
	}

	for _, cond := range d.Status.Conditions {
		if cond.Type == appsv1.DeploymentProgressing && cond.Status == corev1.ConditionFalse {
			return false, "", &TargetFailedError{Target: t.Describe(), Reason: cond.Message}
		}
	}

	var desired int32 = 1
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	generation := t.ExpectedGeneration
	if generation == 0 {
		generation = d.Generation
	}
	progress := fmt.Sprintf("%s: %d/%d ready", t.Name, d.Status.ReadyReplicas, desired)
	if d.Status.ObservedGeneration >= generation &&
		d.Status.UpdatedReplicas >= desired &&
		d.Status.ReadyReplicas == desired {
		return true, progress, nil
	}

	if reason, failed := t.detectPodFailure(ctx, d); failed {
		return false, progress, &TargetFailedError{Target: t.Describe(), Reason: reason}
	}
	return false, progress, nil
}

func (t *DeploymentRollout) detectPodFailure(ctx context.Context, d *appsv1.Deployment) (string, bool) {
	if d.Spec.Selector == nil {
		return "", false
	}
	selector, err := metav1.LabelSelectorAsSelector(d.Spec.Selector)
	if err != nil {
		return "", false
	}
	pods, err := t.Client.CoreV1().Pods(t.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return "", false
	}
	for i := range pods.Items {
		p := &pods.Items[i]
		if t.Version != 0 && mapper.ReleaseVersionOf(p.Annotations) != t.Version {
			continue
		}
		if reason, ok := podFailure(p); ok {
			return reason, true
		}
	}
	return "", false
}

// PodPhase 等待一次性 Pod 进入接受阶段，进入拒绝阶段时失败。
type PodPhase struct {
	Client    kubernetes.Interface
	Namespace string
	Name      string
	Accept    []corev1.PodPhase
	Reject    []corev1.PodPhase
}

// HookPodPhase 是发布前钩子的默认等待目标。
func HookPodPhase(client kubernetes.Interface, namespace, name string) *PodPhase {
	return &PodPhase{
		Client:    client,
		Namespace: namespace,
		Name:      name,
		Accept:    []corev1.PodPhase{corev1.PodSucceeded},
		Reject:    []corev1.PodPhase{corev1.PodFailed},
	}
}

func (t *PodPhase) Describe() string {
	return fmt.Sprintf("pod %s/%s", t.Namespace, t.Name)
}

func (t *PodPhase) Check(ctx context.Context) (bool, string, error) {
	p, err := t.Client.CoreV1().Pods(t.Namespace).Get(ctx, t.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, "", &ResourceMissingError{Kind: "Pod", Namespace: t.Namespace, Name: t.Name}
	}
	if err != nil {
		return false, "", err
	}
	progress := fmt.Sprintf("pod %s is %s", t.Name, p.Status.Phase)
	if containsPhase(t.Accept, p.Status.Phase) {
		return true, progress, nil
	}
	if containsPhase(t.Reject, p.Status.Phase) {
		return false, progress, podNotSucceeded(p)
	}
	if reason, ok := podFailure(p); ok {
		e := podNotSucceeded(p)
		e.Message = reason
		return false, progress, e
	}
	return false, progress, nil
}

func podNotSucceeded(p *corev1.Pod) *PodNotSucceededError {
	e := &PodNotSucceededError{Pod: p.Name, Phase: string(p.Status.Phase), Reason: p.Status.Reason, Message: p.Status.Message}
	for _, cs := range p.Status.ContainerStatuses {
		if term := cs.State.Terminated; term != nil {
			code := term.ExitCode
			e.ExitCode = &code
			if term.Reason != "" {
				e.Reason = term.Reason
			}
			if term.Message != "" {
				e.Message = term.Message
			}
			break
		}
		if w := cs.State.Waiting; w != nil && w.Reason != "" {
			e.Reason = w.Reason
		}
	}
	return e
}

func containsPhase(list []corev1.PodPhase, phase corev1.PodPhase) bool {
	for _, p := range list {
		if p == phase {
			return true
		}
	}
	return false
}

// AllStopped 等待选择器匹配的 Pod 全部消失，命名空间不存在也视为已停止。
type AllStopped struct {
	Client        kubernetes.Interface
	Namespace     string
	LabelSelector string
}

func (t *AllStopped) Describe() string {
	return fmt.Sprintf("pods %q in %s", t.LabelSelector, t.Namespace)
}

func (t *AllStopped) Check(ctx context.Context) (bool, string, error) {
	pods, err := t.Client.CoreV1().Pods(t.Namespace).List(ctx, metav1.ListOptions{LabelSelector: t.LabelSelector})
	if apierrors.IsNotFound(err) {
		return true, "namespace is gone", nil
	}
	if err != nil {
		return false, "", err
	}
	if len(pods.Items) == 0 {
		return true, "all pods stopped", nil
	}
	return false, fmt.Sprintf("%d pods remaining", len(pods.Items)), nil
}

// BkAppReady 等待云原生应用的 BkApp 被 operator 调和为 Running。
type BkAppReady struct {
	Resource dynamic.ResourceInterface
	// Namespace 仅用于描述。
	Namespace string
	Name      string
}

func (t *BkAppReady) Describe() string {
	return fmt.Sprintf("bkapp %s/%s", t.Namespace, t.Name)
}

func (t *BkAppReady) Check(ctx context.Context) (bool, string, error) {
	obj, err := t.Resource.Get(ctx, t.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, "", &ResourceMissingError{Kind: "BkApp", Namespace: t.Namespace, Name: t.Name}
	}
	if err != nil {
		return false, "", err
	}
	phase, msg := mapper.BkAppState(obj)
	progress := fmt.Sprintf("bkapp %s is %s", t.Name, phase)
	switch phase {
	case mapper.BkAppPhaseRunning:
		return true, progress, nil
	case mapper.BkAppPhaseFailed:
		return false, progress, &TargetFailedError{Target: t.Describe(), Reason: msg}
	}
	return false, progress, nil
}
