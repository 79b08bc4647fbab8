package mapper

import (
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

// ProcessFromDeployment 从 Deployment 还原进程，不含实例。
func ProcessFromDeployment(d *appsv1.Deployment) domain.Process {
	var replicas int32
	if d.Spec.Replicas != nil {
		replicas = *d.Spec.Replicas
	}
	proc := domain.Process{
		Type:              d.Labels[LabelProcessType],
		Replicas:          replicas,
		AvailableReplicas: d.Status.AvailableReplicas,
		Version:           ReleaseVersionOf(d.Annotations),
		TargetStatus:      domain.ProcessStart,
		Instances:         []domain.Instance{},
	}
	if replicas == 0 {
		proc.TargetStatus = domain.ProcessStop
	}
	if containers := d.Spec.Template.Spec.Containers; len(containers) > 0 {
		c := containers[0]
		proc.Command = commandOf(c)
		proc.Plan = domain.ProcessPlan{
			Name:     d.Annotations[AnnotationPlan],
			Limits:   quantityOf(c.Resources.Limits),
			Requests: quantityOf(c.Resources.Requests),
		}
	}
	return proc
}

// commandOf 有 Args 时 Command 是入口覆盖，procfile 中的命令在 Args 里。
func commandOf(c corev1.Container) string {
	if len(c.Args) > 0 {
		return strings.Join(c.Args, " ")
	}
	return strings.Join(c.Command, " ")
}

func quantityOf(list corev1.ResourceList) domain.ResourceQuantity {
	var q domain.ResourceQuantity
	if v, ok := list[corev1.ResourceCPU]; ok {
		q.CPU = v.String()
	}
	if v, ok := list[corev1.ResourceMemory]; ok {
		q.Memory = v.String()
	}
	return q
}

// InstanceFromPod 从 Pod 提取实例状态。
func InstanceFromPod(p *corev1.Pod) domain.Instance {
	inst := domain.Instance{
		Name:        p.Name,
		ProcessType: p.Labels[LabelProcessType],
		Version:     ReleaseVersionOf(p.Annotations),
		HostIP:      p.Status.HostIP,
		State:       string(p.Status.Phase),
	}
	if len(p.Spec.Containers) > 0 {
		inst.Image = p.Spec.Containers[0].Image
	}
	if p.Status.StartTime != nil {
		t := p.Status.StartTime.Time
		inst.StartTime = &t
	}
	for _, cond := range p.Status.Conditions {
		if cond.Type == corev1.PodReady {
			inst.Ready = cond.Status == corev1.ConditionTrue
		}
	}
	for _, cs := range p.Status.ContainerStatuses {
		inst.RestartCount += cs.RestartCount
		switch {
		case cs.State.Waiting != nil && cs.State.Waiting.Reason != "":
			inst.State = cs.State.Waiting.Reason
			inst.StateMessage = cs.State.Waiting.Message
		case cs.State.Terminated != nil && cs.State.Terminated.Reason != "":
			inst.State = cs.State.Terminated.Reason
			inst.StateMessage = cs.State.Terminated.Message
		}
	}
	if p.DeletionTimestamp != nil {
		inst.State = "Terminating"
	}
	return inst
}
