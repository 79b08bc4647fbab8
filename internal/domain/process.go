package domain

import (
	"sort"
	"time"
)

// Process 是由集群实时状态计算出的逻辑进程，不是持久化的事实来源。
type Process struct {
	Type              string              `json:"type"`
	Replicas          int32               `json:"replicas"`
	AvailableReplicas int32               `json:"available_replicas"`
	Command           string              `json:"command"`
	Version           int                 `json:"version"`
	Plan              ProcessPlan         `json:"plan"`
	TargetStatus      ProcessTargetStatus `json:"target_status"`
	Instances         []Instance          `json:"instances"`
}

// ProcessPlan 是进程的资源配额。
type ProcessPlan struct {
	Name     string           `json:"name,omitempty"`
	Limits   ResourceQuantity `json:"limits"`
	Requests ResourceQuantity `json:"requests"`
}

// Instance 是进程的一个 Pod。
type Instance struct {
	Name         string     `json:"name"`
	ProcessType  string     `json:"process_type"`
	Version      int        `json:"version"`
	State        string     `json:"state"`
	StateMessage string     `json:"state_message,omitempty"`
	Ready        bool       `json:"ready"`
	RestartCount int32      `json:"restart_count"`
	HostIP       string     `json:"host_ip,omitempty"`
	Image        string     `json:"image,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
}

// ProcessesInfo 是 list_processes 的结果，两个 resource version 供 watcher 续传。
type ProcessesInfo struct {
	Processes []Process `json:"processes"`
	RvProc    string    `json:"rv_proc"`
	RvInst    string    `json:"rv_inst"`
}

// ProcessSnapshot 是写入缓存的进程精简视图，用于集群不可达时的历史展示。
type ProcessSnapshot struct {
	AppName   string             `json:"app_name"`
	Processes []CondensedProcess `json:"processes"`
	CreatedAt time.Time          `json:"created_at"`
}

type CondensedProcess struct {
	Type      string              `json:"type"`
	Version   int                 `json:"version"`
	Replicas  int32               `json:"replicas"`
	Command   string              `json:"command"`
	Instances []CondensedInstance `json:"instances"`
}

type CondensedInstance struct {
	Name         string `json:"name"`
	Version      int    `json:"version"`
	State        string `json:"state"`
	Ready        bool   `json:"ready"`
	RestartCount int32  `json:"restart_count"`
}

// CondenseProcesses 把进程压缩为快照形式，按进程类型和实例名排序。
func CondenseProcesses(procs []Process) []CondensedProcess {
	out := make([]CondensedProcess, 0, len(procs))
	for _, p := range procs {
		cp := CondensedProcess{
			Type:      p.Type,
			Version:   p.Version,
			Replicas:  p.Replicas,
			Command:   p.Command,
			Instances: make([]CondensedInstance, 0, len(p.Instances)),
		}
		for _, inst := range p.Instances {
			cp.Instances = append(cp.Instances, CondensedInstance{
				Name:         inst.Name,
				Version:      inst.Version,
				State:        inst.State,
				Ready:        inst.Ready,
				RestartCount: inst.RestartCount,
			})
		}
		sort.Slice(cp.Instances, func(i, j int) bool { return cp.Instances[i].Name < cp.Instances[j].Name })
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ExpandProcesses 从快照还原进程，未保存的字段为零值。
func ExpandProcesses(condensed []CondensedProcess) []Process {
	out := make([]Process, 0, len(condensed))
	for _, cp := range condensed {
		p := Process{
			Type:      cp.Type,
			Version:   cp.Version,
			Replicas:  cp.Replicas,
			Command:   cp.Command,
			Instances: make([]Instance, 0, len(cp.Instances)),
		}
		for _, ci := range cp.Instances {
			p.Instances = append(p.Instances, Instance{
				Name:         ci.Name,
				ProcessType:  cp.Type,
				Version:      ci.Version,
				State:        ci.State,
				Ready:        ci.Ready,
				RestartCount: ci.RestartCount,
			})
		}
		out = append(out, p)
	}
	return out
}

// ProbeType 区分探针用途。
type ProbeType string

const (
	ProbeLiveness  ProbeType = "liveness"
	ProbeReadiness ProbeType = "readiness"
	ProbeStartup   ProbeType = "startup"
)

// ProcessProbe 是进程的声明式探针配置，Handler 三选一。
type ProcessProbe struct {
	UUID                string    `json:"uuid"`
	AppID               string    `json:"app_id"`
	ProcessType         string    `json:"process_type"`
	ProbeType           ProbeType `json:"probe_type"`
	ExecCommand         []string  `json:"exec_command,omitempty"`
	HTTPPath            string    `json:"http_path,omitempty"`
	Port                int32     `json:"port,omitempty"`
	TCPSocket           bool      `json:"tcp_socket,omitempty"`
	InitialDelaySeconds int32     `json:"initial_delay_seconds"`
	TimeoutSeconds      int32     `json:"timeout_seconds"`
	PeriodSeconds       int32     `json:"period_seconds"`
	SuccessThreshold    int32     `json:"success_threshold"`
	FailureThreshold    int32     `json:"failure_threshold"`
}
