package domain

import (
	"strings"
	"time"
)

type CommandType string

const CommandPreReleaseHook CommandType = "pre-release-hook"

type CommandStatus string

const (
	CommandScheduled   CommandStatus = "scheduled"
	CommandPending     CommandStatus = "pending"
	CommandSuccessful  CommandStatus = "successful"
	CommandFailed      CommandStatus = "failed"
	CommandInterrupted CommandStatus = "interrupted"
)

// IsTerminal 终态不可再迁移。
func (s CommandStatus) IsTerminal() bool {
	return s == CommandSuccessful || s == CommandFailed || s == CommandInterrupted
}

// Command 是一次性执行（如发布前钩子），同一 WlApp 同时最多一个运行中。
type Command struct {
	UUID      string        `json:"uuid"`
	AppID     string        `json:"app_id"`
	Type      CommandType   `json:"type"`
	BuildID   string        `json:"build_id"`
	Command   string        `json:"command"`
	Status    CommandStatus `json:"status"`
	ExitCode  *int32        `json:"exit_code,omitempty"`
	Version   int           `json:"version"`
	Operator  string        `json:"operator,omitempty"`
	Logs      string        `json:"logs,omitempty"`
	StartTime *time.Time    `json:"start_time,omitempty"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Argv 按空白拆分命令字符串。
func (c *Command) Argv() []string {
	return strings.Fields(c.Command)
}

// Finish 把命令推进到终态，已是终态时返回 false。
func (c *Command) Finish(status CommandStatus, exitCode *int32, now time.Time) bool {
	if c.Status.IsTerminal() {
		return false
	}
	c.Status = status
	c.ExitCode = exitCode
	c.EndTime = &now
	c.UpdatedAt = now
	return true
}
