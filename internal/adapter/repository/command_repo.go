package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

var _ port.CommandRepository = (*CommandRepo)(nil)

type CommandRepo struct {
	db *gorm.DB
}

func NewCommandRepo(db *gorm.DB) *CommandRepo {
	return &CommandRepo{db: db}
}

func (r *CommandRepo) Save(ctx context.Context, cmd *domain.Command) error {
	return r.db.WithContext(ctx).Create(commandToModel(cmd)).Error
}

func (r *CommandRepo) FindByID(ctx context.Context, id string) (*domain.Command, error) {
	var m CommandModel
	if err := r.db.WithContext(ctx).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrCommandNotFound)
	}
	return modelToCommand(&m), nil
}

func (r *CommandRepo) FindRunning(ctx context.Context, appID string) (*domain.Command, error) {
	var m CommandModel
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND status IN ?", appID, []string{string(domain.CommandScheduled), string(domain.CommandPending)}).
		Order("created_at desc").First(&m).Error
	if err != nil {
		return nil, mapNotFound(err, domain.ErrCommandNotFound)
	}
	return modelToCommand(&m), nil
}

func (r *CommandRepo) Update(ctx context.Context, cmd *domain.Command) error {
	return r.db.WithContext(ctx).Save(commandToModel(cmd)).Error
}

func commandToModel(c *domain.Command) *CommandModel {
	return &CommandModel{
		UUID:      c.UUID,
		AppID:     c.AppID,
		Type:      string(c.Type),
		BuildID:   c.BuildID,
		Command:   c.Command,
		Status:    string(c.Status),
		ExitCode:  c.ExitCode,
		Version:   c.Version,
		Operator:  c.Operator,
		Logs:      c.Logs,
		StartTime: c.StartTime,
		EndTime:   c.EndTime,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func modelToCommand(m *CommandModel) *domain.Command {
	return &domain.Command{
		UUID:      m.UUID,
		AppID:     m.AppID,
		Type:      domain.CommandType(m.Type),
		BuildID:   m.BuildID,
		Command:   m.Command,
		Status:    domain.CommandStatus(m.Status),
		ExitCode:  m.ExitCode,
		Version:   m.Version,
		Operator:  m.Operator,
		Logs:      m.Logs,
		StartTime: m.StartTime,
		EndTime:   m.EndTime,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
