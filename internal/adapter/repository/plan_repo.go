package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

var (
	_ port.ResourcePlanRepository = (*ResourcePlanRepo)(nil)
	_ port.ProcessProbeRepository = (*ProcessProbeRepo)(nil)
)

type ResourcePlanRepo struct {
	db *gorm.DB
}

func NewResourcePlanRepo(db *gorm.DB) *ResourcePlanRepo {
	return &ResourcePlanRepo{db: db}
}

func (r *ResourcePlanRepo) Save(ctx context.Context, plan *domain.ResourcePlan) error {
	m, err := planToModel(plan)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueConstraintError(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *ResourcePlanRepo) FindByName(ctx context.Context, name string) (*domain.ResourcePlan, error) {
	var m ResourcePlanModel
	if err := r.db.WithContext(ctx).First(&m, "name = ?", name).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrPlanNotFound)
	}
	return modelToPlan(&m)
}

func (r *ResourcePlanRepo) FindAll(ctx context.Context) ([]*domain.ResourcePlan, error) {
	var models []ResourcePlanModel
	if err := r.db.WithContext(ctx).Order("name").Find(&models).Error; err != nil {
		return nil, err
	}
	plans := make([]*domain.ResourcePlan, 0, len(models))
	for i := range models {
		p, err := modelToPlan(&models[i])
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func (r *ResourcePlanRepo) Update(ctx context.Context, plan *domain.ResourcePlan) error {
	m, err := planToModel(plan)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(m).Error
}

func planToModel(p *domain.ResourcePlan) (*ResourcePlanModel, error) {
	limits, err := toJSON(p.Limits)
	if err != nil {
		return nil, err
	}
	requests, err := toJSON(p.Requests)
	if err != nil {
		return nil, err
	}
	return &ResourcePlanModel{
		Name:      p.Name,
		IsBuiltin: p.IsBuiltin,
		Limits:    limits,
		Requests:  requests,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}, nil
}

func modelToPlan(m *ResourcePlanModel) (*domain.ResourcePlan, error) {
	p := &domain.ResourcePlan{
		Name:      m.Name,
		IsBuiltin: m.IsBuiltin,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if err := fromJSON(m.Limits, &p.Limits); err != nil {
		return nil, err
	}
	if err := fromJSON(m.Requests, &p.Requests); err != nil {
		return nil, err
	}
	return p, nil
}

type ProcessProbeRepo struct {
	db *gorm.DB
}

func NewProcessProbeRepo(db *gorm.DB) *ProcessProbeRepo {
	return &ProcessProbeRepo{db: db}
}

// Save 按 (app, 进程类型, 探针类型) 覆盖写入。
func (r *ProcessProbeRepo) Save(ctx context.Context, probe *domain.ProcessProbe) error {
	if probe.UUID == "" {
		probe.UUID = uuid.NewString()
	}
	cmd, err := toJSON(probe.ExecCommand)
	if err != nil {
		return err
	}
	m := &ProcessProbeModel{
		UUID:                probe.UUID,
		AppID:               probe.AppID,
		ProcessType:         probe.ProcessType,
		ProbeType:           string(probe.ProbeType),
		ExecCommand:         cmd,
		HTTPPath:            probe.HTTPPath,
		Port:                probe.Port,
		TCPSocket:           probe.TCPSocket,
		InitialDelaySeconds: probe.InitialDelaySeconds,
		TimeoutSeconds:      probe.TimeoutSeconds,
		PeriodSeconds:       probe.PeriodSeconds,
		SuccessThreshold:    probe.SuccessThreshold,
		FailureThreshold:    probe.FailureThreshold,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "app_id"}, {Name: "process_type"}, {Name: "probe_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"exec_command", "http_path", "port", "tcp_socket", "initial_delay_seconds",
			"timeout_seconds", "period_seconds", "success_threshold", "failure_threshold",
		}),
	}).Create(m).Error
}

func (r *ProcessProbeRepo) FindByApp(ctx context.Context, appID string) ([]*domain.ProcessProbe, error) {
	var models []ProcessProbeModel
	if err := r.db.WithContext(ctx).Where("app_id = ?", appID).Order("process_type, probe_type").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.ProcessProbe, 0, len(models))
	for i := range models {
		m := &models[i]
		p := &domain.ProcessProbe{
			UUID:                m.UUID,
			AppID:               m.AppID,
			ProcessType:         m.ProcessType,
			ProbeType:           domain.ProbeType(m.ProbeType),
			HTTPPath:            m.HTTPPath,
			Port:                m.Port,
			TCPSocket:           m.TCPSocket,
			InitialDelaySeconds: m.InitialDelaySeconds,
			TimeoutSeconds:      m.TimeoutSeconds,
			PeriodSeconds:       m.PeriodSeconds,
			SuccessThreshold:    m.SuccessThreshold,
			FailureThreshold:    m.FailureThreshold,
		}
		if err := fromJSON(m.ExecCommand, &p.ExecCommand); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
