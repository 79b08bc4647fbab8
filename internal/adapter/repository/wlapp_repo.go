package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

var _ port.WlAppRepository = (*WlAppRepo)(nil)

type WlAppRepo struct {
	db *gorm.DB
}

func NewWlAppRepo(db *gorm.DB) *WlAppRepo {
	return &WlAppRepo{db: db}
}

func (r *WlAppRepo) Save(ctx context.Context, app *domain.WlApp) error {
	result := r.db.WithContext(ctx).Create(wlAppToModel(app))
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return domain.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (r *WlAppRepo) FindByID(ctx context.Context, id string) (*domain.WlApp, error) {
	var m WlAppModel
	if err := r.db.WithContext(ctx).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrAppNotFound)
	}
	return modelToWlApp(&m), nil
}

func (r *WlAppRepo) FindByName(ctx context.Context, region, name string) (*domain.WlApp, error) {
	var m WlAppModel
	if err := r.db.WithContext(ctx).Where("region = ? AND name = ?", region, name).First(&m).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrAppNotFound)
	}
	return modelToWlApp(&m), nil
}

func (r *WlAppRepo) FindAll(ctx context.Context, region string) ([]*domain.WlApp, error) {
	query := r.db.WithContext(ctx).Model(&WlAppModel{})
	if region != "" {
		query = query.Where("region = ?", region)
	}
	var models []WlAppModel
	if err := query.Order("name").Find(&models).Error; err != nil {
		return nil, err
	}
	apps := make([]*domain.WlApp, 0, len(models))
	for i := range models {
		apps = append(apps, modelToWlApp(&models[i]))
	}
	return apps, nil
}

func wlAppToModel(a *domain.WlApp) *WlAppModel {
	return &WlAppModel{
		UUID:      a.UUID,
		Region:    a.Region,
		Name:      a.Name,
		TenantID:  a.TenantID,
		Type:      string(a.Type),
		Namespace: a.Namespace,
		Owner:     a.Owner,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func modelToWlApp(m *WlAppModel) *domain.WlApp {
	return &domain.WlApp{
		UUID:      m.UUID,
		Region:    m.Region,
		Name:      m.Name,
		TenantID:  m.TenantID,
		Type:      domain.AppType(m.Type),
		Namespace: m.Namespace,
		Owner:     m.Owner,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
