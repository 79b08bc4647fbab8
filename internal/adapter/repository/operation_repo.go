package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

var (
	_ port.DeployRepository  = (*DeployRepo)(nil)
	_ port.OfflineRepository = (*OfflineRepo)(nil)
)

type DeployRepo struct {
	db *gorm.DB
}

func NewDeployRepo(db *gorm.DB) *DeployRepo {
	return &DeployRepo{db: db}
}

func (r *DeployRepo) CreatePending(ctx context.Context, d *domain.DeployOperation) error {
	return createPending(ctx, r.db, d.AppID, deployToModel(d))
}

func (r *DeployRepo) FindByID(ctx context.Context, id string) (*domain.DeployOperation, error) {
	var m DeployModel
	if err := r.db.WithContext(ctx).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrDeployNotFound)
	}
	return modelToDeploy(&m), nil
}

func (r *DeployRepo) FindPending(ctx context.Context, appID string) (*domain.DeployOperation, error) {
	var m DeployModel
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND status = ?", appID, string(domain.DeployPending)).
		Order("created_at desc").First(&m).Error
	if err != nil {
		return nil, mapNotFound(err, domain.ErrDeployNotFound)
	}
	return modelToDeploy(&m), nil
}

// Update 不覆盖 interrupt_requested，该列只由 RequestInterrupt 写入。
func (r *DeployRepo) Update(ctx context.Context, d *domain.DeployOperation) error {
	return r.db.WithContext(ctx).Model(&DeployModel{}).Where("uuid = ?", d.UUID).
		Select("*").Omit("uuid", "created_at", "interrupt_requested").
		Updates(deployToModel(d)).Error
}

// MarkSucceeded 与 RequestInterrupt 以 status 和 interrupt_requested 为条件互斥，先写入的一方生效。
func (r *DeployRepo) MarkSucceeded(ctx context.Context, d *domain.DeployOperation) (bool, error) {
	res := r.db.WithContext(ctx).Model(&DeployModel{}).
		Where("uuid = ? AND status = ? AND interrupt_requested = ?", d.UUID, string(domain.DeployPending), false).
		Select("*").Omit("uuid", "created_at", "interrupt_requested").
		Updates(deployToModel(d))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *DeployRepo) RequestInterrupt(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&DeployModel{}).
		Where("uuid = ? AND status = ?", id, string(domain.DeployPending)).
		Update("interrupt_requested", true)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func deployToModel(d *domain.DeployOperation) *DeployModel {
	return &DeployModel{
		UUID:               d.UUID,
		AppID:              d.AppID,
		BuildID:            d.BuildID,
		BuildProcessID:     d.BuildProcessID,
		Operator:           d.Operator,
		PreReleaseHook:     d.PreReleaseHook,
		Status:             string(d.Status),
		Phase:              string(d.Phase),
		ReleaseID:          d.ReleaseID,
		ReleaseVersion:     d.ReleaseVersion,
		InterruptRequested: d.InterruptRequested,
		ErrDetail:          d.ErrDetail,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func modelToDeploy(m *DeployModel) *domain.DeployOperation {
	return &domain.DeployOperation{
		UUID:               m.UUID,
		AppID:              m.AppID,
		BuildID:            m.BuildID,
		BuildProcessID:     m.BuildProcessID,
		Operator:           m.Operator,
		PreReleaseHook:     m.PreReleaseHook,
		Status:             domain.DeployStatus(m.Status),
		Phase:              domain.DeployPhase(m.Phase),
		ReleaseID:          m.ReleaseID,
		ReleaseVersion:     m.ReleaseVersion,
		InterruptRequested: m.InterruptRequested,
		ErrDetail:          m.ErrDetail,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

type OfflineRepo struct {
	db *gorm.DB
}

func NewOfflineRepo(db *gorm.DB) *OfflineRepo {
	return &OfflineRepo{db: db}
}

func (r *OfflineRepo) CreatePending(ctx context.Context, op *domain.OfflineOperation) error {
	return createPending(ctx, r.db, op.AppID, offlineToModel(op))
}

func (r *OfflineRepo) FindByID(ctx context.Context, id string) (*domain.OfflineOperation, error) {
	var m OfflineModel
	if err := r.db.WithContext(ctx).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrOfflineNotFound)
	}
	return modelToOffline(&m), nil
}

func (r *OfflineRepo) FindPending(ctx context.Context, appID string) (*domain.OfflineOperation, error) {
	var m OfflineModel
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND status = ?", appID, string(domain.OfflinePending)).
		Order("created_at desc").First(&m).Error
	if err != nil {
		return nil, mapNotFound(err, domain.ErrOfflineNotFound)
	}
	return modelToOffline(&m), nil
}

func (r *OfflineRepo) Update(ctx context.Context, op *domain.OfflineOperation) error {
	return r.db.WithContext(ctx).Save(offlineToModel(op)).Error
}

func offlineToModel(o *domain.OfflineOperation) *OfflineModel {
	return &OfflineModel{
		UUID:      o.UUID,
		AppID:     o.AppID,
		Operator:  o.Operator,
		Status:    string(o.Status),
		ErrDetail: o.ErrDetail,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func modelToOffline(m *OfflineModel) *domain.OfflineOperation {
	return &domain.OfflineOperation{
		UUID:      m.UUID,
		AppID:     m.AppID,
		Operator:  m.Operator,
		Status:    domain.OfflineStatus(m.Status),
		ErrDetail: m.ErrDetail,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// createPending 锁住 WlApp 行后检查两类进行中的操作再写入，同一 WlApp 的请求在此串行。
func createPending(ctx context.Context, db *gorm.DB, appID string, model any) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var app WlAppModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("uuid").First(&app, "uuid = ?", appID).Error; err != nil {
			return mapNotFound(err, domain.ErrAppNotFound)
		}
		var deploys, offlines int64
		if err := tx.Model(&DeployModel{}).
			Where("app_id = ? AND status = ?", appID, string(domain.DeployPending)).
			Count(&deploys).Error; err != nil {
			return err
		}
		if err := tx.Model(&OfflineModel{}).
			Where("app_id = ? AND status = ?", appID, string(domain.OfflinePending)).
			Count(&offlines).Error; err != nil {
			return err
		}
		if deploys+offlines > 0 {
			return domain.ErrPendingDeployExists
		}
		return tx.Create(model).Error
	})
}
