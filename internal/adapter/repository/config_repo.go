package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

var _ port.ConfigRepository = (*ConfigRepo)(nil)

type ConfigRepo struct {
	db *gorm.DB
}

func NewConfigRepo(db *gorm.DB) *ConfigRepo {
	return &ConfigRepo{db: db}
}

// Append 写入新版本，Revision 取当前最大值加一，并回填到 cfg。
func (r *ConfigRepo) Append(ctx context.Context, cfg *domain.Config) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return appendConfig(tx, cfg)
	})
}

// AppendFromLatest 锁住 WlApp 行后读取最新 Config，复制并交给 mutate 修改，再作为新版本写入。
// 同一 WlApp 的读改写在此串行，并发修改不会互相覆盖。
func (r *ConfigRepo) AppendFromLatest(ctx context.Context, appID string, mutate func(*domain.Config) error) (*domain.Config, error) {
	var next *domain.Config
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var app WlAppModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("uuid").First(&app, "uuid = ?", appID).Error; err != nil {
			return mapNotFound(err, domain.ErrAppNotFound)
		}
		var m ConfigModel
		if err := tx.Where("app_id = ?", appID).Order("revision desc").First(&m).Error; err != nil {
			return mapNotFound(err, domain.ErrConfigNotFound)
		}
		latest, err := modelToConfig(&m)
		if err != nil {
			return err
		}
		next = latest.Clone()
		next.CreatedAt = time.Now()
		if err := mutate(next); err != nil {
			return err
		}
		return appendConfig(tx, next)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func appendConfig(tx *gorm.DB, cfg *domain.Config) error {
	if cfg.UUID == "" {
		cfg.UUID = uuid.NewString()
	}
	var maxRev sql.NullInt64
	if err := tx.Model(&ConfigModel{}).Where("app_id = ?", cfg.AppID).
		Select("MAX(revision)").Row().Scan(&maxRev); err != nil {
		return err
	}
	cfg.Revision = int(maxRev.Int64) + 1
	m, err := configToModel(cfg)
	if err != nil {
		return err
	}
	if err := tx.Create(m).Error; err != nil {
		if isUniqueConstraintError(err) {
			return domain.ErrConflict
		}
		return err
	}
	cfg.CreatedAt = m.CreatedAt
	return nil
}

func (r *ConfigRepo) FindByID(ctx context.Context, id string) (*domain.Config, error) {
	var m ConfigModel
	if err := r.db.WithContext(ctx).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrConfigNotFound)
	}
	return modelToConfig(&m)
}

func (r *ConfigRepo) FindLatest(ctx context.Context, appID string) (*domain.Config, error) {
	var m ConfigModel
	if err := r.db.WithContext(ctx).Where("app_id = ?", appID).Order("revision desc").First(&m).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrConfigNotFound)
	}
	return modelToConfig(&m)
}

func configToModel(c *domain.Config) (*ConfigModel, error) {
	m := &ConfigModel{
		UUID:      c.UUID,
		AppID:     c.AppID,
		Revision:  c.Revision,
		Cluster:   c.Cluster,
		Image:     c.Image,
		CreatedAt: c.CreatedAt,
	}
	var err error
	if m.ResourceRequirements, err = toJSON(c.ResourceRequirements); err != nil {
		return nil, err
	}
	if m.NodeSelector, err = toJSON(c.NodeSelector); err != nil {
		return nil, err
	}
	if m.Tolerations, err = toJSON(c.Tolerations); err != nil {
		return nil, err
	}
	if m.Runtime, err = toJSON(c.Runtime); err != nil {
		return nil, err
	}
	if m.Metadata, err = toJSON(c.Metadata); err != nil {
		return nil, err
	}
	return m, nil
}

func modelToConfig(m *ConfigModel) (*domain.Config, error) {
	c := &domain.Config{
		UUID:      m.UUID,
		AppID:     m.AppID,
		Revision:  m.Revision,
		Cluster:   m.Cluster,
		Image:     m.Image,
		CreatedAt: m.CreatedAt,
	}
	for _, f := range []struct {
		src string
		dst any
	}{
		{m.ResourceRequirements, &c.ResourceRequirements},
		{m.NodeSelector, &c.NodeSelector},
		{m.Tolerations, &c.Tolerations},
		{m.Runtime, &c.Runtime},
		{m.Metadata, &c.Metadata},
	} {
		if err := fromJSON(f.src, f.dst); err != nil {
			return nil, err
		}
	}
	return c, nil
}
