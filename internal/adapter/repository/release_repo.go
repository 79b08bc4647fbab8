package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

var _ port.ReleaseRepository = (*ReleaseRepo)(nil)

type ReleaseRepo struct {
	db *gorm.DB
}

func NewReleaseRepo(db *gorm.DB) *ReleaseRepo {
	return &ReleaseRepo{db: db}
}

// CreateNext 锁住 WlApp 行后分配版本号，保证同一 WlApp 的版本严格递增且连续。
func (r *ReleaseRepo) CreateNext(ctx context.Context, release *domain.Release) error {
	if release.UUID == "" {
		release.UUID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var app WlAppModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&app, "uuid = ?", release.AppID).Error; err != nil {
			return mapNotFound(err, domain.ErrAppNotFound)
		}
		var maxVersion sql.NullInt64
		if err := tx.Model(&ReleaseModel{}).Where("app_id = ?", release.AppID).
			Select("MAX(version)").Row().Scan(&maxVersion); err != nil {
			return err
		}
		release.Version = domain.InitialReleaseVersion
		if maxVersion.Valid {
			release.Version = int(maxVersion.Int64) + 1
		}
		m, err := releaseToModel(release)
		if err != nil {
			return err
		}
		if err := tx.Create(m).Error; err != nil {
			if isUniqueConstraintError(err) {
				return domain.ErrConflict
			}
			return err
		}
		release.CreatedAt, release.UpdatedAt = m.CreatedAt, m.UpdatedAt
		return nil
	})
}

func (r *ReleaseRepo) FindByID(ctx context.Context, id string) (*domain.Release, error) {
	var m ReleaseModel
	if err := r.db.WithContext(ctx).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrReleaseNotFound)
	}
	return modelToRelease(&m)
}

func (r *ReleaseRepo) FindLatest(ctx context.Context, appID string) (*domain.Release, error) {
	var m ReleaseModel
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND failed = ?", appID, false).
		Order("version desc").First(&m).Error
	if err != nil {
		return nil, mapNotFound(err, domain.ErrReleaseNotFound)
	}
	return modelToRelease(&m)
}

func (r *ReleaseRepo) FindPrevious(ctx context.Context, release *domain.Release) (*domain.Release, error) {
	var m ReleaseModel
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND version < ?", release.AppID, release.Version).
		Order("version desc").First(&m).Error
	if err != nil {
		return nil, mapNotFound(err, domain.ErrPreviousReleaseNotFound)
	}
	return modelToRelease(&m)
}

func (r *ReleaseRepo) FindAll(ctx context.Context, appID string) ([]*domain.Release, error) {
	var models []ReleaseModel
	if err := r.db.WithContext(ctx).Where("app_id = ?", appID).Order("version").Find(&models).Error; err != nil {
		return nil, err
	}
	releases := make([]*domain.Release, 0, len(models))
	for i := range models {
		rel, err := modelToRelease(&models[i])
		if err != nil {
			return nil, err
		}
		releases = append(releases, rel)
	}
	return releases, nil
}

func (r *ReleaseRepo) Update(ctx context.Context, release *domain.Release) error {
	m, err := releaseToModel(release)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(m).Error
}

func releaseToModel(r *domain.Release) (*ReleaseModel, error) {
	procfile, err := toJSON(r.Procfile)
	if err != nil {
		return nil, err
	}
	return &ReleaseModel{
		UUID:         r.UUID,
		AppID:        r.AppID,
		Version:      r.Version,
		BuildID:      r.BuildID,
		ConfigID:     r.ConfigID,
		Procfile:     procfile,
		Summary:      r.Summary,
		Failed:       r.Failed,
		FailedReason: r.FailedReason,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

func modelToRelease(m *ReleaseModel) (*domain.Release, error) {
	rel := &domain.Release{
		UUID:         m.UUID,
		AppID:        m.AppID,
		Version:      m.Version,
		BuildID:      m.BuildID,
		ConfigID:     m.ConfigID,
		Summary:      m.Summary,
		Failed:       m.Failed,
		FailedReason: m.FailedReason,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if err := fromJSON(m.Procfile, &rel.Procfile); err != nil {
		return nil, err
	}
	return rel, nil
}
