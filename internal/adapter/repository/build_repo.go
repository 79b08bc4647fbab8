package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

var (
	_ port.BuildRepository        = (*BuildRepo)(nil)
	_ port.BuildProcessRepository = (*BuildProcessRepo)(nil)
)

type BuildRepo struct {
	db *gorm.DB
}

func NewBuildRepo(db *gorm.DB) *BuildRepo {
	return &BuildRepo{db: db}
}

func (r *BuildRepo) Save(ctx context.Context, build *domain.Build) error {
	m, err := buildToModel(build)
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

func (r *BuildRepo) FindByID(ctx context.Context, id string) (*domain.Build, error) {
	var m BuildModel
	if err := r.db.WithContext(ctx).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrBuildNotFound)
	}
	return modelToBuild(&m)
}

func (r *BuildRepo) FindImageBuilds(ctx context.Context, moduleID string) ([]*domain.Build, error) {
	var models []BuildModel
	err := r.db.WithContext(ctx).
		Where("module_id = ? AND artifact_type = ? AND artifact_deleted = ?", moduleID, string(domain.ArtifactImage), false).
		Order("created_at desc").Find(&models).Error
	if err != nil {
		return nil, err
	}
	builds := make([]*domain.Build, 0, len(models))
	for i := range models {
		b, err := modelToBuild(&models[i])
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, nil
}

// MarkAsLatestArtifact 标记 build 为模块最新制品，其余镜像构建视为制品已删除。
func (r *BuildRepo) MarkAsLatestArtifact(ctx context.Context, build *domain.Build) error {
	return r.db.WithContext(ctx).Model(&BuildModel{}).
		Where("module_id = ? AND artifact_type = ? AND uuid <> ?", build.ModuleID, string(domain.ArtifactImage), build.UUID).
		Update("artifact_deleted", true).Error
}

func (r *BuildRepo) MarkArtifactDeleted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&BuildModel{}).
		Where("uuid IN ?", ids).
		Update("artifact_deleted", true).Error
}

func buildToModel(b *domain.Build) (*BuildModel, error) {
	procfile, err := toJSON(b.Procfile)
	if err != nil {
		return nil, err
	}
	meta, err := toJSON(b.ArtifactMetadata)
	if err != nil {
		return nil, err
	}
	return &BuildModel{
		UUID:             b.UUID,
		ModuleID:         b.ModuleID,
		ArtifactType:     string(b.ArtifactType),
		Image:            b.Image,
		ImageID:          b.ImageID,
		Procfile:         procfile,
		BkAppRevisionID:  b.BkAppRevisionID,
		ArtifactDeleted:  b.ArtifactDeleted,
		ArtifactMetadata: meta,
		CreatedAt:        b.CreatedAt,
	}, nil
}

func modelToBuild(m *BuildModel) (*domain.Build, error) {
	b := &domain.Build{
		UUID:            m.UUID,
		ModuleID:        m.ModuleID,
		ArtifactType:    domain.ArtifactType(m.ArtifactType),
		Image:           m.Image,
		ImageID:         m.ImageID,
		BkAppRevisionID: m.BkAppRevisionID,
		ArtifactDeleted: m.ArtifactDeleted,
		CreatedAt:       m.CreatedAt,
	}
	if err := fromJSON(m.Procfile, &b.Procfile); err != nil {
		return nil, err
	}
	if err := fromJSON(m.ArtifactMetadata, &b.ArtifactMetadata); err != nil {
		return nil, err
	}
	return b, nil
}

type BuildProcessRepo struct {
	db *gorm.DB
}

func NewBuildProcessRepo(db *gorm.DB) *BuildProcessRepo {
	return &BuildProcessRepo{db: db}
}

func (r *BuildProcessRepo) Save(ctx context.Context, bp *domain.BuildProcess) error {
	return r.db.WithContext(ctx).Create(buildProcessToModel(bp)).Error
}

func (r *BuildProcessRepo) FindByID(ctx context.Context, id string) (*domain.BuildProcess, error) {
	var m BuildProcessModel
	if err := r.db.WithContext(ctx).First(&m, "uuid = ?", id).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrBuildProcessNotFound)
	}
	return &domain.BuildProcess{
		UUID:         m.UUID,
		AppID:        m.AppID,
		Status:       domain.BuildProcessStatus(m.Status),
		BuildID:      m.BuildID,
		LogsWasReady: m.LogsWasReady,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}, nil
}

func (r *BuildProcessRepo) Update(ctx context.Context, bp *domain.BuildProcess) error {
	return r.db.WithContext(ctx).Save(buildProcessToModel(bp)).Error
}

func buildProcessToModel(bp *domain.BuildProcess) *BuildProcessModel {
	return &BuildProcessModel{
		UUID:         bp.UUID,
		AppID:        bp.AppID,
		Status:       string(bp.Status),
		BuildID:      bp.BuildID,
		LogsWasReady: bp.LogsWasReady,
		CreatedAt:    bp.CreatedAt,
		UpdatedAt:    bp.UpdatedAt,
	}
}
