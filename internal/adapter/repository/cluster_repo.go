package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

var _ port.ClusterRepository = (*ClusterRepo)(nil)

type ClusterRepo struct {
	db *gorm.DB
}

func NewClusterRepo(db *gorm.DB) *ClusterRepo {
	return &ClusterRepo{db: db}
}

// Save 按名称插入或更新。设为默认集群时在同一事务内清除同 Region 其它集群的默认标记。
func (r *ClusterRepo) Save(ctx context.Context, cluster *domain.Cluster) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ClusterModel
		err := tx.Where("name = ?", cluster.Name).First(&existing).Error
		switch {
		case err == nil:
			cluster.UUID = existing.UUID
			cluster.CreatedAt = existing.CreatedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
			if cluster.UUID == "" {
				cluster.UUID = uuid.NewString()
			}
		default:
			return err
		}

		if cluster.IsDefault {
			if err := tx.Model(&ClusterModel{}).
				Where("region = ? AND name <> ?", cluster.Region, cluster.Name).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}

		m, err := clusterToModel(cluster)
		if err != nil {
			return err
		}
		if err := tx.Save(m).Error; err != nil {
			return err
		}
		cluster.CreatedAt, cluster.UpdatedAt = m.CreatedAt, m.UpdatedAt
		return nil
	})
}

func (r *ClusterRepo) FindByName(ctx context.Context, name string) (*domain.Cluster, error) {
	var m ClusterModel
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &domain.ClusterNotFoundError{Name: name}
		}
		return nil, err
	}
	return modelToCluster(&m)
}

func (r *ClusterRepo) FindByRegion(ctx context.Context, region string) ([]*domain.Cluster, error) {
	return r.find(r.db.WithContext(ctx).Where("region = ?", region))
}

func (r *ClusterRepo) FindAll(ctx context.Context) ([]*domain.Cluster, error) {
	return r.find(r.db.WithContext(ctx))
}

func (r *ClusterRepo) find(query *gorm.DB) ([]*domain.Cluster, error) {
	var models []ClusterModel
	if err := query.Order("name").Find(&models).Error; err != nil {
		return nil, err
	}
	clusters := make([]*domain.Cluster, 0, len(models))
	for i := range models {
		c, err := modelToCluster(&models[i])
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	return clusters, nil
}

func clusterToModel(c *domain.Cluster) (*ClusterModel, error) {
	m := &ClusterModel{
		UUID:        c.UUID,
		Name:        c.Name,
		Region:      c.Region,
		TenantID:    c.TenantID,
		IsDefault:   c.IsDefault,
		Description: c.Description,
		CAData:      c.CAData,
		CertData:    c.CertData,
		KeyData:     c.KeyData,
		Token:       c.Token,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	for _, f := range []struct {
		dst *string
		src any
	}{
		{&m.APIServers, c.APIServers},
		{&m.IngressConfig, c.IngressConfig},
		{&m.DefaultNodeSelector, c.DefaultNodeSelector},
		{&m.DefaultTolerations, c.DefaultTolerations},
		{&m.FeatureFlags, c.FeatureFlags},
		{&m.AvailableTenantIDs, c.AvailableTenantIDs},
	} {
		s, err := toJSON(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = s
	}
	return m, nil
}

func modelToCluster(m *ClusterModel) (*domain.Cluster, error) {
	c := &domain.Cluster{
		UUID:        m.UUID,
		Name:        m.Name,
		Region:      m.Region,
		TenantID:    m.TenantID,
		IsDefault:   m.IsDefault,
		Description: m.Description,
		CAData:      m.CAData,
		CertData:    m.CertData,
		KeyData:     m.KeyData,
		Token:       m.Token,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	for _, f := range []struct {
		src string
		dst any
	}{
		{m.APIServers, &c.APIServers},
		{m.IngressConfig, &c.IngressConfig},
		{m.DefaultNodeSelector, &c.DefaultNodeSelector},
		{m.DefaultTolerations, &c.DefaultTolerations},
		{m.FeatureFlags, &c.FeatureFlags},
		{m.AvailableTenantIDs, &c.AvailableTenantIDs},
	} {
		if err := fromJSON(f.src, f.dst); err != nil {
			return nil, err
		}
	}
	return c, nil
}
