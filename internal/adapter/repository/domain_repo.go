package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

var (
	_ port.DomainRepository     = (*DomainRepo)(nil)
	_ port.SharedCertRepository = (*SharedCertRepo)(nil)
)

type DomainRepo struct {
	db *gorm.DB
}

func NewDomainRepo(db *gorm.DB) *DomainRepo {
	return &DomainRepo{db: db}
}

// Save 写入自定义域名，host 与路径前缀全局唯一。
func (r *DomainRepo) Save(ctx context.Context, d *domain.Domain) error {
	if d.UUID == "" {
		d.UUID = uuid.NewString()
	}
	annotations, err := toJSON(d.Annotations)
	if err != nil {
		return err
	}
	m := &DomainModel{
		UUID:         d.UUID,
		AppID:        d.AppID,
		Host:         strings.ToLower(d.Host),
		PathPrefix:   d.PathPrefix,
		HTTPSEnabled: d.HTTPSEnabled,
		Annotations:  annotations,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueConstraintError(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *DomainRepo) FindByApp(ctx context.Context, appID string) ([]*domain.Domain, error) {
	var models []DomainModel
	if err := r.db.WithContext(ctx).Where("app_id = ?", appID).Order("host, path_prefix").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Domain, 0, len(models))
	for i := range models {
		m := &models[i]
		d := &domain.Domain{
			UUID:         m.UUID,
			AppID:        m.AppID,
			Host:         m.Host,
			PathPrefix:   m.PathPrefix,
			HTTPSEnabled: m.HTTPSEnabled,
			CreatedAt:    m.CreatedAt,
			UpdatedAt:    m.UpdatedAt,
		}
		if err := fromJSON(m.Annotations, &d.Annotations); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *DomainRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&DomainModel{}, "uuid = ?", id).Error
}

type SharedCertRepo struct {
	db *gorm.DB
}

func NewSharedCertRepo(db *gorm.DB) *SharedCertRepo {
	return &SharedCertRepo{db: db}
}

func (r *SharedCertRepo) Save(ctx context.Context, cert *domain.AppDomainSharedCert) error {
	return r.db.WithContext(ctx).Save(&SharedCertModel{
		Name:         cert.Name,
		Region:       cert.Region,
		TenantID:     cert.TenantID,
		AutoMatchCNs: cert.AutoMatchCNs,
		Cert:         cert.Cert,
		Key:          cert.Key,
		CreatedAt:    cert.CreatedAt,
		UpdatedAt:    cert.UpdatedAt,
	}).Error
}

func (r *SharedCertRepo) FindByName(ctx context.Context, name string) (*domain.AppDomainSharedCert, error) {
	var m SharedCertModel
	if err := r.db.WithContext(ctx).First(&m, "name = ?", name).Error; err != nil {
		return nil, mapNotFound(err, domain.ErrSharedCertNotFound)
	}
	return modelToSharedCert(&m), nil
}

func (r *SharedCertRepo) FindByRegion(ctx context.Context, region, tenantID string) ([]*domain.AppDomainSharedCert, error) {
	var models []SharedCertModel
	err := r.db.WithContext(ctx).
		Where("region = ? AND tenant_id = ?", region, tenantID).
		Order("name").Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.AppDomainSharedCert, 0, len(models))
	for i := range models {
		out = append(out, modelToSharedCert(&models[i]))
	}
	return out, nil
}

func modelToSharedCert(m *SharedCertModel) *domain.AppDomainSharedCert {
	return &domain.AppDomainSharedCert{
		Name:         m.Name,
		Region:       m.Region,
		TenantID:     m.TenantID,
		AutoMatchCNs: m.AutoMatchCNs,
		Cert:         m.Cert,
		Key:          m.Key,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
