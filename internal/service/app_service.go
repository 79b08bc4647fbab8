package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/metrics"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

type AppService struct {
	apps    port.WlAppRepository
	configs port.ConfigRepository
	mappers *mapper.Registry
}

func NewAppService(apps port.WlAppRepository, configs port.ConfigRepository, mappers *mapper.Registry) *AppService {
	return &AppService{apps: apps, configs: configs, mappers: mappers}
}

type EnsureWlAppRequest struct {
	Region   string         `json:"region"`
	TenantID string         `json:"tenant_id"`
	AppCode  string         `json:"app_code"`
	Module   string         `json:"module"`
	Env      string         `json:"env"`
	Type     domain.AppType `json:"type"`
	Owner    string         `json:"owner"`
	Cluster  string         `json:"cluster,omitempty"`
}

// EnsureWlApp 按 (应用, 模块, 环境) 幂等地创建 WlApp 与首个 Config，首个 Config 写入最新 mapper 版本。
func (s *AppService) EnsureWlApp(ctx context.Context, req EnsureWlAppRequest) (*domain.WlApp, error) {
	if req.AppCode == "" || req.Env == "" {
		return nil, fmt.Errorf("%w: app_code and env are required", domain.ErrInvalidInput)
	}
	if req.Type == "" {
		req.Type = domain.AppTypeDefault
	}
	if req.Type != domain.AppTypeDefault && req.Type != domain.AppTypeCloudNative {
		return nil, fmt.Errorf("%w: unknown app type %q", domain.ErrInvalidInput, req.Type)
	}
	if req.Module == "" {
		req.Module = domain.DefaultModuleName
	}

	name := domain.GenerateWlAppName(req.AppCode, req.Module, req.Env)
	if err := domain.ValidateK8sName(name); err != nil {
		return nil, err
	}
	existing, err := s.apps.FindByName(ctx, req.Region, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	app := &domain.WlApp{
		UUID:      uuid.NewString(),
		Region:    req.Region,
		TenantID:  req.TenantID,
		Name:      name,
		Type:      req.Type,
		Namespace: name,
		Owner:     req.Owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.apps.Save(ctx, app); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.apps.FindByName(ctx, req.Region, name)
		}
		return nil, err
	}

	cfg := &domain.Config{
		AppID:   app.UUID,
		Cluster: req.Cluster,
		Metadata: domain.ConfigMetadata{
			PaasAppCode:   req.AppCode,
			ModuleName:    req.Module,
			Environment:   req.Env,
			MapperVersion: s.mappers.Latest(),
		},
		CreatedAt: now,
	}
	if err := s.configs.Append(ctx, cfg); err != nil {
		return nil, err
	}

	metrics.NewApplication.WithLabelValues(app.Region, string(app.Type)).Inc()
	slog.InfoContext(ctx, "wl app created", "app", app.Name, "region", app.Region, "mapper_version", cfg.Metadata.MapperVersion)
	return app, nil
}

func (s *AppService) GetApp(ctx context.Context, region, name string) (*domain.WlApp, error) {
	return s.apps.FindByName(ctx, region, name)
}

func (s *AppService) LatestConfig(ctx context.Context, appID string) (*domain.Config, error) {
	return s.configs.FindLatest(ctx, appID)
}

// AppendConfig 复制最新 Config，交给 mutate 修改后作为新版本追加。
func (s *AppService) AppendConfig(ctx context.Context, appID string, mutate func(*domain.Config) error) (*domain.Config, error) {
	return s.configs.AppendFromLatest(ctx, appID, mutate)
}
