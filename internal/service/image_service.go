package service

import (
	"context"
	"log/slog"

	"github.com/samber/lo"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

// ImageService 按保留数清理模块的历史镜像。
type ImageService struct {
	builds    port.BuildRepository
	registry  port.ImageRegistry
	retention int
}

func NewImageService(builds port.BuildRepository, registry port.ImageRegistry, retention int) *ImageService {
	if retention < 1 {
		retention = 1
	}
	return &ImageService{builds: builds, registry: registry, retention: retention}
}

// CleanupImages 保留最近 retention 个镜像构建，其余从仓库删除并标记制品已删除。
// 仍被保留构建引用的镜像不会被删除。删除失败的构建留待下次清理。
func (s *ImageService) CleanupImages(ctx context.Context, moduleID string) (int, error) {
	builds, err := s.builds.FindImageBuilds(ctx, moduleID)
	if err != nil {
		return 0, err
	}
	if len(builds) <= s.retention {
		return 0, nil
	}
	kept, expired := builds[:s.retention], builds[s.retention:]
	keptImages := lo.SliceToMap(kept, func(b *domain.Build) (string, struct{}) { return b.Image, struct{}{} })

	var deleted []string
	for _, b := range expired {
		if _, inUse := keptImages[b.Image]; !inUse && b.Image != "" {
			if err := s.registry.DeleteImage(ctx, b.Image); err != nil {
				slog.WarnContext(ctx, "delete image failed", "module", moduleID, "build", b.UUID, "image", b.Image, "error", err)
				continue
			}
		}
		deleted = append(deleted, b.UUID)
	}
	if len(deleted) == 0 {
		return 0, nil
	}

	if s.retention == 1 && len(deleted) == len(expired) {
		err = s.builds.MarkAsLatestArtifact(ctx, kept[0])
	} else {
		err = s.builds.MarkArtifactDeleted(ctx, deleted)
	}
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "expired images cleaned", "module", moduleID, "count", len(deleted))
	return len(deleted), nil
}
