package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/port"
)

type PlanService struct {
	plans port.ResourcePlanRepository
}

func NewPlanService(plans port.ResourcePlanRepository) *PlanService {
	return &PlanService{plans: plans}
}

// EnsureBuiltinPlans 写入缺失的内置资源方案，已存在的方案不做修改。
func (s *PlanService) EnsureBuiltinPlans(ctx context.Context) error {
	for _, plan := range domain.BuiltinPlans() {
		_, err := s.plans.FindByName(ctx, plan.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		now := time.Now()
		plan.CreatedAt = now
		plan.UpdatedAt = now
		if err := s.plans.Save(ctx, &plan); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("save builtin plan %s: %w", plan.Name, err)
		}
		slog.InfoContext(ctx, "builtin plan created", "plan", plan.Name)
	}
	return nil
}

// UpdateBuiltinRequests 改写全部内置方案的 requests，返回更新的方案数。空值表示不修改该项。
func (s *PlanService) UpdateBuiltinRequests(ctx context.Context, cpu, memory string) (int, error) {
	for _, q := range []string{cpu, memory} {
		if q == "" {
			continue
		}
		if _, err := resource.ParseQuantity(q); err != nil {
			return 0, fmt.Errorf("%w: quantity %q: %v", domain.ErrInvalidInput, q, err)
		}
	}
	if cpu == "" && memory == "" {
		return 0, fmt.Errorf("%w: cpu or memory is required", domain.ErrInvalidInput)
	}

	plans, err := s.plans.FindAll(ctx)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, plan := range plans {
		if !plan.IsBuiltin {
			continue
		}
		if cpu != "" {
			plan.Requests.CPU = cpu
		}
		if memory != "" {
			plan.Requests.Memory = memory
		}
		plan.UpdatedAt = time.Now()
		if err := s.plans.Update(ctx, plan); err != nil {
			return updated, fmt.Errorf("update plan %s: %w", plan.Name, err)
		}
		updated++
	}
	slog.InfoContext(ctx, "builtin plan requests updated", "plans", updated, "cpu", cpu, "memory", memory)
	return updated, nil
}

func (s *PlanService) ListPlans(ctx context.Context) ([]*domain.ResourcePlan, error) {
	return s.plans.FindAll(ctx)
}
