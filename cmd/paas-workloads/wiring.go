package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/chiwei-platform/paas-workloads/internal/adapter/loki"
	"github.com/chiwei-platform/paas-workloads/internal/adapter/redisstore"
	"github.com/chiwei-platform/paas-workloads/internal/adapter/registry"
	"github.com/chiwei-platform/paas-workloads/internal/adapter/repository"
	"github.com/chiwei-platform/paas-workloads/internal/config"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/kube"
	"github.com/chiwei-platform/paas-workloads/internal/logging"
	"github.com/chiwei-platform/paas-workloads/internal/mapper"
	"github.com/chiwei-platform/paas-workloads/internal/service"
	"github.com/chiwei-platform/paas-workloads/internal/wait"
)

// services 是各命令共用的依赖集合。
type services struct {
	cfg   *config.Config
	db    *gorm.DB
	redis *redis.Client
	queue *redisstore.TaskQueue

	apps      *service.AppService
	clusters  *service.ClusterService
	processes *service.ProcessService
	deploys   *service.DeployService
	offlines  *service.OfflineService
	ingresses *service.IngressService
	logs      *service.LogService
	plans     *service.PlanService
	images    *service.ImageService
	janitor   *service.PodJanitor
}

func setupLogger(cfg *config.Config) {
	slog.SetDefault(logging.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel))
}

// openDB 只打开数据库，供不需要 Redis 与集群的运维命令使用。
func openDB(cfg *config.Config) (*gorm.DB, *service.Repositories, error) {
	db, err := repository.OpenDB(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	repos := &service.Repositories{
		Apps:           repository.NewWlAppRepo(db),
		Configs:        repository.NewConfigRepo(db),
		Releases:       repository.NewReleaseRepo(db),
		Builds:         repository.NewBuildRepo(db),
		BuildProcesses: repository.NewBuildProcessRepo(db),
		Commands:       repository.NewCommandRepo(db),
		Clusters:       repository.NewClusterRepo(db),
		Domains:        repository.NewDomainRepo(db),
		SharedCerts:    repository.NewSharedCertRepo(db),
		Deploys:        repository.NewDeployRepo(db),
		Offlines:       repository.NewOfflineRepo(db),
		Probes:         repository.NewProcessProbeRepo(db),
		Plans:          repository.NewResourcePlanRepo(db),
	}
	return db, repos, nil
}

func mapperOptions(cfg *config.Config) mapper.Options {
	return mapper.Options{
		MaxSurge:       intstr.Parse(cfg.DeployMaxSurge),
		MaxUnavailable: intstr.Parse(cfg.DeployMaxUnavailable),
	}
}

func newServices(ctx context.Context, cfg *config.Config) (*services, error) {
	db, repos, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	rdb, err := redisstore.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	queue := redisstore.NewTaskQueue(rdb, redisstore.DefaultQueueKey)

	pool := kube.NewPool(repos.Clusters, kube.PoolOptions{
		Timeout:       cfg.KubeRequestTimeout,
		FailureWindow: cfg.KubeEndpointFailureWindow,
	})
	mappers := mapper.NewRegistry(mapperOptions(cfg))
	engine := wait.NewEngine(cfg.WaitPollInterval, slog.Default())

	clusters := service.NewClusterService(repos.Clusters, pool)
	processes := service.NewProcessService(repos, clusters, pool, mappers,
		redisstore.NewSnapshotStore(rdb, cfg.SnapshotTTL), int32(cfg.MaxProcessReplicas))
	imageRegistry := registry.NewClient(registry.Options{
		Username: cfg.RegistryUsername,
		Password: cfg.RegistryPassword,
		Insecure: cfg.RegistryInsecure,
	})

	return &services{
		cfg:       cfg,
		db:        db,
		redis:     rdb,
		queue:     queue,
		apps:      service.NewAppService(repos.Apps, repos.Configs, mappers),
		clusters:  clusters,
		processes: processes,
		deploys: service.NewDeployService(repos, clusters, pool, mappers, processes, engine,
			redisstore.NewLogStream(rdb), queue, service.DeployOptions{
				Timeout:     cfg.DeployTimeout,
				HookTimeout: cfg.PreReleaseHookTimeout,
			}),
		offlines:  service.NewOfflineService(repos, clusters, pool, mappers, processes, engine, queue, cfg.OfflineTimeout),
		ingresses: service.NewIngressService(repos, clusters, pool, mappers, queue),
		logs:      service.NewLogService(loki.NewClient(cfg.LokiURL)),
		plans:     service.NewPlanService(repos.Plans),
		images:    service.NewImageService(repos.Builds, imageRegistry, cfg.ImageRetentionCount),
		janitor:   service.NewPodJanitor(clusters, pool),
	}, nil
}

func (s *services) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			slog.Warn("close redis", "error", err)
		}
	}
	closeDB(s.db)
}

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// schedulerDeadlines 是各类任务的执行时限。
func schedulerDeadlines(cfg *config.Config) map[domain.TaskKind]time.Duration {
	return map[domain.TaskKind]time.Duration{
		domain.TaskDeploy:  cfg.DeployTimeout,
		domain.TaskOffline: cfg.OfflineTimeout,
	}
}
