package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chiwei-platform/paas-workloads/internal/config"
	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/kube"
	"github.com/chiwei-platform/paas-workloads/internal/service"
)

func newCleanTimeoutPodCmd() *cobra.Command {
	var (
		timeout int
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "clean_timeout_pod",
		Short: "Remove build pods older than the timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if timeout <= 0 {
				return domain.NewConfigurationError("--timeout must be positive, got %d", timeout)
			}
			cfg := config.Load()
			setupLogger(cfg)
			db, repos, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			pool := kube.NewPool(repos.Clusters, kube.PoolOptions{
				Timeout:       cfg.KubeRequestTimeout,
				FailureWindow: cfg.KubeEndpointFailureWindow,
			})
			janitor := service.NewPodJanitor(service.NewClusterService(repos.Clusters, pool), pool)
			pods, err := janitor.CleanTimeoutPods(cmd.Context(), time.Duration(timeout)*time.Second, dryRun)
			if err != nil {
				return err
			}
			verb := "deleted"
			if dryRun {
				verb = "would delete"
			}
			for _, p := range pods {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, p)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&timeout, "timeout", 3600, "pod age in seconds")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only print the pods to delete")
	return cmd
}

func newInitialDefaultClusterCmd() *cobra.Command {
	var (
		fromFile       string
		fromKubeconfig string
		kubeContext    string
		tenantID       string
	)
	cmd := &cobra.Command{
		Use:   "initial_default_cluster",
		Short: "Register the default cluster from env vars, a yaml file or a kubeconfig",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			setupLogger(cfg)

			var clusters []*domain.Cluster
			switch {
			case fromFile != "" && fromKubeconfig != "":
				return domain.NewConfigurationError("--from-file and --from-kubeconfig are mutually exclusive")
			case fromFile != "":
				var err error
				if clusters, err = loadClusterFile(fromFile); err != nil {
					return err
				}
			case fromKubeconfig != "":
				c, err := kube.ClusterFromKubeconfig(fromKubeconfig, kubeContext)
				if err != nil {
					return err
				}
				c.TenantID = tenantID
				c.IsDefault = true
				clusters = []*domain.Cluster{c}
			default:
				c, err := config.LoadClusterBootstrap(cfg.DefaultRegion)
				if err != nil {
					return err
				}
				clusters = []*domain.Cluster{c}
			}

			db, repos, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			pool := kube.NewPool(repos.Clusters, kube.PoolOptions{})
			svc := service.NewClusterService(repos.Clusters, pool)
			for _, c := range clusters {
				if c.Region == "" {
					c.Region = cfg.DefaultRegion
				}
				if err := svc.RegisterCluster(cmd.Context(), c); err != nil {
					return fmt.Errorf("register cluster %s: %w", c.Name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cluster %s registered in region %s\n", c.Name, c.Region)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fromFile, "from-file", "", "yaml file holding a list of clusters")
	cmd.Flags().StringVar(&fromKubeconfig, "from-kubeconfig", "", "flattened kubeconfig to read the cluster from")
	cmd.Flags().StringVar(&kubeContext, "context", "", "kubeconfig context, defaults to current-context")
	cmd.Flags().StringVar(&tenantID, "tenant", "default", "tenant of the cluster read from kubeconfig")
	return cmd
}

// loadClusterFile 解析集群定义文件，文件内容为集群列表。
func loadClusterFile(path string) ([]*domain.Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewConfigurationError("read %s: %v", path, err)
	}
	var clusters []*domain.Cluster
	if err := yaml.Unmarshal(data, &clusters); err != nil {
		return nil, domain.NewConfigurationError("parse %s: %v", path, err)
	}
	if len(clusters) == 0 {
		return nil, domain.NewConfigurationError("%s defines no cluster", path)
	}
	for _, c := range clusters {
		if len(c.APIServers) == 0 {
			return nil, domain.NewConfigurationError("cluster %q has no api_servers", c.Name)
		}
	}
	return clusters, nil
}

func newUpdateBuiltinPlansRequestsCmd() *cobra.Command {
	var cpu, memory string
	cmd := &cobra.Command{
		Use:   "update_builtin_plans_requests",
		Short: "Rewrite resource requests of the built-in plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cpu == "" && memory == "" {
				return domain.NewConfigurationError("at least one of --cpu and --memory is required")
			}
			cfg := config.Load()
			setupLogger(cfg)
			db, repos, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			plans := service.NewPlanService(repos.Plans)
			if err := plans.EnsureBuiltinPlans(cmd.Context()); err != nil {
				return err
			}
			n, err := plans.UpdateBuiltinRequests(cmd.Context(), cpu, memory)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d built-in plans updated\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&cpu, "cpu", "", "cpu request, e.g. 200m")
	cmd.Flags().StringVar(&memory, "memory", "", "memory request, e.g. 256Mi")
	return cmd
}
