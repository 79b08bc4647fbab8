package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:           "paas-workloads",
	Short:         "Workload controller of the PaaS platform",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(
		newServeCmd(),
		newRunSchedulerCmd(),
		newCleanTimeoutPodCmd(),
		newInitialDefaultClusterCmd(),
		newUpdateBuiltinPlansRequestsCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode 配置错误返回 1，其它错误返回 2。
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		return 1
	}
	return 2
}
