package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"encrypted_like/pkg/loadtest"

	"github.com/spf13/cobra"
)

var (
	baseURL     string
	concurrency int
	duration    time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "perf_test",
		Short:        "Load test the read endpoints of a running server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			apiTest := loadtest.NewAPITest(baseURL)

			// 检查服务器是否可用
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			err := apiTest.HealthCheckTest()(ctx)
			cancel()
			if err != nil {
				return fmt.Errorf("服务器不可用 %s: %w", baseURL, err)
			}
			fmt.Fprintf(out, "服务器可用: %s\n\n", baseURL)

			res := apiTest.ReadScenario(concurrency, duration).Run(cmd.Context())
			res.PrintResult(out)
			if res.ErrorRate > 0.001 {
				fmt.Fprintf(out, "错误率 %.2f%% 超过 0.1%%\n", res.ErrorRate*100)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&baseURL, "url", "u", "http://localhost:8080", "Base URL for testing.")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 50, "Number of concurrent workers.")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 30*time.Second, "Test duration.")
	return cmd
}
