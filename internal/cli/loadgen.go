package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/secure-auth-core/internal/tools/loadgen"
)

func newLoadgenCommand(opts *options) *cobra.Command {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Drive auth and health traffic at a running instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTask(cmd, opts, "loadgen "+cfg.Profile, func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("total=%d failures=%d rate_limited=%d", res.TotalRequests, res.Failures, res.RateLimited)}
				classes := make([]string, 0, len(res.StatusClasses))
				for class := range res.StatusClasses {
					classes = append(classes, class)
				}
				sort.Strings(classes)
				for _, class := range classes {
					details = append(details, fmt.Sprintf("%s=%d", class, res.StatusClasses[class]))
				}
				if res.Failures > 0 {
					return details, fmt.Errorf("%d requests failed", res.Failures)
				}
				return details, nil
			})
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: auth, health or mixed")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to generate traffic")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "target requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "parallel workers")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 42, "random seed for request selection")
	return cmd
}
