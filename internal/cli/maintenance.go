package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/secure-auth-core/internal/di"
	"github.com/sandeepkv93/secure-auth-core/internal/http/router"
	"github.com/sandeepkv93/secure-auth-core/internal/tools/common"
)

func withMaintenance(cmd *cobra.Command, opts *options, title string, fn func(context.Context, *di.Maintenance) ([]string, error)) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := toolLogger(cfg, cmd.ErrOrStderr())
	return runTask(cmd, opts, title, func(ctx context.Context) ([]string, error) {
		m, cleanup, err := di.InitializeMaintenance(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		return fn(ctx, m)
	})
}

func newReconcileCommand(opts *options) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Sync the permission catalog with the operations the API exposes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			title := "permissions reconcile"
			if dryRun {
				title += " (dry run)"
			}
			var rendered string
			err := withMaintenance(cmd, opts, title, func(ctx context.Context, m *di.Maintenance) ([]string, error) {
				ops := router.Operations()
				if dryRun {
					plan, err := m.Reconciler.Plan(ctx, ops)
					if err != nil {
						return nil, err
					}
					rendered = common.RenderPlan(plan)
					return common.PlanDetails(plan), nil
				}
				plan, res, err := m.Reconciler.Reconcile(ctx, ops)
				if err != nil {
					return nil, err
				}
				details := common.PlanDetails(plan)
				if res.Changed() {
					granted, err := m.RBAC.GrantAllActiveToAdmin(ctx)
					if err != nil {
						return details, err
					}
					details = append(details, fmt.Sprintf("admin granted %d", granted))
				}
				return append(details, fmt.Sprintf("created=%d existing=%d reactivated=%d deactivated=%d",
					res.Created, res.Existing, res.Reactivated, res.Deactivated)), nil
			})
			if err == nil && rendered != "" && !opts.ci {
				fmt.Fprint(cmd.OutOrStdout(), rendered)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without writing")
	return cmd
}

func newBootstrapCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Seed system roles, reconcile permissions and promote the bootstrap admin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMaintenance(cmd, opts, "bootstrap", func(ctx context.Context, m *di.Maintenance) ([]string, error) {
				if err := m.Bootstrap.Run(ctx); err != nil {
					return nil, err
				}
				return []string{"system roles seeded", "admin role synced"}, nil
			})
		},
	}
}

func newSweepSessionsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-sessions",
		Short: "Delete expired sessions and revoked sessions past retention",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMaintenance(cmd, opts, "sweep sessions", func(ctx context.Context, m *di.Maintenance) ([]string, error) {
				n, err := m.Sessions.SweepExpired(ctx)
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("removed=%d", n)}, nil
			})
		},
	}
}
