package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/secure-auth-core/internal/config"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
	"github.com/sandeepkv93/secure-auth-core/internal/tools/common"
	"github.com/sandeepkv93/secure-auth-core/internal/tools/ui"
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "authcore",
		Short:         "Authentication and authorization core service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional KEY=VALUE file loaded before reading the environment")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "deadline for maintenance commands")
	cmd.AddCommand(
		newServeCommand(opts),
		newReconcileCommand(opts),
		newBootstrapCommand(opts),
		newSweepSessionsCommand(opts),
		newLoadgenCommand(opts),
	)
	return cmd
}

// Execute runs the root command and maps failures to exit codes.
func Execute(ctx context.Context) int {
	err := NewRootCommand().ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}

func loadConfig(opts *options) (*config.Config, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return config.Load()
}

// toolLogger keeps maintenance output readable: logs go to stderr so stdout
// stays reserved for results.
func toolLogger(cfg *config.Config, errOut io.Writer) *slog.Logger {
	return observability.NewLogger(cfg, errOut, nil)
}

// runTask executes fn under a deadline, either directly in CI mode or behind
// the interactive progress view, and reports the outcome.
func runTask(cmd *cobra.Command, opts *options, title string, fn func(context.Context) ([]string, error)) error {
	var (
		details []string
		err     error
	)
	if opts.ci {
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
		defer cancel()
		details, err = fn(ctx)
		common.WriteCIResult(cmd.OutOrStdout(), err == nil, title, details, err)
	} else {
		details, err = ui.Run(title, func(ctx context.Context) ([]string, error) {
			ctx, cancel := context.WithTimeout(ctx, opts.timeout)
			defer cancel()
			return fn(ctx)
		})
	}
	if err != nil {
		return &ExitError{Code: 4, Err: err}
	}
	return nil
}
