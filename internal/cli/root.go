// Package cli implements reflectctl, the command-line front end to the
// reflection pipeline, the snapshot store and the evaluator.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cot-reflect/backend/internal/app"
	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/config"
	"github.com/cot-reflect/backend/pkg/logger"
)

type options struct {
	configPath string
	logLevel   string
	newApp     func(ctx context.Context, cfg *config.Config) (*app.App, error)
}

// Execute runs reflectctl with os.Args, cancelling on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{newApp: app.New})
}

func newRootCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reflectctl",
		Short: "Chain-of-thought reflection runs, snapshots and evaluations",
		Long: `reflectctl drives the reflection pipeline from the command line.

A run asks a model to think, reflect on that thinking and then answer,
next to a direct baseline answer. Runs can be saved as snapshots, and two
snapshots can be compared by a judge model.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&o.configPath, "config", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newModelsCmd(o),
		newRunCmd(o),
		newSnapshotsCmd(o),
		newEvaluateCmd(o),
	)

	return cmd
}

// open loads configuration, sets up logging on stderr and builds the app.
// The caller closes the app.
func (o *options) open(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(o.logLevel, "console", "stderr"); err != nil {
		return nil, err
	}
	return o.newApp(ctx, cfg)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("id", "%q is not a positive integer", s)
	}
	return id, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}
