package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	app "github.com/okian/errquotient/internal/app"
	"github.com/okian/errquotient/internal/config"
	"github.com/okian/errquotient/pkg/logger"
	"github.com/okian/errquotient/pkg/tracing"
)

const serviceName = "errquotient"

// version is overridden at build time with -ldflags.
var version = "dev"

// runtimeEnv is what PersistentPreRunE prepares for every command.
type runtimeEnv struct {
	configPath string

	cfg             *config.Config
	log             logger.Logger
	shutdownTracing func(context.Context) error
}

func newRootCmd() *cobra.Command {
	env := &runtimeEnv{}

	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Error Quotient scoring and learner classification",
		Long:          "Scores compiler-error sessions with the Error Quotient and classifies learners\ninto HIGH, MEDIUM and LOW performance clusters.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return env.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return env.teardown(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), env)
		},
	}
	root.PersistentFlags().StringVar(&env.configPath, "config", "", "YAML config file (overrides "+config.EnvPrefix+"CONFIG)")

	root.AddCommand(
		newServeCmd(env),
		newRecomputeCmd(env),
		newRetrainCmd(env),
		newReconcileCmd(env),
		newFeaturesCmd(env),
	)
	return root
}

// setup loads configuration (defaults -> optional file -> env), then
// initializes logging and tracing from it.
func (e *runtimeEnv) setup(ctx context.Context) error {
	var (
		cfg *config.Config
		err error
	)
	if e.configPath != "" {
		cfg, err = config.LoadFile(ctx, e.configPath)
	} else {
		cfg, err = config.Load(ctx)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	e.cfg = cfg

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	e.log = logger.Get()
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		e.log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	shutdown, err := tracing.Init(ctx, tracing.Config{
		Exporter:    cfg.TracingExporter,
		ServiceName: serviceName,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	e.shutdownTracing = shutdown
	return nil
}

func (e *runtimeEnv) teardown(ctx context.Context) error {
	if e.shutdownTracing != nil {
		if err := e.shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn(ctx, "tracing shutdown failed", logger.Error(err))
		}
	}
	return logger.Sync()
}

// newService builds a service from the loaded configuration.
func (e *runtimeEnv) newService(extra ...app.Option) *app.Service {
	opts := append(app.OptionsFromConfig(e.cfg), app.WithLogger(e.log))
	return app.New(append(opts, extra...)...)
}
