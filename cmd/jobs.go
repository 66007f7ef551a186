package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	app "github.com/okian/errquotient/internal/app"
	"github.com/okian/errquotient/internal/domain/features"
	"github.com/okian/errquotient/pkg/logger"
)

// skippedUser is printed when a user has no usable events.
type skippedUser struct {
	UserID  string `json:"user_id"`
	Skipped bool   `json:"skipped"`
}

func newRecomputeCmd(env *runtimeEnv) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute session scores and profiles for one user or all users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, env, func(ctx context.Context, svc *app.Service) (any, error) {
				if userID == "" {
					summary, err := svc.ProcessAll(ctx)
					return summary, err
				}
				out, ok, err := svc.ProcessUser(ctx, userID)
				if err != nil {
					return nil, err
				}
				if !ok {
					return skippedUser{UserID: userID, Skipped: true}, nil
				}
				return out, nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "recompute only this user")
	return cmd
}

func newRetrainCmd(env *runtimeEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Refit the classifier over all profiles and relabel stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, env, func(ctx context.Context, svc *app.Service) (any, error) {
				res, err := svc.RetrainAll(ctx)
				return res, err
			})
		},
	}
}

func newReconcileCmd(env *runtimeEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Align stored labels with the live model without refitting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, env, func(ctx context.Context, svc *app.Service) (any, error) {
				rep, err := svc.Reconcile(ctx)
				return rep, err
			})
		},
	}
}

func newFeaturesCmd(env *runtimeEnv) *cobra.Command {
	var (
		userID string
		schema string
	)
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Print the feature vector of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			s, err := features.ParseSchema(schema)
			if err != nil {
				return err
			}
			return runJob(cmd, env, func(ctx context.Context, svc *app.Service) (any, error) {
				return svc.Features(ctx, userID, s)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user to describe")
	cmd.Flags().StringVar(&schema, "schema", string(features.SchemaEQ), "feature schema: eq or weighted")
	return cmd
}

// runJob starts a service without the daily schedule, runs job and prints
// its result as JSON.
func runJob(cmd *cobra.Command, env *runtimeEnv, job func(context.Context, *app.Service) (any, error)) error {
	ctx := cmd.Context()
	svc := env.newService(app.WithoutDailyRetrain())
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer func() {
		if err := svc.Stop(context.WithoutCancel(ctx)); err != nil {
			env.log.Error(ctx, "service stop failed", logger.Error(err))
		}
	}()

	res, err := job(ctx, svc)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
