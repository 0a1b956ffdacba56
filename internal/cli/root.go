// Package cli implements the cdp command: one-shot sweeps and operator
// actions against the configured store.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignite/recruit-cdp/internal/app"
	"github.com/ignite/recruit-cdp/internal/config"
	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/worker"
)

// BuildFunc assembles the app for one command run.
type BuildFunc func(ctx context.Context, configPath string) (*app.App, error)

// DefaultBuild loads config (file, .env, environment) and builds the app.
func DefaultBuild(ctx context.Context, configPath string) (*app.App, error) {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"

	build BuildFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. A nil build uses DefaultBuild.
func NewRootCommand(build BuildFunc) *cobra.Command {
	if build == nil {
		build = DefaultBuild
	}
	opts := &RootOptions{build: build}

	cmd := &cobra.Command{
		Use:   "cdp",
		Short: "Recruitment CDP operations",
		Long:  "Run segment, audience, flow and intake sweeps once against the configured store.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return WrapExitError(ExitCommandError,
				fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "config/config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newSweepCommand(opts, worker.SweepSegments, "Re-evaluate every active segment"))
	cmd.AddCommand(newSweepCommand(opts, worker.SweepAudiences, "Reconcile every sync-enabled segment with its audience"))
	cmd.AddCommand(newSweepCommand(opts, worker.SweepPending, "Resume enrollments whose next step is due"))
	cmd.AddCommand(newSweepCommand(opts, worker.SweepSharePoint, "Pull registrations from the SharePoint list"))
	cmd.AddCommand(newProvisionCommand(opts))
	cmd.AddCommand(newEnrollCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))

	return cmd
}

// withApp builds the app, runs fn and writes its result.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app.App) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	a, err := opts.build(ctx, opts.ConfigPath)
	if err != nil {
		err = WrapExitError(ExitCommandError, "initialize", err)
		out.Error(err)
		return err
	}
	defer a.Close()

	data, err := fn(ctx, a)
	if err != nil {
		code := ExitFailure
		switch {
		case errors.Is(err, worker.ErrLocked):
			code = ExitLocked
		case errors.Is(err, worker.ErrUnknownSweep):
			code = ExitCommandError
		}
		err = WrapExitError(code, cmd.Name(), err)
		if data != nil && opts.Format == "text" {
			_ = out.Success(data)
		}
		out.Error(err)
		return err
	}
	return out.Success(data)
}

func newSweepCommand(opts *RootOptions, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) (any, error) {
				return a.Sweeps.RunOnce(ctx, name)
			})
		},
	}
}

type provisionResult struct {
	SegmentID  string `json:"segmentId"`
	AudienceID string `json:"audienceId,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (r provisionResult) String() string {
	if r.Error != "" {
		return fmt.Sprintf("%s: %s", r.SegmentID, r.Error)
	}
	return fmt.Sprintf("%s -> %s", r.SegmentID, r.AudienceID)
}

type provisionResults []provisionResult

func (rs provisionResults) String() string {
	s := fmt.Sprintf("provisioned %d segments", len(rs))
	for _, r := range rs {
		s += "\n  " + r.String()
	}
	return s
}

func newProvisionCommand(opts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "provision-audiences [segment-id...]",
		Short: "Bind segments to external audiences, creating them when missing",
		Long: `Bind segments to external audiences. An audience with the segment's name
is reused when it exists. With --all, every active segment that has audience
sync enabled but no audience yet is provisioned.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return WrapExitError(ExitCommandError, "pass segment ids or --all", nil)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) (any, error) {
				if a.Service.Audience == nil {
					return nil, errors.New("audience sync is not configured (resend.api_key)")
				}
				ids := args
				if all {
					segs, err := a.Repo.ListActiveSegments(ctx)
					if err != nil {
						return nil, err
					}
					ids = pendingProvision(segs)
				}
				results := provisionResults{}
				var failed int
				for _, id := range ids {
					res := provisionResult{SegmentID: id}
					audienceID, err := a.Service.Audience.ProvisionAudience(ctx, id)
					if err != nil {
						res.Error = err.Error()
						failed++
					}
					res.AudienceID = audienceID
					results = append(results, res)
				}
				if failed > 0 {
					return results, fmt.Errorf("%d of %d segments failed", failed, len(ids))
				}
				return results, nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "provision every sync-enabled segment without an audience")
	return cmd
}

func pendingProvision(segs []domain.Segment) []string {
	var ids []string
	for _, s := range segs {
		if s.ResendSync.Enabled && s.ResendSync.AudienceID == "" {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func newEnrollCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enroll <flow-id> <applicant-id>",
		Short: "Enroll one applicant into one flow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) (any, error) {
				res, err := a.Service.Flows.EnrollManually(ctx, args[1], args[0])
				if err != nil {
					return nil, err
				}
				return res, nil
			})
		},
	}
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <applicant-id> <status>",
		Short: "Move an applicant to a pipeline status and fire status-change flows",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := domain.ApplicantStatus(args[1])
			if !status.Valid() {
				return WrapExitError(ExitCommandError, fmt.Sprintf("unknown status %q", args[1]), nil)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) (any, error) {
				flows, err := a.Service.Intake.UpdateApplicantStatus(ctx, args[0], status)
				if err != nil {
					return nil, err
				}
				return map[string]any{"applicantId": args[0], "status": status, "flows": len(flows)}, nil
			})
		},
	}
}
