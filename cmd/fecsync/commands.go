package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fecsync/internal/app"
	"fecsync/internal/finance/identity"
	"fecsync/internal/finance/models"
	"fecsync/internal/finance/orchestrator"
)

func candidateCmd() *cobra.Command {
	var c models.Candidate
	var office string
	cmd := &cobra.Command{
		Use:   "candidate-add",
		Short: "Add or update a tracked candidate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.ID == "" || c.Name == "" {
				return errors.New("--id and --name are required")
			}
			c.State = strings.ToUpper(c.State)
			c.Office = models.ParseOffice(office)
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Store.UpsertCandidate(ctx, c); err != nil {
					return err
				}
				stored, err := a.Store.GetCandidate(ctx, c.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd, stored)
			})
		},
	}
	cmd.Flags().StringVar(&c.ID, "id", "", "local candidate id")
	cmd.Flags().StringVar(&c.Name, "name", "", "candidate name")
	cmd.Flags().StringVar(&c.State, "state", "", "two-letter state code")
	cmd.Flags().StringVar(&office, "office", "", "house, senate or president")
	cmd.Flags().StringVar(&c.District, "district", "", "house district")
	cmd.Flags().StringVar(&c.CrosswalkID, "bioguide", "", "bioguide id used for the crosswalk lookup")
	return cmd
}

func resolveCmd() *cobra.Command {
	var cycle int
	cmd := &cobra.Command{
		Use:   "resolve <candidate-id>",
		Short: "Find the external candidate id for a local candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				c, err := a.Store.GetCandidate(ctx, args[0])
				if err != nil {
					return err
				}
				if cycle == 0 {
					cycle = a.Config.Sync.DefaultCycle
				}
				res, err := a.Resolver.Resolve(ctx, identity.InputFor(*c, cycle))
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().IntVar(&cycle, "cycle", 0, "election cycle (defaults to sync.default_cycle)")
	return cmd
}

func confirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <candidate-id> <external-id>",
		Short: "Apply a reviewed external candidate id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Resolver.Confirm(ctx, args[0], strings.ToUpper(args[1]))
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

// importFlags are shared by every command that drives import passes.
type importFlags struct {
	cycle        int
	maxPages     int
	includeOther bool
	maxRuntimeMs int64
	rateLimit    int

	cmd *cobra.Command
}

func (f *importFlags) register(cmd *cobra.Command) {
	f.cmd = cmd
	cmd.Flags().IntVar(&f.cycle, "cycle", 0, "election cycle")
	cmd.Flags().IntVar(&f.maxPages, "max-pages", 0, "page cap per committee per pass")
	cmd.Flags().BoolVar(&f.includeOther, "include-other", false, "keep receipts that are not individual contributions")
	cmd.Flags().Int64Var(&f.maxRuntimeMs, "max-runtime-ms", 0, "wall-clock budget per pass in milliseconds")
	cmd.Flags().IntVar(&f.rateLimit, "rate-limit", 0, "upstream requests per minute")
}

func (f *importFlags) request(candidateID string) orchestrator.ImportRequest {
	req := orchestrator.ImportRequest{
		CandidateID:        candidateID,
		Cycle:              f.cycle,
		MaxPages:           f.maxPages,
		MaxRuntimeMs:       f.maxRuntimeMs,
		RateLimitPerMinute: f.rateLimit,
	}
	// Unset keeps sync.include_other_receipts from the config.
	if f.cmd.Flags().Changed("include-other") {
		req.IncludeOtherReceipts = &f.includeOther
	}
	return req
}

func importCmd() *cobra.Command {
	var flags importFlags
	var externalID, committeeID string
	cmd := &cobra.Command{
		Use:   "import <candidate-id>",
		Short: "Run one bounded import pass for a candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := flags.request(args[0])
			req.ExternalCandidateID = strings.ToUpper(externalID)
			req.CommitteeID = strings.ToUpper(committeeID)
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Orchestrator.Import(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&externalID, "external-id", "", "external candidate id override")
	cmd.Flags().StringVar(&committeeID, "committee", "", "extra committee id to import")
	return cmd
}

func syncCmd() *cobra.Command {
	var flags importFlags
	cmd := &cobra.Command{
		Use:   "sync <candidate-id>",
		Short: "Run import passes until a candidate is fully synced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Orchestrator.SyncCandidate(ctx, flags.request(args[0]))
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func batchCmd() *cobra.Command {
	var flags importFlags
	cmd := &cobra.Command{
		Use:   "batch <candidate-id>...",
		Short: "Sync several candidates one after another",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				run, err := a.Orchestrator.StartBatch(ctx, a.Runs, args, flags.request(""))
				if err != nil {
					return err
				}
				return waitRun(ctx, cmd, a, run)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func syncAllCmd() *cobra.Command {
	var flags importFlags
	cmd := &cobra.Command{
		Use:   "sync-all",
		Short: "Sync every candidate that was never synced or has pending work",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				run := a.Orchestrator.StartAll(ctx, a.Runs, flags.request(""))
				return waitRun(ctx, cmd, a, run)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// waitRun blocks until run finishes. An interrupt cancels the run at the
// next candidate boundary and still waits for it to settle.
func waitRun(ctx context.Context, cmd *cobra.Command, a *app.App, run *orchestrator.Run) error {
	select {
	case <-run.Done():
	case <-ctx.Done():
		a.Logger.Warn("interrupted, cancelling run", "run_id", run.ID)
		if _, err := a.Runs.Cancel(context.WithoutCancel(ctx), run.ID); err != nil {
			return err
		}
		<-run.Done()
	}
	p := run.Progress()
	if err := printJSON(cmd, p); err != nil {
		return err
	}
	if p.State == string(orchestrator.StateFailed) {
		return fmt.Errorf("run %s failed", run.ID)
	}
	return nil
}
