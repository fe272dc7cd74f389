package main

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/haatos/guardrails-deployer/internal/ctxlog"
	"github.com/haatos/guardrails-deployer/internal/service"
	"github.com/spf13/cobra"
)

func deployCmd(a *app) *cobra.Command {
	var opts service.DeployOptions
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Resolve the project, build and run the jobs, then promote the application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.loadManifest()
			if err != nil {
				return err
			}
			ctx := ctxlog.WithLogger(cmd.Context(), a.logger)
			svc, err := a.pipelineService(ctx)
			if err != nil {
				return err
			}
			if opts.ProjectID != "" {
				a.logger.Info("skipping project resolution", "project_id", opts.ProjectID)
			}
			res, err := svc.Deploy(ctx, m, opts)
			printResult(a.out, res)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project-id", "", "use this project instead of resolving one by name")
	cmd.Flags().StringVar(&opts.From, "from", "", "resume job execution at this job")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "resume even if earlier jobs did not last succeed")
	return cmd
}

func resolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Find or create the project and wait until its repository is cloned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.loadManifest()
			if err != nil {
				return err
			}
			ctx := ctxlog.WithLogger(cmd.Context(), a.logger)
			svc, err := a.pipelineService(ctx)
			if err != nil {
				return err
			}
			res, err := svc.Resolve(ctx, m)
			printResult(a.out, res)
			return err
		},
	}
}

func jobsCmd(a *app) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage the project's job graph",
	}

	var buildProjectID string
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Create or update every job of the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.loadManifest()
			if err != nil {
				return err
			}
			projectID, err := requireProjectID(a, buildProjectID)
			if err != nil {
				return err
			}
			ctx := ctxlog.WithLogger(cmd.Context(), a.logger)
			svc, err := a.pipelineService(ctx)
			if err != nil {
				return err
			}
			res, err := svc.BuildJobs(ctx, m, projectID)
			printResult(a.out, res)
			return err
		},
	}
	buildCmd.Flags().StringVar(&buildProjectID, "project-id", "", "project to build the jobs in")

	var runOpts service.DeployOptions
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the jobs in dependency order, stopping at the first failure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.loadManifest()
			if err != nil {
				return err
			}
			if runOpts.ProjectID, err = requireProjectID(a, runOpts.ProjectID); err != nil {
				return err
			}
			ctx := ctxlog.WithLogger(cmd.Context(), a.logger)
			svc, err := a.pipelineService(ctx)
			if err != nil {
				return err
			}
			res, err := svc.RunJobs(ctx, m, runOpts)
			printResult(a.out, res)
			return err
		},
	}
	runCmd.Flags().StringVar(&runOpts.ProjectID, "project-id", "", "project the jobs belong to")
	runCmd.Flags().StringVar(&runOpts.From, "from", "", "resume at this job")
	runCmd.Flags().BoolVar(&runOpts.Force, "force", false, "resume even if earlier jobs did not last succeed")

	jobsCmd.AddCommand(buildCmd)
	jobsCmd.AddCommand(runCmd)
	return jobsCmd
}

func promoteCmd(a *app) *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Start the application and record its connection info",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.loadManifest()
			if err != nil {
				return err
			}
			pid, err := requireProjectID(a, projectID)
			if err != nil {
				return err
			}
			ctx := ctxlog.WithLogger(cmd.Context(), a.logger)
			svc, err := a.pipelineService(ctx)
			if err != nil {
				return err
			}
			res, err := svc.Promote(ctx, m, pid)
			printResult(a.out, res)
			return err
		},
	}
	cmd.Flags().StringVar(&projectID, "project-id", "", "project to start the application in")
	return cmd
}

func requireProjectID(a *app, flag string) (string, error) {
	if id := a.projectID(flag); id != "" {
		return id, nil
	}
	return "", errors.New("a project id is required: pass --project-id or set CDSW_PROJECT_ID")
}

func printResult(w io.Writer, res *service.DeployResult) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "deployment: %s\n", res.DeploymentID)
	if res.ProjectID != "" {
		fmt.Fprintf(w, "project:    %s\n", res.ProjectID)
	}
	if len(res.JobIDs) > 0 {
		names := make([]string, 0, len(res.JobIDs))
		for name := range res.JobIDs {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(w, "jobs:")
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %s\n", name, res.JobIDs[name])
		}
	}
	if res.Execution != nil {
		fmt.Fprintln(w, "runs:")
		for _, line := range res.Execution.Summary() {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	if res.Connection != nil {
		fmt.Fprintf(w, "application: %s (%s) %s\n", res.Connection.AppName, res.Connection.Status, res.Connection.URL)
	}
}
