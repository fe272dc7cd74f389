package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/haatos/guardrails-deployer/internal/store"
	"github.com/spf13/cobra"
)

func historyCmd(a *app) *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "history [deployment-id]",
		Short: "List recorded deployments, or show one with its job runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.deploymentStore()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				d, err := ds.ReadDeploymentByID(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("error reading deployment %s: %w", args[0], err)
				}
				printDeployment(a.out, d)
				return nil
			}
			deployments, err := ds.ListDeployments(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printDeployments(a.out, deployments)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&limit, "limit", "n", 20, "number of deployments to list")
	return cmd
}

func printDeployments(w io.Writer, deployments []store.Deployment) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOPERATION\tPROJECT\tSTATUS\tSTAGE\tCREATED\tDETAIL")
	for _, d := range deployments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.DeploymentID, d.Operation, d.ProjectName, d.Status, dash(d.Stage),
			d.CreatedOn.Local().Format(time.DateTime), deploymentDetail(&d))
	}
	tw.Flush()
}

func printDeployment(w io.Writer, d *store.Deployment) {
	fmt.Fprintf(w, "deployment: %s\n", d.DeploymentID)
	fmt.Fprintf(w, "operation:  %s\n", d.Operation)
	fmt.Fprintf(w, "project:    %s %s\n", d.ProjectName, d.ProjectID)
	fmt.Fprintf(w, "status:     %s\n", d.Status)
	if d.Stage != "" {
		fmt.Fprintf(w, "stage:      %s\n", d.Stage)
	}
	fmt.Fprintf(w, "created:    %s\n", d.CreatedOn.Local().Format(time.DateTime))
	if d.EndedOn != nil {
		fmt.Fprintf(w, "duration:   %s\n", d.EndedOn.Sub(d.CreatedOn).Round(time.Second))
	}
	if detail := deploymentDetail(d); detail != "" {
		fmt.Fprintf(w, "detail:     %s\n", detail)
	}
	if len(d.JobRuns) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tJOB ID\tRUN ID\tSTATUS\tLAST STATUS\tSTARTED")
	for _, r := range d.JobRuns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.JobName, r.JobID, dash(r.RunID), r.Status, dash(r.LastStatus),
			r.StartedOn.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func deploymentDetail(d *store.Deployment) string {
	switch {
	case d.ErrorMessage != nil:
		return *d.ErrorMessage
	case d.ApplicationURL != nil:
		return *d.ApplicationURL
	}
	return ""
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
