package main

import (
	"github.com/haatos/guardrails-deployer/internal/ctxlog"
	"github.com/haatos/guardrails-deployer/internal/handler"
	"github.com/haatos/guardrails-deployer/internal/service"
	"github.com/spf13/cobra"
)

func serveCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the deployment status API and run scheduled redeploys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxlog.WithLogger(cmd.Context(), a.logger)
			svc, err := a.pipelineService(ctx)
			if err != nil {
				return err
			}

			scheduler, err := service.NewScheduler()
			if err != nil {
				return err
			}
			defer scheduler.Shutdown()
			if schedule := a.config.RedeploySchedule; schedule != "" {
				if _, err := svc.ScheduleRedeploy(ctx, scheduler, schedule, a.loadManifest, service.DeployOptions{}); err != nil {
					return err
				}
				a.logger.Info("scheduled redeploys", "schedule", schedule)
			}
			if every := a.config.RefreshInterval.Duration(); every > 0 {
				if _, err := svc.ScheduleConnectionRefresh(ctx, scheduler, every, a.connInfo); err != nil {
					return err
				}
			}
			if _, err := svc.SchedulePrune(ctx, scheduler); err != nil {
				return err
			}
			scheduler.Start()

			rps := a.config.ServeRequestsPerSecond
			e := handler.NewEcho(handler.ServerConfig{
				Logger: a.logger,
				RateLimit: handler.RateLimit{
					RequestsPerSecond: rps,
					Burst:             max(1, int(2*rps)),
				},
			})
			handler.SetupDeploymentRoutes(e, svc, a.loadManifest, a.settings.APIToken)
			handler.SetupConnectionInfoRoutes(e, a.connInfo)

			if addr == "" {
				addr = a.settings.Port
			}
			a.logger.Info("serving deployment api", "addr", addr)
			return handler.GracefulShutdown(ctx, e, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default DEPLOYER_PORT)")
	return cmd
}
