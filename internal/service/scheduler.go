package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/haatos/guardrails-deployer/internal/ctxlog"
	"github.com/haatos/guardrails-deployer/internal/store"
)

func NewScheduler() (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("error creating scheduler: %w", err)
	}
	return scheduler, nil
}

type ConnectionInfoReader interface {
	ReadConnectionInfo(context.Context) (*store.ConnectionInfo, error)
}

// ScheduleRedeploy runs the full pipeline on a cron schedule. load is called
// on every tick so edits to the manifest apply to the next run. A tick that
// finds a deployment in progress is skipped.
func (s *PipelineService) ScheduleRedeploy(
	ctx context.Context,
	scheduler gocron.Scheduler,
	schedule string,
	load func() (*Manifest, error),
	opts DeployOptions,
) (uuid.UUID, error) {
	job, err := scheduler.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(func() {
			logger := ctxlog.FromContext(ctx).With("trigger", "schedule")
			m, err := load()
			if err != nil {
				logger.Error("error loading manifest for scheduled deployment", "error", err)
				return
			}
			_, err = s.Deploy(ctxlog.WithLogger(ctx, logger), m, opts)
			if errors.Is(err, ErrDeploymentInProgress) {
				logger.Info("deployment in progress, skipping scheduled deployment")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("error scheduling redeploy: %w", err)
	}
	return job.ID(), nil
}

// ScheduleConnectionRefresh periodically checks the recorded application on
// the platform and rewrites the connection info when it changed.
func (s *PipelineService) ScheduleConnectionRefresh(
	ctx context.Context,
	scheduler gocron.Scheduler,
	every time.Duration,
	reader ConnectionInfoReader,
) (uuid.UUID, error) {
	job, err := scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			if err := s.refreshOnce(ctx, reader); err != nil {
				ctxlog.FromContext(ctx).Warn("error refreshing connection info", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("error scheduling connection info refresh: %w", err)
	}
	return job.ID(), nil
}

func (s *PipelineService) refreshOnce(ctx context.Context, reader ConnectionInfoReader) error {
	if _, busy := s.InProgress(); busy {
		return nil
	}
	ci, err := reader.ReadConnectionInfo(ctx)
	if store.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.RefreshConnectionInfo(ctx, ci)
	return err
}

// SchedulePrune trims the deployment history once a day at midnight.
func (s *PipelineService) SchedulePrune(
	ctx context.Context,
	scheduler gocron.Scheduler,
) (uuid.UUID, error) {
	job, err := scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))),
		gocron.NewTask(func() {
			if s.historyLimit <= 0 {
				return
			}
			removed, err := s.deploymentStore.PruneDeployments(ctx, s.historyLimit)
			if err != nil {
				ctxlog.FromContext(ctx).Warn("error pruning deployment history", "error", err)
				return
			}
			ctxlog.FromContext(ctx).Info("pruned deployment history", "removed", removed)
		}),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("error scheduling history pruning: %w", err)
	}
	return job.ID(), nil
}
