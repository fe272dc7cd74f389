package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/haatos/guardrails-deployer/internal"
	"github.com/haatos/guardrails-deployer/internal/cai"
	"github.com/haatos/guardrails-deployer/internal/objectstore"
	"github.com/haatos/guardrails-deployer/internal/service"
	"github.com/haatos/guardrails-deployer/internal/settings"
	"github.com/haatos/guardrails-deployer/internal/store"
	"golang.org/x/term"
)

// app holds what the commands share. Settings and configuration are loaded
// before every command; the platform client and history database are opened
// only by commands that use them.
type app struct {
	out io.Writer

	configPath   string
	manifestPath string
	verbose      bool

	logger   *slog.Logger
	settings *settings.AppSettings
	config   *internal.Configuration

	rdb, rwdb *sql.DB
	client    *cai.Client
	connInfo  *store.ConnectionInfoFile
	pipeline  *service.PipelineService
}

func (a *app) load() error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	if err := settings.ReadDotenv(internal.DotEnvPath); err != nil {
		return err
	}
	s, err := settings.NewSettings()
	if err != nil {
		return err
	}
	settings.Settings = s
	a.settings = s

	if err := internal.InitializeConfiguration(a.configPath); err != nil {
		return fmt.Errorf("error loading configuration %s: %w", a.configPath, err)
	}
	a.config = internal.Config
	if a.manifestPath == "" {
		a.manifestPath = a.config.ManifestPath
	}
	a.connInfo = store.NewConnectionInfoFile(a.config.ConnectionInfoPath)
	return nil
}

func (a *app) loadManifest() (*service.Manifest, error) {
	return service.LoadManifest(a.manifestPath)
}

// pipelineService opens the history database and the platform client on
// first use.
func (a *app) pipelineService(ctx context.Context) (*service.PipelineService, error) {
	if a.pipeline != nil {
		return a.pipeline, nil
	}

	ds, err := a.deploymentStore()
	if err != nil {
		return nil, err
	}

	apiKey, err := a.apiKey()
	if err != nil {
		return nil, err
	}
	client, err := cai.NewClient(cai.Options{
		Host:              a.settings.Host,
		APIKey:            apiKey,
		Timeout:           a.config.RequestTimeout.Duration(),
		RequestsPerSecond: a.config.RequestsPerSecond,
		PageSize:          a.config.PageSize,
	})
	if err != nil {
		return nil, err
	}
	a.client = client

	var mirrors []service.ConnectionInfoWriter
	if a.settings.MinIO.Enabled() {
		mc, err := objectstore.NewMinIOClient(a.settings.MinIO)
		if err != nil {
			return nil, fmt.Errorf("error creating minio client: %w", err)
		}
		if err := objectstore.EnsureBucket(ctx, mc, a.settings.MinIO); err != nil {
			return nil, fmt.Errorf("error preparing bucket %s: %w", a.settings.MinIO.Bucket, err)
		}
		mirrors = append(mirrors, objectstore.NewConnectionInfoMirror(mc, a.settings.MinIO))
	}

	a.pipeline = service.NewPipelineService(
		client,
		ds,
		service.PipelineOptions{
			Clone:        pollPolicy(a.config.ProjectPoll),
			Run:          pollPolicy(a.config.RunPoll),
			Application:  pollPolicy(a.config.ApplicationPoll),
			Domain:       a.settings.Domain,
			HistoryLimit: a.config.HistoryLimit,
		},
		a.connInfo,
		mirrors...,
	)
	return a.pipeline, nil
}

func (a *app) deploymentStore() (*store.DeploymentSQLStore, error) {
	if a.rwdb == nil {
		driver := a.settings.DatabaseDriver
		rwdb, err := store.InitDatabase(driver, a.settings.DatabaseDSN(false), false)
		if err != nil {
			return nil, err
		}
		a.rwdb = rwdb
		if err := store.RunMigrations(rwdb, driver); err != nil {
			return nil, err
		}
		rdb, err := store.InitDatabase(driver, a.settings.DatabaseDSN(true), true)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
	}
	return store.NewDeploymentSQLStore(a.rdb, a.rwdb), nil
}

// apiKey returns the configured platform key, prompting for it when stdin
// is a terminal.
func (a *app) apiKey() (string, error) {
	if a.settings.APIKey != "" {
		return a.settings.APIKey, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("CML_API_KEY is not set")
	}
	fmt.Fprint(os.Stderr, "Platform API key: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("error reading api key: %w", err)
	}
	a.settings.APIKey = strings.TrimSpace(string(b))
	if a.settings.APIKey == "" {
		return "", errors.New("an api key is required")
	}
	return a.settings.APIKey, nil
}

// projectID prefers the flag, then the session's project.
func (a *app) projectID(flag string) string {
	if flag != "" {
		return flag
	}
	return a.settings.ProjectID
}

func (a *app) close() {
	if a.client != nil {
		a.client.Close()
	}
	for _, db := range []*sql.DB{a.rdb, a.rwdb} {
		if db != nil {
			db.Close()
		}
	}
}

func pollPolicy(p internal.PollConfig) service.PollPolicy {
	return service.PollPolicy{Interval: p.Interval.Duration(), Timeout: p.Timeout.Duration()}
}
