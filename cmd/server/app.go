package main

import (
	"fmt"

	"github.com/arencloud/depot/internal/command"
	"github.com/arencloud/depot/internal/config"
	"github.com/arencloud/depot/internal/db"
	"github.com/arencloud/depot/internal/deploy"
	"github.com/arencloud/depot/internal/errorpattern"
	"github.com/arencloud/depot/internal/logging"
	"github.com/arencloud/depot/internal/metrics"
	"github.com/arencloud/depot/internal/proc"
	"github.com/arencloud/depot/internal/provider"
	"github.com/arencloud/depot/internal/reconcile"
	"github.com/arencloud/depot/internal/teardown"
)

// app is the wired set of services shared by every subcommand.
type app struct {
	cfg        *config.Config
	logger     *logging.ZapLogger
	store      *db.Store
	provider   *provider.AWS
	runner     *deploy.Runner
	reconciler *reconcile.Reconciler
	teardown   *teardown.Pipeline
	commands   *command.Executor
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel, cfg.LogJSON)

	store, err := db.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	m, err := metrics.New(nil)
	if err != nil {
		return nil, err
	}
	matcher, err := errorpattern.LoadFile(cfg.Infra.ErrorPatternsFile)
	if err != nil {
		return nil, fmt.Errorf("load error patterns: %w", err)
	}
	prov := provider.NewAWS(provider.AWSOptions{
		DefaultRegion:  cfg.AWS.Region,
		Endpoint:       cfg.AWS.Endpoint,
		AccessKey:      cfg.AWS.AccessKey,
		SecretKey:      cfg.AWS.SecretKey,
		CDNDisableWait: cfg.CDNDisableWait,
	})
	spawner := proc.ExecSpawner{}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		provider: prov,
		runner: deploy.NewRunner(deploy.Options{
			Dir:                 cfg.Infra.Dir,
			Command:             cfg.Infra.Command,
			OutputsFile:         cfg.Infra.OutputsFile,
			DefaultRegion:       cfg.AWS.Region,
			Timeout:             cfg.Infra.DeployTimeout,
			Grace:               cfg.CommandKillGrace,
			RequireFreshOutputs: cfg.Infra.RequireFreshOutputs,
		}, store, spawner, matcher, logger, m),
		reconciler: reconcile.New(store, prov, logger, m),
		teardown:   teardown.New(store, prov, logger, m),
		commands: command.NewExecutor(command.Options{
			Allowlist: cfg.CommandAllowlist,
			Dir:       cfg.Infra.Dir,
			Timeout:   cfg.CommandTimeout,
			KillGrace: cfg.CommandKillGrace,
		}, spawner, proc.NewRegistry(), logger, m),
	}, nil
}
