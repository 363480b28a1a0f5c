package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/address-pipeline/internal/cleanup"
	"github.com/sells-group/address-pipeline/internal/config"
	"github.com/sells-group/address-pipeline/internal/notify"
	"github.com/sells-group/address-pipeline/internal/orchestrator"
	"github.com/sells-group/address-pipeline/internal/standardize"
	"github.com/sells-group/address-pipeline/internal/store"
	"github.com/sells-group/address-pipeline/pkg/oracle"
)

// pipelineEnv bundles the long lived pieces a command needs: the job store,
// the oracle client, and an orchestrator wired to both.
type pipelineEnv struct {
	Store        store.Store
	Oracle       oracle.Client
	Orchestrator *orchestrator.Orchestrator
	Sweeper      *cleanup.Sweeper
}

func (e *pipelineEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("store close", zap.Error(err))
		}
	}
}

// initPipeline builds the environment from config. ctx bounds both store
// setup and the lifetime of the orchestrator's workers.
func initPipeline(ctx context.Context, cfg *config.Config, offline bool) (*pipelineEnv, error) {
	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "cmd: migrate store")
	}

	client, err := initOracle(cfg, offline)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	templates, err := loadTemplates(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	orch := orchestrator.New(ctx, st, client, notify.New(), orchestrator.Config{
		OutputDir:        cfg.Jobs.OutputDir,
		MaxWorkers:       cfg.Jobs.MaxWorkers,
		Country:          cfg.Format.Country,
		Templates:        templates,
		BatchSize:        cfg.Batch.Size,
		CompareBatchSize: cfg.Batch.CompareSize,
		FallbackRPS:      cfg.Batch.FallbackRPS,
		Model:            cfg.Oracle.Model,
	})

	return &pipelineEnv{
		Store:        st,
		Oracle:       client,
		Orchestrator: orch,
		Sweeper:      cleanup.NewSweeper(st),
	}, nil
}

func initStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "", "sqlite":
		st, err := store.NewSQLite(cfg.Store.DatabaseURL, cfg.Jobs.Retention())
		if err != nil {
			return nil, eris.Wrap(err, "cmd: open sqlite store")
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		}, cfg.Jobs.Retention())
		if err != nil {
			return nil, eris.Wrap(err, "cmd: open postgres store")
		}
		return st, nil
	default:
		return nil, eris.Errorf("cmd: unknown store driver %q", cfg.Store.Driver)
	}
}

func initOracle(cfg *config.Config, offline bool) (oracle.Client, error) {
	if offline || cfg.Oracle.Offline {
		zap.L().Info("oracle offline, using stub responses")
		return &oracle.Stub{}, nil
	}
	if cfg.Oracle.Key == "" {
		return nil, eris.New("cmd: oracle key not configured (set ADDR_ORACLE_KEY or run with --offline)")
	}
	return oracle.NewClient(cfg.Oracle.Key, cfg.Oracle.Model), nil
}

func loadTemplates(cfg *config.Config) (map[string]string, error) {
	if cfg.Format.TemplateFile == "" {
		return nil, nil
	}
	templates, err := standardize.LoadTemplates(cfg.Format.TemplateFile)
	if err != nil {
		return nil, eris.Wrap(err, "cmd: load format templates")
	}
	return templates, nil
}
