// Package cmd implements the keeperdata CLI commands and the wiring
// that builds the runtime components from configuration.
package cmd

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/blob"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/cleanse"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/config"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/docstore"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/importer"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/lineage"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/lock"
)

// App bundles the wired runtime components for one process.
type App struct {
	Config   *config.Config
	Store    *docstore.Store
	Reporter *importer.Reporter
	Registry *importer.Registry

	External blob.Store
	Internal blob.Store

	Orchestrator *importer.Orchestrator
	Coordinator  *cleanse.Coordinator

	client *goredis.Client
}

// Close releases shared connections.
func (a *App) Close() error { return a.client.Close() }

// buildApp loads the configuration named by the --config flag and
// wires every component against it.
func buildApp(c *cli.Context) (*App, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	opts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := goredis.NewClient(opts)
	timeout := cfg.Redis.Timeout.Duration

	store := docstore.NewStoreWithClient(client, timeout)
	locks := lock.NewManagerWithClient(client)
	lineageWriter := lineage.NewWriterWithClient(client, timeout)

	external, err := buildStore(c.Context, cfg.Storage.External)
	if err != nil {
		return nil, fmt.Errorf("external store: %w", err)
	}
	internal, err := buildStore(c.Context, cfg.Storage.Internal)
	if err != nil {
		return nil, fmt.Errorf("internal store: %w", err)
	}

	retry := blob.RetryPolicy{
		Attempts: cfg.Storage.RetryAttempts,
		Base:     cfg.Storage.RetryBase.Duration,
	}

	registry := importer.NewRegistry(cfg.Datasets)
	reporter := importer.NewReporter(store)
	acquisition := importer.NewAcquisition(external, internal, registry, reporter,
		cfg.Crypto.Salt, cfg.Acquisition.ForceCopy, retry)
	upserter := importer.NewUpserter(store, lineageWriter)
	ingestion := importer.NewIngestion(internal, reporter, registry, upserter,
		cfg.Crypto.Salt, cfg.Ingestion.Workers, retry)
	orchestrator := importer.NewOrchestrator(acquisition, ingestion, reporter)

	views := cleanse.NewViews(store, cfg.Cleanse.CtsDataset, cfg.Cleanse.SamDataset)
	issues := cleanse.NewIssueService(store)
	engine := cleanse.NewEngine(store, views, issues,
		cfg.Cleanse.CtsDataset, cfg.Cleanse.SamDataset, cfg.Cleanse.PageSize)
	exporter := cleanse.NewExporter(issues, internal,
		cfg.Cleanse.ReportsPrefix, cfg.Cleanse.PresignTTL.Duration, retry)
	coordinator := cleanse.NewCoordinator(locks, store, engine, issues, exporter,
		cfg.Cleanse.LockTTL.Duration, cfg.Cleanse.RenewInterval.Duration)

	return &App{
		Config:       cfg,
		Store:        store,
		Reporter:     reporter,
		Registry:     registry,
		External:     external,
		Internal:     internal,
		Orchestrator: orchestrator,
		Coordinator:  coordinator,
		client:       client,
	}, nil
}

func buildStore(ctx context.Context, bucket config.BucketConfig) (blob.Store, error) {
	return blob.NewS3Store(ctx, blob.S3Config{
		Bucket:       bucket.Bucket,
		Prefix:       bucket.Prefix,
		Region:       bucket.Region,
		Endpoint:     bucket.Endpoint,
		UsePathStyle: bucket.PathStyle,
	})
}
