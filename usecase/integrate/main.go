// Package integrate wires catalogs, stores, resolvers and the scheduler into
// the runnable airlift commands.
package integrate

import (
	"context"
	"log"
	"os"

	"github.com/airlifthq/airlift"
	"github.com/airlifthq/airlift/boltjobs"
	"github.com/airlifthq/airlift/leveldb"
	"github.com/airlifthq/airlift/scheduler"
)

// ServeMain contains the configuration for the integration service. It is
// wrapped by the serve subcommand and only exported so flags can be generated
// from it.
type ServeMain struct {
	Store       string   `help:"Path to the bolt database holding jobs, integrations, and the work queue."`
	Catalog     string   `help:"Path to the YAML metadata catalog snapshot."`
	PrimaryDSN  string   `help:"Postgres connection string for the primary store."`
	Region      string   `help:"AWS region for object-store uploads."`
	ResolverDir string   `help:"Directory for the persistent id resolver. Empty keeps resolution in memory."`
	Definitions []string `help:"Integration definition JSON files to load at startup. Existing definitions with the same name are kept."`
	BatchSize   int      `help:"Rows per pipeline batch."`
	Parallelism int      `help:"Concurrent batch consumers per flight. 0 uses GOMAXPROCS."`
	Permits     int64    `help:"Jobs allowed to run concurrently. 0 uses twice GOMAXPROCS."`
	Enqueue     []string `help:"Integration names to enqueue immediately after startup."`
	Verbose     bool     `help:"Enable debug logging."`
}

// NewServeMain gets a ServeMain with default configuration.
func NewServeMain() *ServeMain {
	return &ServeMain{
		Store:      "airlift.db",
		Catalog:    "catalog.yaml",
		PrimaryDSN: "postgres://localhost:5432/airlift",
		Region:     "us-east-1",
	}
}

func newLogger(verbose bool) airlift.Logger {
	if verbose {
		return airlift.VerboseLogger{Logger: log.New(os.Stderr, "", log.LstdFlags)}
	}
	return airlift.StdLogger{Logger: log.New(os.Stderr, "", log.LstdFlags)}
}

func newResolver(dir string) (airlift.Resolver, func(), error) {
	if dir == "" {
		return airlift.NewMapResolver(), func() {}, nil
	}
	durable, err := leveldb.NewResolver(dir)
	if err != nil {
		return nil, nil, err
	}
	return durable, func() { durable.Close() }, nil
}

// Run starts the service: opens the stores, loads definitions, recovers
// interrupted jobs, and blocks in the dispatch loop.
func (m *ServeMain) Run() error {
	logger := newLogger(m.Verbose)

	catalog, err := airlift.LoadCatalog(m.Catalog)
	if err != nil {
		return err
	}

	store, err := boltjobs.Open(m.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	resolver, closeResolver, err := newResolver(m.ResolverDir)
	if err != nil {
		return err
	}
	defer closeResolver()

	runner := &scheduler.PipelineRunner{
		Catalog:     catalog,
		Resolver:    resolver,
		PrimaryDSN:  m.PrimaryDSN,
		Region:      m.Region,
		BatchSize:   m.BatchSize,
		Parallelism: m.Parallelism,
		Log:         logger,
	}

	service := scheduler.NewService(store, store.Integrations(), store, scheduler.NewMemoryLogs(), runner,
		scheduler.WithLogger(logger), scheduler.WithPermits(m.Permits))

	for _, path := range m.Definitions {
		integration, err := scheduler.LoadIntegration(path)
		if err != nil {
			return err
		}
		if err := service.CreateIntegration(integration); err != nil {
			logger.Printf("loading '%s': %v", path, err)
		}
	}

	recovered, err := service.Recover()
	if err != nil {
		return err
	}
	if recovered > 0 {
		logger.Printf("recovered %d interrupted jobs", recovered)
	}

	for _, name := range m.Enqueue {
		if _, err := service.Enqueue(name); err != nil {
			return err
		}
	}

	return service.Run(context.Background())
}

// RunMain contains the configuration for a one-shot integration run without
// the durable scheduler around it.
type RunMain struct {
	Definition  string `help:"Integration definition JSON file to run."`
	Catalog     string `help:"Path to the YAML metadata catalog snapshot."`
	PrimaryDSN  string `help:"Postgres connection string for the primary store."`
	Region      string `help:"AWS region for object-store uploads."`
	ResolverDir string `help:"Directory for the persistent id resolver. Empty keeps resolution in memory."`
	BatchSize   int    `help:"Rows per pipeline batch."`
	Parallelism int    `help:"Concurrent batch consumers per flight. 0 uses GOMAXPROCS."`
	Verbose     bool   `help:"Enable debug logging."`
}

// NewRunMain gets a RunMain with default configuration.
func NewRunMain() *RunMain {
	return &RunMain{
		Definition: "integration.json",
		Catalog:    "catalog.yaml",
		PrimaryDSN: "postgres://localhost:5432/airlift",
		Region:     "us-east-1",
	}
}

// Run executes the integration definition once and returns its error.
func (m *RunMain) Run() error {
	logger := newLogger(m.Verbose)

	catalog, err := airlift.LoadCatalog(m.Catalog)
	if err != nil {
		return err
	}
	integration, err := scheduler.LoadIntegration(m.Definition)
	if err != nil {
		return err
	}

	resolver, closeResolver, err := newResolver(m.ResolverDir)
	if err != nil {
		return err
	}
	defer closeResolver()

	runner := &scheduler.PipelineRunner{
		Catalog:     catalog,
		Resolver:    resolver,
		PrimaryDSN:  m.PrimaryDSN,
		Region:      m.Region,
		BatchSize:   m.BatchSize,
		Parallelism: m.Parallelism,
		Log:         logger,
	}
	return runner.Run(context.Background(), integration)
}
