package scheduler

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/airlifthq/airlift"
	"github.com/airlifthq/airlift/csv"
	"github.com/airlifthq/airlift/kafka"
	"github.com/airlifthq/airlift/postgres"
	"github.com/airlifthq/airlift/s3dest"
	"github.com/airlifthq/airlift/sqlsrc"
)

// PipelineRunner is the default Runner: it builds one source per flight, a
// primary-store writer, an object-store writer when the integration has a
// bucket, and executes everything through an airlift.Pipeline. Flights run in
// name order.
type PipelineRunner struct {
	Catalog    *airlift.Catalog
	Resolver   airlift.Resolver
	PrimaryDSN string
	Region     string

	BatchSize   int
	Parallelism int
	Log         airlift.Logger
}

func (r *PipelineRunner) logger() airlift.Logger {
	if r.Log == nil {
		return airlift.NopLogger{}
	}
	return r.Log
}

// Run implements Runner.
func (r *PipelineRunner) Run(ctx context.Context, integration Integration) error {
	writerOpts := []postgres.Option{postgres.WithLogger(r.logger())}
	if integration.MaxConnections != nil {
		writerOpts = append(writerOpts, postgres.WithMaxConns(*integration.MaxConnections))
	}
	primary, err := postgres.NewWriter(ctx, r.PrimaryDSN, writerOpts...)
	if err != nil {
		return errors.Wrap(err, "creating primary writer")
	}
	defer primary.Close()

	destinations := map[airlift.StorageDestination]airlift.Destination{
		airlift.PrimaryStore: primary,
	}
	if integration.Bucket != nil {
		object, err := s3dest.NewWriter(*integration.Bucket, primary,
			s3dest.OptRegion(r.Region), s3dest.OptLogger(r.logger()))
		if err != nil {
			return errors.Wrap(err, "creating object-store writer")
		}
		destinations[airlift.ObjectStore] = object
	}

	names := make([]string, 0, len(integration.Flights))
	for name := range integration.Flights {
		names = append(names, name)
	}
	sort.Strings(names)

	plans := make([]airlift.Plan, 0, len(names))
	for _, name := range names {
		fc := integration.Flights[name]
		flight, err := airlift.LoadFlight(fc.FlightPath)
		if err != nil {
			return errors.Wrapf(err, "flight '%s'", name)
		}
		source, err := r.openSource(fc)
		if err != nil {
			return errors.Wrapf(err, "flight '%s'", name)
		}
		plans = append(plans, airlift.Plan{Flight: flight, Source: source})
	}

	pipeline := airlift.NewPipeline(r.Catalog, r.Resolver, destinations)
	pipeline.BatchSize = r.BatchSize
	pipeline.Parallelism = r.Parallelism
	pipeline.Log = r.logger()

	_, err = pipeline.Run(ctx, plans)
	return err
}

func (r *PipelineRunner) openSource(fc FlightConfig) (airlift.Source, error) {
	switch fc.Source {
	case "sql":
		opts := []sqlsrc.Option{sqlsrc.WithLogger(r.logger())}
		if fc.FetchSize != nil {
			opts = append(opts, sqlsrc.WithFetchSize(*fc.FetchSize))
		}
		if fc.RateLimit != nil {
			opts = append(opts, sqlsrc.WithRateLimit(*fc.RateLimit))
		}
		return sqlsrc.NewSource(fc.Driver, fc.DSN, fc.Query, opts...)
	case "csv":
		return csv.NewSource(csv.WithURLs(fc.Files)), nil
	case "kafka":
		src := kafka.NewSource()
		if len(fc.Hosts) > 0 {
			src.Hosts = fc.Hosts
		}
		if len(fc.Topics) > 0 {
			src.Topics = fc.Topics
		}
		if fc.Group != "" {
			src.Group = fc.Group
		}
		if fc.MaxMessages != nil {
			src.MaxMsgs = *fc.MaxMessages
		}
		src.SetLogger(r.logger())
		if err := src.Open(); err != nil {
			return nil, err
		}
		return src, nil
	}
	return nil, errors.Errorf("unknown source type '%s'", fc.Source)
}
