// Package sqlsrc provides an airlift.Source reading rows from a SQL database
// through database/sql. Postgres (via the pgx stdlib adapter) and SQL Server
// drivers are registered by importing this package.
package sqlsrc

import (
	"context"
	"database/sql"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver

	"github.com/airlifthq/airlift"
)

// DefaultFetchSize is the per-source prefetch window when none is configured.
const DefaultFetchSize = 20000

// logEvery is how many rows pass between progress log lines.
const logEvery = 100000

// Source satisfies airlift.Source for the result set of one SQL query. Rows
// are streamed through the driver and prefetched up to the configured fetch
// size, so arbitrarily large result sets never fully materialize in memory.
// An optional client-side rate limit (rows per second) protects the source
// system.
type Source struct {
	records chan record
	cancel  context.CancelFunc
}

type record struct {
	row airlift.Row
	err error
}

type config struct {
	fetchSize int
	limit     rate.Limit
	log       airlift.Logger
}

// Option is a functional option to pass to NewSource.
type Option func(*config)

// WithFetchSize returns an Option which sets how many rows the Source reads
// ahead of its consumer.
func WithFetchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.fetchSize = n
		}
	}
}

// WithRateLimit returns an Option which caps reads at n rows per second.
func WithRateLimit(n float64) Option {
	return func(c *config) {
		if n > 0 {
			c.limit = rate.Limit(n)
		}
	}
}

// WithLogger returns an Option which sets the Source's logger.
func WithLogger(log airlift.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// NewSource opens a connection with the named driver and starts streaming the
// query's result set. The returned Source reads ahead in the background;
// Record blocks when the prefetch window is empty and the background reader
// blocks when it is full.
func NewSource(driver, dsn, query string, options ...Option) (*Source, error) {
	cfg := config{
		fetchSize: DefaultFetchSize,
		limit:     rate.Inf,
		log:       airlift.NopLogger{},
	}
	for _, opt := range options {
		opt(&cfg)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s connection", driver)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		records: make(chan record, cfg.fetchSize),
		cancel:  cancel,
	}
	go s.stream(ctx, db, query, cfg)
	return s, nil
}

// Record implements airlift.Source.
func (s *Source) Record() (airlift.Row, error) {
	rec, ok := <-s.records
	if !ok {
		return nil, io.EOF
	}
	return rec.row, rec.err
}

// Close stops the background reader and releases the connection. Reading to
// io.EOF also releases everything; Close is for abandoning a result set
// early.
func (s *Source) Close() error {
	s.cancel()
	return nil
}

func (s *Source) stream(ctx context.Context, db *sql.DB, query string, cfg config) {
	defer close(s.records)
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		s.send(ctx, record{err: errors.Wrap(err, "querying source")})
		return
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		s.send(ctx, record{err: errors.Wrap(err, "reading column names")})
		return
	}

	limiter := rate.NewLimiter(cfg.limit, 1)
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	count := 0
	for rows.Next() {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := rows.Scan(ptrs...); err != nil {
			s.send(ctx, record{err: errors.Wrap(err, "scanning row")})
			return
		}
		row := make(airlift.Row, len(cols))
		for i, col := range cols {
			switch v := vals[i].(type) {
			case nil:
			case []byte:
				// Scan buffers are only valid until the next row.
				row[col] = append([]byte(nil), v...)
			default:
				row[col] = v
			}
		}
		if !s.send(ctx, record{row: row}) {
			return
		}
		count++
		if count%logEvery == 0 {
			cfg.log.Printf("read %d rows", count)
		}
	}
	if err := rows.Err(); err != nil {
		s.send(ctx, record{err: errors.Wrap(err, "iterating result set")})
		return
	}
	cfg.log.Printf("source drained: %d rows", count)
}

func (s *Source) send(ctx context.Context, rec record) bool {
	select {
	case s.records <- rec:
		return true
	case <-ctx.Done():
		return false
	}
}
