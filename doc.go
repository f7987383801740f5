// airlift is a data-integration engine. It reads rows from heterogeneous
// sources, maps each row through a declarative flight (mapping plan) into a
// typed property graph of entities and associations, resolves durable
// identities for deduplication, and writes the result to one or more storage
// backends.
//
// The pieces compose into a pipeline, and each stage is an interface with
// basic implementations here and more capable ones in sub-packages:
//
// 1. Source
//
//    A Source produces Row records (column name → value) one at a time until
//    io.EOF. Rows may come from a SQL query with cursor fetch sizing and
//    client-side rate limiting (sqlsrc), a flat file (csv), or a Kafka topic
//    (kafka). A Source does not interpret the data - that is the flight's
//    job. Sources should be safe for concurrent use.
//
// 2. Flight
//
//    A Flight is an ordered, declarative recipe describing how one row
//    yields zero or more entities and associations: which columns feed which
//    property types, how values are transformed, under what conditions a
//    definition applies, and how entity identifiers are derived. Flights are
//    authored in YAML and are immutable during a run.
//
// 3. Transform
//
//    Transform applies one Flight to one batch of rows, producing graph
//    elements partitioned by StorageDestination. It is a pure function: row
//    independent, side-effect free, parallelizable across batches.
//
// 4. Resolver and Destinations
//
//    A Resolver maps natural EntityKeys to stable surrogate ids so that
//    re-delivery of the same logical entity is an upsert, not a duplicate. A
//    Destination persists batches of entities and associations. The Pipeline
//    ties Source → Transform → Resolver → Destinations together behind a
//    bounded backpressure queue.
//
// The scheduler package turns stored integration definitions into running
// pipeline instances with bounded concurrency, crash recovery and durable
// status tracking.
package airlift
