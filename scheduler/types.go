package scheduler

import (
	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of one integration job. Jobs move
// QUEUED -> IN_PROGRESS -> SUCCEEDED or FAILED; only the first two survive a
// restart scan.
type JobStatus string

// The job states.
const (
	JobQueued     JobStatus = "QUEUED"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobSucceeded  JobStatus = "SUCCEEDED"
	JobFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job is the durable record of one run of an integration.
type Job struct {
	IntegrationName string    `json:"integrationName"`
	Status          JobStatus `json:"status"`
}

// FlightConfig is the per-flight portion of an integration definition: where
// the flight document lives and how to open its row source.
type FlightConfig struct {
	// FlightPath is the filesystem path of the YAML flight document.
	FlightPath string `json:"flightPath"`

	// Source selects the row source. "sql" reads Driver/DSN/Query, "csv"
	// reads Files, "kafka" reads Hosts/Topics/Group.
	Source string `json:"source"`

	Driver string   `json:"driver,omitempty"`
	DSN    string   `json:"dsn,omitempty"`
	Query  string   `json:"query,omitempty"`
	Files  []string `json:"files,omitempty"`

	Hosts  []string `json:"hosts,omitempty"`
	Topics []string `json:"topics,omitempty"`
	Group  string   `json:"group,omitempty"`

	// MaxMessages bounds a kafka flight so the run terminates.
	MaxMessages *int `json:"maxMessages,omitempty"`

	FetchSize *int     `json:"fetchSize,omitempty"`
	RateLimit *float64 `json:"rateLimit,omitempty"`
}

// Integration is a named, durable definition of a repeatable integration:
// the flights it runs and the connection and notification settings they
// share. Optional settings are pointers so present and absent round-trip
// distinctly through storage.
type Integration struct {
	Name         string   `json:"name"`
	CallbackURLs []string `json:"callbackUrls,omitempty"`

	// Bucket, when present, enables the object-store writer for
	// binary-typed properties.
	Bucket         *string `json:"bucket,omitempty"`
	MaxConnections *int    `json:"maxConnections,omitempty"`

	// LogEntitySetID points at the log artifact provisioned at create time.
	LogEntitySetID *uuid.UUID `json:"logEntitySetId,omitempty"`

	// RequeueOnFailure re-enqueues a job that fails mid-run. Off by
	// default; jobs found non-terminal at startup are always re-enqueued.
	RequeueOnFailure bool `json:"requeueOnFailure,omitempty"`

	Flights map[string]FlightConfig `json:"flights"`
}

// IntegrationUpdate is a partial update of an Integration. Only non-nil
// fields are applied; the rest of the definition is untouched.
type IntegrationUpdate struct {
	CallbackURLs     *[]string                `json:"callbackUrls,omitempty"`
	Bucket           *string                  `json:"bucket,omitempty"`
	MaxConnections   *int                     `json:"maxConnections,omitempty"`
	RequeueOnFailure *bool                    `json:"requeueOnFailure,omitempty"`
	Flights          *map[string]FlightConfig `json:"flights,omitempty"`
}
