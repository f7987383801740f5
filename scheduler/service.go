// Package scheduler runs integrations as durable jobs: definitions and job
// records live in pluggable stores, a dispatch loop pulls job ids off a
// durable queue under a concurrency limit, and completion is reported to
// callback URLs.
package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/airlifthq/airlift"
)

// Runner executes one integration end to end. The scheduler owns job
// bookkeeping; the runner owns sources, writers and the pipeline.
type Runner interface {
	Run(ctx context.Context, integration Integration) error
}

// RunnerFunc adapts a bare func to a Runner.
type RunnerFunc func(ctx context.Context, integration Integration) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, integration Integration) error {
	return f(ctx, integration)
}

// Service is the job scheduler. One Service owns the dispatch loop; its
// stores may be shared with other processes holding the same backing file or
// cluster.
type Service struct {
	jobs         JobStore
	integrations IntegrationStore
	queue        JobQueue
	logs         LogProvisioner
	runner       Runner

	permits int64
	sem     *semaphore.Weighted
	client  *http.Client
	log     airlift.Logger

	wg sync.WaitGroup
}

// Option is a functional option to pass to NewService.
type Option func(*Service)

// WithLogger returns an Option setting the Service's logger.
func WithLogger(log airlift.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithPermits returns an Option setting the number of jobs allowed to run
// concurrently. The default is twice GOMAXPROCS.
func WithPermits(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.permits = n
		}
	}
}

// WithHTTPClient returns an Option setting the client used for callback
// notifications.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.client = c
		}
	}
}

// NewService makes a Service over the given stores and runner.
func NewService(jobs JobStore, integrations IntegrationStore, queue JobQueue, logs LogProvisioner, runner Runner, options ...Option) *Service {
	s := &Service{
		jobs:         jobs,
		integrations: integrations,
		queue:        queue,
		logs:         logs,
		runner:       runner,
		permits:      int64(2 * runtime.GOMAXPROCS(0)),
		client:       &http.Client{Timeout: 30 * time.Second},
		log:          airlift.NopLogger{},
	}
	for _, opt := range options {
		opt(s)
	}
	s.sem = semaphore.NewWeighted(s.permits)
	return s
}

// Enqueue creates a job for the named integration, claims a fresh id in the
// job store, and pushes it onto the work queue.
func (s *Service) Enqueue(integrationName string) (uuid.UUID, error) {
	_, found, err := s.integrations.Get(integrationName)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "reading integration")
	}
	if !found {
		return uuid.Nil, errors.Errorf("unknown integration '%s'", integrationName)
	}
	job := Job{IntegrationName: integrationName, Status: JobQueued}
	for {
		id := uuid.New()
		claimed, err := s.jobs.PutIfAbsent(id, job)
		if err != nil {
			return uuid.Nil, errors.Wrap(err, "claiming job id")
		}
		if !claimed {
			continue // id collision, roll again
		}
		if err := s.queue.Enqueue(id); err != nil {
			return uuid.Nil, errors.Wrap(err, "enqueueing job")
		}
		s.log.Printf("enqueued job %s for integration '%s'", id, integrationName)
		return id, nil
	}
}

// Recover scans the job store for jobs left in a non-terminal state by a
// previous process and re-enqueues them. Call once before Run. Interrupted
// jobs are retried from the start; writers and resolvers tolerate full
// re-execution.
func (s *Service) Recover() (int, error) {
	all, err := s.jobs.All()
	if err != nil {
		return 0, errors.Wrap(err, "scanning job store")
	}
	n := 0
	for id, job := range all {
		if job.Status.Terminal() {
			continue
		}
		if job.Status == JobInProgress {
			job.Status = JobQueued
			if err := s.jobs.Put(id, job); err != nil {
				return n, errors.Wrapf(err, "resetting job %s", id)
			}
		}
		if err := s.queue.Enqueue(id); err != nil {
			return n, errors.Wrapf(err, "re-enqueueing job %s", id)
		}
		s.log.Printf("recovered job %s (integration '%s')", id, job.IntegrationName)
		n++
	}
	return n, nil
}

// Run is the dispatch loop. It blocks until ctx is done, taking job ids off
// the queue whenever a permit is free and handing them to workers without
// waiting for completion. A failing job never stops the loop.
func (s *Service) Run(ctx context.Context) error {
	defer s.wg.Wait()
	for {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		id, err := s.queue.Take(ctx)
		if err != nil {
			s.sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "taking from job queue")
		}
		s.wg.Add(1)
		go s.execute(ctx, id)
	}
}

func (s *Service) execute(ctx context.Context, id uuid.UUID) {
	defer s.wg.Done()
	defer s.sem.Release(1)

	job, found, err := s.jobs.Get(id)
	if err != nil {
		s.log.Printf("job %s: reading record: %v", id, err)
		return
	}
	if !found {
		s.log.Printf("job %s: dequeued but not in job store, dropping", id)
		return
	}
	// Recovery can leave the same id queued twice; only a QUEUED record runs.
	if job.Status != JobQueued {
		s.log.Debugf("job %s: status %s, skipping duplicate dispatch", id, job.Status)
		return
	}

	integration, found, err := s.integrations.Get(job.IntegrationName)
	if err == nil && !found {
		err = errors.Errorf("unknown integration '%s'", job.IntegrationName)
	}
	if err != nil {
		s.finish(id, job, integration, err)
		return
	}

	job.Status = JobInProgress
	if err := s.jobs.Put(id, job); err != nil {
		s.log.Printf("job %s: marking in progress: %v", id, err)
		return
	}
	s.log.Printf("job %s: running integration '%s'", id, job.IntegrationName)

	s.finish(id, job, integration, s.runner.Run(ctx, integration))
}

// finish records the terminal status, optionally re-enqueues, and notifies
// callbacks.
func (s *Service) finish(id uuid.UUID, job Job, integration Integration, runErr error) {
	message := fmt.Sprintf("integration '%s' succeeded", job.IntegrationName)
	if runErr != nil {
		job.Status = JobFailed
		message = fmt.Sprintf("integration '%s' failed: %v", job.IntegrationName, runErr)
		s.log.Printf("job %s: %v", id, runErr)
	} else {
		job.Status = JobSucceeded
	}
	if err := s.jobs.Put(id, job); err != nil {
		s.log.Printf("job %s: recording status %s: %v", id, job.Status, err)
	}

	if runErr != nil && integration.RequeueOnFailure {
		job.Status = JobQueued
		if err := s.jobs.Put(id, job); err != nil {
			s.log.Printf("job %s: resetting for requeue: %v", id, err)
		} else if err := s.queue.Enqueue(id); err != nil {
			s.log.Printf("job %s: requeueing: %v", id, err)
		} else {
			s.log.Printf("job %s: requeued after failure", id)
		}
	}

	for _, cb := range integration.CallbackURLs {
		resp, err := s.client.PostForm(cb, url.Values{
			"message": {message},
			"jobId":   {id.String()},
		})
		if err != nil {
			s.log.Printf("job %s: notifying %s: %v", id, cb, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			s.log.Printf("job %s: notifying %s: status %d", id, cb, resp.StatusCode)
		}
	}
}

// PollStatus returns the current status of a job. Polling never removes the
// record; retention is the integrator's choice via DeleteJobStatus.
func (s *Service) PollStatus(id uuid.UUID) (JobStatus, error) {
	job, found, err := s.jobs.Get(id)
	if err != nil {
		return "", errors.Wrap(err, "reading job")
	}
	if !found {
		return "", errors.Errorf("unknown job %s", id)
	}
	return job.Status, nil
}

// PollAll returns the status of every known job.
func (s *Service) PollAll() (map[uuid.UUID]JobStatus, error) {
	all, err := s.jobs.All()
	if err != nil {
		return nil, errors.Wrap(err, "scanning job store")
	}
	out := make(map[uuid.UUID]JobStatus, len(all))
	for id, job := range all {
		out[id] = job.Status
	}
	return out, nil
}

// DeleteJobStatus removes a terminal job record. Deleting a queued or
// running job is refused since the dispatch loop still needs the record.
func (s *Service) DeleteJobStatus(id uuid.UUID) error {
	job, found, err := s.jobs.Get(id)
	if err != nil {
		return errors.Wrap(err, "reading job")
	}
	if !found {
		return errors.Errorf("unknown job %s", id)
	}
	if !job.Status.Terminal() {
		return errors.Errorf("job %s is %s, not terminal", id, job.Status)
	}
	return errors.Wrap(s.jobs.Delete(id), "deleting job")
}

// CreateIntegration validates and persists a new integration definition,
// provisioning its log artifact. The artifact name is derived from the
// integration name, suffixed with a counter when taken.
func (s *Service) CreateIntegration(integration Integration) error {
	if integration.Name == "" {
		return errors.New("integration must have a name")
	}
	if err := validateCallbacks(integration.CallbackURLs); err != nil {
		return err
	}
	if _, found, err := s.integrations.Get(integration.Name); err != nil {
		return errors.Wrap(err, "reading integration")
	} else if found {
		return errors.Errorf("integration '%s' already exists", integration.Name)
	}

	logID, err := s.provisionLog(integration.Name)
	if err != nil {
		return err
	}
	integration.LogEntitySetID = &logID

	claimed, err := s.integrations.PutIfAbsent(integration.Name, integration)
	if err != nil {
		return errors.Wrap(err, "storing integration")
	}
	if !claimed {
		// A concurrent create won the name; don't orphan our artifact.
		if err := s.logs.Delete(logID); err != nil {
			s.log.Printf("deleting log artifact %s for lost create of '%s': %v", logID, integration.Name, err)
		}
		return errors.Errorf("integration '%s' already exists", integration.Name)
	}
	s.log.Printf("created integration '%s' with log artifact %s", integration.Name, logID)
	return nil
}

func (s *Service) provisionLog(integrationName string) (uuid.UUID, error) {
	base := fmt.Sprintf("Integration logs for %s", integrationName)
	description := fmt.Sprintf("Auto-generated log artifact for integration %s", integrationName)
	name := base
	for i := 1; ; i++ {
		exists, err := s.logs.Exists(name)
		if err != nil {
			return uuid.Nil, errors.Wrap(err, "checking log artifact name")
		}
		if !exists {
			break
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
	id, err := s.logs.Provision(name, description)
	return id, errors.Wrap(err, "provisioning log artifact")
}

// GetIntegration returns the named definition.
func (s *Service) GetIntegration(name string) (Integration, error) {
	integration, found, err := s.integrations.Get(name)
	if err != nil {
		return Integration{}, errors.Wrap(err, "reading integration")
	}
	if !found {
		return Integration{}, errors.Errorf("unknown integration '%s'", name)
	}
	return integration, nil
}

// UpdateIntegration applies a partial update: only the fields set on the
// update touch the stored definition.
func (s *Service) UpdateIntegration(name string, update IntegrationUpdate) error {
	integration, found, err := s.integrations.Get(name)
	if err != nil {
		return errors.Wrap(err, "reading integration")
	}
	if !found {
		return errors.Errorf("unknown integration '%s'", name)
	}
	if update.CallbackURLs != nil {
		if err := validateCallbacks(*update.CallbackURLs); err != nil {
			return err
		}
		integration.CallbackURLs = *update.CallbackURLs
	}
	if update.Bucket != nil {
		integration.Bucket = update.Bucket
	}
	if update.MaxConnections != nil {
		integration.MaxConnections = update.MaxConnections
	}
	if update.RequeueOnFailure != nil {
		integration.RequeueOnFailure = *update.RequeueOnFailure
	}
	if update.Flights != nil {
		integration.Flights = *update.Flights
	}
	return errors.Wrap(s.integrations.Put(name, integration), "storing integration")
}

// DeleteIntegration removes the named definition and its log artifact.
func (s *Service) DeleteIntegration(name string) error {
	integration, found, err := s.integrations.Get(name)
	if err != nil {
		return errors.Wrap(err, "reading integration")
	}
	if !found {
		return errors.Errorf("unknown integration '%s'", name)
	}
	if integration.LogEntitySetID != nil {
		if err := s.logs.Delete(*integration.LogEntitySetID); err != nil {
			return errors.Wrap(err, "deleting log artifact")
		}
	}
	return errors.Wrap(s.integrations.Delete(name), "deleting integration")
}

func validateCallbacks(urls []string) error {
	for _, cb := range urls {
		u, err := url.ParseRequestURI(cb)
		if err != nil {
			return errors.Wrapf(err, "callback url '%s'", cb)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.Errorf("callback url '%s' must be http or https", cb)
		}
	}
	return nil
}
