// Package boltjobs persists scheduler state in a bolt database: the job map,
// the integration definitions, and the FIFO work queue all live in one file
// so a restarted process sees exactly what the crashed one saw.
package boltjobs

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/airlifthq/airlift/scheduler"
)

var (
	jobBucket         = []byte("jobs")
	integrationBucket = []byte("integrations")
	queueBucket       = []byte("queue")
)

// Store implements scheduler.JobStore, scheduler.IntegrationStore and
// scheduler.JobQueue over a single bolt database.
type Store struct {
	db *bolt.DB

	mu     sync.Mutex
	signal chan struct{} // pinged on enqueue so Take can wake without polling
}

// Open opens (creating if needed) the bolt database at filename.
func Open(filename string) (*Store, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{jobBucket, integrationBucket, queueBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "creating %s bucket", name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return &Store{db: db, signal: make(chan struct{}, 1)}, nil
}

// Close syncs and closes the database.
func (s *Store) Close() error {
	if err := s.db.Sync(); err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return s.db.Close()
}

// PutIfAbsent implements scheduler.JobStore.
func (s *Store) PutIfAbsent(id uuid.UUID, job scheduler.Job) (bool, error) {
	claimed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(jobBucket)
		if b.Get(id[:]) != nil {
			return nil
		}
		bs, err := json.Marshal(job)
		if err != nil {
			return errors.Wrap(err, "marshaling job")
		}
		claimed = true
		return b.Put(id[:], bs)
	})
	return claimed, err
}

// Put implements scheduler.JobStore.
func (s *Store) Put(id uuid.UUID, job scheduler.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bs, err := json.Marshal(job)
		if err != nil {
			return errors.Wrap(err, "marshaling job")
		}
		return tx.Bucket(jobBucket).Put(id[:], bs)
	})
}

// Get implements scheduler.JobStore.
func (s *Store) Get(id uuid.UUID) (scheduler.Job, bool, error) {
	var job scheduler.Job
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		bs := tx.Bucket(jobBucket).Get(id[:])
		if bs == nil {
			return nil
		}
		found = true
		return errors.Wrap(json.Unmarshal(bs, &job), "unmarshaling job")
	})
	return job, found, err
}

// All implements scheduler.JobStore.
func (s *Store) All() (map[uuid.UUID]scheduler.Job, error) {
	out := make(map[uuid.UUID]scheduler.Job)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(jobBucket).ForEach(func(k, v []byte) error {
			id, err := uuid.FromBytes(k)
			if err != nil {
				return errors.Wrap(err, "parsing job id")
			}
			var job scheduler.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return errors.Wrapf(err, "unmarshaling job %s", id)
			}
			out[id] = job
			return nil
		})
	})
	return out, err
}

// Delete implements scheduler.JobStore.
func (s *Store) Delete(id uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(jobBucket).Delete(id[:])
	})
}

// Integrations returns the store's scheduler.IntegrationStore view.
func (s *Store) Integrations() scheduler.IntegrationStore {
	return integrationStore{s.db}
}

type integrationStore struct {
	db *bolt.DB
}

func (is integrationStore) PutIfAbsent(name string, integration scheduler.Integration) (bool, error) {
	claimed := false
	err := is.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(integrationBucket)
		if b.Get([]byte(name)) != nil {
			return nil
		}
		bs, err := json.Marshal(integration)
		if err != nil {
			return errors.Wrap(err, "marshaling integration")
		}
		claimed = true
		return b.Put([]byte(name), bs)
	})
	return claimed, err
}

func (is integrationStore) Put(name string, integration scheduler.Integration) error {
	return is.db.Update(func(tx *bolt.Tx) error {
		bs, err := json.Marshal(integration)
		if err != nil {
			return errors.Wrap(err, "marshaling integration")
		}
		return tx.Bucket(integrationBucket).Put([]byte(name), bs)
	})
}

func (is integrationStore) Get(name string) (scheduler.Integration, bool, error) {
	var integration scheduler.Integration
	found := false
	err := is.db.View(func(tx *bolt.Tx) error {
		bs := tx.Bucket(integrationBucket).Get([]byte(name))
		if bs == nil {
			return nil
		}
		found = true
		return errors.Wrap(json.Unmarshal(bs, &integration), "unmarshaling integration")
	})
	return integration, found, err
}

func (is integrationStore) Delete(name string) error {
	return is.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(integrationBucket).Delete([]byte(name))
	})
}

// Enqueue implements scheduler.JobQueue. Queue entries are keyed by a
// monotonic sequence so iteration order is FIFO.
func (s *Store) Enqueue(id uuid.UUID) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, id[:])
	})
	if err != nil {
		return errors.Wrap(err, "enqueueing job")
	}
	select {
	case s.signal <- struct{}{}:
	default:
	}
	return nil
}

// Take implements scheduler.JobQueue, blocking until an id is available or
// the context is done. Consumers are woken by enqueues, with a slow periodic
// recheck in case a signal was consumed by a competing Take.
func (s *Store) Take(ctx context.Context) (uuid.UUID, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		id, ok, err := s.pop()
		if err != nil {
			return uuid.Nil, err
		}
		if ok {
			return id, nil
		}
		select {
		case <-s.signal:
		case <-ticker.C:
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		}
	}
}

func (s *Store) pop() (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id uuid.UUID
	found := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(queueBucket).Cursor()
		k, v := c.First()
		if k == nil {
			return nil
		}
		parsed, err := uuid.FromBytes(v)
		if err != nil {
			return errors.Wrap(err, "parsing queued job id")
		}
		id = parsed
		found = true
		return c.Delete()
	})
	return id, found, err
}
