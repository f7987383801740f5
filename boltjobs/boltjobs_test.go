package boltjobs

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/airlifthq/airlift/scheduler"
)

func tempStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dir, err := ioutil.TempDir("", "boltjobs")
	if err != nil {
		t.Fatal(err)
	}
	store, err := Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	return store, func() {
		store.Close()
		os.RemoveAll(dir)
	}
}

func TestJobStoreRoundTrip(t *testing.T) {
	store, cleanup := tempStore(t)
	defer cleanup()

	id := uuid.New()
	job := scheduler.Job{IntegrationName: "census", Status: scheduler.JobQueued}

	claimed, err := store.PutIfAbsent(id, job)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed {
		t.Fatal("first claim should win")
	}
	claimed, err = store.PutIfAbsent(id, scheduler.Job{IntegrationName: "other"})
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Fatal("second claim should lose")
	}

	got, found, err := store.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("job not found")
	}
	if got != job {
		t.Fatalf("round trip changed the job: %+v", got)
	}

	job.Status = scheduler.JobSucceeded
	if err := store.Put(id, job); err != nil {
		t.Fatal(err)
	}
	all, err := store.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[id].Status != scheduler.JobSucceeded {
		t.Fatalf("unexpected snapshot %v", all)
	}

	if err := store.Delete(id); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := store.Get(id); found {
		t.Fatal("job still present after delete")
	}
}

func TestQueueFIFO(t *testing.T) {
	store, cleanup := tempStore(t)
	defer cleanup()

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		if err := store.Enqueue(id); err != nil {
			t.Fatal(err)
		}
	}
	for i, want := range ids {
		got, err := store.Take(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestTakeBlocksUntilEnqueue(t *testing.T) {
	store, cleanup := tempStore(t)
	defer cleanup()

	want := uuid.New()
	got := make(chan uuid.UUID, 1)
	go func() {
		id, err := store.Take(context.Background())
		if err != nil {
			t.Error(err)
			return
		}
		got <- id
	}()

	time.Sleep(20 * time.Millisecond)
	if err := store.Enqueue(want); err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-got:
		if id != want {
			t.Fatalf("expected %s, got %s", want, id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("take never returned")
	}
}

func TestTakeHonorsContext(t *testing.T) {
	store, cleanup := tempStore(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := store.Take(ctx); err == nil {
		t.Fatal("expected context error from empty queue")
	}
}

func TestIntegrationStore(t *testing.T) {
	store, cleanup := tempStore(t)
	defer cleanup()
	integrations := store.Integrations()

	bucket := "blobs"
	in := scheduler.Integration{
		Name:         "census",
		CallbackURLs: []string{"http://example.com/done"},
		Bucket:       &bucket,
		Flights: map[string]scheduler.FlightConfig{
			"people": {FlightPath: "people.yaml", Source: "csv", Files: []string{"people.csv"}},
		},
	}
	claimed, err := integrations.PutIfAbsent("census", in)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed {
		t.Fatal("first claim should win")
	}

	got, found, err := integrations.Get("census")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("integration not found")
	}
	if got.Bucket == nil || *got.Bucket != "blobs" {
		t.Fatal("optional bucket lost in round trip")
	}
	if got.MaxConnections != nil {
		t.Fatal("absent optional came back present")
	}
	if got.Flights["people"].FlightPath != "people.yaml" {
		t.Fatalf("flight config lost: %+v", got.Flights)
	}

	if err := integrations.Delete("census"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := integrations.Get("census"); found {
		t.Fatal("integration still present after delete")
	}
}
