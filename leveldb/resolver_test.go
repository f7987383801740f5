package leveldb

import (
	"context"
	"io/ioutil"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/airlifthq/airlift"
)

func TestResolverPersists(t *testing.T) {
	dir, err := ioutil.TempDir("", "leveldb-resolver")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	setID := uuid.New()
	keys := []airlift.EntityKey{
		{EntitySetID: setID, EntityID: "a"},
		{EntitySetID: setID, EntityID: "b"},
	}

	r, err := NewResolver(dir)
	if err != nil {
		t.Fatal(err)
	}
	first, err := r.Resolve(context.Background(), keys)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen, as after a restart.
	r, err = NewResolver(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	second, err := r.Resolve(context.Background(), keys)
	if err != nil {
		t.Fatal(err)
	}
	for k, id := range first {
		if second[k] != id {
			t.Fatalf("key %v resolved differently after reopen: %s vs %s", k, id, second[k])
		}
		if id != airlift.SurrogateID(k) {
			t.Fatalf("key %v stored non-canonical id %s", k, id)
		}
	}
}
