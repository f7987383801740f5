package airlift

import (
	"testing"

	"github.com/google/uuid"
)

func TestDefaultEntityIDDeterminism(t *testing.T) {
	ssn := uuid.New()
	name := uuid.New()

	p1 := make(Properties)
	p1.Add(name, "Ada Lovelace")
	p1.Add(ssn, "123-45-6789")

	p2 := make(Properties)
	p2.Add(ssn, "123-45-6789")
	p2.Add(name, "Ada Lovelace")

	id1 := DefaultEntityID([]uuid.UUID{ssn}, p1)
	id2 := DefaultEntityID([]uuid.UUID{ssn}, p2)
	if id1 == "" {
		t.Fatal("expected non-blank id")
	}
	if id1 != id2 {
		t.Fatalf("insertion order changed id: %q vs %q", id1, id2)
	}
	if id1 != "123-45-6789" {
		t.Fatalf("unexpected id %q", id1)
	}
}

func TestDefaultEntityIDKeyOrder(t *testing.T) {
	first := uuid.New()
	second := uuid.New()
	props := make(Properties)
	props.Add(first, "a")
	props.Add(second, "b")

	fwd := DefaultEntityID([]uuid.UUID{first, second}, props)
	rev := DefaultEntityID([]uuid.UUID{second, first}, props)
	if fwd == rev {
		t.Fatalf("declared key order should matter, both got %q", fwd)
	}
	if fwd != "a|b" || rev != "b|a" {
		t.Fatalf("unexpected ids %q and %q", fwd, rev)
	}
}

func TestDefaultEntityIDMultiValueSorted(t *testing.T) {
	key := uuid.New()
	props := make(Properties)
	props.Add(key, "zebra", "apple")
	if id := DefaultEntityID([]uuid.UUID{key}, props); id != "apple,zebra" {
		t.Fatalf("expected sorted join, got %q", id)
	}
}

func TestDefaultEntityIDBlank(t *testing.T) {
	key := uuid.New()
	other := uuid.New()
	props := make(Properties)
	props.Add(other, "present")
	if id := DefaultEntityID([]uuid.UUID{key}, props); id != "" {
		t.Fatalf("expected blank id when no key property has values, got %q", id)
	}
	if id := DefaultEntityID([]uuid.UUID{key}, make(Properties)); id != "" {
		t.Fatalf("expected blank id for empty properties, got %q", id)
	}
}

func TestValueSetDedup(t *testing.T) {
	vs := NewValueSet("a", "a", "b")
	if len(vs) != 2 {
		t.Fatalf("expected 2 members, got %d", len(vs))
	}
	got := vs.SortedStrings()
	if got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected members %v", got)
	}
}
