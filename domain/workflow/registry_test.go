package workflow

import "testing"

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubKind{name: "echo"})

	kind, ok := r.Lookup("echo")
	if !ok {
		t.Fatal("Lookup() expected echo to be registered")
	}
	if kind.Name() != "echo" {
		t.Errorf("Name() = %s, want echo", kind.Name())
	}
}

func TestRegistryLookupMissing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("Lookup() expected false for unregistered kind")
	}
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubKind{name: "echo"})
	r.Register(&stubKind{name: "echo"})

	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 after registering the same kind twice", r.Count())
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubKind{name: "a"})
	r.Register(&stubKind{name: "b"})

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List() length = %d, want 2", len(names))
	}
}
