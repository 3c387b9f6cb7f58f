package flume

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
)

func TestFromGenerator(t *testing.T) {
	var invocations atomic.Int64
	ds := FromGenerator("gen", Scalar(Int64), countingGenerator(3, &invocations))
	expectInt64s(t, ds, []int64{0, 1, 2})
}

func TestFromGeneratorValidatesElements(t *testing.T) {
	ds := FromGenerator("gen", Scalar(Int64), func() GeneratorFunc {
		return func() (any, error) {
			return "not an int", nil
		}
	})
	it := NewOneShotIterator("it", ds)
	defer it.Close()

	if _, err := it.Next(context.Background()); ErrorKind(err) != KindTypeMismatch {
		t.Errorf("expected type_mismatch, got %v", err)
	}
}

func TestFromGeneratorIndependentInvocations(t *testing.T) {
	var invocations atomic.Int64
	ds := FromGenerator("gen", Scalar(Int64), countingGenerator(4, &invocations))

	// Two concurrent cursors each own a full, independent sequence.
	a := NewOneShotIterator("a", ds)
	b := NewOneShotIterator("b", ds)
	defer a.Close()
	defer b.Close()

	for i := int64(0); i < 4; i++ {
		va, err := a.Next(context.Background())
		if err != nil {
			t.Fatalf("cursor a failed: %v", err)
		}
		vb, err := b.Next(context.Background())
		if err != nil {
			t.Fatalf("cursor b failed: %v", err)
		}
		if va.(int64) != i || vb.(int64) != i {
			t.Fatalf("interleaved cursors diverged at %d: %v, %v", i, va, vb)
		}
	}
	if invocations.Load() != 2 {
		t.Errorf("expected 2 producer invocations, got %d", invocations.Load())
	}
}

func TestGeneratorRegistryIssueIsUnique(t *testing.T) {
	reg := newGeneratorRegistry("gen", func() GeneratorFunc {
		return func() (any, error) { return nil, io.EOF }
	})

	const goroutines = 50
	ids := make(chan int64, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- reg.issue()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("id %d issued twice", id)
		}
		seen[id] = true
	}
	if len(seen) != goroutines {
		t.Errorf("expected %d unique ids, got %d", goroutines, len(seen))
	}
}

func TestGeneratorRegistryRetiredIDNotFound(t *testing.T) {
	reg := newGeneratorRegistry("gen", func() GeneratorFunc {
		sent := false
		return func() (any, error) {
			if sent {
				return nil, io.EOF
			}
			sent = true
			return int64(1), nil
		}
	})

	id := reg.issue()
	if _, err := reg.pull(id); err != nil {
		t.Fatalf("first pull failed: %v", err)
	}
	if _, err := reg.pull(id); !IsOutOfRange(err) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if _, err := reg.pull(id); !IsNotFound(err) {
		t.Errorf("expected not_found for a retired id, got %v", err)
	}
}

func TestFromGeneratorComposesDownstream(t *testing.T) {
	var invocations atomic.Int64
	ds := FromGenerator("gen", Scalar(Int64), countingGenerator(10, &invocations)).
		Filter("evens", func(_ context.Context, args ...any) (bool, error) {
			return args[0].(int64)%2 == 0, nil
		}).
		Batch("batch", 2)

	got := drainDataset(t, ds)
	if len(got) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(got))
	}
}
