package flume

import (
	"context"
	"testing"
	"time"
)

func TestIteratorRequiresInitialize(t *testing.T) {
	it := NewIterator("it", Range("r", 3))
	defer it.Close()

	if it.State() != StateUninitialized {
		t.Fatalf("expected uninitialized state, got %s", it.State())
	}
	if _, err := it.Next(context.Background()); ErrorKind(err) != KindInvalidArgument {
		t.Errorf("expected invalid_argument before Initialize, got %v", err)
	}

	if err := it.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if it.State() != StateRunning {
		t.Errorf("expected running state, got %s", it.State())
	}
	v, err := it.Next(context.Background())
	if err != nil || v.(int64) != 0 {
		t.Errorf("expected first element, got %v, %v", v, err)
	}
}

func TestIteratorExhaustionAndReinitialize(t *testing.T) {
	it := NewIterator("it", Range("r", 2))
	defer it.Close()
	ctx := context.Background()

	if err := it.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := it.Next(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := it.Next(ctx); !IsOutOfRange(err) {
		t.Fatalf("expected out_of_range, got %v", err)
	}
	if it.State() != StateExhausted {
		t.Errorf("expected exhausted state, got %s", it.State())
	}
	if _, err := it.Next(ctx); !IsOutOfRange(err) {
		t.Errorf("exhaustion should be sticky, got %v", err)
	}

	// A fresh epoch starts from the beginning.
	if err := it.Initialize(ctx); err != nil {
		t.Fatalf("reinitialize failed: %v", err)
	}
	v, err := it.Next(ctx)
	if err != nil || v.(int64) != 0 {
		t.Errorf("expected restart from the first element, got %v, %v", v, err)
	}
}

func TestOneShotIteratorAutoInitializes(t *testing.T) {
	it := NewOneShotIterator("it", Range("r", 2))
	defer it.Close()

	v, err := it.Next(context.Background())
	if err != nil || v.(int64) != 0 {
		t.Errorf("expected auto-initialization, got %v, %v", v, err)
	}
}

func TestUnboundIteratorBind(t *testing.T) {
	it := NewUnboundIterator("it", Scalar(Int64))
	defer it.Close()
	ctx := context.Background()

	if it.State() != StateUnbound {
		t.Fatalf("expected unbound state, got %s", it.State())
	}
	if _, err := it.Next(ctx); ErrorKind(err) != KindInvalidArgument {
		t.Errorf("expected invalid_argument while unbound, got %v", err)
	}
	if err := it.Initialize(ctx); ErrorKind(err) != KindInvalidArgument {
		t.Errorf("expected invalid_argument initializing unbound, got %v", err)
	}

	// Incompatible dataset is refused.
	if err := it.Bind(FromValues("strings", "x")); ErrorKind(err) != KindTypeMismatch {
		t.Errorf("expected type_mismatch binding incompatible dataset, got %v", err)
	}

	if err := it.Bind(Range("r", 3)); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if err := it.Initialize(ctx); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	v, err := it.Next(ctx)
	if err != nil || v.(int64) != 0 {
		t.Errorf("expected first element, got %v, %v", v, err)
	}
}

func TestIteratorRebind(t *testing.T) {
	it := NewUnboundIterator("it", Scalar(Int64))
	defer it.Close()
	ctx := context.Background()

	if err := it.Bind(Range("train", 2)); err != nil {
		t.Fatal(err)
	}
	if err := it.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := it.Next(ctx); err != nil {
		t.Fatal(err)
	}

	// Rebinding mid-iteration resets to uninitialized.
	if err := it.Bind(Range("validate", 5, 10)); err != nil {
		t.Fatal(err)
	}
	if it.State() != StateUninitialized {
		t.Errorf("expected uninitialized after rebind, got %s", it.State())
	}
	if err := it.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	v, err := it.Next(ctx)
	if err != nil || v.(int64) != 5 {
		t.Errorf("expected the rebound dataset's first element, got %v, %v", v, err)
	}
}

func TestIteratorBindNil(t *testing.T) {
	it := NewUnboundIterator("it", Scalar(Int64))
	defer it.Close()
	if err := it.Bind(nil); err == nil {
		t.Error("expected error binding nil dataset")
	}
}

func TestIteratorMetrics(t *testing.T) {
	it := NewIterator("it", Range("r", 3))
	defer it.Close()
	ctx := context.Background()

	if err := it.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	for {
		if _, err := it.Next(ctx); err != nil {
			break
		}
	}

	metrics := it.Metrics()
	if got := metrics.Counter(IteratorElementsTotal).Value(); got != 3 {
		t.Errorf("expected 3 elements counted, got %v", got)
	}
	if got := metrics.Counter(IteratorInitsTotal).Value(); got != 1 {
		t.Errorf("expected 1 initialization counted, got %v", got)
	}
	// Next calls: 3 elements plus the exhausting pull.
	if got := metrics.Counter(IteratorNextTotal).Value(); got != 4 {
		t.Errorf("expected 4 Next calls counted, got %v", got)
	}
}

func TestIteratorExhaustedHook(t *testing.T) {
	it := NewIterator("it", Range("r", 2))
	defer it.Close()
	ctx := context.Background()

	exhausted := make(chan IteratorEvent, 1)
	if err := it.OnExhausted(func(_ context.Context, event IteratorEvent) error {
		exhausted <- event
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := it.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	for {
		if _, err := it.Next(ctx); err != nil {
			break
		}
	}

	select {
	case event := <-exhausted:
		if event.Elements != 2 {
			t.Errorf("expected 2 elements in event, got %d", event.Elements)
		}
	case <-time.After(time.Second):
		t.Error("exhausted hook never fired")
	}
}

func TestIteratorElements(t *testing.T) {
	it := NewOneShotIterator("it", Range("r", 4))
	defer it.Close()

	for i := 0; i < 2; i++ {
		if _, err := it.Next(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if it.Elements() != 2 {
		t.Errorf("expected 2 elements this epoch, got %d", it.Elements())
	}
}

func TestIteratorSchema(t *testing.T) {
	it := NewIterator("it", Range("r", 3))
	defer it.Close()
	s, ok := it.Schema()
	if !ok || !s.Equal(Scalar(Int64)) {
		t.Errorf("expected the dataset's schema, got %s", s)
	}

	unbound := NewUnboundIterator("u", Scalar(String))
	defer unbound.Close()
	s, ok = unbound.Schema()
	if !ok || !s.Equal(Scalar(String)) {
		t.Errorf("expected the declared schema, got %s", s)
	}
}
