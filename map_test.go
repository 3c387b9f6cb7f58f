package flume

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestMap(t *testing.T) {
	ds := Range("r", 5).Map("double", func(_ context.Context, args ...any) (any, error) {
		return args[0].(int64) * 2, nil
	})
	expectInt64s(t, ds, []int64{0, 2, 4, 6, 8})
}

func TestMapUnpacksTupleArgs(t *testing.T) {
	ds := Zip("z",
		FromValues("a", 1, 2),
		FromValues("b", 10, 20),
	).Map("sum", func(_ context.Context, args ...any) (any, error) {
		if len(args) != 2 {
			return nil, errors.New("expected two arguments")
		}
		return args[0].(int64) + args[1].(int64), nil
	})
	expectInt64s(t, ds, []int64{11, 22})
}

func TestMapSchemaResolution(t *testing.T) {
	ds := Range("r", 5).Map("pair", func(_ context.Context, args ...any) (any, error) {
		v := args[0].(int64)
		return Tuple{v, float64(v)}, nil
	})

	// Resolution invokes the function once with a placeholder element.
	s, ok := ds.Schema()
	if !ok {
		t.Fatal("schema should resolve without pulling real data")
	}
	if !s.Equal(TupleOf(Scalar(Int64), Scalar(Float64))) {
		t.Errorf("unexpected schema: %s", s)
	}
}

func TestMapSchemaResolvedFromFirstElement(t *testing.T) {
	// The placeholder invocation panics, so the schema stays unresolved
	// until real data flows.
	ds := FromValues("v", 4, 9).Map("sqrt-ish", func(_ context.Context, args ...any) (any, error) {
		v := args[0].(int64)
		if v == 0 {
			panic("zero is not allowed")
		}
		return v * v, nil
	})

	if _, ok := ds.Schema(); ok {
		t.Fatal("schema should be unresolved while the placeholder fails")
	}
	expectInt64s(t, ds, []int64{16, 81})
	if s, ok := ds.Schema(); !ok || !s.Equal(Scalar(Int64)) {
		t.Errorf("schema should be resolved after the first element, got %s", s)
	}
}

func TestMapUserError(t *testing.T) {
	boom := errors.New("boom")
	ds := Range("r", 5).Map("fail", func(_ context.Context, args ...any) (any, error) {
		if args[0].(int64) == 2 {
			return nil, boom
		}
		return args[0], nil
	})
	it := NewOneShotIterator("it", ds)
	defer it.Close()

	for i := 0; i < 2; i++ {
		if _, err := it.Next(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	_, err := it.Next(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped user error, got %v", err)
	}
	var pipeErr *Error
	if !errors.As(err, &pipeErr) {
		t.Fatal("expected a pipeline error")
	}
	if len(pipeErr.Path) == 0 || pipeErr.Path[len(pipeErr.Path)-1] != "fail" {
		t.Errorf("expected path ending at the map stage, got %v", pipeErr.Path)
	}
}

func TestMapPanicRecovery(t *testing.T) {
	ds := FromValues("v", 1).Map("explode", func(_ context.Context, _ ...any) (any, error) {
		panic("kaboom")
	})
	it := NewOneShotIterator("it", ds)
	defer it.Close()

	_, err := it.Next(context.Background())
	if ErrorKind(err) != KindInvalidArgument {
		t.Errorf("expected panic converted to invalid_argument, got %v", err)
	}
}

func TestParallelMapPreservesOrder(t *testing.T) {
	ds := Range("r", 50).ParallelMap("slow-double", func(_ context.Context, args ...any) (any, error) {
		v := args[0].(int64)
		// Earlier elements sleep longer, so order only holds if the
		// consumer sequences results deliberately.
		time.Sleep(time.Duration(50-v) * time.Microsecond)
		return v * 2, nil
	}, 8)

	got := asInt64s(t, drainDataset(t, ds))
	for i, v := range got {
		if v != int64(i*2) {
			t.Fatalf("element %d out of order: got %d", i, v)
		}
	}
}

func TestParallelMapMatchesMap(t *testing.T) {
	fn := func(_ context.Context, args ...any) (any, error) {
		return args[0].(int64) + 100, nil
	}
	serial := drainDataset(t, Range("r", 30).Map("m", fn))
	parallel := drainDataset(t, Range("r", 30).ParallelMap("pm", fn, 4))
	if !reflect.DeepEqual(serial, parallel) {
		t.Error("parallel map should be observationally identical to map")
	}
}

func TestParallelMapError(t *testing.T) {
	boom := errors.New("boom")
	ds := Range("r", 10).ParallelMap("fail", func(_ context.Context, args ...any) (any, error) {
		if args[0].(int64) == 3 {
			return nil, boom
		}
		return args[0], nil
	}, 4)
	it := NewOneShotIterator("it", ds)
	defer it.Close()

	var sawErr bool
	for i := 0; i < 10; i++ {
		_, err := it.Next(context.Background())
		if err != nil {
			if !errors.Is(err, boom) {
				t.Fatalf("expected user error, got %v", err)
			}
			sawErr = true
			break
		}
	}
	if !sawErr {
		t.Error("expected the user error to surface")
	}
}

func TestParallelMapInvalidParallelism(t *testing.T) {
	ds := Range("r", 5).ParallelMap("pm", func(_ context.Context, args ...any) (any, error) {
		return args[0], nil
	}, 0)
	if ErrorKind(ds.Err()) != KindInvalidArgument {
		t.Error("expected invalid_argument for zero parallelism")
	}
}

func TestParallelMapObservability(t *testing.T) {
	ds := Range("src", 6).ParallelMap("double", func(_ context.Context, args ...any) (any, error) {
		return args[0].(int64) * 2, nil
	}, 3)
	defer ds.Close()

	metrics := ds.Metrics()
	if metrics == nil {
		t.Fatal("expected parallel map to carry a metric registry")
	}
	if got := metrics.Gauge(ParallelMapWorkersMax).Value(); got != 3 {
		t.Errorf("expected workers max gauge 3, got %v", got)
	}

	started := make(chan StageEvent, 1)
	if err := ds.OnStageStarted(func(_ context.Context, e StageEvent) error {
		select {
		case started <- e:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("unexpected error registering hook: %v", err)
	}
	drained := make(chan StageEvent, 1)
	if err := ds.OnStageDrained(func(_ context.Context, e StageEvent) error {
		select {
		case drained <- e:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("unexpected error registering hook: %v", err)
	}

	expectInt64s(t, ds, []int64{0, 2, 4, 6, 8, 10})

	if got := metrics.Counter(ParallelMapInvocationsTotal).Value(); got != 6 {
		t.Errorf("expected 6 invocations, got %v", got)
	}
	if got := metrics.Counter(ParallelMapErrorsTotal).Value(); got != 0 {
		t.Errorf("expected no failed invocations, got %v", got)
	}
	select {
	case e := <-started:
		if e.Stage != "double" {
			t.Errorf("expected stage %q in the event, got %q", "double", e.Stage)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a started event")
	}
	select {
	case e := <-drained:
		if e.Elements != 6 {
			t.Errorf("expected 6 elements in the drain event, got %d", e.Elements)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a drained event")
	}
}
