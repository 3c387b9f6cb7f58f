package flume

import (
	"context"
	"errors"
	"io"
	"sync"
)

// GeneratorFunc yields successive elements of one producer invocation.
// It signals exhaustion by returning io.EOF or an OutOfRange error.
// Generator functions may be stateful and non-reentrant; the library
// never shares one invocation between cursors.
type GeneratorFunc func() (any, error)

// FromGenerator adapts an external, stateful sequence producer into a
// dataset. factory is called once per iteration pass to obtain a fresh
// producer invocation, so repeating or re-initializing the dataset
// replays the producer from its start rather than resuming it.
//
// Every produced element is validated against schema; a disagreeing
// type or shape fails the pull with TypeMismatch or ShapeMismatch.
//
//	counter := func() flume.GeneratorFunc {
//	    n := int64(0)
//	    return func() (any, error) {
//	        if n == 100 {
//	            return nil, io.EOF
//	        }
//	        n++
//	        return n, nil
//	    }
//	}
//	ds := flume.FromGenerator("counter", flume.Scalar(flume.Int64), counter)
func FromGenerator(name Name, schema Schema, factory func() GeneratorFunc) *Dataset {
	if factory == nil {
		return failed(newError(KindInvalidArgument, name, "factory must not be nil"))
	}
	return fromNode(&generatorNode{
		nodeName: name,
		sch:      schema,
		registry: newGeneratorRegistry(name, factory),
	})
}

type generatorNode struct {
	nodeName Name
	sch      Schema
	registry *generatorRegistry
}

func (n *generatorNode) name() Name             { return n.nodeName }
func (n *generatorNode) schema() (Schema, bool) { return n.sch, true }

// open issues a fresh iteration id and derives the pull loop from it:
// conceptually "repeat the id forever, map it through the producer,
// stop when the producer is exhausted". Each cursor therefore owns an
// independent invocation of the producer.
func (n *generatorNode) open(context.Context) (Source, error) {
	id := n.registry.issue()
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			if err := checkCtx(ctx, n.nodeName); err != nil {
				return nil, err
			}
			v, err := n.registry.pull(id)
			if err != nil {
				return nil, err
			}
			norm, err := normalizeValue(n.nodeName, v)
			if err != nil {
				return nil, err
			}
			if err := validateValue(n.nodeName, n.sch, norm); err != nil {
				return nil, err
			}
			return norm, nil
		},
	}, nil
}

// generatorRegistry multiplexes one external producer factory across
// multiple concurrently-active cursors. Each issued id owns an
// independent producer invocation, created lazily on first pull and
// removed exactly once when the producer signals exhaustion. This is
// the only shared mutable state in the pipeline core; its critical
// sections are a counter increment and a map access.
type generatorRegistry struct {
	nodeName Name
	factory  func() GeneratorFunc

	mu      sync.Mutex
	nextID  int64
	active  map[int64]GeneratorFunc
	retired map[int64]bool
}

func newGeneratorRegistry(name Name, factory func() GeneratorFunc) *generatorRegistry {
	return &generatorRegistry{
		nodeName: name,
		factory:  factory,
		active:   make(map[int64]GeneratorFunc),
		retired:  make(map[int64]bool),
	}
}

// issue hands out a globally unique, monotonically increasing iteration
// id. Ids are never reused, even across exhausted invocations.
func (g *generatorRegistry) issue() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	return id
}

// pull advances the producer invocation owned by id, creating it on
// first use. Once an invocation signals exhaustion it is removed and
// further pulls with the same id fail with NotFound.
func (g *generatorRegistry) pull(id int64) (any, error) {
	g.mu.Lock()
	if g.retired[id] {
		g.mu.Unlock()
		return nil, newError(KindNotFound, g.nodeName,
			"iteration %d already completed", id)
	}
	gen, ok := g.active[id]
	if !ok {
		gen = g.factory()
		g.active[id] = gen
	}
	g.mu.Unlock()

	// The producer runs outside the lock: invocations owned by other
	// ids must be able to advance concurrently.
	v, err := gen()
	if err != nil {
		if errors.Is(err, io.EOF) || IsOutOfRange(err) {
			g.retire(id)
			return nil, outOfRange(g.nodeName)
		}
		return nil, prependPath(err, g.nodeName)
	}
	return v, nil
}

// retire removes an exhausted invocation so it cannot be pulled again.
func (g *generatorRegistry) retire(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, id)
	g.retired[id] = true
}
