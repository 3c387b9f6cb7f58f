package flume

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
)

// Cache creates a dataset that records d's elements in memory during
// the first complete pass and replays the recording on every later
// pass, so an expensive upstream only runs once. A pass abandoned
// before exhaustion leaves no recording; the next pass starts over.
//
// The recording is shared by every iterator over the returned dataset
// and lives until the dataset itself is released.
func (d *Dataset) Cache(name Name) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	return fromNode(&cacheNode{nodeName: name, up: d.node})
}

type cacheNode struct {
	nodeName Name
	up       node

	mu       sync.Mutex
	elems    []any
	complete bool
}

func (n *cacheNode) name() Name             { return n.nodeName }
func (n *cacheNode) schema() (Schema, bool) { return n.up.schema() }

func (n *cacheNode) open(ctx context.Context) (Source, error) {
	n.mu.Lock()
	if n.complete {
		elems := n.elems
		n.mu.Unlock()
		return replaySource(n.nodeName, elems), nil
	}
	n.mu.Unlock()

	up, err := n.up.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	var recorded []any
	done := false
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			if done {
				return nil, outOfRange(n.nodeName)
			}
			v, err := up.Next(ctx)
			if err != nil {
				if IsOutOfRange(err) {
					done = true
					n.commit(recorded)
					return nil, outOfRange(n.nodeName)
				}
				return nil, prependPath(err, n.nodeName)
			}
			recorded = append(recorded, v)
			return v, nil
		},
		closeFn: up.Close,
	}, nil
}

// commit publishes a completed recording. The first completed pass
// wins; later passes that raced it are discarded.
func (n *cacheNode) commit(elems []any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.complete {
		n.elems = elems
		n.complete = true
	}
}

func replaySource(name Name, elems []any) Source {
	pos := 0
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			if err := checkCtx(ctx, name); err != nil {
				return nil, err
			}
			if pos >= len(elems) {
				return nil, outOfRange(name)
			}
			v := elems[pos]
			pos++
			return v, nil
		},
		closeFn: func() error { return nil },
	}
}

// CacheFile is Cache with a file-backed recording: the first complete
// pass writes one JSON document per element to path, and later passes
// (including in other processes) replay the file without re-running the
// upstream. The file appears atomically; an abandoned pass leaves
// nothing behind.
//
// Replay decodes elements against the dataset's schema, so the schema
// must be resolved by the time a file-backed replay opens.
func (d *Dataset) CacheFile(name Name, path string) *Dataset {
	if bad := d.chainErr(); bad != nil {
		return bad
	}
	if path == "" {
		return failed(newError(KindInvalidArgument, name, "path must not be empty"))
	}
	return fromNode(&cacheFileNode{nodeName: name, up: d.node, path: path})
}

type cacheFileNode struct {
	nodeName Name
	up       node
	path     string
}

func (n *cacheFileNode) name() Name             { return n.nodeName }
func (n *cacheFileNode) schema() (Schema, bool) { return n.up.schema() }

func (n *cacheFileNode) open(ctx context.Context) (Source, error) {
	if _, err := os.Stat(n.path); err == nil {
		return n.openReplay()
	}
	up, err := n.up.open(ctx)
	if err != nil {
		return nil, prependPath(err, n.nodeName)
	}
	var recorded []any
	done := false
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			if done {
				return nil, outOfRange(n.nodeName)
			}
			v, err := up.Next(ctx)
			if err != nil {
				if IsOutOfRange(err) {
					done = true
					if werr := n.writeFile(recorded); werr != nil {
						return nil, werr
					}
					return nil, outOfRange(n.nodeName)
				}
				return nil, prependPath(err, n.nodeName)
			}
			recorded = append(recorded, v)
			return v, nil
		},
		closeFn: up.Close,
	}, nil
}

// writeFile lands the recording as newline-delimited JSON via a temp
// file and rename, so readers never observe a partial cache. The temp
// file lives next to the target so the rename never crosses
// filesystems.
func (n *cacheFileNode) writeFile(elems []any) error {
	tmp, err := os.CreateTemp(filepath.Dir(n.path), "flume-cache-*")
	if err != nil {
		return newError(KindInvalidArgument, n.nodeName, "create cache file: %v", err)
	}
	w := bufio.NewWriter(tmp)
	for _, e := range elems {
		line, err := sonic.Marshal(e)
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return newError(KindTypeMismatch, n.nodeName, "encode cache element: %v", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return newError(KindInvalidArgument, n.nodeName, "write cache file: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return newError(KindInvalidArgument, n.nodeName, "write cache file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return newError(KindInvalidArgument, n.nodeName, "close cache file: %v", err)
	}
	if err := os.Rename(tmp.Name(), n.path); err != nil {
		os.Remove(tmp.Name())
		return newError(KindInvalidArgument, n.nodeName, "publish cache file: %v", err)
	}
	return nil
}

func (n *cacheFileNode) openReplay() (Source, error) {
	schema, ok := n.up.schema()
	if !ok {
		return nil, newError(KindInvalidArgument, n.nodeName,
			"schema must be resolved before replaying a cache file")
	}
	f, err := os.Open(n.path)
	if err != nil {
		return nil, newError(KindNotFound, n.nodeName, "open cache file: %v", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			if err := checkCtx(ctx, n.nodeName); err != nil {
				return nil, err
			}
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return nil, newError(KindInvalidArgument, n.nodeName, "read cache file: %v", err)
				}
				return nil, outOfRange(n.nodeName)
			}
			var raw any
			if err := sonic.Unmarshal(scanner.Bytes(), &raw); err != nil {
				return nil, newError(KindTypeMismatch, n.nodeName, "decode cache element: %v", err)
			}
			return convertToSchema(n.nodeName, schema, raw)
		},
		closeFn: f.Close,
	}, nil
}
