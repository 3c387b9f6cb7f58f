package flume

import (
	"bufio"
	"compress/gzip"
	"compress/zlib"
	"context"
	"io"
	"os"
	"sort"

	"github.com/yargevad/filepathx"
)

// Compression selects the decompression applied to file-based sources.
type Compression string

// Supported compression schemes.
const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gzip"
	CompressionZlib Compression = "zlib"
)

func (c Compression) valid() bool {
	return c == CompressionNone || c == CompressionGzip || c == CompressionZlib
}

// wrapReader layers the configured decompression over a raw file.
func (c Compression) wrapReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionZlib:
		return zlib.NewReader(r)
	default:
		return io.NopCloser(r), nil
	}
}

// ListFiles creates a dataset of all file paths matching the glob
// pattern, sorted lexicographically so two iterations over the same
// directory tree produce identical sequences. Patterns may use ** to
// match across directory separators.
//
//	ds := flume.ListFiles("records", "data/**/*.tfrecord")
//
// The pattern is expanded when a cursor is opened, not at construction,
// so files created between construction and iteration are picked up.
func ListFiles(name Name, pattern string) *Dataset {
	if pattern == "" {
		return failed(newError(KindInvalidArgument, name, "pattern must not be empty"))
	}
	return fromNode(&listFilesNode{nodeName: name, pattern: pattern})
}

type listFilesNode struct {
	nodeName Name
	pattern  string
}

func (n *listFilesNode) name() Name             { return n.nodeName }
func (n *listFilesNode) schema() (Schema, bool) { return Scalar(String), true }

func (n *listFilesNode) open(context.Context) (Source, error) {
	matches, err := filepathx.Glob(n.pattern)
	if err != nil {
		return nil, newError(KindInvalidArgument, n.nodeName, "glob %q: %v", n.pattern, err)
	}
	sort.Strings(matches)
	pos := 0
	return &sourceFunc{
		next: func(ctx context.Context) (any, error) {
			if err := checkCtx(ctx, n.nodeName); err != nil {
				return nil, err
			}
			if pos >= len(matches) {
				return nil, outOfRange(n.nodeName)
			}
			v := matches[pos]
			pos++
			return v, nil
		},
	}, nil
}

// TextLines creates a dataset of string scalars, one per line across
// the given files in order, without trailing newlines.
func TextLines(name Name, filenames []string, compression Compression) *Dataset {
	if len(filenames) == 0 {
		return failed(newError(KindInvalidArgument, name, "at least one filename is required"))
	}
	if !compression.valid() {
		return failed(newError(KindInvalidArgument, name,
			"unsupported compression %q", compression))
	}
	return fromNode(&textLinesNode{nodeName: name, filenames: filenames, compression: compression})
}

type textLinesNode struct {
	nodeName    Name
	filenames   []string
	compression Compression
}

func (n *textLinesNode) name() Name             { return n.nodeName }
func (n *textLinesNode) schema() (Schema, bool) { return Scalar(String), true }

func (n *textLinesNode) open(context.Context) (Source, error) {
	return &textLinesSource{node: n}, nil
}

type textLinesSource struct {
	node    *textLinesNode
	fileIdx int
	file    *os.File
	reader  io.ReadCloser
	scanner *bufio.Scanner
}

func (s *textLinesSource) Next(ctx context.Context) (any, error) {
	if err := checkCtx(ctx, s.node.nodeName); err != nil {
		return nil, err
	}
	for {
		if s.scanner == nil {
			if s.fileIdx >= len(s.node.filenames) {
				return nil, outOfRange(s.node.nodeName)
			}
			if err := s.openNext(); err != nil {
				return nil, err
			}
		}
		if s.scanner.Scan() {
			return s.scanner.Text(), nil
		}
		if err := s.scanner.Err(); err != nil {
			return nil, newError(KindInvalidArgument, s.node.nodeName,
				"reading %q: %v", s.node.filenames[s.fileIdx-1], err)
		}
		s.closeCurrent()
	}
}

func (s *textLinesSource) openNext() error {
	filename := s.node.filenames[s.fileIdx]
	f, err := os.Open(filename)
	if err != nil {
		return newError(KindNotFound, s.node.nodeName, "open %q: %v", filename, err)
	}
	r, err := s.node.compression.wrapReader(f)
	if err != nil {
		f.Close()
		return newError(KindInvalidArgument, s.node.nodeName,
			"decompress %q: %v", filename, err)
	}
	s.file = f
	s.reader = r
	s.scanner = bufio.NewScanner(r)
	s.scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	s.fileIdx++
	return nil
}

func (s *textLinesSource) closeCurrent() {
	if s.reader != nil {
		s.reader.Close()
		s.reader = nil
	}
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.scanner = nil
}

func (s *textLinesSource) Close() error {
	s.closeCurrent()
	s.fileIdx = len(s.node.filenames)
	return nil
}

// FixedLengthRecords creates a dataset of byte scalars by carving each
// file into fixed-size records, skipping headerBytes at the start and
// footerBytes at the end of every file. Trailing partial records are an
// error, matching the strictness of record-oriented file formats.
func FixedLengthRecords(name Name, filenames []string, recordBytes, headerBytes, footerBytes int64) *Dataset {
	if len(filenames) == 0 {
		return failed(newError(KindInvalidArgument, name, "at least one filename is required"))
	}
	if recordBytes <= 0 {
		return failed(newError(KindInvalidArgument, name,
			"recordBytes must be positive, got %d", recordBytes))
	}
	if headerBytes < 0 || footerBytes < 0 {
		return failed(newError(KindInvalidArgument, name,
			"header and footer sizes must be non-negative"))
	}
	return fromNode(&fixedRecordsNode{
		nodeName:    name,
		filenames:   filenames,
		recordBytes: recordBytes,
		headerBytes: headerBytes,
		footerBytes: footerBytes,
	})
}

type fixedRecordsNode struct {
	nodeName    Name
	filenames   []string
	recordBytes int64
	headerBytes int64
	footerBytes int64
}

func (n *fixedRecordsNode) name() Name { return n.nodeName }

func (n *fixedRecordsNode) schema() (Schema, bool) {
	return Scalar(Bytes), true
}

func (n *fixedRecordsNode) open(context.Context) (Source, error) {
	return &fixedRecordsSource{node: n}, nil
}

type fixedRecordsSource struct {
	node      *fixedRecordsNode
	fileIdx   int
	file      *os.File
	remaining int64
}

func (s *fixedRecordsSource) Next(ctx context.Context) (any, error) {
	if err := checkCtx(ctx, s.node.nodeName); err != nil {
		return nil, err
	}
	for {
		if s.file == nil {
			if s.fileIdx >= len(s.node.filenames) {
				return nil, outOfRange(s.node.nodeName)
			}
			if err := s.openNext(); err != nil {
				return nil, err
			}
		}
		if s.remaining >= s.node.recordBytes {
			record := make([]byte, s.node.recordBytes)
			if _, err := io.ReadFull(s.file, record); err != nil {
				return nil, newError(KindInvalidArgument, s.node.nodeName,
					"reading %q: %v", s.node.filenames[s.fileIdx-1], err)
			}
			s.remaining -= s.node.recordBytes
			return record, nil
		}
		if s.remaining != 0 {
			return nil, newError(KindInvalidArgument, s.node.nodeName,
				"%q has %d trailing bytes, not a multiple of record size %d",
				s.node.filenames[s.fileIdx-1], s.remaining, s.node.recordBytes)
		}
		s.closeCurrent()
	}
}

func (s *fixedRecordsSource) openNext() error {
	filename := s.node.filenames[s.fileIdx]
	f, err := os.Open(filename)
	if err != nil {
		return newError(KindNotFound, s.node.nodeName, "open %q: %v", filename, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return newError(KindInvalidArgument, s.node.nodeName, "stat %q: %v", filename, err)
	}
	payload := info.Size() - s.node.headerBytes - s.node.footerBytes
	if payload < 0 {
		f.Close()
		return newError(KindInvalidArgument, s.node.nodeName,
			"%q is smaller than its header and footer", filename)
	}
	if _, err := f.Seek(s.node.headerBytes, io.SeekStart); err != nil {
		f.Close()
		return newError(KindInvalidArgument, s.node.nodeName, "seek %q: %v", filename, err)
	}
	s.file = f
	s.remaining = payload
	s.fileIdx++
	return nil
}

func (s *fixedRecordsSource) closeCurrent() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.remaining = 0
}

func (s *fixedRecordsSource) Close() error {
	s.closeCurrent()
	s.fileIdx = len(s.node.filenames)
	return nil
}
