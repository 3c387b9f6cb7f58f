package flume

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", nil)
	writeFile(t, dir, "a.txt", nil)
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o700); err != nil {
		t.Fatal(err)
	}
	writeFile(t, sub, "c.txt", nil)

	got := drainDataset(t, ListFiles("files", filepath.Join(dir, "**", "*.txt")))
	want := []any{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(sub, "c.txt"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestTextLines(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", []byte("one\ntwo\n"))
	b := writeFile(t, dir, "b.txt", []byte("three"))

	got := drainDataset(t, TextLines("lines", []string{a, b}, CompressionNone))
	want := []any{"one", "two", "three"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestTextLinesGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte("alpha\nbeta\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	got := drainDataset(t, TextLines("lines", []string{path}, CompressionGzip))
	want := []any{"alpha", "beta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestTextLinesMissingFile(t *testing.T) {
	ds := TextLines("lines", []string{"/does/not/exist"}, CompressionNone)
	it := NewOneShotIterator("it", ds)
	defer it.Close()

	if _, err := it.Next(context.Background()); !IsNotFound(err) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestFixedLengthRecords(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "records.bin", []byte("HD"+"aaaa"+"bbbb"+"FT"))

	got := drainDataset(t, FixedLengthRecords("records", []string{path}, 4, 2, 2))
	want := []any{[]byte("aaaa"), []byte("bbbb")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestFixedLengthRecordsTrailingBytes(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "records.bin", []byte("aaaabb"))

	ds := FixedLengthRecords("records", []string{path}, 4, 0, 0)
	it := NewOneShotIterator("it", ds)
	defer it.Close()

	if _, err := it.Next(context.Background()); err != nil {
		t.Fatalf("first record should read cleanly: %v", err)
	}
	if _, err := it.Next(context.Background()); ErrorKind(err) != KindInvalidArgument {
		t.Errorf("expected invalid_argument for trailing bytes, got %v", err)
	}
}

func TestFixedLengthRecordsValidation(t *testing.T) {
	if FixedLengthRecords("r", nil, 4, 0, 0).Err() == nil {
		t.Error("expected error for no filenames")
	}
	if FixedLengthRecords("r", []string{"x"}, 0, 0, 0).Err() == nil {
		t.Error("expected error for zero record size")
	}
	if FixedLengthRecords("r", []string{"x"}, 4, -1, 0).Err() == nil {
		t.Error("expected error for negative header size")
	}
}
