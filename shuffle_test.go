package flume

import (
	"reflect"
	"sort"
	"testing"
)

func TestShufflePreservesElements(t *testing.T) {
	got := asInt64s(t, drainDataset(t, Range("r", 100).Shuffle("s", 10, 42)))
	if len(got) != 100 {
		t.Fatalf("expected 100 elements, got %d", len(got))
	}
	sorted := append([]int64(nil), got...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i, v := range sorted {
		if v != int64(i) {
			t.Fatalf("element %d missing or duplicated", i)
		}
	}
}

func TestShuffleSameSeedSameOrder(t *testing.T) {
	ds := Range("r", 50).Shuffle("s", 16, 7)
	a := drainDataset(t, ds)
	b := drainDataset(t, ds)
	if !reflect.DeepEqual(a, b) {
		t.Error("same seed should reproduce the same order across iterations")
	}
}

func TestShuffleDifferentSeeds(t *testing.T) {
	a := drainDataset(t, Range("r", 100).Shuffle("s", 50, 1))
	b := drainDataset(t, Range("r", 100).Shuffle("s", 50, 2))
	if reflect.DeepEqual(a, b) {
		t.Error("different seeds should produce different orders")
	}
}

func TestShuffleActuallyShuffles(t *testing.T) {
	got := drainDataset(t, Range("r", 100).Shuffle("s", 100, 3))
	ordered := drainDataset(t, Range("r", 100))
	if reflect.DeepEqual(got, ordered) {
		t.Error("a full-buffer shuffle should not preserve the input order")
	}
}

func TestShuffleBufferOne(t *testing.T) {
	// A single-slot buffer degenerates to the identity.
	expectInt64s(t, Range("r", 5).Shuffle("s", 1, 9), []int64{0, 1, 2, 3, 4})
}

func TestShuffleInvalidBuffer(t *testing.T) {
	if ErrorKind(Range("r", 5).Shuffle("s", 0, 1).Err()) != KindInvalidArgument {
		t.Error("expected invalid_argument for zero buffer size")
	}
}
