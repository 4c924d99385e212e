package chunking

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestChunkAllTilesInput(t *testing.T) {
	data := make([]byte, 5*MaxChunkSize+123)
	rand.New(rand.NewSource(1)).Read(data)

	ranges := ChunkAll(data)
	if len(ranges) == 0 {
		t.Fatalf("expected at least one chunk")
	}
	pos := 0
	for i, r := range ranges {
		if r.Start != pos {
			t.Fatalf("chunk %d: expected start %d, got %d", i, pos, r.Start)
		}
		if r.Len() < MinChunkSize && r.End != len(data) {
			t.Fatalf("chunk %d: length %d below MinChunkSize and not final", i, r.Len())
		}
		if r.Len() > MaxChunkSize {
			t.Fatalf("chunk %d: length %d exceeds MaxChunkSize", i, r.Len())
		}
		pos = r.End
	}
	if pos != len(data) {
		t.Fatalf("chunks do not tile the full input: covered %d of %d", pos, len(data))
	}
}

func TestChunkAllEmpty(t *testing.T) {
	if ranges := ChunkAll(nil); len(ranges) != 0 {
		t.Fatalf("expected no chunks for empty input, got %d", len(ranges))
	}
}

func TestChunkAllDeterministic(t *testing.T) {
	data := make([]byte, 3*MaxChunkSize)
	rand.New(rand.NewSource(42)).Read(data)

	a := ChunkAll(data)
	b := ChunkAll(append([]byte{}, data...))
	if len(a) != len(b) {
		t.Fatalf("nondeterministic chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("nondeterministic chunk %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestChunkAllIdenticalPrefixSharesBoundaries(t *testing.T) {
	prefix := make([]byte, 2*MaxChunkSize)
	rand.New(rand.NewSource(7)).Read(prefix)
	a := append(append([]byte{}, prefix...), []byte("tail-a")...)
	b := append(append([]byte{}, prefix...), []byte("tail-b-longer")...)

	ra := ChunkAll(a)
	rb := ChunkAll(b)
	// Content-defined chunking means a shared prefix yields identical
	// leading chunk boundaries regardless of what follows, which is
	// what makes cross-file dedup possible.
	shared := 0
	for shared < len(ra) && shared < len(rb) && ra[shared] == rb[shared] {
		shared++
	}
	if shared == 0 {
		t.Fatalf("expected at least one shared leading chunk boundary")
	}
}

func TestFixedChunks(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 1000)
	ranges := FixedChunks(data, 300)
	want := []Range{{0, 300}, {300, 600}, {600, 900}, {900, 1000}}
	if len(ranges) != len(want) {
		t.Fatalf("got %d ranges, want %d", len(ranges), len(want))
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Fatalf("range %d: got %+v want %+v", i, ranges[i], want[i])
		}
	}
}

func TestFixedChunksEmpty(t *testing.T) {
	if ranges := FixedChunks(nil, 10); len(ranges) != 0 {
		t.Fatalf("expected no ranges for empty input")
	}
}
