package fwmeta

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

func TestLocate_ShortBuffer(t *testing.T) {
	block := mustEncode(t, sampleMetadata())
	for length := 0; length < BlockSize; length++ {
		// Even a buffer that starts with a genuine block prefix
		data := make([]byte, length)
		copy(data, block)
		if offset := Locate(data); offset != -1 {
			t.Fatalf("Expected -1 for %d byte buffer, got %d", length, offset)
		}
		if _, found, err := Find(data, TextIgnore); found || err != nil {
			t.Fatalf("Expected nothing found in %d byte buffer, got %t, %v", length, found, err)
		}
	}
	if offset := Locate(block); offset != 0 {
		t.Fatalf("Expected a bare block at 0, got %d", offset)
	}
}

func TestLocate_FactoryImage(t *testing.T) {
	image := mustEmbed(t, make([]byte, 512), 16, sampleMetadata())
	located, found, err := Find(image, TextStrict)
	if err != nil {
		t.Fatalf("Error finding metadata: %s", err)
	}
	if !found || located.Offset != 16 {
		t.Fatalf("Expected metadata at 16, got %v (found: %t)", located, found)
	}
	if located.Metadata.Version.String() != "1.4.2" {
		t.Fatalf("Expected version 1.4.2, got %s", located.Metadata.Version)
	}
	equalMetadata(t, sampleMetadata(), located.Metadata)
}

func TestLocate_RandomImages(t *testing.T) {
	const length = 4096
	offsets := []int{0, 1, 3, 777, 2048, length - BlockSize - 1, length - BlockSize}
	for i, offset := range offsets {
		data := noise(length, int64(i))
		if found := Locate(data); found != -1 {
			t.Fatalf("Noise had a block at %d", found)
		}
		data = mustEmbed(t, data, offset, sampleMetadata())
		if found := Locate(data); found != offset {
			t.Fatalf("Expected block at %d, got %d", offset, found)
		}
	}
}

func TestLocate_FirstWins(t *testing.T) {
	second := sampleMetadata()
	second.EnvName = "second"
	data := mustEmbed(t, noise(2000, 99), 1500, second)
	data = mustEmbed(t, data, 300, sampleMetadata())

	located, found, err := Find(data, TextStrict)
	if err != nil || !found {
		t.Fatalf("Expected to find a block: %t, %v", found, err)
	}
	if located.Offset != 300 || located.Metadata.EnvName != "factory" {
		t.Fatalf("Expected the block at 300 to win, got %d (%s)", located.Offset, located.Metadata.EnvName)
	}
	all := LocateAll(data)
	if len(all) != 2 || all[0] != 300 || all[1] != 1500 {
		t.Fatalf("Expected candidates [300 1500], got %v", all)
	}
	if next := LocateFrom(data, 301); next != 1500 {
		t.Fatalf("Expected next candidate at 1500, got %d", next)
	}
}

func TestLocate_MismatchedEndSkipped(t *testing.T) {
	data := noise(1024, 42)
	binary.LittleEndian.PutUint32(data[5:], MarkerStart)
	binary.LittleEndian.PutUint32(data[5+MarkerEndOffset:], MarkerEnd^1)
	if found := Locate(data); found != -1 {
		t.Fatalf("Expected lone start marker to be skipped, got %d", found)
	}

	data = mustEmbed(t, data, 200, sampleMetadata())
	if found := Locate(data); found != 200 {
		t.Fatalf("Expected the genuine block at 200, got %d", found)
	}
}

func TestLocate_EndMarkerPastBuffer(t *testing.T) {
	// A start marker near the end whose end marker would be out of bounds
	data := noise(600, 7)
	binary.LittleEndian.PutUint32(data[len(data)-BlockSize+1:], MarkerStart)
	if found := Locate(data); found != -1 {
		t.Fatalf("Expected no block, got %d", found)
	}
	if all := LocateAll(data); len(all) != 0 {
		t.Fatalf("Expected no candidates, got %v", all)
	}
}

func TestLocateParallel_MatchesLocate(t *testing.T) {
	const length = 3000
	// Blocks straddling chunk boundaries, at the ends, and missing entirely
	placements := [][]int{
		{},
		{0},
		{length - BlockSize},
		{63, 64},
		{1000, 100},
		{2500, 2499, 10},
		{127, 128, 129},
	}
	chunkSizes := []int{1, 7, 64, 100, 1000, length}
	workers := []int{0, 1, 2, 4, 16}

	for pi, places := range placements {
		data := noise(length, int64(pi+100))
		for _, offset := range places {
			data = mustEmbed(t, data, offset, sampleMetadata())
		}
		expected := Locate(data)
		for _, chunk := range chunkSizes {
			for _, w := range workers {
				t.Run(fmt.Sprintf("%v_c%d_w%d", places, chunk, w), func(t *testing.T) {
					found, err := LocateParallel(context.Background(), data, ParallelOptions{Workers: w, ChunkSize: chunk})
					if err != nil {
						t.Fatalf("Error in parallel locate: %s", err)
					}
					if found != expected {
						t.Fatalf("Expected %d, got %d", expected, found)
					}
				})
			}
		}
	}
}

func TestLocateParallel_ShortBuffer(t *testing.T) {
	found, err := LocateParallel(context.Background(), make([]byte, BlockSize-1), ParallelOptions{Workers: 4, ChunkSize: 1})
	if err != nil || found != -1 {
		t.Fatalf("Expected -1 with no error, got %d, %v", found, err)
	}
}

func TestLocateParallel_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data := mustEmbed(t, noise(4096, 5), 2000, sampleMetadata())
	_, err := LocateParallel(ctx, data, ParallelOptions{Workers: 4, ChunkSize: 16})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if _, _, err := FindParallel(ctx, data, TextIgnore, ParallelOptions{Workers: 4, ChunkSize: 16}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected FindParallel to pass on cancellation, got %v", err)
	}
}

func TestFind_StrictFailure(t *testing.T) {
	data := mustEmbed(t, make([]byte, 256), 64, sampleMetadata())
	data[64+DeviceTypeOffset] = 0xFE
	if _, _, err := Find(data, TextStrict); !errors.Is(err, ErrInvalidText) {
		t.Fatalf("Expected ErrInvalidText, got %v", err)
	}
	located, found, err := FindParallel(context.Background(), data, TextReplace, ParallelOptions{Workers: 2, ChunkSize: 8})
	if err != nil || !found || located.Offset != 64 {
		t.Fatalf("Expected lenient find at 64, got %v, %t, %v", located, found, err)
	}
}

func BenchmarkLocate(b *testing.B) {
	// Worst case: the only block is right at the end
	data, err := Embed(noise(8<<20, 1), 8<<20-BlockSize, sampleMetadata(), TruncateSilently)
	if err != nil {
		b.Fatalf("Error embedding: %s", err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Locate(data)
	}
}

func BenchmarkLocateParallel(b *testing.B) {
	data := noise(8<<20, 1)
	opts := ParallelOptions{Workers: 8, ChunkSize: 256 << 10}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		LocateParallel(context.Background(), data, opts)
	}
}
