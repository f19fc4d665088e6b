package fwmeta

import (
	"math/rand"
	"testing"
)

func sampleMetadata() *Metadata {
	return &Metadata{
		EnvName:    "factory",
		DeviceType: "node-a",
		Version:    Version{Major: 1, Minor: 4, Patch: 2},
		BuildDate:  "01-01-2024 00:00:00",
	}
}

func mustEncode(t *testing.T, m *Metadata) []byte {
	t.Helper()
	block, err := Encode(m, TruncateSilently)
	if err != nil {
		t.Fatalf("Error encoding metadata: %s", err)
	}
	if len(block) != BlockSize {
		t.Fatalf("Expected block of %d bytes, got %d", BlockSize, len(block))
	}
	return block
}

// Random bytes that can't contain a start marker: the marker's first byte
// (0x41) is never produced
func noise(length int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	data := make([]byte, length)
	r.Read(data)
	for i := range data {
		if data[i] == byte(MarkerStart&0xFF) {
			data[i]++
		}
	}
	return data
}

func mustEmbed(t *testing.T, image []byte, offset int, m *Metadata) []byte {
	t.Helper()
	result, err := Embed(image, offset, m, TruncateSilently)
	if err != nil {
		t.Fatalf("Error embedding at %d: %s", offset, err)
	}
	return result
}

func equalMetadata(t *testing.T, expected *Metadata, actual *Metadata) {
	t.Helper()
	if actual == nil {
		t.Fatalf("Expected metadata %v, got nil", expected)
	}
	if *expected != *actual {
		t.Fatalf("Expected metadata %+v, got %+v", *expected, *actual)
	}
}
