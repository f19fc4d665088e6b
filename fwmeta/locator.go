package fwmeta

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize = 1 << 20
)

// Scan candidate start offsets in [begin, end) for the first one with both
// markers in place. end must be at most len(data)-BlockSize+1, so that no
// read goes past the buffer.
func locateRange(data []byte, begin int, end int) int {
	for i := begin; i < end; i++ {
		if markerAt(data, i) != MarkerStart {
			continue
		}
		// Only check the end marker on a start hit
		if markerAt(data, i+MarkerEndOffset) == MarkerEnd {
			return i
		}
	}
	return -1
}

// Locate returns the lowest offset in data holding a structurally valid
// metadata block, or -1 if there is none. Absence is a normal outcome for
// images that predate metadata or were stripped.
func Locate(data []byte) int {
	return LocateFrom(data, 0)
}

// Same as Locate, but ignores candidates before start
func LocateFrom(data []byte, start int) int {
	if start < 0 {
		start = 0
	}
	// Last admissible start is len-BlockSize; short buffers scan nothing
	return locateRange(data, start, len(data)-BlockSize+1)
}

// Every candidate offset in ascending order. Overlapping candidates are all
// reported; only the first is what Locate would return.
func LocateAll(data []byte) []int {
	result := make([]int, 0)
	for i := Locate(data); i >= 0; i = LocateFrom(data, i+1) {
		result = append(result, i)
	}
	return result
}

type ParallelOptions struct {
	Workers   int // Concurrent chunk scans (1 or less means a plain Locate)
	ChunkSize int // Candidate offsets per chunk (0 means DefaultChunkSize)
}

// LocateParallel gives exactly the result of Locate, but splits the candidate
// range into chunks scanned concurrently. Each chunk's lowest hit is kept and
// the lowest overall wins. Chunks above an already found hit are skipped. The
// only error is cancellation of ctx.
func LocateParallel(ctx context.Context, data []byte, opts ParallelOptions) (int, error) {
	candidates := len(data) - BlockSize + 1
	if candidates <= 0 {
		return -1, nil
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	if opts.Workers <= 1 || candidates <= chunk {
		return Locate(data), nil
	}
	chunks := (candidates + chunk - 1) / chunk
	results := make([]int, chunks)
	var lowestHit atomic.Int64
	lowestHit.Store(int64(chunks))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.Workers)
	for c := 0; c < chunks; c++ {
		results[c] = -1
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if int64(c) > lowestHit.Load() {
				return nil
			}
			begin := c * chunk
			end := min(begin+chunk, candidates)
			found := locateRange(data, begin, end)
			if found >= 0 {
				results[c] = found
				for {
					current := lowestHit.Load()
					if int64(c) >= current || lowestHit.CompareAndSwap(current, int64(c)) {
						break
					}
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return -1, err
	}
	// Chunks are in ascending order, so the first hit is the lowest
	for _, found := range results {
		if found >= 0 {
			return found, nil
		}
	}
	return -1, nil
}

// A decoded block plus where it was found
type Located struct {
	Offset   int
	Metadata *Metadata
}

// Find locates the first block and decodes it. found is false (with a nil
// error) when the image carries no block. An error only happens when the
// located block fails to decode under the given mode (strict text).
func Find(data []byte, mode TextMode) (*Located, bool, error) {
	return decodeLocated(data, Locate(data), mode)
}

// Same as Find, using LocateParallel
func FindParallel(ctx context.Context, data []byte, mode TextMode, opts ParallelOptions) (*Located, bool, error) {
	offset, err := LocateParallel(ctx, data, opts)
	if err != nil {
		return nil, false, err
	}
	return decodeLocated(data, offset, mode)
}

func decodeLocated(data []byte, offset int, mode TextMode) (*Located, bool, error) {
	if offset < 0 {
		return nil, false, nil
	}
	m, err := Decode(data[offset:offset+BlockSize], mode)
	if err != nil {
		return nil, false, err
	}
	return &Located{Offset: offset, Metadata: m}, true, nil
}
