package hashcodec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Level selects a zstd compression/speed tradeoff. The numeric values
// match zstd.EncoderLevel so callers can pass either.
type Level int

const (
	LevelFastest Level = Level(zstd.SpeedFastest)
	LevelDefault Level = Level(zstd.SpeedDefault)
	LevelBetter  Level = Level(zstd.SpeedBetterCompression)
	LevelBest    Level = Level(zstd.SpeedBestCompression)
)

// encoder/decoder pools: zstd encoders carry real allocation cost, and
// the store's ingest path calls Compress from many worker goroutines
// at once (spec.md §5 "bounded thread pool ... handles compute-heavy
// tasks (hashing, compression, delta encoding)").
var decoderPool = sync.Pool{
	New: func() any {
		d, err := zstd.NewReader(nil)
		if err != nil {
			panic(err) // zstd.NewReader(nil) only fails on bad options; we pass none.
		}
		return d
	},
}

var encoderPools sync.Map // Level -> *sync.Pool

func encoderPoolFor(level Level) *sync.Pool {
	if p, ok := encoderPools.Load(level); ok {
		return p.(*sync.Pool)
	}
	p := &sync.Pool{
		New: func() any {
			e, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
			if err != nil {
				panic(err)
			}
			return e
		},
	}
	actual, _ := encoderPools.LoadOrStore(level, p)
	return actual.(*sync.Pool)
}

// Compress returns the zstd-compressed form of b at the given level.
func Compress(b []byte, level Level) []byte {
	pool := encoderPoolFor(level)
	enc := pool.Get().(*zstd.Encoder)
	defer pool.Put(enc)
	return enc.EncodeAll(b, make([]byte, 0, len(b)))
}

// Decompress reverses Compress. It returns an error rather than
// panicking on malformed input, since decompression runs on data that
// may have arrived over the wire during a sync (spec.md §4.8 step 3).
func Decompress(b []byte) ([]byte, error) {
	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)
	out, err := dec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("hashcodec: zstd decompress: %w", err)
	}
	return out, nil
}

// NewStreamWriter wraps w with a zstd encoder for large payloads that
// should not be buffered fully in memory (e.g. streaming a chunk
// payload straight from a reassembled sequence list).
func NewStreamWriter(w io.Writer, level Level) (*zstd.Encoder, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
}

// NewStreamReader wraps r with a zstd decoder.
func NewStreamReader(r io.Reader) (*zstd.Decoder, error) {
	return zstd.NewReader(r)
}

// CompressedReader returns an io.Reader over the decompressed form of
// b without materializing the whole result up front.
func CompressedReader(b []byte) (io.Reader, error) {
	dec, err := zstd.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
