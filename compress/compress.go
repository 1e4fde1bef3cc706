// Package compress implements the reversible value transform applied to
// serialized cache entries before they are stored.
//
// Compression is only worth its decode overhead above a minimum savings
// threshold: if the transformed representation does not undercut the raw
// bytes by at least the configured margin, the raw bytes are stored and the
// entry is flagged uncompressed. Every encode is verified by an immediate
// decode; a round-trip mismatch is a codec bug and fails the write rather
// than storing bytes that cannot be reproduced.
package compress

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type defines the compression algorithm used.
type Type uint8

const (
	// TypeNone disables compression entirely.
	TypeNone Type = 0
	// TypeLZ4 selects LZ4 block compression (fast, good for hot entries).
	TypeLZ4 Type = 1
	// TypeZSTD selects ZSTD block compression (better ratio, default).
	TypeZSTD Type = 2
)

// String returns the stable name of the compression type.
func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeLZ4:
		return "lz4"
	case TypeZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// TypeByName returns a compression type by its stable name.
func TypeByName(name string) (Type, bool) {
	switch name {
	case "none":
		return TypeNone, true
	case "lz4":
		return TypeLZ4, true
	case "zstd":
		return TypeZSTD, true
	default:
		return 0, false
	}
}

// ErrRoundTrip indicates that decoding a freshly encoded value did not
// reproduce the original bytes. This is never a recoverable runtime
// condition; callers must fail the write that produced it.
var ErrRoundTrip = errors.New("compression round-trip mismatch")

// ErrCorrupt indicates a compressed payload whose header or body cannot be
// decoded.
var ErrCorrupt = errors.New("corrupt compressed payload")

// Compressed payload layout: [Type uint8][UncompressedSize uint32][Data...].
// Raw payloads carry no header; the store's compressed flag disambiguates.
const headerSize = 5

// ZSTD encoder/decoder pools for efficiency.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// Options configure a Compressor.
type Options struct {
	// MaxRatio is the size ratio above which the transform is discarded and
	// the raw bytes are stored instead. 0.95 means compression must save at
	// least 5%. If 0, defaults to 0.95.
	MaxRatio float64

	// MinSize is the payload size below which compression is not attempted.
	// Small payloads rarely clear the savings threshold and the attempt is
	// pure CPU waste. If 0, defaults to 128 bytes.
	MinSize int

	// Verify controls round-trip verification on encode. Enabled by default;
	// only benchmarks should turn it off.
	Verify *bool
}

// DefaultOptions returns the default compressor options.
func DefaultOptions() Options {
	verify := true
	return Options{
		MaxRatio: 0.95,
		MinSize:  128,
		Verify:   &verify,
	}
}

// Compressor applies a reversible transform with a raw fallback.
// Safe for concurrent use.
type Compressor struct {
	typ      Type
	maxRatio float64
	minSize  int
	verify   bool
}

// New creates a Compressor of the given type.
func New(typ Type, optFns ...func(o *Options)) *Compressor {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxRatio <= 0 || opts.MaxRatio > 1 {
		opts.MaxRatio = 0.95
	}
	if opts.MinSize <= 0 {
		opts.MinSize = 128
	}

	verify := true
	if opts.Verify != nil {
		verify = *opts.Verify
	}

	return &Compressor{
		typ:      typ,
		maxRatio: opts.MaxRatio,
		minSize:  opts.MinSize,
		verify:   verify,
	}
}

// Type returns the configured compression type.
func (c *Compressor) Type() Type {
	return c.typ
}

// Encode transforms data for storage. compressed reports whether the
// returned bytes carry the compressed representation; when false the
// returned slice is the input (stored raw).
func (c *Compressor) Encode(data []byte) (encoded []byte, compressed bool, err error) {
	return c.encode(data, c.minSize)
}

// EncodeForced behaves like Encode but ignores the minimum-size gate. Used
// by the memory-pressure compression pass to squeeze entries that were
// skipped on the fast path.
func (c *Compressor) EncodeForced(data []byte) (encoded []byte, compressed bool, err error) {
	return c.encode(data, 0)
}

func (c *Compressor) encode(data []byte, minSize int) ([]byte, bool, error) {
	if c.typ == TypeNone || len(data) == 0 || len(data) < minSize {
		return data, false, nil
	}

	var body []byte
	var err error

	switch c.typ {
	case TypeLZ4:
		body, err = compressLZ4(data)
	case TypeZSTD:
		body, err = compressZSTD(data)
	default:
		return data, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	// Raw fallback: the header counts against the savings.
	if body == nil || float64(headerSize+len(body)) >= c.maxRatio*float64(len(data)) {
		return data, false, nil
	}

	out := make([]byte, headerSize+len(body))
	out[0] = byte(c.typ)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	copy(out[headerSize:], body)

	if c.verify {
		back, derr := c.Decode(out, true)
		if derr != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrRoundTrip, derr)
		}
		if !bytes.Equal(back, data) {
			return nil, false, ErrRoundTrip
		}
	}

	return out, true, nil
}

// Decode reverses Encode. For compressed=false the input is returned as-is.
// Any mismatch between the header and the body is reported as ErrCorrupt;
// callers must never serve a partially decoded value.
func (c *Compressor) Decode(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}

	typ := Type(data[0])
	size := binary.LittleEndian.Uint32(data[1:])
	body := data[headerSize:]

	switch typ {
	case TypeLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(n) != size {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
		}
		return out, nil

	case TypeZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		out, err := dec.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(len(out)) != size {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown compression type %d", ErrCorrupt, typ)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, buf, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return buf[:n], nil
}

func compressZSTD(data []byte) ([]byte, error) {
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)

	return enc.EncodeAll(data, nil), nil
}
