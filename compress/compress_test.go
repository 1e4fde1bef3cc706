package compress

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressible(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 7)
	}
	return b
}

func incompressible(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeLZ4, TypeZSTD} {
		t.Run(typ.String(), func(t *testing.T) {
			c := New(typ)
			data := compressible(4096)

			enc, compressed, err := c.Encode(data)
			require.NoError(t, err)
			assert.True(t, compressed)
			assert.Less(t, len(enc), len(data))

			dec, err := c.Decode(enc, compressed)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, dec))
		})
	}
}

func TestEncodeRawFallback(t *testing.T) {
	c := New(TypeZSTD)
	data := incompressible(t, 4096)

	enc, compressed, err := c.Encode(data)
	require.NoError(t, err)
	assert.False(t, compressed, "random bytes must not clear the savings threshold")
	assert.Equal(t, data, enc)

	dec, err := c.Decode(enc, false)
	require.NoError(t, err)
	assert.Equal(t, data, dec)
}

func TestEncodeSkipsSmallPayloads(t *testing.T) {
	c := New(TypeZSTD) // default MinSize 128
	data := compressible(64)

	enc, compressed, err := c.Encode(data)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, data, enc)
}

func TestEncodeForcedIgnoresMinSize(t *testing.T) {
	c := New(TypeZSTD)
	data := compressible(64)

	_, compressed, err := c.EncodeForced(data)
	require.NoError(t, err)
	// Tiny highly repetitive payloads still compress below the cutoff.
	assert.True(t, compressed)
}

func TestEncodeNone(t *testing.T) {
	c := New(TypeNone)
	data := compressible(4096)

	enc, compressed, err := c.Encode(data)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, data, enc)
}

func TestDecodeCorrupt(t *testing.T) {
	c := New(TypeZSTD)

	_, err := c.Decode([]byte{1, 2}, true)
	assert.ErrorIs(t, err, ErrCorrupt)

	enc, compressed, err := c.Encode(compressible(1024))
	require.NoError(t, err)
	require.True(t, compressed)

	// Flip a body byte: zstd must detect the corruption.
	enc[len(enc)-1] ^= 0xFF
	_, err = c.Decode(enc, true)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestMaxRatioConfigurable(t *testing.T) {
	// A ratio of 0 clamps back to the default.
	c := New(TypeZSTD, func(o *Options) { o.MaxRatio = 2 })
	assert.Equal(t, 0.95, c.maxRatio)
}

func TestTypeByName(t *testing.T) {
	for _, typ := range []Type{TypeNone, TypeLZ4, TypeZSTD} {
		got, ok := TypeByName(typ.String())
		require.True(t, ok)
		assert.Equal(t, typ, got)
	}
	_, ok := TypeByName("snappy")
	assert.False(t, ok)
}

func BenchmarkEncodeZSTD(b *testing.B) {
	c := New(TypeZSTD)
	data := compressible(16 * 1024)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := c.Encode(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeLZ4(b *testing.B) {
	c := New(TypeLZ4)
	data := compressible(16 * 1024)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := c.Encode(data); err != nil {
			b.Fatal(err)
		}
	}
}
