package mempool

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBuffer_IsEmpty(t *testing.T) {
	buf := GetBuffer()
	require.NotNil(t, buf)
	buf.WriteString("leftover")
	PutBuffer(buf)

	for range 10 {
		b := GetBuffer()
		assert.Equal(t, 0, b.Len(), "pooled buffers come back reset")
		PutBuffer(b)
	}
}

func TestPutBuffer(t *testing.T) {
	tests := []struct {
		name string
		buf  *bytes.Buffer
	}{
		{"nil", nil},
		{"small", bytes.NewBuffer(make([]byte, 0, 1024))},
		{"oversized", bytes.NewBuffer(make([]byte, 0, MaxPooledBuffer+1))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() { PutBuffer(tt.buf) })
		})
	}
}

func TestEncoderPool(t *testing.T) {
	var p EncoderPool
	assert.Nil(t, p.Get(), "empty pool lets png allocate")
	p.Put(nil)

	b := &png.EncoderBuffer{}
	p.Put(b)
	got := p.Get()
	if got != nil {
		assert.Same(t, b, got)
	}
}

func TestPNGEncoder_RoundTrip(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	img.Set(3, 2, color.NRGBA{R: 255, A: 255})

	enc := PNGEncoder()
	for range 3 {
		buf := GetBuffer()
		require.NoError(t, enc.Encode(buf, img))

		decoded, err := png.Decode(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, img.Bounds(), decoded.Bounds())
		r, _, _, _ := decoded.At(3, 2).RGBA()
		assert.Equal(t, uint32(0xffff), r)
		PutBuffer(buf)
	}
}

func TestConcurrentAccess(t *testing.T) {
	const goroutines = 10
	const iterations = 100

	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enc := PNGEncoder()
			for range iterations {
				buf := GetBuffer()
				if err := enc.Encode(buf, img); err != nil {
					t.Error(err)
				}
				PutBuffer(buf)
			}
		}()
	}
	wg.Wait()
}

func BenchmarkPNGEncoder(b *testing.B) {
	img := image.NewNRGBA(image.Rect(0, 0, 640, 400))
	enc := PNGEncoder()
	for b.Loop() {
		buf := GetBuffer()
		_ = enc.Encode(buf, img)
		PutBuffer(buf)
	}
}
