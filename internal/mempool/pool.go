package mempool

import (
	"bytes"
	"image/png"
	"sync"
)

// Pools for the byte buffers and PNG encoder state used when frames are
// encoded for preview, export and submission.

// MaxPooledBuffer is the largest buffer capacity returned to the pool. Larger
// buffers are left to the garbage collector so one huge frame does not pin
// memory.
const MaxPooledBuffer = 16 << 20

var bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// GetBuffer returns an empty buffer from the pool.
// The caller must return it via PutBuffer when done and must not keep
// references to its bytes afterwards.
func GetBuffer() *bytes.Buffer {
	buf, ok := bufferPool.Get().(*bytes.Buffer)
	if !ok {
		return new(bytes.Buffer)
	}
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool. It is safe to pass nil.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > MaxPooledBuffer {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// EncoderPool shares png.Encoder scratch state between encodes.
// It implements png.EncoderBufferPool.
type EncoderPool struct {
	p sync.Pool
}

// Get returns pooled encoder state, or nil to make png allocate fresh state.
func (e *EncoderPool) Get() *png.EncoderBuffer {
	b, _ := e.p.Get().(*png.EncoderBuffer)
	return b
}

// Put returns encoder state to the pool.
func (e *EncoderPool) Put(b *png.EncoderBuffer) {
	if b != nil {
		e.p.Put(b)
	}
}

var encoders EncoderPool

// PNGEncoder returns a png.Encoder backed by the shared encoder pool.
func PNGEncoder() *png.Encoder {
	return &png.Encoder{BufferPool: &encoders}
}
