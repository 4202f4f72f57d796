// Package pool holds sync.Pool-backed object pools used by the alerter's
// CEF serializer, so rendering each alert datagram does not need a fresh
// buffer allocation.
package pool

import (
	"bytes"
	"sync"
)

// ByteBufferPool is a pool of byte buffers, used by the CEF serializer to
// build one datagram without a fresh allocation per alert.
var ByteBufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetByteBuffer retrieves an empty byte buffer from the pool.
func GetByteBuffer() *bytes.Buffer {
	buf := ByteBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutByteBuffer returns a byte buffer to the pool. Buffers that grew past
// 64KB are discarded rather than pooled, so one oversized datagram doesn't
// permanently inflate the pool's steady-state memory.
func PutByteBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() < 64*1024 {
		buf.Reset()
		ByteBufferPool.Put(buf)
	}
}
