package api

import (
	"bytes"
	"sync"
)

// bufferPool reuses request body buffers; engine prompts carry whole trainsets
var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// putBuffer keeps only buffers up to 64KB
func putBuffer(buf *bytes.Buffer) {
	const maxBufferSize = 64 * 1024
	if buf.Cap() <= maxBufferSize {
		bufferPool.Put(buf)
	}
}
