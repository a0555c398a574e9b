package engine

import "sync"

// scanBufferPool hands out reusable byte slices for the bufio.Scanner
// buffers used by SST line scans (lazy metadata pass, point lookup,
// compaction merge). A segment scan runs to completion before another one
// starts — the engine is single-threaded — so a single pool sized for one
// scratch buffer at a time is enough; the teacher's three size classes
// existed to serve a concurrent TCP server's varied request sizes, which
// has no equivalent here.
var scanBufferPool = newBufferPool(64 * 1024)

type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

func (bp *bufferPool) get() *[]byte {
	return bp.pool.Get().(*[]byte)
}

func (bp *bufferPool) put(buf *[]byte) {
	bp.pool.Put(buf)
}
