package pool

import (
	"sync"
)

// ByteSlicePool manages a pool of reusable fixed-size byte slices
type ByteSlicePool struct {
	pool sync.Pool
	size int
}

// NewByteSlicePool creates a new byte slice pool
func NewByteSlicePool(size int) *ByteSlicePool {
	return &ByteSlicePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				slice := make([]byte, size)
				return &slice
			},
		},
	}
}

// Size returns the length of slices handed out
func (bsp *ByteSlicePool) Size() int {
	return bsp.size
}

// Get retrieves a byte slice from the pool
func (bsp *ByteSlicePool) Get() []byte {
	slicePtr := bsp.pool.Get().(*[]byte)
	return (*slicePtr)[:bsp.size]
}

// Put returns a byte slice to the pool
func (bsp *ByteSlicePool) Put(slice []byte) {
	if cap(slice) < bsp.size || cap(slice) > bsp.size*2 {
		return // Don't pool wrong-sized slices
	}
	slice = slice[:bsp.size]
	bsp.pool.Put(&slice)
}

var (
	chunkMu    sync.Mutex
	chunkPools = map[int]*ByteSlicePool{}
)

// ChunkPool returns the shared pool for streaming chunks of the given size
func ChunkPool(size int) *ByteSlicePool {
	chunkMu.Lock()
	defer chunkMu.Unlock()

	p, ok := chunkPools[size]
	if !ok {
		p = NewByteSlicePool(size)
		chunkPools[size] = p
	}
	return p
}
