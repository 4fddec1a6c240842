// services/lsbus/internal/idpool/idpool.go
package idpool

import (
	"math"
	"math/bits"
	"sync"

	"mezzanine-go/errcode"
)

// Pool hands out dense non-negative ids, lowest free first. A released id is
// the first candidate for the next Get.
type Pool struct {
	mu    sync.Mutex
	words []uint64 // bit set => id in use
	max   int      // ids are in [0, max)
	used  int
}

// New creates a pool of ids in [0, max). max <= 0 selects math.MaxInt32.
func New(max int) *Pool {
	if max <= 0 {
		max = math.MaxInt32
	}
	return &Pool{max: max}
}

// Get allocates the lowest free id.
func (p *Pool) Get() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.used >= p.max {
		return -1, errcode.New(errcode.ResourceExhausted, "id alloc", "pool exhausted")
	}
	for w, word := range p.words {
		if word == math.MaxUint64 {
			continue
		}
		id := w*64 + bits.TrailingZeros64(^word)
		if id >= p.max {
			break
		}
		p.words[w] |= 1 << uint(id%64)
		p.used++
		return id, nil
	}
	id := len(p.words) * 64
	if id >= p.max {
		return -1, errcode.New(errcode.ResourceExhausted, "id alloc", "pool exhausted")
	}
	p.words = append(p.words, 1)
	p.used++
	return id, nil
}

// Put returns id to the pool. Ids that are not allocated are ignored.
func (p *Pool) Put(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inUse(id) {
		return
	}
	p.words[id/64] &^= 1 << uint(id%64)
	p.used--
}

// InUse reports whether id is currently allocated.
func (p *Pool) InUse(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse(id)
}

func (p *Pool) inUse(id int) bool {
	if id < 0 || id/64 >= len(p.words) {
		return false
	}
	return p.words[id/64]&(1<<uint(id%64)) != 0
}

// Len reports the number of allocated ids.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}
