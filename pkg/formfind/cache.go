package formfind

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultCacheSize is the number of results kept when NewCache gets size <= 0.
const DefaultCacheSize = 64

// Cache keeps recent solve results keyed by request content. When full, the
// oldest entry is evicted first.
type Cache struct {
	mu      sync.Mutex
	size    int
	entries map[uint64]*Result
	order   []uint64
}

// NewCache creates a cache holding at most size results.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{size: size, entries: make(map[uint64]*Result, size)}
}

// Get returns the cached result for key.
func (c *Cache) Get(key uint64) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	return r, ok
}

// Put stores r under key, evicting the oldest entry if needed.
func (c *Cache) Put(key uint64, r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = r
		return
	}
	if len(c.order) >= c.size {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = r
	c.order = append(c.order, key)
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Key hashes every field of req that affects the solution. Segment sources
// are opaque and not hashed.
func Key(req *Request) uint64 {
	h := hasher{d: xxhash.New()}
	h.int(len(req.Segments))
	for _, s := range req.Segments {
		h.vec(s.Start)
		h.vec(s.End)
	}
	h.vecs(req.Anchors)
	h.float(req.BuildTolerance)
	h.float(req.AnchorTolerance)
	// Strategy and worker count do not change the built graph.
	h.vecs(req.Loads)
	h.floats(req.Q)
	h.floats(req.Lower)
	h.floats(req.Upper)

	h.int(len(req.Objectives))
	for _, o := range req.Objectives {
		h.int(int(o.Kind))
		h.float(o.Weight)
		h.int(len(o.Edges))
		for _, e := range o.Edges {
			h.int(e)
		}
		h.vecs(o.Nodes)
		h.floats(o.Values)
		h.vecs(o.Vectors)
		h.float(o.Sharpness)
	}

	opts := req.options()
	h.int(opts.MaxIterations)
	h.float(opts.AbsTolerance)
	h.float(opts.RelTolerance)
	h.float(opts.BarrierWeight)
	h.float(opts.BarrierSharpness)
	if req.Optimize {
		h.int(1)
	} else {
		h.int(0)
	}
	return h.d.Sum64()
}

type hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

func (h *hasher) u64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	h.d.Write(h.buf[:])
}

func (h *hasher) int(v int) { h.u64(uint64(int64(v))) }

func (h *hasher) float(v float64) { h.u64(math.Float64bits(v)) }

func (h *hasher) vec(v r3.Vec) {
	h.float(v.X)
	h.float(v.Y)
	h.float(v.Z)
}

func (h *hasher) floats(vs []float64) {
	h.int(len(vs))
	for _, v := range vs {
		h.float(v)
	}
}

func (h *hasher) vecs(vs []r3.Vec) {
	h.int(len(vs))
	for _, v := range vs {
		h.vec(v)
	}
}
