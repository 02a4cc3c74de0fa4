package schema

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRenderCacheSize bounds the number of rendered keys kept per renderer
const DefaultRenderCacheSize = 4096

// Renderer turns partition keys into their canonical display form.
// Hot partitions are rendered once per harvest on every shard, so results are cached.
type Renderer struct {
	cache *lru.Cache[PartitionKey, string]
}

// NewRenderer creates a renderer with an LRU of the given size
func NewRenderer(size int) (*Renderer, error) {
	if size <= 0 {
		size = DefaultRenderCacheSize
	}
	cache, err := lru.New[PartitionKey, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create render cache: %w", err)
	}
	return &Renderer{cache: cache}, nil
}

// Render returns the key_repr of a partition key. Keys that cannot be decoded
// fall back to their hex encoding rather than failing the caller.
func (r *Renderer) Render(k PartitionKey) string {
	if s, ok := r.cache.Get(k); ok {
		return s
	}

	var out string
	if components, err := k.Components(); err == nil {
		out = RenderComponents(components)
	} else {
		out = fmt.Sprintf("0x%x", k.Raw)
	}
	r.cache.Add(k, out)
	return out
}

// Len returns the number of cached renderings
func (r *Renderer) Len() int {
	return r.cache.Len()
}
