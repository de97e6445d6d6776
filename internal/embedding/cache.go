package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// CachingProvider wraps a Provider with an LRU cache keyed by a hash of
// (model name, text), and deduplicates concurrent identical requests with
// singleflight so a burst of repeated queries only calls the underlying
// provider once.
type CachingProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
	group singleflight.Group
}

// NewCachingProvider wraps inner with an LRU cache holding up to size
// entries.
func NewCachingProvider(inner Provider, size int) (*CachingProvider, error) {
	if size <= 0 {
		size = 10_000
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachingProvider{inner: inner, cache: cache}, nil
}

func (p *CachingProvider) Dimension() int    { return p.inner.Dimension() }
func (p *CachingProvider) ModelName() string { return p.inner.ModelName() }
func (p *CachingProvider) Close() error      { return p.inner.Close() }

func (p *CachingProvider) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(p.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (p *CachingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := p.cacheKey(text)
	if vec, ok := p.cache.Get(key); ok {
		return vec, nil
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		vec, err := p.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		p.cache.Add(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedBatch serves cached texts from the cache and forwards the
// remainder to the inner provider in a single call, splicing the results
// back into their original positions.
func (p *CachingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := p.cache.Get(p.cacheKey(text)); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		p.cache.Add(p.cacheKey(missTexts[j]), vecs[j])
	}
	return out, nil
}
