package synth

import (
	"strconv"

	"github.com/dgraph-io/ristretto/v2"

	"tilestream/internal/logger"
	"tilestream/internal/tile"
)

// Cached：合成结果的成本受限缓存，成本 = 高度场字节数
// 约束：缓存内保存独立副本，Get/Set 均拷贝，调用方后续的衰减与侵蚀不会污染缓存
type Cached struct {
	next  tile.HeightfieldSynthesizer
	cache *ristretto.Cache[string, *tile.HeightField]
}

// NewCached：maxBytes <= 0 时直接返回下游合成器
func NewCached(next tile.HeightfieldSynthesizer, maxBytes int64) (tile.HeightfieldSynthesizer, func(), error) {
	if maxBytes <= 0 {
		return next, func() {}, nil
	}
	c, err := ristretto.NewCache[string, *tile.HeightField](&ristretto.Config[string, *tile.HeightField]{
		NumCounters: 10000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, nil, err
	}
	cs := &Cached{next: next, cache: c}
	return cs, cs.Close, nil
}

func cacheKey(p tile.Params) string {
	return strconv.FormatInt(p.Seed, 10) + "|" +
		strconv.Itoa(p.Coord.X) + "|" + strconv.Itoa(p.Coord.Z) + "|" +
		strconv.Itoa(p.Resolution) + "|" + strconv.FormatFloat(p.Size, 'g', -1, 64)
}

func (c *Cached) Synthesize(p tile.Params) (*tile.HeightField, error) {
	key := cacheKey(p)
	if h, ok := c.cache.Get(key); ok {
		return h.Clone(), nil
	}
	h, err := c.next.Synthesize(p)
	if err != nil {
		return nil, err
	}
	if !h.Valid() {
		return h, nil
	}
	if !c.cache.Set(key, h.Clone(), h.SizeBytes()) {
		logger.L().Debug("heightfield_cache_rejected", "x", p.Coord.X, "z", p.Coord.Z)
	}
	return h, nil
}

// Wait：等待缓冲中的写入生效
func (c *Cached) Wait() { c.cache.Wait() }

func (c *Cached) Close() { c.cache.Close() }
