// 包 synth：瓦片生成协作者的参考实现（值噪声高度场、热侵蚀、网格表面、高度场缓存）
// 只为驱动引擎端到端运行，地形质量不是目标
package synth

import (
	"math"

	"tilestream/internal/tile"
)

// hash32：32 位雪崩混合，跨版本稳定
func hash32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

func hash2(seed uint32, x, z int32) uint32 {
	h := seed
	h ^= uint32(x) * 0x9e3779b1
	h ^= uint32(z) * 0x85ebca6b
	return hash32(h)
}

// lattice：格点值，范围 [-1, 1]
func lattice(seed uint32, x, z int32) float64 {
	return float64(hash2(seed, x, z))/float64(math.MaxUint32)*2 - 1
}

func fade(t float64) float64 { return t * t * (3 - 2*t) }

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

// valueNoise：双线性插值的格点值噪声
func valueNoise(seed uint32, x, z float64) float64 {
	x0, z0 := math.Floor(x), math.Floor(z)
	ix, iz := int32(x0), int32(z0)
	tx, tz := fade(x-x0), fade(z-z0)
	a := lattice(seed, ix, iz)
	b := lattice(seed, ix+1, iz)
	c := lattice(seed, ix, iz+1)
	d := lattice(seed, ix+1, iz+1)
	return lerp(lerp(a, b, tx), lerp(c, d, tx), tz)
}

// Noise：分形值噪声高度场
// 采样按世界坐标进行，相邻瓦片共享的边界采样点高度一致
type Noise struct {
	Octaves     int
	Frequency   float64 // 第一层每世界单位的周期数
	Amplitude   float64
	Persistence float64
	Lacunarity  float64
}

func DefaultNoise() Noise {
	return Noise{Octaves: 5, Frequency: 1.0 / 800, Amplitude: 120, Persistence: 0.5, Lacunarity: 2}
}

// Height：世界坐标处的高度
func (n Noise) Height(seed int64, wx, wz float64) float64 {
	s := uint32(seed) ^ uint32(seed>>32)
	var sum float64
	freq, amp := n.Frequency, n.Amplitude
	for o := 0; o < n.Octaves; o++ {
		sum += valueNoise(hash32(s+uint32(o)), wx*freq, wz*freq) * amp
		freq *= n.Lacunarity
		amp *= n.Persistence
	}
	return sum
}

func (n Noise) Synthesize(p tile.Params) (*tile.HeightField, error) {
	if p.Resolution < 2 {
		return nil, ErrResolution
	}
	h := tile.NewHeightField(p.Resolution)
	step := p.Size / float64(p.Resolution-1)
	x0 := p.Origin.X - p.Size/2
	z0 := p.Origin.Z - p.Size/2
	for z := 0; z < p.Resolution; z++ {
		for x := 0; x < p.Resolution; x++ {
			h.Set(x, z, float32(n.Height(p.Seed, x0+float64(x)*step, z0+float64(z)*step)))
		}
	}
	return h, nil
}
