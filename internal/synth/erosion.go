package synth

import (
	"errors"
	"math"

	"tilestream/internal/tile"
)

var ErrResolution = errors.New("synth: resolution must be at least 2")

// Thermal：热侵蚀参数
type Thermal struct {
	TalusThreshold float64 // 坡度阈值（tan），0.57 约 30°
	TransferRate   float64 // 每轮转移超额物质的比例
	Iterations     int
}

func DefaultThermal() Thermal {
	return Thermal{TalusThreshold: 0.57, TransferRate: 0.25, Iterations: 20}
}

var neighbors = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// Erode：陡坡向低处邻点转移物质；每轮先累计增量再统一应用，结果与遍历顺序无关
func (t Thermal) Erode(h *tile.HeightField, p tile.Params) error {
	if !h.Valid() {
		return ErrResolution
	}
	if t.Iterations <= 0 {
		return nil
	}
	n := h.Resolution
	spacing := p.Size / float64(n-1)
	if spacing <= 0 || math.IsNaN(spacing) {
		spacing = 1
	}
	deltas := make([]float64, len(h.Heights))
	for it := 0; it < t.Iterations; it++ {
		for i := range deltas {
			deltas[i] = 0
		}
		for z := 0; z < n; z++ {
			for x := 0; x < n; x++ {
				here := float64(h.At(x, z))
				for _, d := range neighbors {
					nx, nz := x+d[0], z+d[1]
					if nx < 0 || nz < 0 || nx >= n || nz >= n {
						continue
					}
					diff := here - float64(h.At(nx, nz))
					if diff <= 0 || diff/spacing <= t.TalusThreshold {
						continue
					}
					move := (diff - t.TalusThreshold*spacing) / 2 * t.TransferRate
					if move <= 0 {
						continue
					}
					deltas[z*n+x] -= move
					deltas[nz*n+nx] += move
				}
			}
		}
		for i := range h.Heights {
			h.Heights[i] += float32(deltas[i])
		}
	}
	return nil
}
