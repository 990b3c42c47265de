package synth

import (
	"math"

	"tilestream/internal/tile"
)

// Grid：规则网格三角化，顶点为瓦片局部坐标（原点在瓦片中心），附带逐顶点法线
type Grid struct{}

func (Grid) Build(h *tile.HeightField, p tile.Params) (*tile.Surface, error) {
	if !h.Valid() {
		return nil, ErrResolution
	}
	n := h.Resolution
	step := p.Size / float64(n-1)
	half := p.Size / 2
	s := &tile.Surface{
		Vertices: make([]float32, 0, n*n*3),
		Normals:  make([]float32, 0, n*n*3),
		Indices:  make([]uint32, 0, (n-1)*(n-1)*6),
	}
	for z := 0; z < n; z++ {
		for x := 0; x < n; x++ {
			s.Vertices = append(s.Vertices, float32(float64(x)*step-half), h.At(x, z), float32(float64(z)*step-half))
			nx, ny, nz := normal(h, x, z, step)
			s.Normals = append(s.Normals, nx, ny, nz)
		}
	}
	for z := 0; z < n-1; z++ {
		for x := 0; x < n-1; x++ {
			i := uint32(z*n + x)
			j := i + uint32(n)
			s.Indices = append(s.Indices, i, j, i+1, i+1, j, j+1)
		}
	}
	return s, nil
}

// normal：中心差分，边界处退化为单侧差分
func normal(h *tile.HeightField, x, z int, step float64) (float32, float32, float32) {
	n := h.Resolution
	l, r := max(x-1, 0), min(x+1, n-1)
	d, u := max(z-1, 0), min(z+1, n-1)
	dx := float64(h.At(r, z)-h.At(l, z)) / (float64(r-l) * step)
	dz := float64(h.At(x, u)-h.At(x, d)) / (float64(u-d) * step)
	vx, vy, vz := -dx, 1.0, -dz
	m := math.Sqrt(vx*vx + vy*vy + vz*vz)
	return float32(vx / m), float32(vy / m), float32(vz / m)
}
