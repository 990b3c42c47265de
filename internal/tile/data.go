package tile

import (
	"tilestream/internal/grid"
)

// HeightField：Resolution×Resolution 的高度采样，行主序（z 行，x 列）
type HeightField struct {
	Resolution int
	Heights    []float32
}

func NewHeightField(res int) *HeightField {
	return &HeightField{Resolution: res, Heights: make([]float32, res*res)}
}

func (h *HeightField) At(x, z int) float32 { return h.Heights[z*h.Resolution+x] }

func (h *HeightField) Set(x, z int, v float32) { h.Heights[z*h.Resolution+x] = v }

// Valid：尺寸一致才可进入后续构建
func (h *HeightField) Valid() bool {
	return h != nil && h.Resolution >= 2 && len(h.Heights) == h.Resolution*h.Resolution
}

func (h *HeightField) Clone() *HeightField {
	if h == nil {
		return nil
	}
	out := &HeightField{Resolution: h.Resolution, Heights: make([]float32, len(h.Heights))}
	copy(out.Heights, h.Heights)
	return out
}

func (h *HeightField) SizeBytes() int64 {
	if h == nil {
		return 0
	}
	return int64(len(h.Heights)) * 4
}

// Surface：网格等价物；Vertices 为 xyz 三元组（瓦片局部坐标）
type Surface struct {
	Vertices []float32
	Normals  []float32
	Indices  []uint32
}

func (s *Surface) SizeBytes() int64 {
	if s == nil {
		return 0
	}
	return int64(len(s.Vertices)+len(s.Normals))*4 + int64(len(s.Indices))*4
}

func (s *Surface) Triangles() int {
	if s == nil {
		return 0
	}
	return len(s.Indices) / 3
}

// Collision：高度场碰撞体（拷贝采样，独立于可视数据释放）
type Collision struct {
	Resolution int
	Spacing    float64
	Heights    []float32
	Enabled    bool
}

func newCollision(h *HeightField, size float64) *Collision {
	c := &Collision{
		Resolution: h.Resolution,
		Spacing:    size / float64(h.Resolution-1),
		Heights:    make([]float32, len(h.Heights)),
		Enabled:    true,
	}
	copy(c.Heights, h.Heights)
	return c
}

func (c *Collision) SizeBytes() int64 {
	if c == nil {
		return 0
	}
	return int64(len(c.Heights)) * 4
}

// Params：交给外部协作者的生成参数
type Params struct {
	Coord      grid.Coord
	Origin     grid.Position
	Size       float64
	Resolution int
	Seed       int64
}

// HeightfieldSynthesizer：高度场合成（可能耗时的同步调用）
type HeightfieldSynthesizer interface {
	Synthesize(p Params) (*HeightField, error)
}

// Eroder：原地侵蚀高度场
type Eroder interface {
	Erode(h *HeightField, p Params) error
}

// SurfaceBuilder：相同输入必须得到相同输出
type SurfaceBuilder interface {
	Build(h *HeightField, p Params) (*Surface, error)
}
