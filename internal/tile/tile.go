// 包 tile：瓦片实体，持有生命周期状态、生成数据、LOD 与访问统计
package tile

import (
	"errors"
	"fmt"
	"math"
	"time"

	"tilestream/internal/grid"
	"tilestream/internal/logger"
)

var (
	ErrGeneration     = errors.New("tile: generation failed")
	ErrNotGeneratable = errors.New("tile: generate requires unloaded or error state")
	ErrState          = errors.New("tile: invalid state transition")
)

// Pipeline：生成流程所需的协作者与开关
// 约束：Synth 与 Surface 必填；Eroder 为 nil 时跳过侵蚀
type Pipeline struct {
	Synth      HeightfieldSynthesizer
	Eroder     Eroder
	Surface    SurfaceBuilder
	Falloff    bool
	Resolution int
	Seed       int64
}

// Tile：单个瓦片
// 约束：height/surface/collision 非空当且仅当 state ∈ {Loaded, Active, Inactive}
type Tile struct {
	coord grid.Coord
	world grid.Position
	size  float64

	state     State
	height    *HeightField
	surface   *Surface
	collision *Collision

	lod        LOD
	visible    bool
	collidable bool

	distance    float64
	lastAccess  time.Time
	accessCount uint64
	genDuration time.Duration
	lastErr     error

	flags Flag
}

func New(c grid.Coord, sys grid.System) *Tile {
	return &Tile{
		coord:    c,
		world:    sys.ToWorld(c),
		size:     sys.TileSize(),
		lod:      LODVeryLow,
		distance: math.Inf(1),
	}
}

func (t *Tile) Coord() grid.Coord                 { return t.coord }
func (t *Tile) World() grid.Position              { return t.world }
func (t *Tile) Size() float64                     { return t.size }
func (t *Tile) State() State                      { return t.state }
func (t *Tile) HeightField() *HeightField         { return t.height }
func (t *Tile) Surface() *Surface                 { return t.surface }
func (t *Tile) Collision() *Collision             { return t.collision }
func (t *Tile) LOD() LOD                          { return t.lod }
func (t *Tile) Visible() bool                     { return t.visible }
func (t *Tile) Collidable() bool                  { return t.collidable }
func (t *Tile) Distance() float64                 { return t.distance }
func (t *Tile) LastAccess() time.Time             { return t.lastAccess }
func (t *Tile) AccessCount() uint64               { return t.accessCount }
func (t *Tile) GenerationDuration() time.Duration { return t.genDuration }
func (t *Tile) LastError() error                  { return t.lastErr }

func (t *Tile) Has(f Flag) bool { return t.flags&f != 0 }
func (t *Tile) Mark(f Flag)     { t.flags |= f }
func (t *Tile) Clear(f Flag)    { t.flags &^= f }

// Touch：需求命中时刷新访问统计（供 LRU 排序）
func (t *Tile) Touch(now time.Time) {
	t.lastAccess = now
	t.accessCount++
}

// SizeBytes：估算当前持有的生成数据大小
func (t *Tile) SizeBytes() int64 {
	return t.height.SizeBytes() + t.surface.SizeBytes() + t.collision.SizeBytes()
}

func (t *Tile) params(p Pipeline) Params {
	return Params{
		Coord:      t.coord,
		Origin:     t.world,
		Size:       t.size,
		Resolution: p.Resolution,
		Seed:       p.Seed,
	}
}

type built struct {
	height    *HeightField
	surface   *Surface
	collision *Collision
}

// Generate：合成高度场 -> 径向衰减 -> 侵蚀 -> 表面 -> 碰撞体 -> Loaded
// 约束：非 Unloaded/Error 状态直接返回 ErrNotGeneratable（防止重复生成）；失败落入 Error 且不保留任何部分数据
func (t *Tile) Generate(p Pipeline) error {
	if !t.state.Generatable() {
		logger.L().Warn("tile_generate_skipped", "x", t.coord.X, "z", t.coord.Z, "state", t.state.String())
		return ErrNotGeneratable
	}
	t.state = Loading
	start := time.Now()
	data, err := build(p, t.params(p))
	if err != nil {
		t.height, t.surface, t.collision = nil, nil, nil
		t.visible, t.collidable = false, false
		t.state = Error
		t.lastErr = err
		logger.L().Error("tile_generate_error", "x", t.coord.X, "z", t.coord.Z, "err", err)
		return err
	}
	t.height, t.surface, t.collision = data.height, data.surface, data.collision
	t.genDuration = time.Since(start)
	t.lastErr = nil
	t.state = Loaded
	t.applyLOD()
	logger.L().Debug("tile_generated", "x", t.coord.X, "z", t.coord.Z, "ms", t.genDuration.Milliseconds(), "bytes", t.SizeBytes())
	return nil
}

func build(p Pipeline, prm Params) (built, error) {
	if p.Synth == nil || p.Surface == nil {
		return built{}, fmt.Errorf("%w: missing collaborator", ErrGeneration)
	}
	h, err := p.Synth.Synthesize(prm)
	if err != nil {
		return built{}, fmt.Errorf("%w: synthesize %v: %w", ErrGeneration, prm.Coord, err)
	}
	if !h.Valid() {
		return built{}, fmt.Errorf("%w: synthesize %v: malformed heightfield", ErrGeneration, prm.Coord)
	}
	if p.Falloff {
		ApplyFalloff(h)
	}
	if p.Eroder != nil {
		if err := p.Eroder.Erode(h, prm); err != nil {
			return built{}, fmt.Errorf("%w: erode %v: %w", ErrGeneration, prm.Coord, err)
		}
	}
	s, err := p.Surface.Build(h, prm)
	if err != nil {
		return built{}, fmt.Errorf("%w: surface %v: %w", ErrGeneration, prm.Coord, err)
	}
	if s == nil {
		return built{}, fmt.Errorf("%w: surface %v: empty", ErrGeneration, prm.Coord)
	}
	return built{height: h, surface: s, collision: newCollision(h, prm.Size)}, nil
}

// ApplyFalloff：径向衰减，中心保持原值，向边角平滑压到 0
func ApplyFalloff(h *HeightField) {
	const start = 0.6
	n := h.Resolution
	half := float64(n-1) / 2
	for z := 0; z < n; z++ {
		for x := 0; x < n; x++ {
			u := (float64(x) - half) / half
			v := (float64(z) - half) / half
			d := math.Sqrt(u*u+v*v) / math.Sqrt2
			h.Set(x, z, h.At(x, z)*float32(1-smoothstep(start, 1, d)))
		}
	}
}

func smoothstep(e0, e1, x float64) float64 {
	k := (x - e0) / (e1 - e0)
	if k < 0 {
		k = 0
	} else if k > 1 {
		k = 1
	}
	return k * k * (3 - 2*k)
}

// Unload：释放碰撞体、表面与高度场，回到 Unloaded
// 返回是否真正释放；非持有数据状态（含 Unloaded/Unloading）为空操作
func (t *Tile) Unload() bool {
	if !t.state.HasData() {
		return false
	}
	t.state = Unloading
	t.collision = nil
	t.surface = nil
	t.height = nil
	t.visible, t.collidable = false, false
	t.state = Unloaded
	return true
}

func (t *Tile) Activate() error {
	if t.state != Loaded && t.state != Inactive {
		return fmt.Errorf("%w: activate from %s", ErrState, t.state)
	}
	t.state = Active
	return nil
}

func (t *Tile) Deactivate() error {
	if t.state != Active {
		return fmt.Errorf("%w: deactivate from %s", ErrState, t.state)
	}
	t.state = Inactive
	return nil
}

// UpdateLOD：按观察者位置刷新距离与层级；VeryLow 的 Active 瓦片转为 Inactive，反之恢复
// 返回层级是否变化
func (t *Tile) UpdateLOD(observer grid.Position) bool {
	t.distance = t.world.Distance(observer)
	prev := t.lod
	t.lod = LODFor(t.distance / t.size)
	t.applyLOD()
	switch {
	case t.state == Active && t.lod == LODVeryLow:
		t.state = Inactive
	case t.state == Inactive && t.lod != LODVeryLow:
		t.state = Active
	}
	return prev != t.lod
}

func (t *Tile) applyLOD() {
	if !t.state.HasData() {
		return
	}
	t.visible = t.lod.Visible()
	t.collidable = t.lod.Collidable()
	t.collision.Enabled = t.collidable
}
