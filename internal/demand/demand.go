// 包 demand：根据观察者位置计算当前应存在的瓦片集合与需要回收的瓦片
package demand

import (
	"errors"
	"math"
	"sort"
	"time"

	"tilestream/internal/grid"
	"tilestream/internal/tile"
)

var ErrRadii = errors.New("demand: radii must satisfy 0 <= immediate <= preload <= keepAlive <= forceUnload")

// Priority：请求优先级；Immediate 绕过队列同步执行
type Priority uint8

const (
	Low Priority = iota
	Medium
	High
	Immediate
)

var priorityNames = [...]string{"low", "medium", "high", "immediate"}

func (p Priority) String() string {
	if int(p) < len(priorityNames) {
		return priorityNames[p]
	}
	return "unknown"
}

// Request：生成/删除请求
type Request struct {
	Coord       grid.Coord
	Priority    Priority
	RequestedAt time.Time
}

// Radii：半径均以瓦片为单位，距离按坐标空间欧氏距离计算（含边界）
type Radii struct {
	ImmediateLoad int
	Preload       int
	KeepAlive     int
	ForceUnload   int
}

func (r Radii) Validate() error {
	if r.ImmediateLoad < 0 || r.ImmediateLoad > r.Preload || r.Preload > r.KeepAlive || r.KeepAlive > r.ForceUnload {
		return ErrRadii
	}
	return nil
}

// ActiveSet：权威活动集合的只读视图
type ActiveSet interface {
	IsActive(c grid.Coord) bool
	ActiveTiles() []*tile.Tile
}

// Plan：一次需求计算的输出；Generate 按近到远，Delete 按远到近
type Plan struct {
	Center   grid.Coord
	Generate []Request
	Delete   []Request
}

type Model struct {
	sys   grid.System
	radii Radii
	now   func() time.Time
}

func New(sys grid.System, r Radii, now func() time.Time) (*Model, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Model{sys: sys, radii: r, now: now}, nil
}

func (m *Model) Radii() Radii { return m.radii }

// Evaluate：计算观察者位置对应的请求集合
func (m *Model) Evaluate(pos grid.Position, active ActiveSet) Plan {
	now := m.now()
	center := m.sys.ToCoord(pos)
	plan := Plan{Center: center}

	for _, c := range Disk(center, m.radii.ImmediateLoad) {
		plan.Generate = append(plan.Generate, Request{Coord: c, Priority: Immediate, RequestedAt: now})
	}
	immediate := float64(m.radii.ImmediateLoad)
	for _, c := range Disk(center, m.radii.Preload) {
		if c.Distance(center) <= immediate || active.IsActive(c) {
			continue
		}
		plan.Generate = append(plan.Generate, Request{Coord: c, Priority: High, RequestedAt: now})
	}

	keep := float64(m.radii.KeepAlive)
	force := float64(m.radii.ForceUnload)
	for _, t := range active.ActiveTiles() {
		d := t.Coord().Distance(center)
		switch {
		case d > force:
			plan.Delete = append(plan.Delete, Request{Coord: t.Coord(), Priority: Immediate, RequestedAt: now})
		case d > keep:
			plan.Delete = append(plan.Delete, Request{Coord: t.Coord(), Priority: Low, RequestedAt: now})
		}
	}
	sort.SliceStable(plan.Delete, func(i, j int) bool {
		di := plan.Delete[i].Coord.Distance(center)
		dj := plan.Delete[j].Coord.Distance(center)
		if di != dj {
			return di > dj
		}
		return less(plan.Delete[i].Coord, plan.Delete[j].Coord)
	})
	return plan
}

// Disk：以 center 为圆心、半径 r（含边界）的全部坐标，近到远，同距离按 (X, Z) 排序
func Disk(center grid.Coord, r int) []grid.Coord {
	if r < 0 {
		return nil
	}
	rr := float64(r)
	out := make([]grid.Coord, 0, int(math.Ceil(math.Pi*rr*rr))+1)
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			c := center.Add(dx, dz)
			if c.Distance(center) <= rr {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di := out[i].Distance(center)
		dj := out[j].Distance(center)
		if di != dj {
			return di < dj
		}
		return less(out[i], out[j])
	})
	return out
}

func less(a, b grid.Coord) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Z < b.Z
}
