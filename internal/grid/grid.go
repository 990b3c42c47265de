// 包 grid：世界坐标与瓦片坐标的双向映射（瓦片以中心为锚点）
package grid

import (
	"errors"
	"math"
	"strconv"
)

var ErrTileSize = errors.New("grid: tile size must be positive")

// Coord：瓦片整数坐标（地面平面 X/Z）
type Coord struct{ X, Z int }

// Position：地面平面上的连续世界坐标
type Position struct{ X, Z float64 }

// System：固定瓦片边长的坐标系
type System struct {
	size float64
}

func New(tileSize float64) (System, error) {
	if !(tileSize > 0) || math.IsInf(tileSize, 0) {
		return System{}, ErrTileSize
	}
	return System{size: tileSize}, nil
}

// MustNew：用于常量参数的初始化（测试与默认配置）
func MustNew(tileSize float64) System {
	s, err := New(tileSize)
	if err != nil {
		panic(err)
	}
	return s
}

func (s System) TileSize() float64 { return s.size }

// ToCoord：round(pos / tileSize)，逐轴四舍五入（远离零）
func (s System) ToCoord(p Position) Coord {
	return Coord{
		X: int(math.Round(p.X / s.size)),
		Z: int(math.Round(p.Z / s.size)),
	}
}

// ToWorld：coord * tileSize，返回瓦片中心
func (s System) ToWorld(c Coord) Position {
	return Position{X: float64(c.X) * s.size, Z: float64(c.Z) * s.size}
}

// Distance：坐标空间内的欧氏距离（非切比雪夫）
func (c Coord) Distance(o Coord) float64 {
	dx := float64(c.X - o.X)
	dz := float64(c.Z - o.Z)
	return math.Sqrt(dx*dx + dz*dz)
}

// Add：偏移
func (c Coord) Add(dx, dz int) Coord { return Coord{X: c.X + dx, Z: c.Z + dz} }

func (c Coord) String() string {
	return strconv.Itoa(c.X) + "," + strconv.Itoa(c.Z)
}

// Distance：世界坐标欧氏距离
func (p Position) Distance(o Position) float64 {
	return math.Hypot(p.X-o.X, p.Z-o.Z)
}
