package tile

// LOD：按观察者距离划分的细节层级
type LOD uint8

const (
	LODHigh LOD = iota
	LODMedium
	LODLow
	LODVeryLow
)

// 阈值以瓦片边长为单位：<1.5 High，<3 Medium，<5 Low，其余 VeryLow
var lodThresholds = [...]float64{1.5, 3, 5}

var lodNames = [...]string{"high", "medium", "low", "very_low"}

func (l LOD) String() string {
	if int(l) < len(lodNames) {
		return lodNames[l]
	}
	return "unknown"
}

// LODFor：ratio = distance / tileSize；ratio 越大层级越低，单调不增
func LODFor(ratio float64) LOD {
	for i, th := range lodThresholds {
		if ratio < th {
			return LOD(i)
		}
	}
	return LODVeryLow
}

func (l LOD) Visible() bool { return l != LODVeryLow }

func (l LOD) Collidable() bool { return l == LODHigh || l == LODMedium }
