package tile

// State：瓦片生命周期状态
type State uint8

const (
	Unloaded State = iota
	Loading
	Loaded
	Active
	Inactive
	Unloading
	Error
)

var stateNames = [...]string{"unloaded", "loading", "loaded", "active", "inactive", "unloading", "error"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// HasData：仅 Loaded/Active/Inactive 持有生成数据
func (s State) HasData() bool {
	return s == Loaded || s == Active || s == Inactive
}

// Generatable：Unloaded 与 Error 允许发起生成
func (s State) Generatable() bool {
	return s == Unloaded || s == Error
}

// Flag：调度簿记位（替代并行的 processing 集合）
type Flag uint8

const (
	FlagGenQueued Flag = 1 << iota
	FlagDelQueued
)
