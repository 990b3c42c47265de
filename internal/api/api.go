// 包 api：调试端口的只读视图与启停开关
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"tilestream/internal/governor"
	"tilestream/internal/grid"
	"tilestream/internal/logger"
	"tilestream/internal/stats"
)

// Engine：api 需要的引擎能力，方法必须可跨协程调用
type Engine interface {
	Snapshot() stats.PerformanceStats
	ActiveCoords() []grid.Coord
	LastCheck() governor.Outcome
	Enabled() bool
	SetEnabled(on bool)
}

type coordJSON struct {
	X int `json:"x"`
	Z int `json:"z"`
}

type memoryJSON struct {
	Level      string  `json:"level"`
	UsageMB    float64 `json:"usage_mb"`
	AfterMB    float64 `json:"after_mb"`
	Evicted    int     `json:"evicted"`
	Aggressive bool    `json:"aggressive"`
	Error      string  `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// BuildRoutes：独立 ServeMux，由主入口挂载在调试端口根路径
func BuildRoutes(e Engine) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.Snapshot())
	})
	mux.HandleFunc("/active", func(w http.ResponseWriter, r *http.Request) {
		cs := e.ActiveCoords()
		out := make([]coordJSON, len(cs))
		for i, c := range cs {
			out[i] = coordJSON{X: c.X, Z: c.Z}
		}
		writeJSON(w, http.StatusOK, out)
	})
	mux.HandleFunc("/memory", func(w http.ResponseWriter, r *http.Request) {
		o := e.LastCheck()
		m := memoryJSON{Level: o.Level.String(), UsageMB: o.UsageMB, AfterMB: o.AfterMB, Evicted: o.Evicted, Aggressive: o.Aggressive}
		if o.Err != nil {
			m.Error = o.Err.Error()
		}
		writeJSON(w, http.StatusOK, m)
	})
	// POST /control?enabled=false 暂停调度；GET 返回当前状态
	mux.HandleFunc("/control", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
		case http.MethodPost:
			on, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "enabled must be a boolean"})
				return
			}
			e.SetEnabled(on)
			logger.L().Info("scheduler_enabled_changed", "enabled", on, "remote", r.RemoteAddr)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": e.Enabled()})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
