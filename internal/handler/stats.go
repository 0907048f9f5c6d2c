package handler

import (
	"fmt"
	"net/http"

	"chain-stream-sol/internal/core"
	"chain-stream-sol/internal/poolmonitor"
	"chain-stream-sol/internal/pricecache"
	"chain-stream-sol/internal/pushworker"
	"chain-stream-sol/internal/stream"
	"chain-stream-sol/internal/whale"
)

// statsResponse 未启用的模块为 null
type statsResponse struct {
	Ready  bool               `json:"ready"`
	Stream stream.Stats       `json:"stream"`
	Pools  *poolmonitor.Stats `json:"pools"`
	Whales *whale.Stats       `json:"whales"`
	Push   *pushworker.Stats  `json:"push"`
	Prices pricecache.Stats   `json:"prices"`
}

func Stats(app *core.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 使用 defer 和 recover 捕获 panic 错误
		defer func() {
			if r := recover(); r != nil {
				http.Error(w, fmt.Sprintf("Internal server error: %v", r), http.StatusInternalServerError)
			}
		}()

		resp := statsResponse{
			Ready:  app.IsReady(),
			Stream: app.Client().GetStats(),
			Prices: app.ServiceContext().Prices.GetStats(),
		}
		if m := app.Monitor(); m != nil {
			s := m.GetStats()
			resp.Pools = &s
		}
		if t := app.Tracker(); t != nil {
			s := t.GetStats()
			resp.Whales = &s
		}
		if p := app.PushWorker(); p != nil {
			s := p.GetStats()
			resp.Push = &s
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
