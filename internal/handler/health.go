package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chain-stream-sol/internal/core"
)

const startupGracePeriod = 30 * time.Second

// HealthCheck 流连接可用且模块已启动时返回 UP；启动宽限期过后连接仍未就绪返回 DOWN
func HealthCheck(app *core.App) http.HandlerFunc {
	return healthCheck(app.IsReady, time.Now(), startupGracePeriod)
}

func healthCheck(ready func() bool, startTime time.Time, grace time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 使用 defer 和 recover 捕获 panic 错误
		defer func() {
			if r := recover(); r != nil {
				http.Error(w, fmt.Sprintf("Internal server error: %v", r), http.StatusInternalServerError)
			}
		}()

		if ready() {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status":    "UP",
				"checkTime": formatLocalDateTime(),
				"details":   "Stream connected, modules running",
			})
			return
		}

		// 启动阶段（建连、订阅）不判定为失败
		if time.Since(startTime) <= grace {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status":    "STARTING",
				"checkTime": formatLocalDateTime(),
				"details":   "Application is starting",
			})
			return
		}

		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "DOWN",
			"details": "Stream is not connected",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}

// 格式化本地时间为 "yyyy-MM-ddTHH:mm:ss.SSSSSSS" 格式
func formatLocalDateTime() string {
	return time.Now().In(time.Local).Format("2006-01-02T15:04:05.9999999")
}
