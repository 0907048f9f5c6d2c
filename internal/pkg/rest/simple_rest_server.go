package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"chain-stream-sol/internal/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

var metricRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "chain_stream_http_request_duration_seconds",
	Help:    "REST 请求耗时",
	Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
}, []string{"path", "code"})

type SimpleRestServer struct {
	port   int
	paths  []string
	server *http.Server
}

// NewSimpleRestServer 创建 REST 服务，/metrics 固定挂载，业务路由统一打点
func NewSimpleRestServer(port int, routes map[string]http.HandlerFunc) *SimpleRestServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	paths := make([]string, 0, len(routes))
	for path, handlerFunc := range routes {
		mux.Handle(path, instrument(path, handlerFunc))
		paths = append(paths, path)
	}
	sort.Strings(paths)

	return &SimpleRestServer{
		port:  port,
		paths: paths,
		server: &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", port),
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Handler 供测试直接驱动 mux
func (s *SimpleRestServer) Handler() http.Handler {
	return s.server.Handler
}

// Start 启动 REST 服务
func (s *SimpleRestServer) Start() {
	go func() {
		logger.Infof("[SimpleRestServer] starting on port %d, routes=%v", s.port, s.paths)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("REST 服务启动失败: %v", err)
		}
	}()
}

// Stop 停止 REST 服务
func (s *SimpleRestServer) Stop() {
	logger.Infof("[SimpleRestServer] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		logger.Warnf("[SimpleRestServer] shutdown: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(path string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		metricRequestDuration.WithLabelValues(path, strconv.Itoa(rec.code)).Observe(time.Since(start).Seconds())
	})
}
