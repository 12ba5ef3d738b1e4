package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server 暴露 /metrics 和 /healthz 的HTTP服务
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// NewRouter 构建指标路由
func NewRouter(m *Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	return r
}

// Start 监听addr并在后台提供服务
// addr 可以是 ":0", 实际地址通过 Addr() 获取
func Start(addr string, m *Metrics) (*Server, error) {
	if m == nil {
		return nil, errors.New("指标未初始化")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		srv: &http.Server{
			Handler:           NewRouter(m),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
	}

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("指标服务异常退出")
		}
	}()

	log.Info().Str("addr", listener.Addr().String()).Msg("指标服务已启动")
	return s, nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
