// Package inspector 提供本地调试 HTTP 服务: 暴露引擎当前视图与变更事件流。
//
// 仅在配置了监听地址时启动, 面向开发者排查调和问题, 不是产品面。
package inspector

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/multi-agent/runview/internal/engine"
	"github.com/multi-agent/runview/pkg/logger"
	"github.com/multi-agent/runview/pkg/util"
)

// Server 调试服务。
type Server struct {
	router *gin.Engine
	eng    *engine.Engine
	bus    *changeBus
}

// NewServer 创建调试服务并注册路由。
func NewServer(eng *engine.Engine) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{router: r, eng: eng, bus: newChangeBus()}
	r.GET("/state", s.stateHandler)
	r.GET("/rows", s.rowsHandler)
	r.GET("/events", s.sseHandler)
	return s
}

// NotifyChanged 引擎状态变更回调入口 (挂到 engine.SetOnChange)。
func (s *Server) NotifyChanged() {
	s.bus.publish()
}

// Run 启动监听 (阻塞)。
func (s *Server) Run(addr string) error {
	logger.Info("inspector: listening", logger.FieldAddr, addr)
	return s.router.Run(addr)
}

// Start 后台启动。
func (s *Server) Start(addr string) {
	util.SafeGo(func() {
		if err := s.Run(addr); err != nil {
			logger.Error("inspector: server exited", logger.FieldError, err)
		}
	})
}

func (s *Server) stateHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": s.eng.View()})
}

func (s *Server) rowsHandler(c *gin.Context) {
	v := s.eng.View()
	c.JSON(http.StatusOK, gin.H{"success": true, "data": v.Rows})
}

// sseHandler 把每次引擎变更推成一条 SSE 事件, 载荷是最新视图。
func (s *Server) sseHandler(c *gin.Context) {
	clientID := uuid.NewString()
	ch := s.bus.subscribe(clientID)
	defer s.bus.unsubscribe(clientID)

	logger.Info("inspector: SSE client connected", "client_id", clientID)
	defer logger.Info("inspector: SSE client disconnected", "client_id", clientID)

	c.Stream(func(w io.Writer) bool {
		keepalive := time.NewTimer(30 * time.Second)
		defer keepalive.Stop()

		select {
		case <-c.Request.Context().Done():
			return false
		case _, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("view", s.eng.View())
			return true
		case <-keepalive.C:
			c.SSEvent("keepalive", time.Now().Unix())
			return true
		}
	})
}
