package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"clear-talk/server/internal/config"
	"clear-talk/server/internal/domain"
	"clear-talk/server/internal/handoff"
	"clear-talk/server/internal/model"
	"clear-talk/server/internal/orchestrator"
	"clear-talk/server/internal/predictor"
	"clear-talk/server/internal/responder"
	"clear-talk/server/internal/session"
	"clear-talk/server/internal/timeline"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Server struct {
	config       *config.Config
	store        session.Store
	timeline     timeline.Store
	intents      *domain.Catalog
	now          func() time.Time
	orchestrator *orchestrator.Orchestrator

	// registry 管理所有活跃的客服桥接器 (sessionID -> Bridge)
	registry *handoff.Registry

	// WebSocket upgrader
	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, store session.Store, tl timeline.Store, pred predictor.Client) (*Server, error) {
	intents, err := domain.LoadCatalog(cfg.Paths.Intents)
	if err != nil {
		return nil, err
	}
	resp, err := responder.Load(cfg.Paths.Responses, intents)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(store, tl, pred, resp, cfg.Fallback, time.Now)
	registry := handoff.NewRegistry()
	orch.SetDispatcher(registry)

	return &Server{
		config:       cfg,
		store:        store,
		timeline:     tl,
		intents:      intents,
		now:          time.Now,
		orchestrator: orch,
		registry:     registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 开发期允许本地跨域，生产环境应改为白名单
				origin := r.Header.Get("Origin")
				return origin == "" || origin == "http://localhost:5173" || origin == "http://127.0.0.1:5173"
			},
		},
	}, nil
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由，便于扩展日志/鉴权/限流等能力。
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/api/intents", s.handleIntents)
	engine.POST("/api/sessions", s.handleCreateSession)
	engine.POST("/api/sessions/:id/messages", s.handleSessionMessages)
	engine.GET("/api/sessions/:id/timeline", s.handleSessionTimeline)
	engine.GET("/api/sessions/:id/operator", s.handleOperatorStream)
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleIntents 返回意图目录。
func (s *Server) handleIntents(c *gin.Context) {
	c.JSON(http.StatusOK, s.intents.List())
}

type createSessionRequest struct {
	Channel string `json:"channel"`
}

// handleCreateSession 处理 /api/sessions 路由，创建新会话。
// 会话从 NORMAL 状态开始，阈值等配置在创建后即不可变。
func (s *Server) handleCreateSession(c *gin.Context) {
	// channel 可选，空 body 也允许。
	var req createSessionRequest
	_ = c.ShouldBindJSON(&req)

	now := s.now()
	state := model.SessionState{
		SessionID:     newSessionID(),
		Channel:       req.Channel,
		FallbackState: model.StateNormal,
		CreatedAt:     now,
		LastActiveAt:  now,
	}

	if err := s.store.Save(c.Request.Context(), &state); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save session failed"})
		return
	}

	c.JSON(http.StatusOK, model.CreateSessionResponse{
		SessionID: state.SessionID,
		State:     state,
	})
}

type userMessageRequest struct {
	Text     string    `json:"text"`
	EventID  string    `json:"event_id"`
	ClientTS time.Time `json:"client_ts"`
}

// handleSessionMessages 处理 /api/sessions/{id}/messages 路由，接收用户消息。
func (s *Server) handleSessionMessages(c *gin.Context) {
	var req userMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text required"})
		return
	}

	sessionID := c.Param("id")
	// 这里将消息交给编排器，确保走 append-first 与决策归约。
	resp, err := s.orchestrator.OnUserMessage(c.Request.Context(), sessionID, model.Event{
		Type:     "user_message",
		Text:     req.Text,
		EventID:  req.EventID,
		ClientTS: req.ClientTS,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case errors.Is(err, predictor.ErrUnavailable):
			// 上游预测服务故障对本轮是致命的：详细错误进服务端日志，
			// 返回给前端的错误保持简洁，避免误泄漏信息。
			log.Printf("[API] predictor unavailable: session=%s err=%v", sessionID, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "prediction service unavailable"})
		default:
			log.Printf("[API] handle message failed: session=%s err=%v", sessionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "handle message failed"})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handleSessionTimeline 处理 /api/sessions/{id}/timeline 路由。
// ?context=active 返回剔除回卷事件后的预测上下文视图，默认返回全量审计日志。
func (s *Server) handleSessionTimeline(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.store.Get(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load session failed"})
		return
	}

	var (
		events []model.Event
		err    error
	)
	if c.Query("context") == "active" {
		events, err = s.timeline.ListActive(c.Request.Context(), sessionID)
	} else {
		events, err = s.timeline.List(c.Request.Context(), sessionID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load timeline failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleOperatorStream 处理客服端 WebSocket 连接，创建 Bridge 并接入升级通道。
func (s *Server) handleOperatorStream(c *gin.Context) {
	sessionID := c.Param("id")
	log.Printf("[API] operator connection request for session: %s", sessionID)

	// 验证 Session 存在
	if _, err := s.store.Get(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load session failed"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] upgrade operator websocket failed: %v", err)
		return
	}

	bridge := handoff.NewBridge(sessionID, conn, 20*time.Second)
	// 客服回复交给 Orchestrator：写时间线 + 更新会话快照。
	bridge.SetOperatorHandler(s.orchestrator.OnOperatorMessage)
	bridge.Start()

	if err := s.registry.Register(sessionID, bridge); err != nil {
		log.Printf("[API] send pending handoff failed: session=%s err=%v", sessionID, err)
	}

	defer func() {
		s.registry.Unregister(sessionID, bridge)
		_ = bridge.Close()
		log.Printf("[API] operator bridge closed for session %s", sessionID)
	}()

	// 阻塞直到连接关闭
	<-bridge.Done()
}

func newSessionID() string {
	return "S_" + uuid.NewString()
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		// 开发期：允许本地 Vite；线上应改为白名单或同源。
		if origin == "http://localhost:5173" || origin == "http://127.0.0.1:5173" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
