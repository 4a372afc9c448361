package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"guardlink/internal/core/domain"
	"guardlink/internal/core/ports"
	"guardlink/internal/infrastructure/gateway/auth"
	"guardlink/internal/infrastructure/gateway/middleware"
	"guardlink/pkg/config"
	errs "guardlink/pkg/errors"
	"guardlink/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server is the parent-facing HTTP surface: it turns REST calls into
// consumer-coordinator operations and streams device status over a
// websocket.
type Server struct {
	cfg      *config.Config
	consumer ports.ConsumerService
	tokens   auth.TokenService
	logger   *zap.SugaredLogger
	ctxLog   *logger.ContextLogger

	engine *gin.Engine
	http   *http.Server
}

func NewServer(
	cfg *config.Config,
	consumer ports.ConsumerService,
	tokens auth.TokenService,
	log *zap.SugaredLogger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		cfg:      cfg,
		consumer: consumer,
		tokens:   tokens,
		logger:   log,
		ctxLog:   logger.NewContextLogger(log.Desugar()),
		engine:   engine,
	}

	engine.Use(middleware.RecoveryMiddleware(log))
	engine.Use(middleware.ErrorHandlerMiddleware(log))
	engine.Use(middleware.TracingMiddleware())
	engine.Use(middleware.RateLimitMiddleware(cfg))

	engine.GET("/health", s.health)

	api := engine.Group("/api/v1", middleware.AuthMiddleware(tokens))
	{
		device := api.Group("/devices/:id",
			middleware.RequestContextMiddleware(),
			middleware.DevicePermissionMiddleware(),
		)
		device.POST("/stream", s.requestStream)
		device.DELETE("/stream", s.stopStream)
		device.GET("/status", s.streamStatus)
	}

	s.http = &http.Server{
		Addr:         cfg.Gateway.Address,
		Handler:      engine,
		ReadTimeout:  cfg.Gateway.ReadTimeout,
		WriteTimeout: cfg.Gateway.WriteTimeout,
	}
	return s
}

// Run serves until ctx is canceled, then drains within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("gateway listening", "address", s.cfg.Gateway.Address)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Gateway.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

type streamRequestBody struct {
	Type         domain.StreamType   `json:"type" binding:"required"`
	AudioEnabled bool                `json:"audio_enabled"`
	AudioSource  domain.AudioSource  `json:"audio_source"`
	VideoQuality domain.VideoQuality `json:"video_quality"`
	AudioQuality domain.AudioQuality `json:"audio_quality"`
}

func (s *Server) requestStream(c *gin.Context) {
	deviceID := domain.DeviceID(c.Param("id"))

	var body streamRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errs.NewInvalidInputError(err.Error()))
		return
	}

	requester := domain.RequesterID(c.GetString(middleware.ContextRequesterID))
	req := domain.NewStreamRequest(body.Type, body.AudioEnabled, body.AudioSource, requester)
	if body.VideoQuality != "" {
		req.VideoQuality = body.VideoQuality
	}
	if body.AudioQuality != "" {
		req.AudioQuality = body.AudioQuality
	}

	if err := s.consumer.RequestStream(c.Request.Context(), deviceID, req); err != nil {
		c.Error(err)
		return
	}

	s.ctxLog.WithContext(c.Request.Context()).Info("stream requested",
		zap.String("type", string(req.Type)),
		zap.String("requested_by", string(requester)),
	)

	c.JSON(http.StatusAccepted, gin.H{
		"device_id": deviceID,
		"request":   req,
	})
}

func (s *Server) stopStream(c *gin.Context) {
	deviceID := domain.DeviceID(c.Param("id"))

	err := s.consumer.StopStream(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.Error(errs.NewNotFoundError("session"))
			return
		}
		c.Error(err)
		return
	}

	s.ctxLog.WithContext(c.Request.Context()).Info("stream stopped")

	c.JSON(http.StatusOK, gin.H{"device_id": deviceID, "stopped": true})
}

// streamStatus upgrades to a websocket and forwards the device's status
// feed until the client goes away or the subscription ends.
func (s *Server) streamStatus(c *gin.Context) {
	deviceID := domain.DeviceID(c.Param("id"))

	statuses, cancelSub, err := s.consumer.ObserveStatus(c.Request.Context(), deviceID)
	if err != nil {
		c.Error(err)
		return
	}
	defer cancelSub()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "device_id", deviceID, "error", err)
		return
	}
	defer conn.Close()

	s.logger.Infow("status stream opened", "device_id", deviceID)

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	pingTicker := time.NewTicker(s.cfg.Gateway.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case status, ok := <-statuses:
			if !ok {
				return
			}
			if status == nil {
				// Slot removed; the producer cleared the subtree.
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(s.cfg.Gateway.WriteTimeout))
			if err := conn.WriteJSON(status); err != nil {
				s.logger.Debugw("status write failed", "device_id", deviceID, "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.Gateway.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debugw("status stream read error", "device_id", deviceID, "error", err)
			}
			return

		case <-c.Request.Context().Done():
			return
		}
	}
}
