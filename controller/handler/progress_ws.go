package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"bundle-packager/controller/respond"
	"bundle-packager/logger"
	"bundle-packager/model"
	"bundle-packager/service/job_service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage frame sent to progress subscribers
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// TypeSnapshot first frame of every stream, the job as it is on connect
const TypeSnapshot = "snapshot"

// ProgressHandler streams job progress over WebSocket
type ProgressHandler struct {
	orchestrator *job_service.Orchestrator
	pingPeriod   time.Duration
}

// NewProgressHandler create progress handler instance
func NewProgressHandler(orchestrator *job_service.Orchestrator) *ProgressHandler {
	return &ProgressHandler{orchestrator: orchestrator, pingPeriod: pingPeriod}
}

// Stream GET /api/v1/jobs/:id/events
func (h *ProgressHandler) Stream(c *gin.Context) {
	jobID := c.Param("id")
	// subscribe before the snapshot so no event falls in between
	events, unsubscribe := h.orchestrator.SubscribeProgress(c.Request.Context(), jobID)
	defer unsubscribe()

	job, err := h.orchestrator.Get(c.Request.Context(), jobID)
	if err != nil {
		jobError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response
		logger.WarnKV(c.Request.Context(), "WebSocket upgrade failed", "jobId", jobID, "error", err)
		return
	}
	defer conn.Close()

	ctx := logger.WithKV(c.Request.Context(), "jobId", jobID, "remote", c.ClientIP())
	logger.DebugKV(ctx, "Progress stream opened")

	done := make(chan struct{})
	go readPump(conn, done)

	if err := writeJSON(conn, WSMessage{Type: TypeSnapshot, Data: respond.ToJob(job)}); err != nil {
		return
	}
	h.writePump(ctx, conn, events, done)
	logger.DebugKV(ctx, "Progress stream closed")
}

// readPump consumes client frames so pongs and close frames are processed
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *ProgressHandler) writePump(ctx context.Context, conn *websocket.Conn, events <-chan model.ProgressEvent, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeJSON(conn, WSMessage{Type: string(ev.Type), Data: ev}); err != nil {
				logger.DebugKV(ctx, "Progress write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, msg WSMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
