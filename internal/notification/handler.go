package notification

import (
	"context"
	"net/http"
	"time"

	"gigsync/internal/common"
	"gigsync/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const streamWriteTimeout = 10 * time.Second

// Handler exposes the session to local UI surfaces.
type Handler struct {
	service  *Service
	logger   *logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new notification handler.
func NewHandler(service *Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		service: service,
		logger:  log.WithComponent("notification_handler"),
		upgrader: websocket.Upgrader{
			// Origin checks are left to the CORS middleware and API key.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// StreamEvent is one frame on the snapshot stream.
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ReadErrorPayload describes a rolled-back read for UI surfaces.
type ReadErrorPayload struct {
	IDs        []string `json:"ids"`
	All        bool     `json:"all"`
	Kind       string   `json:"kind"`
	Message    string   `json:"message"`
	StatusCode int      `json:"statusCode,omitempty"`
	Code       string   `json:"code,omitempty"`
}

func readErrorPayload(err *ReadError) ReadErrorPayload {
	p := ReadErrorPayload{IDs: err.IDs, All: err.All, Kind: string(common.KindOf(err)), Message: err.Error()}
	if re, ok := common.AsRequestError(err); ok {
		p.StatusCode = re.StatusCode
		p.Code = re.Code
	}
	return p
}

// GetSnapshot handles GET /api/v1/snapshot
func (h *Handler) GetSnapshot(c *gin.Context) {
	common.Success(c, http.StatusOK, h.service.Snapshot())
}

// GetSubscriptions handles GET /api/v1/subscriptions
func (h *Handler) GetSubscriptions(c *gin.Context) {
	common.Success(c, http.StatusOK, h.service.Subscriptions())
}

// Open handles POST /api/v1/notifications/:id/open
func (h *Handler) Open(c *gin.Context) {
	n, err := h.service.Open(c.Param("id"))
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, n)
}

// MarkRead handles POST /api/v1/notifications/:id/read
// The read is applied locally at once and sent with the next batch.
func (h *Handler) MarkRead(c *gin.Context) {
	if err := h.service.MarkRead(c.Param("id")); err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusAccepted, gin.H{"status": "queued"})
}

// MarkAllRead handles POST /api/v1/notifications/read-all
func (h *Handler) MarkAllRead(c *gin.Context) {
	if err := h.service.MarkAllRead(c.Request.Context()); err != nil {
		h.logger.Error("mark all read failed", "error", err)
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, gin.H{"status": "read"})
}

type refreshQuery struct {
	Page int `form:"page" binding:"omitempty,min=1"`
}

// Refresh handles POST /api/v1/refresh?page=
func (h *Handler) Refresh(c *gin.Context) {
	var q refreshQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid query parameters: "+err.Error())
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}

	if err := h.service.Refresh(c.Request.Context(), q.Page); err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, h.service.Snapshot())
}

// Delete handles DELETE /api/v1/notifications/:id
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.logger.Error("delete notification failed", "id", id, "error", err)
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, gin.H{"status": "deleted"})
}

// Stream handles GET /api/v1/stream
// It upgrades to a WebSocket and writes a snapshot on every Store change, plus
// read_error events for batched reads the server rejected.
func (h *Handler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	snaps, stopSnaps := h.service.Subscribe()
	defer stopSnaps()
	readErrs, stopErrs := h.service.SubscribeErrors()
	defer stopErrs()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Surfaces only listen; reading detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		var ev StreamEvent
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			ev = StreamEvent{Type: "snapshot", Data: snap}
		case rerr, ok := <-readErrs:
			if !ok {
				return
			}
			ev = StreamEvent{Type: "read_error", Data: readErrorPayload(rerr)}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// RegisterRoutes registers notification routes to the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/snapshot", h.GetSnapshot)
	rg.GET("/subscriptions", h.GetSubscriptions)
	rg.GET("/stream", h.Stream)
	rg.POST("/refresh", h.Refresh)
	rg.POST("/notifications/read-all", h.MarkAllRead)
	rg.POST("/notifications/:id/open", h.Open)
	rg.POST("/notifications/:id/read", h.MarkRead)
	rg.DELETE("/notifications/:id", h.Delete)
}
