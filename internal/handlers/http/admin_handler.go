package http

import (
	"net/http"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
	apperrors "dualgate/pkg/errors"
	"dualgate/pkg/validation"

	"github.com/gin-gonic/gin"
)

// RelaySwitch toggles whether real-time requests are relayed or noticed.
type RelaySwitch interface {
	SetRealtimeAllowed(allowed bool)
	RealtimeAllowed() bool
}

// ConnectionCounter reports live connections per transport.
type ConnectionCounter interface {
	Counts() (plain, secure int64)
}

type AdminHandler struct {
	registry     ports.ConnectionRegistry
	history      ports.HistoryRegistry
	disconnector ports.Disconnector
	counter      ConnectionCounter
	sink         ports.InboundSink
	relay        RelaySwitch
}

var _ ports.AdminHandler = (*AdminHandler)(nil)

func NewAdminHandler(
	registry ports.ConnectionRegistry,
	history ports.HistoryRegistry,
	disconnector ports.Disconnector,
	counter ConnectionCounter,
	sink ports.InboundSink,
	relay RelaySwitch,
) *AdminHandler {
	return &AdminHandler{
		registry:     registry,
		history:      history,
		disconnector: disconnector,
		counter:      counter,
		sink:         sink,
		relay:        relay,
	}
}

// SetupRoutes mounts the admin API on group. Authentication is left to the
// caller's middleware.
func (h *AdminHandler) SetupRoutes(group *gin.RouterGroup) {
	group.GET("/connections", h.ListConnections)
	group.GET("/connections/:id", h.GetConnection)
	group.DELETE("/connections/:id", h.DisconnectConnection)
	group.GET("/history", h.ListHistory)
	group.GET("/queues", h.QueueStats)
	group.PUT("/relay", h.SetRelay)
}

func (h *AdminHandler) ListConnections(c *gin.Context) {
	sourceID := c.Query("source_id")

	conns := h.registry.Snapshot()
	infos := make([]domain.ConnectionInfo, 0, len(conns))
	for _, conn := range conns {
		if sourceID != "" && conn.SourceID() != sourceID {
			continue
		}
		infos = append(infos, conn.Snapshot())
	}

	plain, secure := h.counter.Counts()
	c.JSON(http.StatusOK, gin.H{
		"connections": infos,
		"count":       len(infos),
		"plain":       plain,
		"tls":         secure,
	})
}

func (h *AdminHandler) GetConnection(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok {
		return
	}

	if conn, found := h.registry.Get(id); found {
		c.JSON(http.StatusOK, gin.H{"connection": conn.Snapshot(), "active": true})
		return
	}
	if entry, found := h.history.Get(id); found {
		c.JSON(http.StatusOK, gin.H{
			"connection":      entry.Info,
			"active":          false,
			"reason":          entry.Reason,
			"disconnected_at": entry.DisconnectedAt,
		})
		return
	}

	_ = c.Error(apperrors.NewNotFoundError("connection").WithContext("id", id))
}

func (h *AdminHandler) DisconnectConnection(c *gin.Context) {
	id, ok := h.connectionID(c)
	if !ok {
		return
	}

	if !h.disconnector.Disconnect(c.Request.Context(), id, domain.ReasonAdmin) {
		if entry, found := h.history.Get(id); found {
			_ = c.Error(apperrors.NewConflictError("connection already closed").
				WithContext("id", id).
				WithContext("reason", entry.Reason))
			return
		}
		_ = c.Error(apperrors.NewNotFoundError("connection").WithContext("id", id))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) ListHistory(c *gin.Context) {
	entries := h.history.List()
	c.JSON(http.StatusOK, gin.H{
		"history": entries,
		"count":   len(entries),
	})
}

func (h *AdminHandler) QueueStats(c *gin.Context) {
	depths := make(map[string]int, domain.PriorityCount)
	for _, p := range domain.Priorities {
		depths[p.String()] = h.sink.Depth(p)
	}
	c.JSON(http.StatusOK, gin.H{
		"capacity": h.sink.Capacity(),
		"depths":   depths,
	})
}

func (h *AdminHandler) SetRelay(c *gin.Context) {
	var req struct {
		Allowed *bool `json:"allowed" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	h.relay.SetRealtimeAllowed(*req.Allowed)
	c.JSON(http.StatusOK, gin.H{"realtime_allowed": h.relay.RealtimeAllowed()})
}

func (h *AdminHandler) connectionID(c *gin.Context) (domain.ConnectionID, bool) {
	raw, err := validation.ValidateConnectionID(c.Param("id"))
	if err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return 0, false
	}
	return domain.ConnectionID(raw), true
}
