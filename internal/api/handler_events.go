package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kicet3/AIMEX-back-sub002/internal/eventbus"
)

type EventsHandler struct {
	bus eventbus.EventBus
}

func NewEventsHandler(bus eventbus.EventBus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

// StreamSessionEvents pushes the session's lifecycle events (ready,
// expired, closed) to the caller as server-sent events until the client
// disconnects or the subscription ends.
func (h *EventsHandler) StreamSessionEvents(c *gin.Context) {
	events, err := h.bus.Subscribe(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(string(event.Type), event)
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
