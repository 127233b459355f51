package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// streamEvents handles GET /api/v1/events as Server-Sent Events.
// Query parameters: filter (event type, "prefix.*", or "*"), replay
// (how many recent matching events to send before going live).
func (s *Server) streamEvents(c *gin.Context) {
	filter := c.DefaultQuery("filter", "*")
	replay, _ := strconv.Atoi(c.DefaultQuery("replay", "0"))

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// Subscribe before replaying so nothing falls in the gap; the live
	// feed may then repeat a replayed event, which SSE consumers keyed
	// on event_id tolerate.
	feed, cancel := s.engine.Events().Subscribe(filter, 0)
	defer cancel()

	if replay > 0 {
		for _, evt := range s.engine.Events().Recent(filter, replay) {
			if err := writeSSE(c, evt); err != nil {
				return
			}
		}
		flusher.Flush()
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-feed:
			if !open {
				return
			}
			if err := writeSSE(c, evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(c *gin.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	return err
}
