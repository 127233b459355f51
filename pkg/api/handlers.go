package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SubmitDemandRequest is the body of POST /api/v1/demands.
type SubmitDemandRequest struct {
	Text        string `json:"text" binding:"required"`
	SubmitterID string `json:"submitter_id" binding:"required"`
}

// submitDemand handles POST /api/v1/demands. Negotiation runs
// asynchronously; the response carries the demand ID to follow on the
// event stream.
func (s *Server) submitDemand(c *gin.Context) {
	var req SubmitDemandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	demand, err := s.engine.SubmitDemand(c.Request.Context(), req.Text, req.SubmitterID)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, demand)
}

// listChannels handles GET /api/v1/channels.
func (s *Server) listChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": s.engine.Channels()})
}

// getChannel handles GET /api/v1/channels/:id.
func (s *Server) getChannel(c *gin.Context) {
	snapshot, ok := s.engine.Channel(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// oracleStats handles GET /api/v1/oracle/stats.
func (s *Server) oracleStats(c *gin.Context) {
	delivered, duplicates, dropped := s.engine.RouterCounters()
	c.JSON(http.StatusOK, gin.H{
		"oracle": s.engine.OracleStats(),
		"router": gin.H{
			"delivered":  delivered,
			"duplicates": duplicates,
			"dropped":    dropped,
		},
	})
}
