package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleGetBrief returns the persisted brief for one meeting.
func (s *Server) handleGetBrief(c *gin.Context) {
	user := currentUser(c)
	meetingID := c.Param("meeting_id")

	brief, err := s.briefs.Get(c.Request.Context(), user.ID, meetingID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, brief)
}
