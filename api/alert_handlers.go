package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GET /api/alerts?limit=50&offset=0
func (s *Server) listAlerts(c *gin.Context) {
	limit, offset := paging(c, 50)
	alerts, err := s.db.ListAlerts(limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// POST /api/alerts/:id/resolve
func (s *Server) resolveAlert(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	if err := s.db.ResolveAlert(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": id})
}

// POST /api/alerts/clear
func (s *Server) clearAlerts(c *gin.Context) {
	if err := s.db.ClearAlerts(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// GET /api/alerts/unresolved_count
func (s *Server) countUnresolvedAlerts(c *gin.Context) {
	count, err := s.db.CountUnresolvedAlerts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// GET /api/snapshots?camera_id=&limit=50&offset=0
func (s *Server) listSnapshots(c *gin.Context) {
	limit, offset := paging(c, 50)
	snapshots, err := s.db.ListSnapshots(c.Query("camera_id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots})
}

func paging(c *gin.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("offset", "")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
