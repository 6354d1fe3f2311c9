package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// GET /api/system_health
func (s *Server) getSystemHealth(c *gin.Context) {
	healthResponse := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(startTime).String(),
	}

	// Check database connectivity by attempting a simple query
	if _, err := s.db.CountUnresolvedAlerts(); err != nil {
		healthResponse["status"] = "unhealthy"
		healthResponse["database"] = gin.H{
			"status": "failed",
			"error":  err.Error(),
		}
		c.JSON(http.StatusServiceUnavailable, healthResponse)
		return
	}
	healthResponse["database"] = gin.H{"status": "connected"}

	healthResponse["streams"] = gin.H{
		"active": s.manager.ActiveCount(),
	}

	model := gin.H{"loaded": false}
	if s.detector != nil {
		if v := s.detector.Version(); v != "" {
			model = gin.H{"loaded": true, "version": v}
		}
	}
	healthResponse["model"] = model

	resources := gin.H{
		"goroutines": runtime.NumGoroutine(),
	}
	if s.monitor != nil {
		resources["cpu_percent"] = s.monitor.HostCPUPercent()
	}
	healthResponse["resources"] = resources

	c.JSON(http.StatusOK, healthResponse)
}
