package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /get_settings
func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.settings.Get())
}

// POST /update_settings
// Accepts a partial settings object. Valid keys are applied atomically,
// invalid ones reported back; a model_version change hot-swaps the detector.
func (s *Server) updateSettings(c *gin.Context) {
	var payload map[string]json.RawMessage
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if len(payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty settings payload"})
		return
	}

	prevVersion := s.settings.Get().ModelVersion
	applied, rejected := s.settings.Update(payload)

	response := gin.H{"applied": applied}
	if len(rejected) > 0 {
		response["rejected"] = rejected
	}

	// Swap the detection model outside the settings store so a load failure
	// never blocks the other keys. On failure the model_version key is rolled
	// back so the settings keep describing the model actually serving.
	for i, key := range applied {
		if key != "model_version" {
			continue
		}
		if s.detector == nil {
			break
		}
		version := s.settings.Get().ModelVersion
		if err := s.detector.Swap(version); err != nil {
			log.Printf("[api] error swapping model to %s: %v", version, err)
			response["model_error"] = err.Error()

			raw, _ := json.Marshal(prevVersion)
			s.settings.Update(map[string]json.RawMessage{"model_version": raw})
			applied = append(applied[:i], applied[i+1:]...)
			response["applied"] = applied
			if rejected == nil {
				rejected = make(map[string]string)
			}
			rejected["model_version"] = err.Error()
			response["rejected"] = rejected
		}
		break
	}

	response["settings"] = s.settings.Get()
	c.JSON(http.StatusOK, response)
}
