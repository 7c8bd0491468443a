package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kicet3/AIMEX-back-sub002/internal/gpu"
	"github.com/kicet3/AIMEX-back-sub002/internal/health"
)

type HealthHandler struct {
	probe *health.Probe
}

func NewHealthHandler(probe *health.Probe) *HealthHandler {
	return &HealthHandler{probe: probe}
}

func (h *HealthHandler) CheckService(c *gin.Context) {
	service := gpu.ServiceType(c.Param("service"))
	if _, ok := gpu.SpecFor(service); !ok {
		respondError(c, http.StatusNotFound, fmt.Errorf("unknown service type %q", service))
		return
	}

	result := h.probe.Check(c.Request.Context(), service)

	code := http.StatusOK
	if !result.Status.Usable() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, result)
}

func (h *HealthHandler) CheckAllServices(c *gin.Context) {
	results := h.probe.CheckAll(c.Request.Context())
	summary := health.Summarize(results)

	code := http.StatusOK
	if summary.Overall == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"services": results,
		"summary":  summary,
	})
}
