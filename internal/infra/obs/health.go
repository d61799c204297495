package obs

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandlers exposes liveness and readiness probes. Liveness is
// unconditional; readiness delegates to the injected check, which in
// opschatd pings the conversation store. The push hub and Kafka relay are
// deliberately not part of readiness: clients poll through degraded push.
type HealthHandlers struct {
	Ready func() error

	started time.Time
}

func NewHealthHandlers(ready func() error) HealthHandlers {
	return HealthHandlers{Ready: ready, started: time.Now()}
}

func (h HealthHandlers) Livez(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if !h.started.IsZero() {
		resp["uptime"] = time.Since(h.started).Round(time.Second).String()
	}
	c.JSON(http.StatusOK, resp)
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	if h.Ready != nil {
		if err := h.Ready(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
