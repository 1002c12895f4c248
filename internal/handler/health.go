package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/ledgergate/internal/health"
)

// ReadinessSource reports ledger reachability. *health.Checker satisfies it.
type ReadinessSource interface {
	Snapshot() health.Snapshot
}

// Liveness handles GET /healthz.
func Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness returns a handler for GET /readyz: 200 while the ledger is
// reachable, 503 otherwise.
func Readiness(src ReadinessSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := src.Snapshot()
		status := http.StatusOK
		if !snap.Ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, snap)
	}
}
