package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/sweep"
)

const sweepTimeout = 30 * time.Minute

// TriggerSweep starts a batch pass in the background and answers 202.
// The kind comes from the path: escapes, anomalies or risk. Anomaly sweeps
// honor ?force=true to ignore the skip window.
func TriggerSweep(c *gin.Context) {
	kind := c.Param("kind")
	force := c.Query("force") == "true"

	var run func(ctx context.Context) (sweep.Summary, error)
	switch kind {
	case sweep.KindEscapes:
		run = svc.Runner.RunEscapes
	case sweep.KindAnomalies:
		run = func(ctx context.Context) (sweep.Summary, error) { return svc.Runner.RunAnomalies(ctx, force) }
	case sweep.KindRisk:
		run = svc.Runner.RunRisk
	default:
		respondError(c, newFieldError("Unknown sweep", map[string]string{"kind": "must be escapes, anomalies or risk"}))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := run(ctx); err != nil {
			logrus.WithError(err).WithField("sweep", kind).Error("Requested sweep failed.")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"message": "Sweep started", "kind": kind, "force": force})
}
