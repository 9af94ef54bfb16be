package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultAnomalyLimit = 50
	maxAnomalyLimit     = 500
)

// GetDashboard returns the per-child status snapshot.
func GetDashboard(c *gin.Context) {
	entries, err := svc.Dashboard.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// GetRiskScore returns the latest stored assessment for a child.
func GetRiskScore(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if !childExists(c, id) {
		return
	}
	r, err := svc.Store.LatestRiskAssessment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ScoreRisk computes and stores a fresh assessment.
func ScoreRisk(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	r, err := svc.Scorer.Score(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// ListAnomalies returns a child's most recent findings, newest first.
func ListAnomalies(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit := defaultAnomalyLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAnomalyLimit {
			respondError(c, newFieldError("Invalid limit", map[string]string{"limit": "must be between 1 and 500"}))
			return
		}
		limit = n
	}
	if !childExists(c, id) {
		return
	}
	rows, err := svc.Store.ListAnomalies(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// DetectAnomalies runs every detector for one child right away.
func DetectAnomalies(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	findings, err := svc.Engine.Run(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"child_id": id, "findings": findings})
}
