package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"guardian_tracker/internal/models"
	"guardian_tracker/internal/repository"
)

type childInput struct {
	FirstName        string     `json:"first_name" binding:"required"`
	LastName         string     `json:"last_name"`
	UniqueIdentifier string     `json:"unique_identifier" binding:"max=20"`
	DateOfBirth      *time.Time `json:"date_of_birth"`
	EnrollmentDate   *time.Time `json:"enrollment_date"`
	IsActive         *bool      `json:"is_active"`
}

// ListChildren returns enrolled children. ?all=true includes inactive ones.
func ListChildren(c *gin.Context) {
	children, err := svc.Store.ListChildren(c.Request.Context(), c.Query("all") != "true")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, children)
}

// CreateChild enrolls a child.
func CreateChild(c *gin.Context) {
	var input childInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid child input: " + err.Error()})
		return
	}
	child := models.Child{
		FirstName:        input.FirstName,
		LastName:         input.LastName,
		UniqueIdentifier: input.UniqueIdentifier,
		EnrollmentDate:   time.Now().UTC(),
		IsActive:         true,
	}
	if child.UniqueIdentifier == "" {
		// the column is unique, so an empty value can only be stored once
		child.UniqueIdentifier = "CH-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if input.DateOfBirth != nil {
		child.DateOfBirth = *input.DateOfBirth
	}
	if input.EnrollmentDate != nil {
		child.EnrollmentDate = *input.EnrollmentDate
	}
	if input.IsActive != nil {
		child.IsActive = *input.IsActive
	}
	if err := svc.Store.CreateChild(c.Request.Context(), &child); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, child)
}

// GetChild returns a child with its current tracking row, if any.
func GetChild(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	child, err := svc.Store.GetChild(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"child": child}
	current, err := svc.Store.LatestTracking(ctx, id)
	switch {
	case err == nil:
		resp["tracking"] = current
	case !errors.Is(err, repository.ErrNotFound):
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RecordActivity logs the outcome of a scheduled activity.
func RecordActivity(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input struct {
		Name           string     `json:"name" binding:"required"`
		Status         string     `json:"status" binding:"required,oneof=scheduled completed missed"`
		CompletionTime *float64   `json:"completion_time"`
		Timestamp      *time.Time `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid activity input: " + err.Error()})
		return
	}
	if !childExists(c, id) {
		return
	}
	a := models.Activity{
		ChildID:        id,
		Name:           input.Name,
		Status:         input.Status,
		CompletionTime: input.CompletionTime,
		Timestamp:      time.Now().UTC(),
	}
	if input.Timestamp != nil {
		a.Timestamp = *input.Timestamp
	}
	if err := svc.Store.CreateActivity(c.Request.Context(), &a); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// RecordNote stores a case note.
func RecordNote(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input struct {
		Content        string   `json:"content" binding:"required"`
		SentimentScore *float64 `json:"sentiment_score"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid note input: " + err.Error()})
		return
	}
	if s := input.SentimentScore; s != nil && (*s < 0 || *s > 1) {
		respondError(c, newFieldError("Invalid note input", map[string]string{"sentiment_score": "must be between 0 and 1"}))
		return
	}
	if !childExists(c, id) {
		return
	}
	n := models.Note{ChildID: id, Content: input.Content, SentimentScore: input.SentimentScore}
	if err := svc.Store.CreateNote(c.Request.Context(), &n); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

// RecordIncident stores a behavioral or safety incident.
func RecordIncident(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input struct {
		Description string     `json:"description" binding:"required"`
		OccurredAt  *time.Time `json:"occurred_at"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid incident input: " + err.Error()})
		return
	}
	if !childExists(c, id) {
		return
	}
	i := models.Incident{ChildID: id, Description: input.Description, OccurredAt: time.Now().UTC()}
	if input.OccurredAt != nil {
		i.OccurredAt = *input.OccurredAt
	}
	if err := svc.Store.CreateIncident(c.Request.Context(), &i); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, i)
}

func childExists(c *gin.Context, id uint) bool {
	if _, err := svc.Store.GetChild(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return false
	}
	return true
}
