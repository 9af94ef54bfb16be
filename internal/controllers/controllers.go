// Package controllers holds the gin handlers of the tracking API.
//
// Handlers are plain gin.HandlerFuncs working against the application
// wired by Init.
package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/anomaly"
	"guardian_tracker/internal/app"
	"guardian_tracker/internal/geofence"
	"guardian_tracker/internal/repository"
	"guardian_tracker/internal/risk"
	"guardian_tracker/internal/tracking"
)

var svc *app.App

// Init installs the application the handlers work against.
func Init(a *app.App) {
	svc = a
}

// FieldError is a validation failure tied to request fields.
type FieldError struct {
	Message string
	Fields  map[string]string
}

func (e *FieldError) Error() string { return e.Message }

func newFieldError(msg string, fields map[string]string) *FieldError {
	return &FieldError{Message: msg, Fields: fields}
}

// respondError maps a domain error onto a status code and a JSON body.
func respondError(c *gin.Context, err error) {
	var fe *FieldError
	switch {
	case errors.As(err, &fe):
		c.JSON(http.StatusBadRequest, gin.H{"error": fe.Message, "fields": fe.Fields})
	case errors.Is(err, tracking.ErrInvalidPosition),
		errors.Is(err, tracking.ErrInvalidStatus),
		errors.Is(err, geofence.ErrInvalidSafeZone):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, tracking.ErrDeviceUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, tracking.ErrDeviceInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, tracking.ErrEntityNotFound),
		errors.Is(err, tracking.ErrDeviceNotFound),
		errors.Is(err, anomaly.ErrEntityNotFound),
		errors.Is(err, risk.ErrEntityNotFound),
		errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed.")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// idParam reads a positive numeric path parameter.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		respondError(c, newFieldError("Invalid "+name, map[string]string{name: "must be a positive integer"}))
		return 0, false
	}
	return uint(id), true
}
