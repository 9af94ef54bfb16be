package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"guardian_tracker/internal/models"
)

type wearableInput struct {
	ChildID     uint   `json:"child_id" binding:"required"`
	DeviceID    string `json:"device_id" binding:"required,max=100"`
	Description string `json:"description"`
	Secret      string `json:"secret"`
	IsActive    *bool  `json:"is_active"`
}

// ListWearables returns every registered wearable.
func ListWearables(c *gin.Context) {
	devices, err := svc.Store.ListWearables(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, devices)
}

// CreateWearable registers a wearable for a child. The secret is stored as a
// bcrypt hash; a device registered without one is not challenged.
func CreateWearable(c *gin.Context) {
	var input wearableInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid wearable input: " + err.Error()})
		return
	}
	if !childExists(c, input.ChildID) {
		return
	}
	w := models.WearableDevice{
		ChildID:     input.ChildID,
		DeviceID:    input.DeviceID,
		Description: input.Description,
		IsActive:    true,
	}
	if input.IsActive != nil {
		w.IsActive = *input.IsActive
	}
	if input.Secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Secret), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not hash device secret"})
			return
		}
		w.SecretHash = string(hash)
	}
	if err := svc.Store.CreateWearable(c.Request.Context(), &w); err != nil {
		respondError(c, err)
		return
	}
	logrus.WithFields(logrus.Fields{"device_id": w.DeviceID, "child_id": w.ChildID}).Info("Wearable registered.")
	c.JSON(http.StatusCreated, w)
}

// UpdateWearable edits a wearable. Only the fields present are changed.
func UpdateWearable(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input struct {
		ChildID     *uint   `json:"child_id"`
		Description *string `json:"description"`
		Secret      *string `json:"secret"`
		IsActive    *bool   `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid wearable input: " + err.Error()})
		return
	}
	ctx := c.Request.Context()
	w, err := svc.Store.GetWearable(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if input.ChildID != nil {
		if !childExists(c, *input.ChildID) {
			return
		}
		w.ChildID = *input.ChildID
	}
	if input.Description != nil {
		w.Description = *input.Description
	}
	if input.IsActive != nil {
		w.IsActive = *input.IsActive
	}
	if input.Secret != nil {
		w.SecretHash = ""
		if *input.Secret != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(*input.Secret), bcrypt.DefaultCost)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not hash device secret"})
				return
			}
			w.SecretHash = string(hash)
		}
	}
	if err := svc.Store.SaveWearable(ctx, &w); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// DeleteWearable removes a wearable.
func DeleteWearable(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := svc.Store.DeleteWearable(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Wearable deleted"})
}
