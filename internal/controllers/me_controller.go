package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// UpdatePreferences toggles the caller's email and push channels. In-app
// notifications cannot be switched off.
func UpdatePreferences(c *gin.Context) {
	var input struct {
		NotifyEmail *bool `json:"notify_email"`
		NotifyPush  *bool `json:"notify_push"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid preferences input: " + err.Error()})
		return
	}
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if input.NotifyEmail != nil {
		user.NotifyEmail = *input.NotifyEmail
	}
	if input.NotifyPush != nil {
		user.NotifyPush = *input.NotifyPush
	}
	if err := svc.Store.SaveUser(c.Request.Context(), &user); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notify_email": user.NotifyEmail,
		"notify_push":  user.NotifyPush,
	})
}

// ListDevices returns the caller's push endpoints.
func ListDevices(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	devices, err := svc.Store.ListUserDevices(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, devices)
}

// RegisterDevice records a push token for the caller. Registering the same
// token again refreshes it.
func RegisterDevice(c *gin.Context) {
	var input struct {
		DeviceToken string `json:"device_token" binding:"required,max=255"`
		DeviceType  string `json:"device_type" binding:"omitempty,oneof=android ios web"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device input: " + err.Error()})
		return
	}
	user, ok := currentUser(c)
	if !ok {
		return
	}
	d, err := svc.Store.RegisterUserDevice(c.Request.Context(), user.ID, input.DeviceToken, input.DeviceType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// DeregisterDevice removes one of the caller's push tokens.
func DeregisterDevice(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if err := svc.Store.DeregisterUserDevice(c.Request.Context(), user.ID, c.Param("token")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device deregistered"})
}

// ListNotifications returns the caller's inbox. ?unread=true drops read ones.
func ListNotifications(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	notes, err := svc.Store.ListNotifications(c.Request.Context(), user.ID, c.Query("unread") == "true")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, notes)
}

// MarkNotificationRead flags one of the caller's notifications as read.
func MarkNotificationRead(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if err := svc.Store.MarkNotificationRead(c.Request.Context(), user.ID, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}
