package handlers

import (
  "net/http"

  "github.com/gin-gonic/gin"

  "github.com/teachsketch-org/teachsketch-backend/internal/services"
)

type ProfileHandler struct {
  profileService services.ProfileService
}

func NewProfileHandler(profileService services.ProfileService) *ProfileHandler {
  return &ProfileHandler{profileService: profileService}
}

func (ph *ProfileHandler) GetMyProfile(c *gin.Context) {
  profile, err := ph.profileService.GetMyProfile(c.Request.Context())
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
    return
  }
  c.JSON(http.StatusOK, gin.H{"profile": profile})
}

func (ph *ProfileHandler) UpdateMyProfile(c *gin.Context) {
  var req services.UpdateProfileInput
  if err := c.ShouldBindJSON(&req); err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  profile, err := ph.profileService.UpdateMyProfile(c.Request.Context(), req)
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
    return
  }
  c.JSON(http.StatusOK, gin.H{"profile": profile})
}
