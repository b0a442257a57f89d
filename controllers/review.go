package controllers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"capstone-portal-api/config"
	"capstone-portal-api/models"
	"capstone-portal-api/services"
)

func reviewService() *services.ReviewService {
	return services.NewReviewService(config.DB)
}

func notificationService() *services.NotificationService {
	return services.NewNotificationService(config.DB, nil)
}

type submitReviewReq struct {
	Decision string  `json:"decision" binding:"required"`
	Comment  *string `json:"comment" binding:"required"`
}

// SubmitReview records a reviewer decision. The decision transaction is the
// source of truth; notification fan-out is dispatched after commit and its
// outcome never reaches this response.
func SubmitReview(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	pid, err := strconv.Atoi(c.Param("id"))
	if err != nil || pid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	var req submitReviewReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision and comment fields are required"})
		return
	}

	decision, err := models.ParseReviewDecision(req.Decision)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid decision"})
		return
	}

	result, err := reviewService().RecordDecision(c.Request.Context(), services.DecisionInput{
		ProjectID:  pid,
		ReviewerID: uid,
		Decision:   decision,
		Comment:    *req.Comment,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidDecision):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid decision"})
		case errors.Is(err, services.ErrProjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		case errors.Is(err, services.ErrProjectArchived):
			c.JSON(http.StatusConflict, gin.H{"error": "project is archived"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error while saving review"})
		}
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	go func() {
		count := notificationService().FanOutDecision(ctx, result.Project, result.Review)
		log.Printf("decision fan-out for project %d reached %d recipients", result.Project.ProjectID, count)
	}()

	c.JSON(http.StatusOK, gin.H{
		"project": result.Project,
		"review":  result.Review,
	})
}

// BeginReview claims a submitted project for the acting reviewer.
func BeginReview(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	pid, err := strconv.Atoi(c.Param("id"))
	if err != nil || pid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	project, err := reviewService().BeginReview(c.Request.Context(), pid, uid)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrProjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		case errors.Is(err, services.ErrProjectArchived), errors.Is(err, services.ErrNotAwaitingReview):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to begin review"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"project": project})
}

// GetReviewQueue lists projects waiting for reviewer action.
func GetReviewQueue(c *gin.Context) {
	statusFilter := c.DefaultQuery("status", string(models.StatusSubmitted))
	switch models.ProjectStatus(statusFilter) {
	case models.StatusSubmitted, models.StatusUnderReview, models.StatusRevisionRequested:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
		return
	}

	var projects []models.Project
	if err := config.DB.Preload("Uploader").
		Where("status = ? AND archived_at IS NULL", statusFilter).
		Order("submitted_at ASC").
		Find(&projects).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch review queue"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"projects": projects, "total": len(projects)})
}

// GetProjectReviews returns the append-only review history of a project.
func GetProjectReviews(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("id"))
	if err != nil || pid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	var reviews []models.Review
	if err := config.DB.Preload("Reviewer").
		Where("project_id = ?", pid).
		Order("created_at ASC").
		Find(&reviews).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch reviews"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reviews": reviews, "total": len(reviews)})
}
