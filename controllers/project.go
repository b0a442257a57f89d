package controllers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"capstone-portal-api/config"
	"capstone-portal-api/models"
	"capstone-portal-api/services"
	"capstone-portal-api/utils"
)

const maxProjectFileSize = 15 * 1024 * 1024 // 15 MB

var validPrograms = map[string]bool{"BSIT": true, "BSCS": true, "BSIS": true}

func uploadDir() string {
	dir := os.Getenv("UPLOAD_PATH")
	if dir == "" {
		dir = "./uploads"
	}
	return dir
}

// CreateProject handles a student's project submission: the file is stored
// under a randomized name, the project row and its audit entry are written in
// one transaction, and the submission fan-out runs after commit.
func CreateProject(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	title := utils.SanitizeInput(c.PostForm("title"))
	abstract := utils.SanitizeInput(c.PostForm("abstract"))
	program := c.PostForm("program")
	keywords := utils.SanitizeInput(c.PostForm("keywords"))
	adviser := utils.SanitizeInput(c.PostForm("adviser"))
	year, _ := strconv.Atoi(c.PostForm("year_completed"))

	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title is required"})
		return
	}
	if !validPrograms[program] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Program is required"})
		return
	}
	if year < 2000 || year > 2100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Enter a valid year"})
		return
	}

	file, err := c.FormFile("project_file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Project file is required"})
		return
	}
	if file.Size > maxProjectFileSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File exceeds maximum size of 15 MB"})
		return
	}
	if filepath.Ext(file.Filename) != ".pdf" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF files are allowed"})
		return
	}

	storedName := uuid.NewString() + ".pdf"
	destination := filepath.Join(uploadDir(), storedName)
	if err := c.SaveUploadedFile(file, destination); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store uploaded file"})
		return
	}

	now := time.Now()
	project := models.Project{
		Title:            title,
		Abstract:         abstract,
		Program:          program,
		YearCompleted:    year,
		Keywords:         keywords,
		FilePath:         storedName,
		FileNameOriginal: file.Filename,
		FileSize:         file.Size,
		UploaderID:       uid,
		Adviser:          adviser,
		Status:           models.StatusSubmitted,
		SubmittedAt:      now,
	}

	err = config.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&project).Error; err != nil {
			return err
		}
		audit := models.AuditLog{
			UserID:     uid,
			Action:     "upload",
			TargetType: "project",
			TargetID:   project.ProjectID,
			Details:    "Uploaded file: " + file.Filename,
			CreatedAt:  now,
		}
		return tx.Create(&audit).Error
	})
	if err != nil {
		// Remove file if DB failed
		if rmErr := os.Remove(destination); rmErr != nil {
			log.Printf("upload: orphan file cleanup failed: %v", rmErr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error while saving project"})
		return
	}

	dispatchSubmissionFanOut(c, project, uid)

	c.JSON(http.StatusCreated, gin.H{"project": project})
}

// dispatchSubmissionFanOut runs the submission broadcast after the project
// commit, detached from the request so a fan-out failure cannot be mistaken
// for a failed upload.
func dispatchSubmissionFanOut(c *gin.Context, project models.Project, uploaderID int) {
	var uploader models.User
	uploaderName := fmt.Sprintf("User %d", uploaderID)
	if err := config.DB.Select("user_id, full_name").First(&uploader, "user_id = ?", uploaderID).Error; err == nil {
		uploaderName = uploader.FullName
	}

	ctx := context.WithoutCancel(c.Request.Context())
	go func() {
		count := notificationService().FanOutSubmission(ctx, project, uploaderName)
		log.Printf("submission fan-out for project %d reached %d recipients", project.ProjectID, count)
	}()
}

// GetProject returns one project. Students see only their own; faculty and
// admin see everything.
func GetProject(c *gin.Context) {
	uid, _ := getCurrentUserID(c)
	roleID, _ := getCurrentRoleID(c)

	pid, err := strconv.Atoi(c.Param("id"))
	if err != nil || pid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	var project models.Project
	if err := config.DB.Preload("Uploader").Preload("Reviews").Preload("Reviews.Reviewer").
		First(&project, "project_id = ?", pid).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return
	}

	if project.UploaderID != uid && roleID != models.RoleFaculty && roleID != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"project": project})
}

// ListMyProjects returns the authenticated student's own submissions.
func ListMyProjects(c *gin.Context) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var projects []models.Project
	if err := config.DB.Where("uploader_id = ?", uid).
		Order("submitted_at DESC").
		Find(&projects).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch projects"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"projects": projects, "total": len(projects)})
}

// ResubmitProject returns a revision_requested project to the review queue.
func ResubmitProject(c *gin.Context) {
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

	project, err := reviewService().Resubmit(c.Request.Context(), pid, uid)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrProjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		case errors.Is(err, services.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		case errors.Is(err, services.ErrProjectArchived), errors.Is(err, services.ErrNotRevisable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resubmit project"})
		}
		return
	}

	dispatchSubmissionFanOut(c, *project, uid)

	c.JSON(http.StatusOK, gin.H{"project": project})
}

// ArchiveProject soft-archives a project. Admin only; archived projects
// accept no further decisions but their history stays intact.
func ArchiveProject(c *gin.Context) {
	uid, _ := getCurrentUserID(c)

	pid, err := strconv.Atoi(c.Param("id"))
	if err != nil || pid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	now := time.Now()
	err = config.DB.Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.First(&project, "project_id = ?", pid).Error; err != nil {
			return services.ErrProjectNotFound
		}
		if project.ArchivedAt != nil {
			return services.ErrProjectArchived
		}

		if err := tx.Model(&models.Project{}).
			Where("project_id = ?", pid).
			Updates(map[string]interface{}{"archived_at": now, "update_at": now}).Error; err != nil {
			return err
		}

		audit := models.AuditLog{
			UserID:     uid,
			Action:     "archive",
			TargetType: "project",
			TargetID:   pid,
			Details:    "Project archived",
			CreatedAt:  now,
		}
		return tx.Create(&audit).Error
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrProjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		case errors.Is(err, services.ErrProjectArchived):
			c.JSON(http.StatusConflict, gin.H{"error": "project already archived"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to archive project"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
