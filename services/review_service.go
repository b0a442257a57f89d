package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"capstone-portal-api/config"
	"capstone-portal-api/models"
)

var (
	ErrInvalidDecision   = errors.New("invalid review decision")
	ErrProjectNotFound   = errors.New("project not found")
	ErrProjectArchived   = errors.New("project is archived")
	ErrNotAwaitingReview = errors.New("project is not awaiting review")
	ErrNotRevisable      = errors.New("project is not awaiting revision")
	ErrNotOwner          = errors.New("project belongs to another user")
)

// DecisionInput carries an authenticated reviewer's decision. The caller has
// already authorized the reviewer; the service trusts the identity but
// validates everything else before writing.
type DecisionInput struct {
	ProjectID  int
	ReviewerID int
	Decision   models.ReviewDecision
	Comment    string
}

// DecisionResult reports the state produced by a committed decision.
type DecisionResult struct {
	Project models.Project
	Review  models.Review
}

// ReviewService owns every lifecycle transition of a project after creation.
type ReviewService struct {
	db *gorm.DB
}

func NewReviewService(db *gorm.DB) *ReviewService {
	if db == nil {
		db = config.DB
	}
	return &ReviewService{db: db}
}

// RecordDecision appends a review row, moves the project to the status the
// decision maps to, and writes the audit entry — all in one transaction.
// Either all three writes commit or none do. Notification fan-out is the
// caller's post-commit concern and must never roll this back.
func (s *ReviewService) RecordDecision(ctx context.Context, in DecisionInput) (*DecisionResult, error) {
	if _, err := models.ParseReviewDecision(string(in.Decision)); err != nil {
		return nil, ErrInvalidDecision
	}

	target := in.Decision.TargetStatus()
	now := time.Now()
	result := &DecisionResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.First(&project, "project_id = ?", in.ProjectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProjectNotFound
			}
			return fmt.Errorf("load project: %w", err)
		}
		if project.ArchivedAt != nil {
			return ErrProjectArchived
		}

		review := models.Review{
			ProjectID:  project.ProjectID,
			ReviewerID: in.ReviewerID,
			Decision:   in.Decision,
			Comment:    in.Comment,
			CreatedAt:  now,
		}
		if err := tx.Create(&review).Error; err != nil {
			return fmt.Errorf("insert review: %w", err)
		}

		if err := tx.Model(&models.Project{}).
			Where("project_id = ?", project.ProjectID).
			Updates(map[string]interface{}{
				"status":    target,
				"update_at": now,
			}).Error; err != nil {
			return fmt.Errorf("update project status: %w", err)
		}

		audit := models.AuditLog{
			UserID:     in.ReviewerID,
			Action:     "review",
			TargetType: "project",
			TargetID:   project.ProjectID,
			Details:    fmt.Sprintf("Decision: %s; Comment: %s", in.Decision, in.Comment),
			CreatedAt:  now,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}

		project.Status = target
		project.UpdateAt = &now
		result.Project = project
		result.Review = review
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BeginReview claims a submitted project for review, moving it to
// under_review. Only the submitted state is claimable; a second reviewer
// racing on the same project gets a conflict instead of a silent overwrite.
func (s *ReviewService) BeginReview(ctx context.Context, projectID, reviewerID int) (*models.Project, error) {
	now := time.Now()
	var project models.Project

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&project, "project_id = ?", projectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProjectNotFound
			}
			return fmt.Errorf("load project: %w", err)
		}
		if project.ArchivedAt != nil {
			return ErrProjectArchived
		}
		if project.Status != models.StatusSubmitted {
			return ErrNotAwaitingReview
		}

		// The status predicate makes the claim atomic: two reviewers racing
		// on the same project both pass the read above, but only one UPDATE
		// matches and the loser gets a conflict.
		res := tx.Model(&models.Project{}).
			Where("project_id = ? AND status = ?", projectID, models.StatusSubmitted).
			Updates(map[string]interface{}{
				"status":    models.StatusUnderReview,
				"update_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("update project status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotAwaitingReview
		}

		audit := models.AuditLog{
			UserID:     reviewerID,
			Action:     "review_begin",
			TargetType: "project",
			TargetID:   projectID,
			Details:    "Review started",
			CreatedAt:  now,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}

		project.Status = models.StatusUnderReview
		project.UpdateAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// Resubmit returns a revision_requested project to the submitted state so it
// re-enters the review queue. Only the uploader may resubmit.
func (s *ReviewService) Resubmit(ctx context.Context, projectID, ownerID int) (*models.Project, error) {
	now := time.Now()
	var project models.Project

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&project, "project_id = ?", projectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProjectNotFound
			}
			return fmt.Errorf("load project: %w", err)
		}
		if project.ArchivedAt != nil {
			return ErrProjectArchived
		}
		if project.UploaderID != ownerID {
			return ErrNotOwner
		}
		if project.Status != models.StatusRevisionRequested {
			return ErrNotRevisable
		}

		if err := tx.Model(&models.Project{}).
			Where("project_id = ?", projectID).
			Updates(map[string]interface{}{
				"status":       models.StatusSubmitted,
				"submitted_at": now,
				"update_at":    now,
			}).Error; err != nil {
			return fmt.Errorf("update project status: %w", err)
		}

		audit := models.AuditLog{
			UserID:     ownerID,
			Action:     "resubmit",
			TargetType: "project",
			TargetID:   projectID,
			Details:    "Project resubmitted after revision",
			CreatedAt:  now,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}

		project.Status = models.StatusSubmitted
		project.SubmittedAt = now
		project.UpdateAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}
