package models

import (
	"fmt"
	"time"
)

// ProjectStatus is the closed set of lifecycle states a project may hold.
// Only the review workflow changes it after creation.
type ProjectStatus string

const (
	StatusSubmitted         ProjectStatus = "submitted"
	StatusUnderReview       ProjectStatus = "under_review"
	StatusApproved          ProjectStatus = "approved"
	StatusRejected          ProjectStatus = "rejected"
	StatusRevisionRequested ProjectStatus = "revision_requested"
)

// ReviewDecision is the closed set of decisions a reviewer may record.
type ReviewDecision string

const (
	DecisionApprove         ReviewDecision = "approve"
	DecisionRequestRevision ReviewDecision = "request_revision"
	DecisionReject          ReviewDecision = "reject"
)

// ParseReviewDecision validates a raw decision value from a request payload.
func ParseReviewDecision(raw string) (ReviewDecision, error) {
	switch ReviewDecision(raw) {
	case DecisionApprove, DecisionRequestRevision, DecisionReject:
		return ReviewDecision(raw), nil
	}
	return "", fmt.Errorf("invalid decision %q", raw)
}

// TargetStatus maps a decision to the lifecycle state it moves the project to.
func (d ReviewDecision) TargetStatus() ProjectStatus {
	switch d {
	case DecisionApprove:
		return StatusApproved
	case DecisionRequestRevision:
		return StatusRevisionRequested
	case DecisionReject:
		return StatusRejected
	}
	// Unreachable for values produced by ParseReviewDecision.
	return StatusSubmitted
}

type Project struct {
	ProjectID        int           `gorm:"primaryKey;column:project_id" json:"project_id"`
	Title            string        `gorm:"column:title" json:"title"`
	Abstract         string        `gorm:"column:abstract" json:"abstract"`
	Program          string        `gorm:"column:program" json:"program"`
	YearCompleted    int           `gorm:"column:year_completed" json:"year_completed"`
	Keywords         string        `gorm:"column:keywords" json:"keywords"`
	FilePath         string        `gorm:"column:file_path" json:"-"`
	FileNameOriginal string        `gorm:"column:file_name_original" json:"file_name_original"`
	FileSize         int64         `gorm:"column:file_size" json:"file_size"`
	UploaderID       int           `gorm:"column:uploader_id" json:"uploader_id"`
	Adviser          string        `gorm:"column:adviser" json:"adviser"`
	Status           ProjectStatus `gorm:"column:status" json:"status"`
	SubmittedAt      time.Time     `gorm:"column:submitted_at" json:"submitted_at"`
	UpdateAt         *time.Time    `gorm:"column:update_at" json:"update_at,omitempty"`
	ArchivedAt       *time.Time    `gorm:"column:archived_at" json:"archived_at,omitempty"`

	// Relations
	Uploader *User    `gorm:"foreignKey:UploaderID" json:"uploader,omitempty"`
	Reviews  []Review `gorm:"foreignKey:ProjectID" json:"reviews,omitempty"`
}

// TableName overrides the table name for Project
func (Project) TableName() string {
	return "projects"
}
