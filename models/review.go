package models

import "time"

// Review is an append-only record of a reviewer decision. Rows are never
// updated; a project accumulates one row per decision over its lifetime.
type Review struct {
	ReviewID   int            `gorm:"primaryKey;column:review_id" json:"review_id"`
	ProjectID  int            `gorm:"column:project_id" json:"project_id"`
	ReviewerID int            `gorm:"column:reviewer_id" json:"reviewer_id"`
	Decision   ReviewDecision `gorm:"column:decision" json:"decision"`
	Comment    string         `gorm:"column:comment" json:"comment"`
	CreatedAt  time.Time      `gorm:"column:created_at" json:"created_at"`

	Reviewer *User `gorm:"foreignKey:ReviewerID" json:"reviewer,omitempty"`
}

// TableName specifies the table name for Review.
func (Review) TableName() string {
	return "reviews"
}
