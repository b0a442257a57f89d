package models

import "time"

// AuditLog is a write-only trail of state-changing actions. One row is
// created inside the same transaction as the change it describes.
type AuditLog struct {
	LogID      int       `gorm:"primaryKey;column:log_id" json:"log_id"`
	UserID     int       `gorm:"column:user_id" json:"user_id"`
	Action     string    `gorm:"column:action" json:"action"`
	TargetType string    `gorm:"column:target_type" json:"target_type"`
	TargetID   int       `gorm:"column:target_id" json:"target_id"`
	Details    string    `gorm:"column:details" json:"details"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName specifies the table for AuditLog.
func (AuditLog) TableName() string {
	return "audit_logs"
}
