package models

import "time"

type Notification struct {
	NotificationID int       `gorm:"primaryKey;column:notification_id" json:"notification_id"`
	UserID         int       `gorm:"column:user_id" json:"user_id"`
	Type           string    `gorm:"column:type" json:"type"` // review|revision|approval|rejection|submission|info
	Title          string    `gorm:"column:title" json:"title"`
	Message        string    `gorm:"column:message" json:"message"`
	URL            *string   `gorm:"column:url" json:"url,omitempty"`
	IsRead         bool      `gorm:"column:is_read" json:"is_read"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
