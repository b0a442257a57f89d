package models

import "time"

// OutboxEmail is a durable pending email. Attempts only ever increase; a row
// is deleted on confirmed delivery and retained as a dead letter once
// attempts reach the worker's ceiling. ClaimedUntil is a delivery lease so
// overlapping worker runs never pick up the same row.
type OutboxEmail struct {
	ID           int        `gorm:"primaryKey;column:id" json:"id"`
	ToEmail      string     `gorm:"column:to_email" json:"to_email"`
	Subject      string     `gorm:"column:subject" json:"subject"`
	Body         string     `gorm:"column:body" json:"body"`
	Attempts     int        `gorm:"column:attempts" json:"attempts"`
	LastAttempt  *time.Time `gorm:"column:last_attempt" json:"last_attempt,omitempty"`
	ClaimedUntil *time.Time `gorm:"column:claimed_until" json:"-"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
}

func (OutboxEmail) TableName() string { return "email_queue" }
