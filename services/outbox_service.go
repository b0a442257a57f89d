package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"capstone-portal-api/config"
	"capstone-portal-api/models"
	"capstone-portal-api/utils"
)

const (
	// DefaultBatchSize is how many pending emails one worker tick drains.
	DefaultBatchSize = 10
	// DefaultMaxAttempts is the retry ceiling. A row that reaches it stays in
	// the table as a dead letter and is never selected again.
	DefaultMaxAttempts = 5
	// DefaultClaimLease is the floor for how long claimed rows stay invisible
	// to other worker runs. The effective lease is stretched to cover a full
	// worst-case batch, see NewOutboxService.
	DefaultClaimLease = time.Minute
)

var ErrInvalidRecipient = errors.New("invalid recipient address")

// SendFunc delivers one rendered message. config.SendMail in production.
type SendFunc func(to []string, subject, body string) error

// OutboxSummary reports one ProcessBatch run.
type OutboxSummary struct {
	Selected  int `json:"selected"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// OutboxService is the durable email queue and its delivery algorithm.
// Creation and delivery share nothing but the email_queue table.
type OutboxService struct {
	db          *gorm.DB
	send        SendFunc
	batchSize   int
	maxAttempts int
	lease       time.Duration
}

func NewOutboxService(db *gorm.DB, send SendFunc) *OutboxService {
	if db == nil {
		db = config.DB
	}
	if send == nil {
		send = config.SendMail
	}

	// The batch is processed serially and every send may run up to the full
	// SMTP timeout, so a lease shorter than batchSize sends would expire
	// while the tail of the batch is still unattempted and let an
	// overlapping run re-claim those rows. Stretch the lease to outlive the
	// slowest possible batch.
	lease := DefaultClaimLease
	if worst := time.Duration(DefaultBatchSize)*config.MailTimeout() + DefaultClaimLease; worst > lease {
		lease = worst
	}

	return &OutboxService{
		db:          db,
		send:        send,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
		lease:       lease,
	}
}

// Enqueue stores an email for asynchronous delivery. The address is resolved
// by the caller and frozen here; later address changes never affect a queued
// message.
func (s *OutboxService) Enqueue(ctx context.Context, toEmail, subject, body string) error {
	if !utils.ValidateEmail(toEmail) {
		return ErrInvalidRecipient
	}
	entry := models.OutboxEmail{
		ToEmail:   toEmail,
		Subject:   subject,
		Body:      body,
		Attempts:  0,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

// ProcessBatch drains up to batchSize pending entries, oldest first. Each
// entry is claimed under a lease before delivery so overlapping worker runs
// cannot send the same message twice. Success deletes the row; failure
// increments attempts and releases the claim for the next tick. A crash
// between transport acceptance and the delete can duplicate a send; delivery
// is at-least-once.
func (s *OutboxService) ProcessBatch(ctx context.Context) (*OutboxSummary, error) {
	batch, err := s.claimBatch(ctx)
	if err != nil {
		return nil, err
	}

	summary := &OutboxSummary{Selected: len(batch)}
	for _, entry := range batch {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := s.send([]string{entry.ToEmail}, entry.Subject, entry.Body); err != nil {
			log.Printf("outbox: delivery failed for entry %d (to=%s attempts=%d): %v",
				entry.ID, entry.ToEmail, entry.Attempts+1, err)
			if err := s.recordFailure(ctx, entry.ID); err != nil {
				log.Printf("outbox: failure bookkeeping for entry %d: %v", entry.ID, err)
			}
			summary.Failed++
			continue
		}
		if err := s.db.WithContext(ctx).Delete(&models.OutboxEmail{}, entry.ID).Error; err != nil {
			log.Printf("outbox: delivered entry %d but delete failed: %v", entry.ID, err)
			summary.Failed++
			continue
		}
		summary.Delivered++
	}
	return summary, nil
}

// claimBatch selects deliverable rows under FOR UPDATE SKIP LOCKED and
// stamps a lease on them in the same transaction.
func (s *OutboxService) claimBatch(ctx context.Context) ([]models.OutboxEmail, error) {
	now := time.Now()
	var batch []models.OutboxEmail

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("attempts < ?", s.maxAttempts).
			Where("claimed_until IS NULL OR claimed_until < ?", now).
			Order("created_at ASC").
			Limit(s.batchSize).
			Find(&batch).Error; err != nil {
			return fmt.Errorf("select outbox batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		ids := make([]int, 0, len(batch))
		for _, e := range batch {
			ids = append(ids, e.ID)
		}
		until := now.Add(s.lease)
		if err := tx.Model(&models.OutboxEmail{}).
			Where("id IN ?", ids).
			Update("claimed_until", until).Error; err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *OutboxService) recordFailure(ctx context.Context, id int) error {
	return s.db.WithContext(ctx).Model(&models.OutboxEmail{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":      gorm.Expr("attempts + 1"),
			"last_attempt":  time.Now(),
			"claimed_until": nil,
		}).Error
}

// DeadLetters lists entries that exhausted their retries, for manual
// inspection. They are never deleted automatically.
func (s *OutboxService) DeadLetters(ctx context.Context, limit int) ([]models.OutboxEmail, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var rows []models.OutboxEmail
	err := s.db.WithContext(ctx).
		Where("attempts >= ?", s.maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// PendingCount reports deliverable entries still waiting in the queue.
func (s *OutboxService) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.OutboxEmail{}).
		Where("attempts < ?", s.maxAttempts).
		Count(&n).Error
	return n, err
}
