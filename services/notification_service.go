package services

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"capstone-portal-api/config"
	"capstone-portal-api/models"
)

const (
	// DefaultRecentLimit caps a feed poll; clients render fewer.
	DefaultRecentLimit = 10
	// DefaultRetentionDays is how long notifications are kept before the
	// maintenance job deletes them.
	DefaultRetentionDays = 30

	studentDashboardURL = "/student/dashboard"
	facultyDashboardURL = "/faculty/dashboard"
	adminDashboardURL   = "/admin/dashboard"
)

// NotificationService expands review/submission events into per-recipient
// in-app notifications and outbox emails, and serves the polled feed.
type NotificationService struct {
	db     *gorm.DB
	outbox *OutboxService
}

func NewNotificationService(db *gorm.DB, outbox *OutboxService) *NotificationService {
	if db == nil {
		db = config.DB
	}
	if outbox == nil {
		outbox = NewOutboxService(db, nil)
	}
	return &NotificationService{db: db, outbox: outbox}
}

/* ==========================
   Fan-out
   ========================== */

type recipient struct {
	UserID   int
	FullName string
	Email    string
	RoleID   int
}

// decisionMessage selects the personalized uploader message for a decision.
// The reviewer's comment is only ever carried here, never into broadcasts.
func decisionMessage(decision models.ReviewDecision, projectTitle, comment string) (ntype, title, message string) {
	switch decision {
	case models.DecisionApprove:
		ntype = "approval"
		title = "Project Approved"
		message = fmt.Sprintf("Congratulations! Your project %q has been approved.", projectTitle)
	case models.DecisionRequestRevision:
		ntype = "revision"
		title = "Revision Requested"
		message = fmt.Sprintf("Your project %q requires revision. Please update it and resubmit.", projectTitle)
	case models.DecisionReject:
		ntype = "rejection"
		title = "Project Rejected"
		message = fmt.Sprintf("Your project %q has been rejected.", projectTitle)
	}
	if strings.TrimSpace(comment) != "" {
		message += " Reviewer feedback: " + strings.TrimSpace(comment)
	}
	return ntype, title, message
}

// FanOutDecision notifies the uploader, every faculty member except the
// acting reviewer, and every admin about a committed decision. Each recipient
// gets one in-app notification and, if an address resolves, one outbox email.
// A failed recipient is logged and skipped; the returned count is the number
// of notification rows written.
func (s *NotificationService) FanOutDecision(ctx context.Context, project models.Project, review models.Review) int {
	ntype, title, personal := decisionMessage(review.Decision, project.Title, review.Comment)
	broadcast := fmt.Sprintf("A review was completed for project %q.", project.Title)

	created := 0
	for _, r := range s.decisionRecipients(ctx, project.UploaderID, review.ReviewerID) {
		message := broadcast
		msgType := "review"
		msgTitle := "Review Completed"
		url := dashboardURL(r.RoleID)
		if r.UserID == project.UploaderID {
			message = personal
			msgType = ntype
			msgTitle = title
			url = studentDashboardURL
		}

		if err := s.Notify(ctx, r.UserID, msgType, msgTitle, message, url); err != nil {
			log.Printf("fan-out: notification for user %d skipped: %v", r.UserID, err)
			continue
		}
		created++

		if r.Email == "" {
			continue
		}
		body := buildEmailHTML(msgTitle, r.FullName, message)
		if err := s.outbox.Enqueue(ctx, r.Email, msgTitle, body); err != nil {
			log.Printf("fan-out: email enqueue for %s skipped: %v", r.Email, err)
		}
	}
	return created
}

// FanOutSubmission notifies faculty and admins that a project entered the
// review queue. The uploader is the actor and is not notified.
func (s *NotificationService) FanOutSubmission(ctx context.Context, project models.Project, uploaderName string) int {
	message := fmt.Sprintf("%s submitted %q for review.", uploaderName, project.Title)

	created := 0
	for _, r := range s.staffRecipients(ctx, 0) {
		url := dashboardURL(r.RoleID)
		if err := s.Notify(ctx, r.UserID, "submission", "New Project Submission", message, url); err != nil {
			log.Printf("fan-out: notification for user %d skipped: %v", r.UserID, err)
			continue
		}
		created++

		if r.Email == "" {
			continue
		}
		body := buildEmailHTML("New Project Submission", r.FullName, message)
		if err := s.outbox.Enqueue(ctx, r.Email, "New Project Submission", body); err != nil {
			log.Printf("fan-out: email enqueue for %s skipped: %v", r.Email, err)
		}
	}
	return created
}

// Notify writes a single in-app notification row.
func (s *NotificationService) Notify(ctx context.Context, userID int, ntype, title, message, url string) error {
	n := models.Notification{
		UserID:    userID,
		Type:      ntype,
		Title:     title,
		Message:   message,
		IsRead:    false,
		CreatedAt: time.Now(),
	}
	if url != "" {
		n.URL = &url
	}
	return s.db.WithContext(ctx).Create(&n).Error
}

// decisionRecipients is {uploader} ∪ staffRecipients(actor), deduplicated.
func (s *NotificationService) decisionRecipients(ctx context.Context, uploaderID, actorID int) []recipient {
	out := make([]recipient, 0, 8)
	seen := map[int]bool{}

	var uploader recipient
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Select("user_id, full_name, email, role_id").
		Where("user_id = ? AND delete_at IS NULL", uploaderID).
		Scan(&uploader).Error; err != nil {
		log.Printf("fan-out: uploader %d lookup failed: %v", uploaderID, err)
	} else if uploader.UserID != 0 {
		out = append(out, uploader)
		seen[uploader.UserID] = true
	}

	for _, r := range s.staffRecipients(ctx, actorID) {
		if seen[r.UserID] {
			continue
		}
		seen[r.UserID] = true
		out = append(out, r)
	}
	return out
}

// staffRecipients is every faculty member and admin, minus the acting user.
func (s *NotificationService) staffRecipients(ctx context.Context, actorID int) []recipient {
	var rows []recipient
	q := s.db.WithContext(ctx).Model(&models.User{}).
		Select("user_id, full_name, email, role_id").
		Where("role_id IN ? AND delete_at IS NULL", []int{models.RoleFaculty, models.RoleAdmin})
	if actorID != 0 {
		q = q.Where("user_id <> ?", actorID)
	}
	if err := q.Order("user_id ASC").Scan(&rows).Error; err != nil {
		log.Printf("fan-out: staff lookup failed: %v", err)
		return nil
	}

	out := make([]recipient, 0, len(rows))
	seen := map[int]bool{}
	for _, r := range rows {
		if r.UserID == 0 || seen[r.UserID] {
			continue
		}
		seen[r.UserID] = true
		out = append(out, r)
	}
	return out
}

func dashboardURL(roleID int) string {
	switch roleID {
	case models.RoleAdmin:
		return adminDashboardURL
	case models.RoleFaculty:
		return facultyDashboardURL
	}
	return studentDashboardURL
}

/* ==========================
   Feed
   ========================== */

// UnreadCount returns how many unread notifications the user has.
func (s *NotificationService) UnreadCount(ctx context.Context, userID int) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = 0", userID).
		Count(&n).Error
	return n, err
}

// Recent returns the user's newest notifications, newest first.
func (s *NotificationService) Recent(ctx context.Context, userID, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	var items []models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// MarkRead flips a notification to read. The update is scoped to the owner,
// so another user's id is a no-op, as is marking an already-read row.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID, userID int) error {
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("notification_id = ? AND user_id = ?", notificationID, userID).
		Update("is_read", true).Error
}

// MarkAllRead marks every unread notification of the user as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID int) error {
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = 0", userID).
		Update("is_read", true).Error
}

// CleanupOld bulk-deletes notifications older than the retention window.
func (s *NotificationService) CleanupOld(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}

/* ==========================
   Email rendering
   ========================== */

// buildEmailHTML renders the formal notification email. Message text is
// escaped before it reaches the HTML channel.
func buildEmailHTML(subject, recipientName, message string) string {
	name := strings.TrimSpace(recipientName)
	if name == "" {
		name = "Portal User"
	}

	escapedSubject := template.HTMLEscapeString(subject)
	escapedGreeting := template.HTMLEscapeString(fmt.Sprintf("Dear %s,", name))
	escapedMessage := template.HTMLEscapeString(strings.TrimSpace(message))
	escapedMessage = strings.ReplaceAll(strings.ReplaceAll(escapedMessage, "\r\n", "\n"), "\r", "\n")
	escapedMessage = strings.ReplaceAll(escapedMessage, "\n", "<br />")

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
</head>
<body style="margin:0;padding:0;background-color:#f9fafb;font-family:'Segoe UI',Tahoma,Arial,sans-serif;">
<div style="max-width:640px;margin:0 auto;padding:24px 20px;">
  <div style="background-color:#ffffff;border:1px solid #e5e7eb;border-radius:12px;padding:24px 24px 28px 24px;">
    <p style="margin:0 0 16px 0;font-size:16px;line-height:1.7;color:#111827;">%s</p>
    <p style="margin:0 0 16px 0;font-size:16px;line-height:1.7;color:#111827;word-break:break-word;">%s</p>
    <p style="margin:0;font-size:13px;line-height:1.6;color:#6b7280;">This is an automated notification from the Capstone Portal. Please do not reply to this email.</p>
  </div>
</div>
</body>
</html>`, escapedSubject, escapedGreeting, escapedMessage)
}
