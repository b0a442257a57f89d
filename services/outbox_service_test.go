package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"capstone-portal-api/config"
)

var (
	claimSelectPattern = regexp.MustCompile("SELECT \\* FROM `email_queue` WHERE attempts < \\? AND \\(claimed_until IS NULL OR claimed_until < \\?\\) ORDER BY created_at ASC LIMIT .*FOR UPDATE SKIP LOCKED")
	claimUpdatePattern = regexp.MustCompile("UPDATE `email_queue` SET `claimed_until`=\\? WHERE id IN \\(")
	failureUpdate      = regexp.MustCompile("UPDATE `email_queue` SET `attempts`=attempts \\+ 1")
	outboxDelete       = regexp.MustCompile("DELETE FROM `email_queue`")
	outboxInsert       = regexp.MustCompile("INSERT INTO `email_queue`")
)

type sentMail struct {
	to      string
	subject string
}

func recordingSender(sent *[]sentMail, fail bool) SendFunc {
	return func(to []string, subject, body string) error {
		*sent = append(*sent, sentMail{to: to[0], subject: subject})
		if fail {
			return errors.New("relay refused")
		}
		return nil
	}
}

func pendingRow(id int64, email string, attempts int64, created time.Time) []driver.Value {
	return []driver.Value{id, email, "Review Completed", "<html>body</html>", attempts, created}
}

func claimStep(rows [][]driver.Value) *queryStep {
	return &queryStep{
		kind:    kindQuery,
		pattern: claimSelectPattern,
		columns: []string{"id", "to_email", "subject", "body", "attempts", "created_at"},
		rows:    rows,
	}
}

func TestProcessBatchDeliversAndDeletes(t *testing.T) {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	steps := []*queryStep{
		claimStep([][]driver.Value{
			pendingRow(1, "dana@school.edu", 0, base),
			pendingRow(2, "reyes@school.edu", 1, base.Add(time.Minute)),
		}),
		{kind: kindExec, pattern: claimUpdatePattern, result: scriptedResult{rowsAffected: 2}},
		{kind: kindExec, pattern: outboxDelete, args: []driver.Value{int64(1)}, result: scriptedResult{rowsAffected: 1}},
		{kind: kindExec, pattern: outboxDelete, args: []driver.Value{int64(2)}, result: scriptedResult{rowsAffected: 1}},
	}
	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	var sent []sentMail
	svc := NewOutboxService(db, recordingSender(&sent, false))

	summary, err := svc.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if summary.Selected != 2 || summary.Delivered != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if len(sent) != 2 || sent[0].to != "dana@school.edu" || sent[1].to != "reyes@school.edu" {
		t.Fatalf("unexpected deliveries: %+v", sent)
	}

	claims := state.capturedContaining(claimSelectPattern)
	if len(claims) != 1 {
		t.Fatalf("expected 1 claim select, got %d", len(claims))
	}
	if claims[0].args[0] != int64(DefaultMaxAttempts) {
		t.Fatalf("claim select must exclude rows at the retry ceiling of %d, got arg %v", DefaultMaxAttempts, claims[0].args[0])
	}
	if state.commits() != 1 {
		t.Fatalf("expected the claim transaction to commit once, got %d", state.commits())
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessBatchFailureKeepsRowForRetry(t *testing.T) {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	steps := []*queryStep{
		claimStep([][]driver.Value{
			pendingRow(3, "dana@school.edu", 4, base),
		}),
		{kind: kindExec, pattern: claimUpdatePattern, result: scriptedResult{rowsAffected: 1}},
		{kind: kindExec, pattern: failureUpdate, result: scriptedResult{rowsAffected: 1}},
	}
	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	var sent []sentMail
	svc := NewOutboxService(db, recordingSender(&sent, true))

	summary, err := svc.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if summary.Selected != 1 || summary.Delivered != 0 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if len(state.capturedContaining(outboxDelete)) != 0 {
		t.Fatal("a failed delivery must not delete the row")
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessBatchWithEmptyQueue(t *testing.T) {
	steps := []*queryStep{
		claimStep(nil),
	}
	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	var sent []sentMail
	svc := NewOutboxService(db, recordingSender(&sent, false))

	summary, err := svc.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if summary.Selected != 0 || summary.Delivered != 0 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(sent) != 0 {
		t.Fatal("nothing should be sent for an empty queue")
	}
	// An empty batch skips the claim update entirely.
	if len(state.capturedContaining(claimUpdatePattern)) != 0 {
		t.Fatal("no claim update expected for an empty batch")
	}
}

func TestClaimLeaseOutlivesWorstCaseBatch(t *testing.T) {
	db, _, cleanup := newScriptedGormDB(t, nil)
	defer cleanup()

	svc := NewOutboxService(db, nil)

	// Every send in a batch may run for the full SMTP timeout; a lease that
	// expires mid-batch would let an overlapping run re-claim and double-send
	// the tail of the batch.
	worst := time.Duration(svc.batchSize) * config.MailTimeout()
	if svc.lease <= worst {
		t.Fatalf("lease %v does not cover a worst-case batch of %v", svc.lease, worst)
	}
}

func TestEnqueueRejectsInvalidAddress(t *testing.T) {
	db, state, cleanup := newScriptedGormDB(t, nil)
	defer cleanup()

	svc := NewOutboxService(db, nil)
	err := svc.Enqueue(context.Background(), "not-an-address", "Subject", "<p>body</p>")
	if !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient, got %v", err)
	}
	if len(state.capturedContaining(outboxInsert)) != 0 {
		t.Fatal("invalid address must not reach the queue")
	}
}

func TestEnqueueStartsAtZeroAttempts(t *testing.T) {
	steps := []*queryStep{
		{kind: kindExec, pattern: outboxInsert, result: scriptedResult{lastInsertID: 9, rowsAffected: 1}},
	}
	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	svc := NewOutboxService(db, nil)
	if err := svc.Enqueue(context.Background(), "dana@school.edu", "Review Completed", "<p>body</p>"); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	inserts := state.capturedContaining(outboxInsert)
	if len(inserts) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(inserts))
	}
	// Insert args follow the struct layout: to_email, subject, body,
	// attempts, last_attempt, claimed_until, created_at.
	if inserts[0].args[0] != "dana@school.edu" {
		t.Fatalf("unexpected recipient arg: %v", inserts[0].args[0])
	}
	if inserts[0].args[3] != int64(0) {
		t.Fatalf("new entry must start at zero attempts, got %v", inserts[0].args[3])
	}
}

func TestDeadLettersListsExhaustedEntries(t *testing.T) {
	base := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: regexp.MustCompile("SELECT \\* FROM `email_queue` WHERE attempts >= \\? ORDER BY created_at ASC LIMIT"),
			columns: []string{"id", "to_email", "subject", "body", "attempts", "created_at"},
			rows: [][]driver.Value{
				pendingRow(8, "gone@school.edu", 5, base),
			},
		},
	}
	db, _, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	svc := NewOutboxService(db, nil)
	rows, err := svc.DeadLetters(context.Background(), 0)
	if err != nil {
		t.Fatalf("DeadLetters returned error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != 8 || rows[0].Attempts != 5 {
		t.Fatalf("unexpected dead letters: %+v", rows)
	}
}

func TestPendingCount(t *testing.T) {
	steps := []*queryStep{
		{
			kind:    kindQuery,
			pattern: regexp.MustCompile("SELECT count\\(\\*\\) FROM `email_queue` WHERE attempts < \\?"),
			columns: []string{"count(*)"},
			rows:    [][]driver.Value{{int64(3)}},
		},
	}
	db, _, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	svc := NewOutboxService(db, nil)
	n, err := svc.PendingCount(context.Background())
	if err != nil {
		t.Fatalf("PendingCount returned error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 pending, got %d", n)
	}
}
