package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"capstone-portal-api/config"
	"capstone-portal-api/services"
)

// The delivery worker drains the email outbox on a fixed schedule. Multiple
// instances may overlap; the claim lease inside the outbox service keeps
// them from double-sending.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config.ReloadMailerConfig()

	logFile, _ := config.InitLogging()
	if logFile != nil {
		defer logFile.Close()
	}

	config.InitDB()

	var (
		once     bool
		schedule string
	)
	flag.BoolVar(&once, "once", false, "process one batch and exit (for external schedulers)")
	flag.StringVar(&schedule, "schedule", "@every 1m", "cron schedule for outbox processing")
	flag.Parse()

	outbox := services.NewOutboxService(nil, nil)
	notifications := services.NewNotificationService(nil, outbox)

	if once {
		summary, err := outbox.ProcessBatch(context.Background())
		if err != nil {
			log.Fatalf("outbox processing failed: %v", err)
		}
		log.Printf("outbox batch: selected=%d delivered=%d failed=%d",
			summary.Selected, summary.Delivered, summary.Failed)
		if summary.Failed > 0 {
			os.Exit(2)
		}
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(schedule, func() {
		summary, err := outbox.ProcessBatch(context.Background())
		if err != nil {
			log.Printf("outbox processing failed: %v", err)
			return
		}
		if summary.Selected > 0 {
			log.Printf("outbox batch: selected=%d delivered=%d failed=%d",
				summary.Selected, summary.Delivered, summary.Failed)
		}
	}); err != nil {
		log.Fatalf("invalid schedule %q: %v", schedule, err)
	}

	// Notification retention runs nightly alongside delivery.
	if _, err := c.AddFunc("@midnight", func() {
		deleted, err := notifications.CleanupOld(context.Background(), services.DefaultRetentionDays)
		if err != nil {
			log.Printf("notification cleanup failed: %v", err)
			return
		}
		if deleted > 0 {
			log.Printf("notification cleanup removed %d old rows", deleted)
		}
	}); err != nil {
		log.Fatalf("failed to register cleanup job: %v", err)
	}

	log.Printf("email worker started (schedule %q)", schedule)
	c.Run()
}
