package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"time"

	mail "github.com/go-mail/mail/v2"
)

var (
	smtpHost      string
	smtpPort      int
	smtpTimeout   time.Duration
	smtpUser      string
	smtpPass      string
	smtpFrom      string // e.g. "Capstone Portal <no-reply@your.edu>"
	skipTLSVerify bool
)

func init() {
	ReloadMailerConfig()
}

// ReloadMailerConfig re-reads SMTP settings from the environment. Call it
// after godotenv.Load so .env values are picked up.
func ReloadMailerConfig() {
	smtpHost = os.Getenv("SMTP_HOST")
	smtpPort, _ = strconv.Atoi(os.Getenv("SMTP_PORT"))
	if smtpPort == 0 {
		smtpPort = 587
	}
	seconds, _ := strconv.Atoi(os.Getenv("SMTP_TIMEOUT_SECONDS"))
	if seconds <= 0 {
		seconds = 15
	}
	smtpTimeout = time.Duration(seconds) * time.Second
	smtpUser = os.Getenv("SMTP_USER")
	smtpPass = os.Getenv("SMTP_PASS")
	smtpFrom = os.Getenv("SMTP_FROM")
	skipTLSVerify = os.Getenv("SMTP_SKIP_TLS_VERIFY") == "1"
}

// MailTimeout reports the per-send bound applied to SendMail. Callers that
// schedule deliveries can use it to budget how long a batch may run.
func MailTimeout() time.Duration {
	return smtpTimeout
}

// SendMail delivers one HTML message through the configured SMTP relay.
// The dial/send is bounded by SMTP_TIMEOUT_SECONDS so a stuck relay cannot
// hang a worker tick.
func SendMail(to []string, subject, html string) error {
	if len(to) == 0 {
		return nil
	}
	if smtpHost == "" || smtpFrom == "" {
		return fmt.Errorf("smtp not configured (SMTP_HOST/SMTP_FROM)")
	}

	m := mail.NewMessage()
	m.SetHeader("From", smtpFrom)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", html)

	d := mail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPass)
	d.Timeout = smtpTimeout

	// Force STARTTLS on port 587 (Gmail/Office365 style relays).
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         smtpHost,
		InsecureSkipVerify: skipTLSVerify, // dev only: set SMTP_SKIP_TLS_VERIFY=1 to skip cert checks
	}

	return d.DialAndSend(m)
}
