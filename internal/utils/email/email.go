package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/Dan9191/commit-health/internal/config"
	"github.com/Dan9191/commit-health/internal/health"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending alert emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// Enabled reports whether SMTP and recipients are configured
func (s *Sender) Enabled() bool {
	return s.cfg.SMTPHost != "" && len(s.cfg.AlertRecipients) > 0
}

// SendHealthAlert notifies the account team that a customer moved into status
func (s *Sender) SendHealthAlert(customerName string, a health.Assessment, status health.Status) error {
	subject := fmt.Sprintf("%s is %s", customerName, strings.ReplaceAll(string(status), "_", " "))

	body := fmt.Sprintf("Account health changed for %s.\n\n", customerName)
	body += fmt.Sprintf(
		"Status: %s\n"+
			"Commit consumed: %.1f%% (expected %.1f%%)\n"+
			"Remaining balance: %s of %s\n"+
			"Days remaining: %d\n",
		status, a.ActualBurnPercent, a.ExpectedBurnPercent,
		a.RemainingBalance.StringFixed(2), a.TotalCommits.StringFixed(2), a.DaysRemaining,
	)
	if len(a.Recommendations) > 0 {
		body += "\nRecommended actions:\n"
		for _, r := range a.Recommendations {
			body += "  - " + r + "\n"
		}
	}
	body += fmt.Sprintf("\nAs of %s\nGTM Health Service", a.AsOf.Format("2006-01-02"))

	return s.deliver(subject, body)
}

// SendAlertTriggered forwards a metering API alert to the account team
func (s *Sender) SendAlertTriggered(customerID, alertName, message string) error {
	subject := fmt.Sprintf("Usage alert: %s", alertName)
	body := fmt.Sprintf("Alert %q fired for customer %s.\n", alertName, customerID)
	if message != "" {
		body += "\n" + message + "\n"
	}
	body += "\nGTM Health Service"
	return s.deliver(subject, body)
}

func (s *Sender) deliver(subject, body string) error {
	if !s.Enabled() {
		s.logger.Debugf("Email disabled, skipping: %s", subject)
		return nil
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = s.cfg.AlertRecipients
	e.Subject = subject
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send email %q: %v", subject, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", strings.Join(e.To, ", "), e.Subject)
	return nil
}
