package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"portalsync/internal/components/telemetry"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

const report_email_send = "email.send"

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

type EmailConfig struct {
	Smtp SmtpConfig `json:"smtp"`
	// To are the addresses notifications are sent to.
	To []string `json:"to"`
}

// EmailNotifier sends every notification as an email.
type EmailNotifier struct {
	config EmailConfig
	tel    telemetry.API
}

func NewEmailNotifier(config EmailConfig, tel telemetry.API) EmailNotifier {
	return EmailNotifier{
		config: config,
		tel:    telemetry.NewScopedAPI("email", tel),
	}
}

func (n EmailNotifier) send(ctx context.Context, subject, body string) error {
	ctx, span := tracer.Start(ctx, "EmailNotifier.send")
	defer span.End()

	if !n.HasPermission(ctx) {
		return ErrPermissionDenied
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("portalsync <%s>", n.config.Smtp.EmailAddress)
	mail.To = n.config.To
	mail.Subject = subject
	mail.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", n.config.Smtp.Server, n.config.Smtp.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", n.config.Smtp.EmailAddress, n.config.Smtp.Password, n.config.Smtp.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		n.tel.ReportBroken(report_email_send, err, subject)
		return err
	}
	return nil
}

func (n EmailNotifier) ShowNotification(ctx context.Context, title, message string, id int) error {
	return n.send(ctx, title, message)
}

func (n EmailNotifier) ShowSummaryNotification(ctx context.Context, title, message string, count int) error {
	return n.send(ctx, title, message)
}

// HasPermission reports whether an smtp server and a recipient are
// configured.
func (n EmailNotifier) HasPermission(ctx context.Context) bool {
	return n.config.Smtp.Server != "" && len(n.config.To) > 0
}

func (n EmailNotifier) RequestPermission(ctx context.Context) error {
	if !n.HasPermission(ctx) {
		return fmt.Errorf("%w: no smtp server or recipient configured", ErrPermissionDenied)
	}
	return nil
}
