package notify

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds outgoing mail settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// SSL selects implicit TLS; otherwise STARTTLS is used when offered
	SSL bool
}

// EmailSender mails roster workbooks as attachments
type EmailSender struct {
	config SMTPConfig
	logger *slog.Logger
}

// NewEmailSender creates an e-mail sender
func NewEmailSender(config SMTPConfig, logger *slog.Logger) *EmailSender {
	if config.Port == 0 {
		config.Port = 587
		if config.SSL {
			config.Port = 465
		}
	}
	if config.From == "" {
		config.From = config.Username
	}
	return &EmailSender{config: config, logger: logger.With("component", "email_sender")}
}

// SendReport mails the workbook at artifactPath to recipient
func (es *EmailSender) SendReport(ctx context.Context, recipient, courseID, artifactPath string) error {
	msg, err := es.buildMessage(recipient, courseID, artifactPath)
	if err != nil {
		return err
	}

	client, err := es.client()
	if err != nil {
		return err
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send attendance report to %s: %w", recipient, err)
	}

	es.logger.Info("attendance report mailed", "recipient", recipient, "course_id", courseID)
	return nil
}

func (es *EmailSender) buildMessage(recipient, courseID, artifactPath string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat("Attendance", es.config.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(fmt.Sprintf("Attendance Report %s", courseID))
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"The attendance report for course %s is attached.\n\nGenerated %s.\n",
		courseID, time.Now().Format(time.RFC1123)))
	msg.AttachFile(artifactPath, mail.WithFileName(fmt.Sprintf("%s-%s", courseID, filepath.Base(artifactPath))))
	return msg, nil
}

func (es *EmailSender) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(es.config.Port),
		mail.WithTimeout(30 * time.Second),
	}
	if es.config.SSL {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if es.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(es.config.Username),
			mail.WithPassword(es.config.Password),
		)
	}

	client, err := mail.NewClient(es.config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}
	return client, nil
}
