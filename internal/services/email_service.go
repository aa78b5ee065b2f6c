package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	pkglogger "github.com/BradenHooton/traveljournal/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailSender delivers a plain-text message or reports why it could not.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPEmailSender sends mail through an authenticated SMTP relay.
// Port 465 uses implicit TLS; any other port upgrades with STARTTLS.
type SMTPEmailSender struct {
	host    string
	port    int
	user    string
	pass    string
	from    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewSMTPEmailSender creates a new SMTP email sender
func NewSMTPEmailSender(host string, port int, user, pass, from string, timeout time.Duration, logger *slog.Logger) *SMTPEmailSender {
	if from == "" {
		from = user
	}
	return &SMTPEmailSender{
		host:    host,
		port:    port,
		user:    user,
		pass:    pass,
		from:    from,
		timeout: timeout,
		logger:  logger,
	}
}

// Send delivers the message to a single recipient
func (s *SMTPEmailSender) Send(ctx context.Context, to, subject, body string) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	tlsConfig := &tls.Config{ServerName: s.host}

	var conn net.Conn
	var err error
	dialer := &net.Dialer{}
	if s.port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to smtp relay: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer client.Close()

	if s.port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("failed to start tls: %w", err)
			}
		}
	}

	if err := client.Auth(smtp.PlainAuth("", s.user, s.pass, s.host)); err != nil {
		return fmt.Errorf("smtp auth failed: %w", err)
	}
	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write(buildMessage(s.from, to, subject, body)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.logger.Warn("smtp quit failed", slog.Any("error", err))
	}

	s.logger.Info("email sent via smtp", pkglogger.EmailAttr(to), slog.String("subject", subject))
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// SESEmailSender sends emails using AWS SES
type SESEmailSender struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewSESEmailSender creates a new AWS SES email sender
func NewSESEmailSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESEmailSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESEmailSender{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// Send delivers the message via SES
func (s *SESEmailSender) Send(ctx context.Context, to, subject, body string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email via SES: %w", err)
	}

	s.logger.Info("email sent via SES",
		pkglogger.EmailAttr(to),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// ConsoleEmailSender writes messages to a local writer instead of a relay.
// Intended for development without mail credentials.
type ConsoleEmailSender struct {
	out io.Writer
}

func NewConsoleEmailSender(out io.Writer) *ConsoleEmailSender {
	return &ConsoleEmailSender{out: out}
}

func (s *ConsoleEmailSender) Send(ctx context.Context, to, subject, body string) error {
	_, err := fmt.Fprintf(s.out, "\n--- email to %s ---\nSubject: %s\n\n%s\n--- end of email ---\n\n", to, subject, body)
	return err
}
