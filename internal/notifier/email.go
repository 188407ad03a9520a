package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/tailguard/internal/alerting"
)

// Recipient is a named mailbox.
type Recipient struct {
	Name    string
	Address string
}

// String formats the recipient as an RFC 5322 address.
func (r Recipient) String() string {
	return (&mail.Address{Name: r.Name, Address: r.Address}).String()
}

// EmailConfig holds SMTP configuration.
type EmailConfig struct {
	Host       string        // SMTP server host
	Port       int           // SMTP server port (465 for implicit TLS, 587 for STARTTLS)
	Username   string        // SMTP username (default: From)
	Password   string        // SMTP password (optional)
	From       string        // From address
	FromName   string        // From display name (optional)
	Recipients []Recipient   // Email recipients, each sent a separate message
	HelloName  string        // Name sent with EHLO (default: localhost)
	Timeout    time.Duration // Per-message connection timeout (default: 30s)
}

// Validate validates the email configuration.
func (c *EmailConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("SMTP port is required")
	}
	if c.From == "" {
		return fmt.Errorf("from address is required")
	}
	if len(c.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	for i, r := range c.Recipients {
		if r.Address == "" {
			return fmt.Errorf("recipient %d: address is required", i)
		}
	}
	return nil
}

// EmailNotifier sends alerts via email.
type EmailNotifier struct {
	config    EmailConfig
	templates *Templates
}

// NewEmailNotifier creates a new email notifier.
func NewEmailNotifier(config EmailConfig) (*EmailNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email config: %w", err)
	}
	if config.Username == "" {
		config.Username = config.From
	}
	if config.HelloName == "" {
		config.HelloName = "localhost"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	templates, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	return &EmailNotifier{
		config:    config,
		templates: templates,
	}, nil
}

// Name returns "email".
func (e *EmailNotifier) Name() string {
	return "email"
}

// Send sends one message per recipient. A failure for one recipient does not
// stop delivery to the others; all failures are returned joined.
func (e *EmailNotifier) Send(ctx context.Context, alert *alerting.Alert) error {
	data := AlertToTemplateData(alert)

	htmlBody, err := e.templates.RenderHTML(&data)
	if err != nil {
		return fmt.Errorf("failed to render HTML template: %w", err)
	}

	plainBody, err := e.templates.RenderPlain(&data)
	if err != nil {
		return fmt.Errorf("failed to render plain template: %w", err)
	}

	subject := alert.Subject
	if subject == "" {
		subject = fmt.Sprintf("[%s] tailguard alert: %s", strings.ToUpper(string(alert.Severity)), alert.RuleName)
	}

	var errs []error
	for _, rcpt := range e.config.Recipients {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		msg := e.buildMIMEMessage(rcpt, subject, plainBody, htmlBody)
		if err := e.sendMail(ctx, rcpt.Address, msg); err != nil {
			errs = append(errs, fmt.Errorf("recipient %s: %w", rcpt.Address, err))
		}
	}

	return errors.Join(errs...)
}

// Close is a no-op for email notifier.
func (e *EmailNotifier) Close() error {
	return nil
}

// buildMIMEMessage builds a MIME multipart message with HTML and plain text
// addressed to a single recipient.
func (e *EmailNotifier) buildMIMEMessage(to Recipient, subject, plainBody, htmlBody string) []byte {
	boundary := "tailguard-" + uuid.NewString()
	from := &mail.Address{Name: e.config.FromName, Address: e.config.From}

	var msg bytes.Buffer

	// Headers
	fmt.Fprintf(&msg, "From: %s\r\n", from.String())
	fmt.Fprintf(&msg, "To: %s\r\n", to.String())
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domainOf(e.config.From))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	msg.WriteString("\r\n")

	writePart(&msg, boundary, "text/plain", plainBody)
	writePart(&msg, boundary, "text/html", htmlBody)

	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return msg.Bytes()
}

func writePart(msg *bytes.Buffer, boundary, contentType, body string) {
	fmt.Fprintf(msg, "--%s\r\n", boundary)
	fmt.Fprintf(msg, "Content-Type: %s; charset=UTF-8\r\n", contentType)
	msg.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	msg.WriteString("\r\n")

	qp := quotedprintable.NewWriter(msg)
	qp.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n"))) //nolint:errcheck
	qp.Close()                                               //nolint:errcheck
	msg.WriteString("\r\n")
}

// sendMail delivers msg to a single recipient over its own connection.
func (e *EmailNotifier) sendMail(ctx context.Context, rcpt string, msg []byte) error {
	addr := net.JoinHostPort(e.config.Host, fmt.Sprint(e.config.Port))

	tlsConfig := &tls.Config{
		ServerName: e.config.Host,
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	var client *smtp.Client
	var err error

	if e.config.Port == 465 {
		// Implicit TLS (SMTPS)
		client, err = e.connectImplicitTLS(ctx, addr, tlsConfig)
	} else {
		// STARTTLS (port 587 or 25)
		client, err = e.connectSTARTTLS(ctx, addr, tlsConfig)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	// Authenticate if credentials provided
	if e.config.Password != "" {
		auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(e.config.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}

	if err := client.Rcpt(rcpt); err != nil {
		return fmt.Errorf("failed to add recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}

	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data: %w", err)
	}

	return client.Quit()
}

// connectImplicitTLS connects using implicit TLS (port 465).
func (e *EmailNotifier) connectImplicitTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &tls.Dialer{Config: tlsConfig}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return e.newClient(ctx, conn)
}

// connectSTARTTLS connects using STARTTLS (port 587 or 25).
func (e *EmailNotifier) connectSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	client, err := e.newClient(ctx, conn)
	if err != nil {
		return nil, err
	}

	// Try STARTTLS
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	return client, nil
}

func (e *EmailNotifier) newClient(ctx context.Context, conn net.Conn) (*smtp.Client, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline) //nolint:errcheck
	}

	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := client.Hello(e.config.HelloName); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// domainOf returns the domain part of an address, or "localhost".
func domainOf(addr string) string {
	if at := strings.LastIndex(addr, "@"); at != -1 && at < len(addr)-1 {
		return addr[at+1:]
	}
	return "localhost"
}
