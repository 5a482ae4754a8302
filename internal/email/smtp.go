// Package email delivers account lifecycle mail over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"napps/internal/models"
)

const (
	smtpTimeout = 30 * time.Second
)

//go:embed templates/*.tmpl
var templateFS embed.FS

type SMTPService struct {
	host      string
	port      int
	username  string
	password  string
	from      string
	baseURL   string
	templates *template.Template
}

func NewSMTPService(host string, port int, username, password, from, baseURL string) (*SMTPService, error) {
	templates, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing mail templates: %w", err)
	}

	return &SMTPService{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		from:      from,
		baseURL:   baseURL,
		templates: templates,
	}, nil
}

// SendConfirmation mails a newly registered user their confirmation token.
func (s *SMTPService) SendConfirmation(user *models.User, token *models.Token) error {
	body, err := s.render("confirmation.html.tmpl", map[string]string{
		"Username":   user.Username,
		"Token":      token.Hash,
		"ConfirmURL": fmt.Sprintf("%s/api/users/%s/confirm/%s/", s.baseURL, user.Username, token.Hash),
	})
	if err != nil {
		return err
	}

	return s.send(user.Email, "Confirm your napps repository account", body)
}

// SendWelcome greets a user whose account was just enabled.
func (s *SMTPService) SendWelcome(user *models.User) error {
	body, err := s.render("welcome.html.tmpl", map[string]string{
		"Username": user.Username,
		"BaseURL":  s.baseURL,
	})
	if err != nil {
		return err
	}

	return s.send(user.Email, "Welcome to the napps repository", body)
}

func (s *SMTPService) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering mail template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (s *SMTPService) send(to, subject, body string) error {
	msg := s.buildMessage(to, subject, body)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	ctx, cancel := context.WithTimeout(context.Background(), smtpTimeout)
	defer cancel()

	dialer := net.Dialer{Timeout: smtpTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to SMTP server: %w", err)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: s.host}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	} else if s.port != 25 && s.port != 1025 {
		return fmt.Errorf("STARTTLS not available on port %d (required for secure auth)", s.port)
	}

	if s.username != "" && s.password != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication: %w", err)
		}
	}

	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("SMTP MAIL command: %w", err)
	}

	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT command: %w", err)
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command: %w", err)
	}

	_, err = wc.Write([]byte(msg))
	if err != nil {
		wc.Close()
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := wc.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	if err := client.Quit(); err != nil {
		slog.Warn("smtp QUIT command failed", "component", "email", "error", err)
	}

	return nil
}

func (s *SMTPService) buildMessage(to, subject, body string) string {
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"utf-8\"\r\n\r\n%s",
		s.from, sanitizeHeader(to), sanitizeHeader(subject), body)
}

// sanitizeHeader folds line breaks out of a header value so recipient or
// subject input cannot smuggle extra headers into the message.
func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
