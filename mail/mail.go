// Package mail renders and delivers the transactional emails the
// engine sends: address verification, password reset, password change
// notices and the account deletion farewell. Delivery goes over SMTP
// via gomail.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"

	gomail "gopkg.in/gomail.v2"
)

// Sender is the delivery interface the engine depends on. Context is
// accepted so callers can bound delivery when sending synchronously.
type Sender interface {
	SendVerification(ctx context.Context, to, username, token string) error
	SendPasswordReset(ctx context.Context, to, username, token string) error
	SendPasswordChanged(ctx context.Context, to, username string) error
	SendAccountDeleted(ctx context.Context, to, name string) error
}

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// BaseURL is the public origin links are built against, e.g.
	// https://hookscraper.com
	BaseURL string
}

// SMTP delivers mail through a gomail dialer.
type SMTP struct {
	dialer  *gomail.Dialer
	from    string
	baseURL string
}

// NewSMTP builds a sender from config.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("mail: smtp host and port are required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("mail: from address is required")
	}
	return &SMTP{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		baseURL: cfg.BaseURL,
	}, nil
}

var (
	verificationTmpl = template.Must(template.New("verification").Parse(`
<p>Hi {{.Username}},</p>
<p>Welcome to HookScraper! Confirm your email address to finish setting up your account:</p>
<p><a href="{{.Link}}">Verify my email</a></p>
<p>If you did not create this account, you can ignore this message.</p>`))

	resetTmpl = template.Must(template.New("reset").Parse(`
<p>Hi {{.Username}},</p>
<p>We received a request to reset your HookScraper password. The link below is valid for one hour:</p>
<p><a href="{{.Link}}">Reset my password</a></p>
<p>If you did not request this, your account is still safe and no action is needed.</p>`))

	changedTmpl = template.Must(template.New("changed").Parse(`
<p>Hi {{.Username}},</p>
<p>Your HookScraper password was just changed. If this was you, there is nothing to do.</p>
<p>If you did not change it, reset your password immediately.</p>`))

	deletedTmpl = template.Must(template.New("deleted").Parse(`
<p>Hi {{.Username}},</p>
<p>Your HookScraper account and all associated data have been permanently deleted.</p>
<p>We're sorry to see you go.</p>`))
)

type mailData struct {
	Username string
	Link     string
}

func (s *SMTP) send(to, subject string, tmpl *template.Template, data mailData) error {
	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("mail: render %s: %w", tmpl.Name(), err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body.String())

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("mail: send %s to %s: %w", tmpl.Name(), to, err)
	}
	return nil
}

func (s *SMTP) link(path, token string) string {
	return s.baseURL + path + "?token=" + url.QueryEscape(token)
}

// SendVerification mails the email verification link.
func (s *SMTP) SendVerification(_ context.Context, to, username, token string) error {
	return s.send(to, "Verify your HookScraper email", verificationTmpl,
		mailData{Username: username, Link: s.link("/verify-email", token)})
}

// SendPasswordReset mails the password reset link.
func (s *SMTP) SendPasswordReset(_ context.Context, to, username, token string) error {
	return s.send(to, "Reset your HookScraper password", resetTmpl,
		mailData{Username: username, Link: s.link("/reset-password", token)})
}

// SendPasswordChanged mails the password change notice.
func (s *SMTP) SendPasswordChanged(_ context.Context, to, username string) error {
	return s.send(to, "Your HookScraper password was changed", changedTmpl,
		mailData{Username: username})
}

// SendAccountDeleted mails the deletion confirmation.
func (s *SMTP) SendAccountDeleted(_ context.Context, to, name string) error {
	return s.send(to, "Your HookScraper account has been deleted", deletedTmpl,
		mailData{Username: name})
}

// Nop discards every message. It is the default when no sender is
// configured.
type Nop struct{}

func (Nop) SendVerification(context.Context, string, string, string) error  { return nil }
func (Nop) SendPasswordReset(context.Context, string, string, string) error { return nil }
func (Nop) SendPasswordChanged(context.Context, string, string) error       { return nil }
func (Nop) SendAccountDeleted(context.Context, string, string) error        { return nil }
