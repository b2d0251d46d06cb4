// Package mailer renders account emails and hands them to a provider.
package mailer

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/resend/resend-go/v3"
	"go.uber.org/zap"

	"github.com/iliyamo/credential-service/internal/queue"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a rendered Message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// ResendSender sends through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from}
}

func (s *ResendSender) Send(ctx context.Context, m Message) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{m.To},
		Subject: m.Subject,
		Html:    m.HTML,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

// LogSender writes emails to the log. Used when no provider key is set.
type LogSender struct{ Log *zap.Logger }

func (s LogSender) Send(_ context.Context, m Message) error {
	s.Log.Info("email (not sent)", zap.String("to", m.To), zap.String("subject", m.Subject))
	return nil
}

// Dispatcher turns queued EmailEvents into Messages. It satisfies
// queue.Deliverer.
type Dispatcher struct {
	Sender Sender
	AppURL string
}

func (d *Dispatcher) Deliver(ctx context.Context, ev queue.EmailEvent) error {
	m, err := Render(ev, d.AppURL)
	if err != nil {
		return err
	}
	return d.Sender.Send(ctx, m)
}

var body = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body style="font-family:Arial,Helvetica,sans-serif;">
<h2>{{.Title}}</h2>
<p>{{.Text}}</p>
{{if .Link}}<p><a href="{{.Link}}">{{.Action}}</a></p>
<p style="color:#64748b;font-size:13px;">This link expires {{.Expires}}. If you did not ask for it you can ignore this email.</p>{{end}}
</body></html>`))

type view struct {
	Title, Text, Action, Link, Expires string
}

// Render builds the Message for ev. Links point at appURL.
func Render(ev queue.EmailEvent, appURL string) (Message, error) {
	base := strings.TrimRight(appURL, "/")
	var v view
	var subject string
	switch ev.Kind {
	case queue.EmailPasswordReset:
		subject = "Reset your password"
		v = view{
			Title:  "Password reset request",
			Text:   "We received a request to reset your password.",
			Action: "Choose a new password",
			Link:   base + "/reset-password?token=" + ev.Token,
		}
	case queue.EmailVerification:
		subject = "Verify your email address"
		v = view{
			Title:  "Confirm your email",
			Text:   "Please confirm this address belongs to you.",
			Action: "Verify email",
			Link:   base + "/verify-email?token=" + ev.Token,
		}
	case queue.EmailPasswordChanged:
		subject = "Your password was changed"
		v = view{
			Title: "Password changed",
			Text:  "Your password was just changed and every device was signed out.",
		}
	default:
		return Message{}, fmt.Errorf("unknown email kind %q", ev.Kind)
	}
	if !ev.ExpiresAt.IsZero() {
		v.Expires = "at " + ev.ExpiresAt.UTC().Format("2006-01-02 15:04 MST")
	} else {
		v.Expires = "soon"
	}

	var sb strings.Builder
	if err := body.Execute(&sb, v); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", ev.Kind, err)
	}
	return Message{To: ev.To, Subject: subject, HTML: sb.String()}, nil
}
