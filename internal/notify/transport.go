package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"

	"github.com/jordan-wright/email"
)

// Message is a rendered outbound email. From is set by the transport.
type Message struct {
	To      []string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

// Transport delivers one message. Implementations must be safe for
// concurrent use.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg *Message) error

func (f TransportFunc) Send(ctx context.Context, msg *Message) error { return f(ctx, msg) }

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	SSL  bool
}

// SMTPTransport sends through an SMTP relay with jordan-wright/email.
type SMTPTransport struct {
	cfg  SMTPConfig
	from string

	// send is swapped in tests.
	send func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSMTPTransport builds a transport that sends as "fromName <fromAddr>".
func NewSMTPTransport(cfg SMTPConfig, fromName, fromAddr string) *SMTPTransport {
	t := &SMTPTransport{
		cfg:  cfg,
		from: (&mail.Address{Name: fromName, Address: fromAddr}).String(),
	}
	if cfg.SSL {
		t.send = func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.SendWithTLS(addr, auth, nil)
		}
	} else {
		t.send = func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		}
	}
	return t
}

// Send runs the blocking SMTP exchange; the dispatcher bounds how long it waits.
func (t *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return errNoRecipients
	}
	e := t.build(msg)

	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	var auth smtp.Auth
	if t.cfg.User != "" {
		auth = smtp.PlainAuth("", t.cfg.User, t.cfg.Pass, t.cfg.Host)
	}
	if err := t.send(e, addr, auth); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (t *SMTPTransport) build(msg *Message) *email.Email {
	e := email.NewEmail()
	e.From = t.from
	e.To = msg.To
	if msg.ReplyTo != "" {
		e.ReplyTo = []string{msg.ReplyTo}
	}
	e.Subject = msg.Subject
	e.HTML = []byte(msg.HTML)
	e.Text = []byte(msg.Text)
	if len(msg.Headers) > 0 {
		e.Headers = textproto.MIMEHeader{}
		for k, v := range msg.Headers {
			e.Headers.Set(k, v)
		}
	}
	return e
}

var errNoRecipients = errors.New("message has no recipients")

var _ Transport = (*SMTPTransport)(nil)
