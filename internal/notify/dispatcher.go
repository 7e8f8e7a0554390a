// Package notify renders the operator notification and the submitter
// acknowledgement and hands them to a mail Transport.
package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nazarhussain/form-guard/internal/logging"
	"github.com/nazarhussain/form-guard/internal/submission"
)

var ErrSendTimeout = errors.New("mail transport timed out")

const (
	DefaultSendTimeout   = 15 * time.Second
	DefaultMaxConcurrent = 4
)

//go:embed templates/*
var templateFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.New("").
			Funcs(htmltemplate.FuncMap{"lines": lines}).
			ParseFS(templateFS, "templates/*.html"))
	textTemplates = texttemplate.Must(texttemplate.New("").ParseFS(templateFS, "templates/*.txt"))
)

type Config struct {
	To            string
	SiteName      string
	SiteURL       string
	ContactPhone  string
	Location      *time.Location
	SendTimeout   time.Duration
	MaxConcurrent int64
}

// Dispatcher sends the two messages for an accepted submission.
type Dispatcher struct {
	transport Transport
	cfg       Config
	sem       *semaphore.Weighted
}

func NewDispatcher(t Transport, cfg Config) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Dispatcher{
		transport: t,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// Dispatch sends the operator notification and, only if that succeeded, the
// acknowledgement. The returned error reflects the operator notification
// alone; a failed acknowledgement is logged and swallowed.
//
// A timed out operator send is reported as failed, but the transport call is
// not cancelled if it ignores its context, so the mail may still arrive and a
// resubmission can produce a duplicate.
func (d *Dispatcher) Dispatch(ctx context.Context, a submission.Attempt) error {
	logger := logging.FromContext(ctx)

	operator, err := d.OperatorMessage(a)
	if err != nil {
		return err
	}
	if err := d.send(ctx, operator); err != nil {
		return fmt.Errorf("operator notification: %w", err)
	}

	ack, err := d.AcknowledgementMessage(a)
	if err == nil {
		err = d.send(ctx, ack)
	}
	if err != nil {
		logger.Warn("acknowledgement not sent", "submission_id", a.ID, "err", err)
	}
	return nil
}

// send waits at most SendTimeout for a transport slot and the call itself.
// A transport that ignores its context keeps running in the background.
func (d *Dispatcher) send(ctx context.Context, msg *Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: waiting for slot: %w", ErrSendTimeout, err)
	}

	done := make(chan error, 1)
	go func() {
		defer d.sem.Release(1)
		done <- d.transport.Send(ctx, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSendTimeout, ctx.Err())
	}
}

type view struct {
	Attempt      submission.Attempt
	SiteName     string
	SiteURL      string
	ContactPhone string
	Company      string
	FillTime     string
	SubmittedAt  string
}

func (d *Dispatcher) view(a submission.Attempt) view {
	v := view{
		Attempt:      a,
		SiteName:     d.cfg.SiteName,
		SiteURL:      d.cfg.SiteURL,
		ContactPhone: d.cfg.ContactPhone,
		Company:      a.Company,
		FillTime:     "unknown",
		SubmittedAt:  a.ReceivedAt.In(d.cfg.Location).Format("02/01/2006 at 15:04"),
	}
	if v.Company == "" {
		v.Company = "Not provided"
	}
	if dur, ok := a.FillDuration(); ok {
		secs := int(dur / time.Second)
		v.FillTime = fmt.Sprintf("%02d:%02d (min:sec)", secs/60, secs%60)
	}
	return v
}

// OperatorMessage renders the notification for the site owner. Reply-To is
// the sanitized, validated submitter address.
func (d *Dispatcher) OperatorMessage(a submission.Attempt) (*Message, error) {
	v := d.view(a)
	html, err := renderHTML("operator.html", v)
	if err != nil {
		return nil, err
	}
	text, err := renderText("operator.txt", v)
	if err != nil {
		return nil, err
	}
	return &Message{
		To:      []string{d.cfg.To},
		ReplyTo: a.Email,
		Subject: "New Contact Form Submission from " + d.cfg.SiteName,
		HTML:    html,
		Text:    text,
		Headers: map[string]string{"X-Submission-Id": a.ID},
	}, nil
}

func (d *Dispatcher) AcknowledgementMessage(a submission.Attempt) (*Message, error) {
	html, err := renderHTML("ack.html", d.view(a))
	if err != nil {
		return nil, err
	}
	return &Message{
		To:      []string{a.Email},
		Subject: "Thank you for contacting " + d.cfg.SiteName,
		HTML:    html,
	}, nil
}

func renderHTML(name string, v view) (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func renderText(name string, v view) (string, error) {
	var buf bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// lines escapes s and turns line breaks into <br>.
func lines(s string) htmltemplate.HTML {
	esc := htmltemplate.HTMLEscapeString(strings.ReplaceAll(s, "\r\n", "\n"))
	return htmltemplate.HTML(strings.ReplaceAll(esc, "\n", "<br>\n"))
}
