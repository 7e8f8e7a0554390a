// Package pipeline runs a contact form submission through the abuse
// filters, rate limiting and validation in a fixed order and, when all
// pass, records it and dispatches the notification emails.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nazarhussain/form-guard/internal/logging"
	"github.com/nazarhussain/form-guard/internal/ratelimit"
	"github.com/nazarhussain/form-guard/internal/spam"
	"github.com/nazarhussain/form-guard/internal/submission"
)

// Outcome is the closed set of pipeline results.
type Outcome int

const (
	Accepted Outcome = iota
	SilentRejected
	RateLimited
	Invalid
	DeliveryFailed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case SilentRejected:
		return "silent_rejected"
	case RateLimited:
		return "rate_limited"
	case Invalid:
		return "invalid"
	case DeliveryFailed:
		return "delivery_failed"
	default:
		return "unknown"
	}
}

// Reasons refine Invalid and SilentRejected for logs and redirects.
const (
	ReasonMissingFields = "missing_fields"
	ReasonInvalidEmail  = "invalid_email"
)

type Result struct {
	Outcome      Outcome
	Reason       string
	SubmissionID string
}

// Input is everything the pipeline needs from one request.
type Input struct {
	Fields   submission.Fields
	Honeypot string
	FormTime string // unix seconds as posted, may be empty
	Origin   submission.Origin
	Session  ratelimit.SessionValues // nil when the request has no session
}

// Dispatcher delivers an accepted attempt.
type Dispatcher interface {
	Dispatch(ctx context.Context, a submission.Attempt) error
}

type Config struct {
	Window            time.Duration
	MaxPerWindow      int
	TrustProxyHeaders bool
}

type Pipeline struct {
	cfg        Config
	filter     *spam.Filter
	store      ratelimit.Store
	session    ratelimit.SessionCounter
	dispatcher Dispatcher

	now   func() time.Time
	newID func() string
}

type Option func(*Pipeline)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDs replaces the submission id generator.
func WithIDs(newID func() string) Option {
	return func(p *Pipeline) { p.newID = newID }
}

func New(cfg Config, filter *spam.Filter, store ratelimit.Store, d Dispatcher, opts ...Option) *Pipeline {
	if cfg.Window <= 0 {
		cfg.Window = ratelimit.DefaultWindow
	}
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = ratelimit.DefaultMax
	}
	p := &Pipeline{
		cfg:        cfg,
		filter:     filter,
		store:      store,
		session:    ratelimit.SessionCounter{Window: cfg.Window, Max: cfg.MaxPerWindow},
		dispatcher: d,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the pipeline. It never returns an error: every path ends in
// a Result.
func (p *Pipeline) Run(ctx context.Context, in Input) Result {
	now := p.now()
	id := p.newID()
	logger := logging.FromContext(ctx).With("submission_id", id)

	// 1. cheap bot checks
	if err := p.filter.CheckHoneypot(in.Honeypot); err != nil {
		return silent(logger, id, err)
	}
	loadedAt, err := spam.ParseFormTime(in.FormTime)
	if err == nil {
		err = p.filter.CheckFillTime(loadedAt, now)
	}
	if err != nil {
		return silent(logger, id, err)
	}

	// 2. identity
	identity := submission.ResolveIdentity(in.Origin, p.cfg.TrustProxyHeaders)
	logger = logger.With("identity", identity)

	// 3. admission, durable store and session counter
	if !p.store.Admit(ctx, identity, now, p.cfg.Window, p.cfg.MaxPerWindow) {
		logger.Info("submission rate limited", "source", "store")
		return Result{Outcome: RateLimited, SubmissionID: id}
	}
	if !p.session.Admit(in.Session, identity, now) {
		logger.Info("submission rate limited", "source", "session")
		return Result{Outcome: RateLimited, SubmissionID: id}
	}

	// 4. sanitize
	attempt := submission.NewAttempt(id, identity, in.Fields, loadedAt, now)

	// 5. content rules on sanitized values
	if err := p.filter.CheckContent(attempt); err != nil {
		if spam.Silent(err) {
			return silent(logger, id, err)
		}
		logger.Info("submission rejected", "rule", spam.Rule(err))
		return Result{Outcome: Invalid, Reason: ReasonInvalidEmail, SubmissionID: id}
	}

	// 6. structure
	if errs := submission.Validate(attempt); len(errs) > 0 {
		reason := ReasonMissingFields
		if errs.EmailMalformed() {
			reason = ReasonInvalidEmail
		}
		logger.Info("submission invalid", "reason", reason, "errors", errs.Error())
		return Result{Outcome: Invalid, Reason: reason, SubmissionID: id}
	}

	// 7. record in both limiters; failures never block the message
	if err := p.store.Record(ctx, identity, now); err != nil {
		logger.Warn("rate limit record failed", "err", err)
	}
	if err := p.session.Record(in.Session, identity, now); err != nil {
		logger.Warn("session rate limit record failed", "err", err)
	}

	// 8. deliver
	if err := p.dispatcher.Dispatch(ctx, attempt); err != nil {
		logger.Error("notification delivery failed", "err", err)
		return Result{Outcome: DeliveryFailed, SubmissionID: id}
	}

	logger.Info("submission accepted")
	return Result{Outcome: Accepted, SubmissionID: id}
}

func silent(logger *slog.Logger, id string, err error) Result {
	logger.Info("submission silently rejected", "rule", spam.Rule(err))
	return Result{Outcome: SilentRejected, Reason: spam.Rule(err), SubmissionID: id}
}
