package formguard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"gitea.com/go-chi/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nazarhussain/form-guard/internal/logging"
	"github.com/nazarhussain/form-guard/internal/pipeline"
	"github.com/nazarhussain/form-guard/internal/submission"
)

// Redirect error markers read by the site's client script.
const (
	markerRateLimit     = "rate_limit"
	markerMissingFields = "missing_fields"
	markerInvalidEmail  = "invalid_email"
	markerSendFailed    = "send_failed"
)

// Runner is the submission pipeline as seen by the HTTP layer.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) pipeline.Result
}

type Handler struct {
	conf   *Config
	runner Runner
}

// NewRouter wires the contact endpoint, health check and middleware.
func NewRouter(conf *Config, runner Runner, logger *slog.Logger) (http.Handler, error) {
	h := &Handler{conf: conf, runner: runner}

	sessionHandler, err := session.Sessioner(session.Options{
		Provider:    "memory",
		CookieName:  conf.SessionCookie,
		Secure:      conf.SessionSecure,
		Gclifetime:  int64(conf.RateWindow.Seconds()),
		Maxlifetime: int64(conf.RateWindow.Seconds()),
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger, conf.HomePath))
	r.Use(secHeaders)

	r.Get("/health", HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(sessionHandler)
		r.Use(h.floodGuard)
		r.HandleFunc("/contact", h.HandleContact)
	})

	return r, nil
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleContact accepts the form POST. Every outcome, including malformed
// bodies, ends in a redirect; nothing internal reaches the client.
func (h *Handler) HandleContact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, h.conf.HomePath, http.StatusFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.conf.MaxBodyKB)*1024)
	if err := parseForm(r, int64(h.conf.MaxBodyKB)*1024); err != nil {
		logging.FromContext(r.Context()).Warn("unreadable form body", "err", err)
		h.redirect(w, r, pipeline.Result{Outcome: pipeline.Invalid, Reason: pipeline.ReasonMissingFields})
		return
	}

	form := r.PostForm
	_, consent := form["gdpr-consent"]
	_, marketing := form["marketing-consent"]

	in := pipeline.Input{
		Fields: submission.Fields{
			Name:           form.Get("name"),
			Email:          form.Get("email"),
			Phone:          form.Get("phone"),
			Company:        form.Get("company"),
			Message:        form.Get("message"),
			ConsentGiven:   consent,
			MarketingOptIn: marketing,
		},
		Honeypot: form.Get("website"),
		FormTime: form.Get("form_loaded_time"),
		Origin: submission.Origin{
			RemoteAddr:    r.RemoteAddr,
			XForwardedFor: r.Header.Get("X-Forwarded-For"),
			XRealIP:       r.Header.Get("X-Real-IP"),
		},
	}
	if sess := session.GetSession(r); sess != nil {
		in.Session = sess
	}

	h.redirect(w, r, h.runner.Run(r.Context(), in))
}

// parseForm reads urlencoded bodies first so a body read error (including
// the size cap) is returned instead of being masked by ErrNotMultipart.
func parseForm(r *http.Request, maxBytes int64) error {
	if err := r.ParseForm(); err != nil {
		return err
	}
	err := r.ParseMultipartForm(maxBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		return nil
	}
	return err
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, res pipeline.Result) {
	http.Redirect(w, r, RedirectTarget(h.conf, res), http.StatusFound)
}

// RedirectTarget maps a pipeline result to where the browser goes next.
// Silent rejections look exactly like success.
func RedirectTarget(conf *Config, res pipeline.Result) string {
	var marker string
	switch res.Outcome {
	case pipeline.Accepted, pipeline.SilentRejected:
		return conf.ThankYouPath
	case pipeline.RateLimited:
		marker = markerRateLimit
	case pipeline.Invalid:
		marker = markerMissingFields
		if res.Reason == pipeline.ReasonInvalidEmail {
			marker = markerInvalidEmail
		}
	default:
		marker = markerSendFailed
	}

	u, err := url.Parse(conf.HomePath)
	if err != nil {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set("error", marker)
	u.RawQuery = q.Encode()
	u.Fragment = "contact"
	return u.String()
}
