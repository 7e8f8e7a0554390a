package formguard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/nazarhussain/form-guard/env"
	"github.com/nazarhussain/form-guard/internal/ratelimit"
	"github.com/nazarhussain/form-guard/internal/spam"
)

/*
ENV-ONLY CONFIG (a .env file in the working directory is loaded first if present):
  Required:
    CONTACT_TO, FROM_ADDR, SITE_NAME
    SMTP_HOST, SMTP_PORT (when MAIL_TRANSPORT=smtp)
  Optional:
    LISTEN_ADDR (default ":3000")
    MAX_BODY_KB (default 64)
    SITE_URL, CONTACT_PHONE
    HOME_PATH (default "/index.html"), THANK_YOU_PATH (default "/thank-you.html")
    MIN_FILL_SECONDS (default 3)
    MAX_LINKS (default 2)
    BLOCKED_KEYWORDS, DISPOSABLE_DOMAINS (comma-separated)
    RATE_LIMIT_MAX (default 3), RATE_LIMIT_WINDOW (default 1h)
    RATE_LIMIT_BACKEND ("file" or "sqlite", default "file")
    RATE_LIMIT_FILE (default $TMPDIR/form_guard_rate_limits.json)
    RATE_LIMIT_SQLITE (default "form_guard.db")
    TRUST_PROXY_HEADERS (default true)
    SESSION_COOKIE (default "form_guard_session"), SESSION_SECURE (default false)
    FLOOD_RPS (default 5, 0 disables), FLOOD_BURST (default 20)
    MAIL_TRANSPORT ("smtp" or "ses", default "smtp")
    SMTP_USER, SMTP_PASS, SMTP_SSL
    SES_REGION
    MAIL_TIMEOUT (default 15s), MAIL_MAX_CONCURRENT (default 4)
    TIMEZONE (default "Europe/London")
*/

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"

	TransportSMTP = "smtp"
	TransportSES  = "ses"
)

type SmtpCfg struct {
	Host string
	Port int
	User string
	Pass string
	SSL  bool
}

type Config struct {
	ListenAddr string
	MaxBodyKB  int

	To           string
	FromAddr     string
	SiteName     string
	SiteURL      string
	ContactPhone string
	HomePath     string
	ThankYouPath string
	Location     *time.Location

	MinFill           time.Duration
	MaxLinks          int
	Keywords          []string
	DisposableDomains []string

	RateMax           int
	RateWindow        time.Duration
	RateBackend       string
	RateFile          string
	RateSQLite        string
	TrustProxyHeaders bool

	SessionCookie string
	SessionSecure bool

	FloodRPS   float64
	FloodBurst int

	MailTransport     string
	SMTP              SmtpCfg
	SESRegion         string
	MailTimeout       time.Duration
	MailMaxConcurrent int
}

// LoadConfig reads the environment. Every problem is reported in one error.
func LoadConfig() (*Config, error) {
	return loadConfig(env.NewReader())
}

func loadConfig(r *env.Reader) (*Config, error) {
	c := &Config{
		ListenAddr: r.String("LISTEN_ADDR", ":3000"),
		MaxBodyKB:  r.Int("MAX_BODY_KB", 64),

		To:           r.Required("CONTACT_TO"),
		FromAddr:     r.Required("FROM_ADDR"),
		SiteName:     r.Required("SITE_NAME"),
		SiteURL:      r.String("SITE_URL", ""),
		ContactPhone: r.String("CONTACT_PHONE", ""),
		HomePath:     r.String("HOME_PATH", "/index.html"),
		ThankYouPath: r.String("THANK_YOU_PATH", "/thank-you.html"),

		MinFill:           time.Duration(r.Int("MIN_FILL_SECONDS", int(spam.DefaultMinFill/time.Second))) * time.Second,
		MaxLinks:          r.Int("MAX_LINKS", spam.DefaultMaxLinks),
		Keywords:          r.List("BLOCKED_KEYWORDS", spam.DefaultKeywords),
		DisposableDomains: r.List("DISPOSABLE_DOMAINS", spam.DefaultDisposableDomains),

		RateMax:           r.Int("RATE_LIMIT_MAX", ratelimit.DefaultMax),
		RateWindow:        r.Duration("RATE_LIMIT_WINDOW", ratelimit.DefaultWindow),
		RateBackend:       strings.ToLower(r.String("RATE_LIMIT_BACKEND", BackendFile)),
		RateFile:          r.String("RATE_LIMIT_FILE", filepath.Join(os.TempDir(), "form_guard_rate_limits.json")),
		RateSQLite:        r.String("RATE_LIMIT_SQLITE", "form_guard.db"),
		TrustProxyHeaders: r.Bool("TRUST_PROXY_HEADERS", true),

		SessionCookie: r.String("SESSION_COOKIE", "form_guard_session"),
		SessionSecure: r.Bool("SESSION_SECURE", false),

		FloodRPS:   r.Float("FLOOD_RPS", 5),
		FloodBurst: r.Int("FLOOD_BURST", 20),

		MailTransport:     strings.ToLower(r.String("MAIL_TRANSPORT", TransportSMTP)),
		SESRegion:         r.String("SES_REGION", ""),
		MailTimeout:       r.Duration("MAIL_TIMEOUT", 15*time.Second),
		MailMaxConcurrent: r.Int("MAIL_MAX_CONCURRENT", 4),
	}

	if c.MailTransport == TransportSMTP {
		c.SMTP = SmtpCfg{
			Host: r.Required("SMTP_HOST"),
			Port: r.Int("SMTP_PORT", 587),
			User: r.String("SMTP_USER", ""),
			Pass: r.String("SMTP_PASS", ""),
			SSL:  r.Bool("SMTP_SSL", false),
		}
	}

	tz := r.String("TIMEZONE", "Europe/London")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("env TIMEZONE: %w", err)
	}
	c.Location = loc

	if err := r.Err(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch {
	case c.RateBackend != BackendFile && c.RateBackend != BackendSQLite:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", BackendFile, BackendSQLite, c.RateBackend)
	case c.MailTransport != TransportSMTP && c.MailTransport != TransportSES:
		return fmt.Errorf("MAIL_TRANSPORT must be %q or %q, got %q", TransportSMTP, TransportSES, c.MailTransport)
	case c.RateMax <= 0:
		return fmt.Errorf("RATE_LIMIT_MAX must be positive")
	case c.RateWindow <= 0:
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	case c.MaxBodyKB <= 0:
		return fmt.Errorf("MAX_BODY_KB must be positive")
	}
	return nil
}
