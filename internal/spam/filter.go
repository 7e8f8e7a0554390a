// Package spam holds the cheap bot and spam heuristics that run before field
// validation. A rule either passes (nil) or returns one of the sentinel errors.
package spam

import (
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nazarhussain/form-guard/internal/submission"
)

var (
	ErrHoneypot         = errors.New("honeypot field filled")
	ErrTooFast          = errors.New("form submitted too quickly")
	ErrBadTimestamp     = errors.New("form timestamp unparseable")
	ErrBlockedKeyword   = errors.New("blocked keyword")
	ErrTooManyLinks     = errors.New("too many links")
	ErrDisposableDomain = errors.New("disposable email domain")
)

var (
	DefaultKeywords = []string{
		"viagra", "casino", "poker", "cialis", "loan",
		"winner", "prize", "crypto", "bitcoin", "forex",
	}
	DefaultDisposableDomains = []string{
		"tempmail.com", "throwaway.email", "guerrillamail.com",
		"mailinator.com", "10minutemail.com",
	}
)

const (
	DefaultMinFill  = 3 * time.Second
	DefaultMaxLinks = 2
)

var linkPattern = regexp.MustCompile(`(?i)https?://`)

type Config struct {
	MinFill           time.Duration
	MaxLinks          int
	Keywords          []string
	DisposableDomains []string
}

// Filter is stateless; one value is shared by every request.
type Filter struct {
	minFill  time.Duration
	maxLinks int
	keywords []string
	domains  []string
}

func New(c Config) *Filter {
	f := &Filter{
		minFill:  c.MinFill,
		maxLinks: c.MaxLinks,
	}
	for _, k := range c.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			f.keywords = append(f.keywords, k)
		}
	}
	for _, d := range c.DisposableDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			f.domains = append(f.domains, d)
		}
	}
	return f
}

// CheckHoneypot rejects any non-empty value in the hidden field.
func (f *Filter) CheckHoneypot(value string) error {
	if strings.TrimSpace(value) != "" {
		return ErrHoneypot
	}
	return nil
}

// ParseFormTime reads the unix-seconds render stamp. A missing stamp yields
// the zero time and no error.
func ParseFormTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, ErrBadTimestamp
	}
	return time.Unix(sec, 0), nil
}

// CheckFillTime rejects forms returned faster than the configured minimum.
// A zero loadedAt means the client sent no stamp and the check does not apply.
func (f *Filter) CheckFillTime(loadedAt, now time.Time) error {
	if loadedAt.IsZero() || f.minFill <= 0 {
		return nil
	}
	if now.Sub(loadedAt) < f.minFill {
		return ErrTooFast
	}
	return nil
}

// CheckContent runs the keyword, link-density and disposable-domain rules,
// in that order, against an already sanitized attempt.
func (f *Filter) CheckContent(a submission.Attempt) error {
	text := strings.ToLower(a.FreeText())
	for _, k := range f.keywords {
		if strings.Contains(text, k) {
			return ErrBlockedKeyword
		}
	}

	if len(linkPattern.FindAllStringIndex(a.Message, -1)) > f.maxLinks {
		return ErrTooManyLinks
	}

	if d := a.EmailDomain(); d != "" && slices.Contains(f.domains, d) {
		return ErrDisposableDomain
	}
	return nil
}

// Silent reports whether err should be answered as if the message was sent.
// A disposable domain is visible to the sender as an email problem.
func Silent(err error) bool {
	return err != nil && !errors.Is(err, ErrDisposableDomain)
}

// Rule names the rule behind err for logging.
func Rule(err error) string {
	switch {
	case errors.Is(err, ErrHoneypot):
		return "honeypot"
	case errors.Is(err, ErrTooFast), errors.Is(err, ErrBadTimestamp):
		return "fill_time"
	case errors.Is(err, ErrBlockedKeyword):
		return "keyword"
	case errors.Is(err, ErrTooManyLinks):
		return "links"
	case errors.Is(err, ErrDisposableDomain):
		return "disposable_domain"
	default:
		return "unknown"
	}
}
