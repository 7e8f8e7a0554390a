// Package submission holds the per-request contact form attempt, the
// boundary sanitizers applied to it and the structural field validator.
package submission

import (
	"strings"
	"time"
)

// Fields are the raw user-supplied form values.
type Fields struct {
	Name           string
	Email          string
	Phone          string
	Company        string
	Message        string
	ConsentGiven   bool
	MarketingOptIn bool
}

// Attempt is one sanitized submission. It lives for a single pipeline run.
type Attempt struct {
	ID             string
	Name           string
	Email          string
	Phone          string
	Company        string
	Message        string
	ConsentGiven   bool
	MarketingOptIn bool
	Identity       string
	FormLoadedAt   time.Time // zero when the client did not send it
	ReceivedAt     time.Time
}

// NewAttempt trims and sanitizes raw fields. Name and email go through the
// header-context sanitizers since both end up near mail headers.
func NewAttempt(id, identity string, f Fields, loadedAt, receivedAt time.Time) Attempt {
	return Attempt{
		ID:             id,
		Name:           SanitizeText(f.Name),
		Email:          SanitizeEmail(f.Email),
		Phone:          strings.TrimSpace(f.Phone),
		Company:        strings.TrimSpace(f.Company),
		Message:        strings.TrimSpace(f.Message),
		ConsentGiven:   f.ConsentGiven,
		MarketingOptIn: f.MarketingOptIn,
		Identity:       identity,
		FormLoadedAt:   loadedAt,
		ReceivedAt:     receivedAt,
	}
}

// FillDuration is how long the visitor spent on the form, if known.
func (a Attempt) FillDuration() (time.Duration, bool) {
	if a.FormLoadedAt.IsZero() {
		return 0, false
	}
	d := a.ReceivedAt.Sub(a.FormLoadedAt)
	if d < 0 {
		d = 0
	}
	return d, true
}

// EmailDomain returns the lower-cased part after the last '@'.
func (a Attempt) EmailDomain() string {
	i := strings.LastIndexByte(a.Email, '@')
	if i < 0 {
		return ""
	}
	return strings.ToLower(a.Email[i+1:])
}

// FreeText joins every free-text field for content screening.
func (a Attempt) FreeText() string {
	return strings.Join([]string{a.Name, a.Email, a.Phone, a.Company, a.Message}, " ")
}
