package submission

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation error codes.
const (
	CodeRequired = "required"
	CodeLength   = "length"
	CodeFormat   = "format"
)

// FieldError is one failed rule for one field.
type FieldError struct {
	Field string
	Code  string
}

// Errors is the full set of failures for an attempt. A nil Errors means valid.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Code
	}
	return "invalid submission: " + strings.Join(parts, ", ")
}

// Has reports whether field failed with code. An empty code matches any failure.
func (e Errors) Has(field, code string) bool {
	for _, fe := range e {
		if fe.Field == field && (code == "" || fe.Code == code) {
			return true
		}
	}
	return false
}

// EmailMalformed is true when the email was present but not an address.
func (e Errors) EmailMalformed() bool {
	return e.Has("email", CodeFormat)
}

var phonePattern = regexp.MustCompile(`^[\d\s+\-()]+$`)

// Validate checks every rule and returns all failures together.
func Validate(a Attempt) Errors {
	var errs Errors
	add := func(field, code string) {
		errs = append(errs, FieldError{Field: field, Code: code})
	}

	switch n := utf8.RuneCountInString(a.Name); {
	case n == 0:
		add("name", CodeRequired)
	case n < 2 || n > 50:
		add("name", CodeLength)
	}

	switch {
	case a.Email == "":
		add("email", CodeRequired)
	case !ValidEmail(a.Email):
		add("email", CodeFormat)
	}

	switch n := utf8.RuneCountInString(a.Phone); {
	case n == 0:
		add("phone", CodeRequired)
	case !phonePattern.MatchString(a.Phone):
		add("phone", CodeFormat)
	case n < 10 || n > 20:
		add("phone", CodeLength)
	}

	switch n := utf8.RuneCountInString(a.Message); {
	case n == 0:
		add("message", CodeRequired)
	case n < 10 || n > 5000:
		add("message", CodeLength)
	}

	if !a.ConsentGiven {
		add("consent", CodeRequired)
	}

	return errs
}

// ValidEmail accepts a bare RFC 5322 addr-spec whose domain has at least one
// dot and no empty labels.
func ValidEmail(s string) bool {
	if len(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	local, domain := s[:at], s[at+1:]
	if len(local) > 64 || !strings.Contains(domain, ".") {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}
	return true
}
