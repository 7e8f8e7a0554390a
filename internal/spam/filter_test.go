package spam

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazarhussain/form-guard/internal/submission"
)

func newFilter() *Filter {
	return New(Config{
		MinFill:           DefaultMinFill,
		MaxLinks:          DefaultMaxLinks,
		Keywords:          DefaultKeywords,
		DisposableDomains: DefaultDisposableDomains,
	})
}

func attempt(mutate func(*submission.Fields)) submission.Attempt {
	f := submission.Fields{
		Name:         "Jo",
		Email:        "jo@example.com",
		Phone:        "07123456789",
		Message:      "I would like a valuation please.",
		ConsentGiven: true,
	}
	if mutate != nil {
		mutate(&f)
	}
	return submission.NewAttempt("id", "203.0.113.1", f, time.Time{}, time.Now())
}

func TestCheckHoneypot(t *testing.T) {
	f := newFilter()
	require.NoError(t, f.CheckHoneypot(""))
	require.NoError(t, f.CheckHoneypot("   "))
	require.ErrorIs(t, f.CheckHoneypot("http://spam.example"), ErrHoneypot)
}

func TestCheckFillTime(t *testing.T) {
	f := newFilter()
	now := time.Unix(1_700_000_100, 0)

	require.NoError(t, f.CheckFillTime(time.Time{}, now), "missing stamp passes")
	require.NoError(t, f.CheckFillTime(now.Add(-3*time.Second), now))
	require.NoError(t, f.CheckFillTime(now.Add(-10*time.Minute), now))
	require.ErrorIs(t, f.CheckFillTime(now.Add(-2*time.Second), now), ErrTooFast)
	require.ErrorIs(t, f.CheckFillTime(now, now), ErrTooFast)
	require.ErrorIs(t, f.CheckFillTime(now.Add(time.Minute), now), ErrTooFast, "future stamp")
}

func TestParseFormTime(t *testing.T) {
	ts, err := ParseFormTime("")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	ts, err = ParseFormTime(" 1700000000 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000), ts.Unix())

	_, err = ParseFormTime("yesterday")
	require.ErrorIs(t, err, ErrBadTimestamp)
}

func TestCheckContentKeywords(t *testing.T) {
	f := newFilter()

	require.NoError(t, f.CheckContent(attempt(nil)))

	require.ErrorIs(t, f.CheckContent(attempt(func(fl *submission.Fields) {
		fl.Message = "Cheap CASINO bonus for you"
	})), ErrBlockedKeyword)

	require.ErrorIs(t, f.CheckContent(attempt(func(fl *submission.Fields) {
		fl.Company = "Bitcoin Brokers Ltd"
	})), ErrBlockedKeyword, "company is screened too")

	require.ErrorIs(t, f.CheckContent(attempt(func(fl *submission.Fields) {
		fl.Email = "poker@example.com"
	})), ErrBlockedKeyword, "email is screened too")
}

func TestCheckContentLinks(t *testing.T) {
	f := newFilter()

	two := "see http://a.example and https://b.example"
	require.NoError(t, f.CheckContent(attempt(func(fl *submission.Fields) { fl.Message = two })))

	three := strings.Repeat("http://x.example ", 3)
	require.ErrorIs(t, f.CheckContent(attempt(func(fl *submission.Fields) { fl.Message = three })), ErrTooManyLinks)

	mixed := "HTTP://a.example https://b.example Https://c.example"
	require.ErrorIs(t, f.CheckContent(attempt(func(fl *submission.Fields) { fl.Message = mixed })), ErrTooManyLinks)
}

func TestCheckContentDisposableDomain(t *testing.T) {
	f := newFilter()

	err := f.CheckContent(attempt(func(fl *submission.Fields) { fl.Email = "jo@GuerrillaMail.com" }))
	require.ErrorIs(t, err, ErrDisposableDomain)
	assert.False(t, Silent(err))

	require.NoError(t, f.CheckContent(attempt(func(fl *submission.Fields) { fl.Email = "jo@notmailinator.com" })))
}

func TestSilentAndRule(t *testing.T) {
	assert.False(t, Silent(nil))
	assert.True(t, Silent(ErrHoneypot))
	assert.True(t, Silent(ErrTooManyLinks))

	assert.Equal(t, "honeypot", Rule(ErrHoneypot))
	assert.Equal(t, "fill_time", Rule(ErrBadTimestamp))
	assert.Equal(t, "keyword", Rule(ErrBlockedKeyword))
	assert.Equal(t, "links", Rule(ErrTooManyLinks))
	assert.Equal(t, "disposable_domain", Rule(ErrDisposableDomain))
}
