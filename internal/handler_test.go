package formguard

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazarhussain/form-guard/internal/pipeline"
	"github.com/nazarhussain/form-guard/internal/ratelimit"
	"github.com/nazarhussain/form-guard/internal/spam"
	"github.com/nazarhussain/form-guard/internal/submission"
)

type runnerFunc func(ctx context.Context, in pipeline.Input) pipeline.Result

func (f runnerFunc) Run(ctx context.Context, in pipeline.Input) pipeline.Result { return f(ctx, in) }

type captureRunner struct {
	mu     sync.Mutex
	inputs []pipeline.Input
	result pipeline.Result
}

func (c *captureRunner) Run(ctx context.Context, in pipeline.Input) pipeline.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, in)
	return c.result
}

// openStore admits everything so only the session counter limits.
type openStore struct{}

func (openStore) Admit(context.Context, string, time.Time, time.Duration, int) bool { return true }
func (openStore) Record(context.Context, string, time.Time) error                  { return nil }

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, submission.Attempt) error { return nil }

func testConfig() *Config {
	return &Config{
		MaxBodyKB:     64,
		HomePath:      "/index.html",
		ThankYouPath:  "/thank-you.html",
		SessionCookie: "fg_test",
		RateMax:       3,
		RateWindow:    time.Hour,
	}
}

func newTestRouter(t *testing.T, conf *Config, runner Runner) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := NewRouter(conf, runner, logger)
	require.NoError(t, err)
	return h
}

func validForm() url.Values {
	return url.Values{
		"name":             {"Jo Bloggs"},
		"email":            {"jo@example.com"},
		"phone":            {"07123456789"},
		"company":          {"Bloggs Ltd"},
		"message":          {"Please call me back about a valuation."},
		"gdpr-consent":     {"on"},
		"website":          {""},
		"form_loaded_time": {strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10)},
	}
}

func postForm(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRedirectTarget(t *testing.T) {
	conf := testConfig()

	tests := []struct {
		name string
		res  pipeline.Result
		want string
	}{
		{"accepted", pipeline.Result{Outcome: pipeline.Accepted}, "/thank-you.html"},
		{"silent", pipeline.Result{Outcome: pipeline.SilentRejected, Reason: "honeypot"}, "/thank-you.html"},
		{"rate limited", pipeline.Result{Outcome: pipeline.RateLimited}, "/index.html?error=rate_limit#contact"},
		{"missing fields", pipeline.Result{Outcome: pipeline.Invalid, Reason: pipeline.ReasonMissingFields}, "/index.html?error=missing_fields#contact"},
		{"invalid email", pipeline.Result{Outcome: pipeline.Invalid, Reason: pipeline.ReasonInvalidEmail}, "/index.html?error=invalid_email#contact"},
		{"delivery failed", pipeline.Result{Outcome: pipeline.DeliveryFailed}, "/index.html?error=send_failed#contact"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedirectTarget(conf, tt.res))
		})
	}
}

func TestRedirectTargetKeepsHomeQuery(t *testing.T) {
	conf := testConfig()
	conf.HomePath = "/?lang=en"

	got := RedirectTarget(conf, pipeline.Result{Outcome: pipeline.RateLimited})

	assert.Equal(t, "/?error=rate_limit&lang=en#contact", got)
}

func TestHandleContactMapsFormToInput(t *testing.T) {
	runner := &captureRunner{result: pipeline.Result{Outcome: pipeline.Accepted}}
	h := newTestRouter(t, testConfig(), runner)

	form := validForm()
	form.Set("website", "bot-filled")
	form.Set("marketing-consent", "on")
	req := postForm(form)
	req.Header.Set("X-Forwarded-For", "198.51.100.7")

	rr := serve(h, req)

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/thank-you.html", rr.Header().Get("Location"))
	require.Len(t, runner.inputs, 1)
	in := runner.inputs[0]
	assert.Equal(t, "Jo Bloggs", in.Fields.Name)
	assert.Equal(t, "jo@example.com", in.Fields.Email)
	assert.Equal(t, "Bloggs Ltd", in.Fields.Company)
	assert.True(t, in.Fields.ConsentGiven)
	assert.True(t, in.Fields.MarketingOptIn)
	assert.Equal(t, "bot-filled", in.Honeypot)
	assert.Equal(t, form.Get("form_loaded_time"), in.FormTime)
	assert.Equal(t, "198.51.100.7", in.Origin.XForwardedFor)
	assert.NotEmpty(t, in.Origin.RemoteAddr)
	assert.NotNil(t, in.Session)
}

func TestHandleContactConsentAbsent(t *testing.T) {
	runner := &captureRunner{result: pipeline.Result{Outcome: pipeline.Invalid, Reason: pipeline.ReasonMissingFields}}
	h := newTestRouter(t, testConfig(), runner)

	form := validForm()
	form.Del("gdpr-consent")
	rr := serve(h, postForm(form))

	assert.Equal(t, "/index.html?error=missing_fields#contact", rr.Header().Get("Location"))
	require.Len(t, runner.inputs, 1)
	assert.False(t, runner.inputs[0].Fields.ConsentGiven)
	assert.False(t, runner.inputs[0].Fields.MarketingOptIn)
}

func TestHandleContactMultipart(t *testing.T) {
	runner := &captureRunner{result: pipeline.Result{Outcome: pipeline.Accepted}}
	h := newTestRouter(t, testConfig(), runner)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range validForm() {
		require.NoError(t, mw.WriteField(k, v[0]))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/contact", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := serve(h, req)

	assert.Equal(t, "/thank-you.html", rr.Header().Get("Location"))
	require.Len(t, runner.inputs, 1)
	assert.Equal(t, "Jo Bloggs", runner.inputs[0].Fields.Name)
}

func TestHandleContactNonPostRedirectsHome(t *testing.T) {
	runner := &captureRunner{}
	h := newTestRouter(t, testConfig(), runner)

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/contact", nil))

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/index.html", rr.Header().Get("Location"))
	assert.Empty(t, runner.inputs)
}

func TestHandleContactOversizedBody(t *testing.T) {
	conf := testConfig()
	conf.MaxBodyKB = 1
	runner := &captureRunner{result: pipeline.Result{Outcome: pipeline.RateLimited}}
	h := newTestRouter(t, conf, runner)

	form := validForm()
	form.Set("message", strings.Repeat("x", 4096))
	rr := serve(h, postForm(form))

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/index.html?error=missing_fields#contact", rr.Header().Get("Location"))
	assert.Empty(t, runner.inputs, "an unreadable body never reaches the pipeline")
}

func TestHandleContactOversizedMultipartBody(t *testing.T) {
	conf := testConfig()
	conf.MaxBodyKB = 1
	runner := &captureRunner{result: pipeline.Result{Outcome: pipeline.Accepted}}
	h := newTestRouter(t, conf, runner)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("name", "Jo Bloggs"))
	require.NoError(t, mw.WriteField("message", strings.Repeat("x", 4096)))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/contact", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := serve(h, req)

	assert.Equal(t, "/index.html?error=missing_fields#contact", rr.Header().Get("Location"))
	assert.Empty(t, runner.inputs)
}

func TestHandleContactRecoversPanic(t *testing.T) {
	h := newTestRouter(t, testConfig(), runnerFunc(func(context.Context, pipeline.Input) pipeline.Result {
		panic("boom")
	}))

	rr := serve(h, postForm(validForm()))

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/index.html", rr.Header().Get("Location"))
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t, testConfig(), &captureRunner{})

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Empty(t, rr.Header().Get("Set-Cookie"), "health check does not start a session")
}

func TestFloodGuard(t *testing.T) {
	conf := testConfig()
	conf.FloodRPS = 0.001
	conf.FloodBurst = 1
	runner := &captureRunner{result: pipeline.Result{Outcome: pipeline.Accepted}}
	h := newTestRouter(t, conf, runner)

	first := serve(h, postForm(validForm()))
	second := serve(h, postForm(validForm()))
	get := serve(h, httptest.NewRequest(http.MethodGet, "/contact", nil))

	assert.Equal(t, "/thank-you.html", first.Header().Get("Location"))
	assert.Equal(t, "/index.html?error=rate_limit#contact", second.Header().Get("Location"))
	assert.Equal(t, "/index.html", get.Header().Get("Location"), "GET is not metered")
	assert.Len(t, runner.inputs, 1)
}

func TestSessionCounterLimitsByCookie(t *testing.T) {
	conf := testConfig()
	filter := spam.New(spam.Config{MinFill: spam.DefaultMinFill, MaxLinks: spam.DefaultMaxLinks})
	p := pipeline.New(pipeline.Config{
		Window:       conf.RateWindow,
		MaxPerWindow: conf.RateMax,
	}, filter, openStore{}, nopDispatcher{})
	h := newTestRouter(t, conf, p)

	first := serve(h, postForm(validForm()))
	require.Equal(t, "/thank-you.html", first.Header().Get("Location"))
	cookies := first.Result().Cookies()
	require.NotEmpty(t, cookies)

	withCookie := func() *http.Request {
		req := postForm(validForm())
		for _, c := range cookies {
			req.AddCookie(c)
		}
		return req
	}

	for i := 1; i < conf.RateMax; i++ {
		require.Equal(t, "/thank-you.html", serve(h, withCookie()).Header().Get("Location"), "submission %d", i+1)
	}
	assert.Equal(t, "/index.html?error=rate_limit#contact", serve(h, withCookie()).Header().Get("Location"))

	assert.Equal(t, "/thank-you.html", serve(h, postForm(validForm())).Header().Get("Location"), "new session starts empty")
}

func TestEndToEndWithFileStore(t *testing.T) {
	conf := testConfig()
	conf.RateMax = 1
	store := ratelimit.NewFileStore(t.TempDir()+"/limits.json", conf.RateWindow)
	filter := spam.New(spam.Config{
		MinFill:           spam.DefaultMinFill,
		MaxLinks:          spam.DefaultMaxLinks,
		Keywords:          spam.DefaultKeywords,
		DisposableDomains: spam.DefaultDisposableDomains,
	})
	p := pipeline.New(pipeline.Config{
		Window:            conf.RateWindow,
		MaxPerWindow:      conf.RateMax,
		TrustProxyHeaders: true,
	}, filter, store, nopDispatcher{})
	h := newTestRouter(t, conf, p)

	bad := validForm()
	bad.Set("email", "jo@mailinator.com")
	assert.Equal(t, "/index.html?error=invalid_email#contact", serve(h, postForm(bad)).Header().Get("Location"))

	spammy := validForm()
	spammy.Set("message", "Cheap viagra here")
	assert.Equal(t, "/thank-you.html", serve(h, postForm(spammy)).Header().Get("Location"))

	assert.Equal(t, "/thank-you.html", serve(h, postForm(validForm())).Header().Get("Location"))
	assert.Equal(t, "/index.html?error=rate_limit#contact", serve(h, postForm(validForm())).Header().Get("Location"))

	snap, err := store.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap["192.0.2.1"], 1)
}
