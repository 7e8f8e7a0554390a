package formguard

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/nazarhussain/form-guard/internal/logging"
	"github.com/nazarhussain/form-guard/internal/pipeline"
)

// floodGuard caps contact POSTs across all clients with one token bucket, so
// a burst from many addresses cannot queue unbounded mail sends. Over-limit
// requests get the ordinary rate-limit redirect.
func (h *Handler) floodGuard(next http.Handler) http.Handler {
	if h.conf.FloodRPS <= 0 {
		return next
	}
	limiter := rate.NewLimiter(rate.Limit(h.conf.FloodRPS), max(h.conf.FloodBurst, 1))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && !limiter.Allow() {
			logging.FromContext(r.Context()).Warn("flood guard tripped")
			h.redirect(w, r, pipeline.Result{Outcome: pipeline.RateLimited})
			return
		}
		next.ServeHTTP(w, r)
	})
}
