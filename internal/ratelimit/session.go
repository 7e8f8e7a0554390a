package ratelimit

import (
	"time"
)

const sessionKeyPrefix = "form_submissions:"

// SessionValues is the part of a session store the counter needs.
// gitea.com/go-chi/session.Store satisfies it.
type SessionValues interface {
	Get(key interface{}) interface{}
	Set(key, val interface{}) error
}

// SessionCounter is the secondary, best-effort limiter scoped to one client
// session. It is independent of the durable Store and may disagree with it;
// the Store is authoritative.
type SessionCounter struct {
	Window time.Duration
	Max    int
}

// Admit reports whether the session has room for another submission from
// identity. A missing session admits.
func (c SessionCounter) Admit(sess SessionValues, identity string, now time.Time) bool {
	if sess == nil {
		return true
	}
	return Allowed(c.stamps(sess, identity), now, c.Window, c.Max)
}

// Record stores now in the session, dropping entries outside the window.
func (c SessionCounter) Record(sess SessionValues, identity string, now time.Time) error {
	if sess == nil {
		return nil
	}
	stamps := append(Prune(c.stamps(sess, identity), now, c.Window), now.Unix())
	return sess.Set(sessionKeyPrefix+identity, stamps)
}

func (c SessionCounter) stamps(sess SessionValues, identity string) []int64 {
	stamps, _ := sess.Get(sessionKeyPrefix + identity).([]int64)
	return stamps
}
