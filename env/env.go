package env

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Reader reads typed values from the process environment. Parse failures
// are collected instead of aborting so every bad variable is reported at once.
type Reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func NewReader() *Reader {
	return &Reader{lookup: os.LookupEnv}
}

// NewReaderFunc builds a Reader over a custom lookup, mostly for tests.
func NewReaderFunc(lookup func(string) (string, bool)) *Reader {
	return &Reader{lookup: lookup}
}

func (r *Reader) get(k string) string {
	v, _ := r.lookup(k)
	return strings.TrimSpace(v)
}

func (r *Reader) fail(k, format string, args ...any) {
	r.errs = append(r.errs, fmt.Errorf("env %s: %s", k, fmt.Sprintf(format, args...)))
}

// Err returns every collected error joined, or nil.
func (r *Reader) Err() error {
	return errors.Join(r.errs...)
}

func (r *Reader) Required(k string) string {
	v := r.get(k)
	if v == "" {
		r.fail(k, "missing")
	}
	return v
}

func (r *Reader) String(k, d string) string {
	v := r.get(k)
	if v == "" {
		return d
	}
	return v
}

func (r *Reader) Int(k string, d int) int {
	v := r.get(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(k, "must be int")
		return d
	}
	return n
}

func (r *Reader) Float(k string, d float64) float64 {
	v := r.get(k)
	if v == "" {
		return d
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(k, "must be a number")
		return d
	}
	return f
}

func (r *Reader) Bool(k string, d bool) bool {
	v := r.get(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	default:
		r.fail(k, "must be boolean")
		return d
	}
}

// Duration accepts Go duration syntax ("90s", "1h") or a bare number of seconds.
func (r *Reader) Duration(k string, d time.Duration) time.Duration {
	v := r.get(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		r.fail(k, "must be a duration")
		return d
	}
	return dur
}

// List splits a comma-separated value, dropping blanks.
func (r *Reader) List(k string, d []string) []string {
	v := r.get(k)
	if v == "" {
		return d
	}
	return SplitList(v)
}

func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
