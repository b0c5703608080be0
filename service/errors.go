package service

import (
	"errors"
	"fmt"
	"net/http"
)

type FailureClass int

const (
	// FailureTransient covers timeouts and connection resets; retried
	// with backoff until attempts run out.
	FailureTransient FailureClass = iota
	// FailureTerminal marks confirmed absence (404/410); retrying is
	// wasted work, the video is broken.
	FailureTerminal
	// FailureRateLimited marks 429 and 5xx upstream answers; retried
	// with a longer backoff.
	FailureRateLimited
)

func (c FailureClass) String() string {
	switch c {
	case FailureTerminal:
		return "terminal"
	case FailureRateLimited:
		return "rate_limited"
	default:
		return "transient"
	}
}

// ProbeFailure is the classified outcome of an exhausted or short-circuited
// probe. The retry loop branches on Class, never on string matching.
type ProbeFailure struct {
	Class      FailureClass
	StatusCode int
	URL        string
	Err        error
}

func (f *ProbeFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("probe %s (%s, status %d): %v", f.URL, f.Class, f.StatusCode, f.Err)
	}
	return fmt.Sprintf("probe %s (%s, status %d)", f.URL, f.Class, f.StatusCode)
}

func (f *ProbeFailure) Unwrap() error {
	return f.Err
}

// IsTerminal reports whether err carries a terminal probe classification.
func IsTerminal(err error) bool {
	var pf *ProbeFailure
	return errors.As(err, &pf) && pf.Class == FailureTerminal
}

func classifyStatus(status int) FailureClass {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return FailureTerminal
	case status == http.StatusTooManyRequests || status >= 500:
		return FailureRateLimited
	default:
		return FailureTransient
	}
}

var ErrJobAlreadyRunning = errors.New("a validation job is already running")
