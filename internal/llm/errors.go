package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrorKind classifies adapter failures at the adapter boundary so callers
// never have to inspect error text.
type ErrorKind int

const (
	KindOther     ErrorKind = iota // unclassified failure
	KindTransient                  // connection refused or timeout
	KindStatus                     // non-2xx response from the server
	KindEmpty                      // server answered with no text
	KindAuth                       // authentication rejected or key missing
	KindQuota                      // quota or rate limit exhausted
)

// String returns the kind's label, used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindStatus:
		return "status"
	case KindEmpty:
		return "empty"
	case KindAuth:
		return "auth"
	case KindQuota:
		return "quota"
	default:
		return "other"
	}
}

var (
	// ErrModelsExhausted is returned when every model in a fallback chain failed.
	ErrModelsExhausted = errors.New("all cloud models failed")
	// ErrNoModels is returned by a cloud adapter configured with no models.
	ErrNoModels = errors.New("no cloud models configured")
	// ErrNoAPIKey is wrapped in a KindAuth error when no cloud key is set.
	ErrNoAPIKey = errors.New("API key not configured (set GEMINI_API_KEY)")
)

// ProviderError is the typed error every provider returns.
type ProviderError struct {
	Provider   string
	Model      string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Model != "" {
		b.WriteString(" (")
		b.WriteString(e.Model)
		b.WriteString(")")
	}
	b.WriteString(" ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// KindOf returns the classification carried by err, or KindOther.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}

// IsAuth reports an authentication failure.
func IsAuth(err error) bool { return err != nil && KindOf(err) == KindAuth }

// IsQuota reports a quota or rate-limit failure.
func IsQuota(err error) bool { return err != nil && KindOf(err) == KindQuota }

// IsTransient reports a connection-refused or timeout failure.
func IsTransient(err error) bool { return err != nil && KindOf(err) == KindTransient }

// IsEmpty reports an empty reply.
func IsEmpty(err error) bool { return err != nil && KindOf(err) == KindEmpty }

// transportKind classifies an error returned by http.Client.Do.
func transportKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindTransient
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection refused") {
		return KindTransient
	}
	return KindOther
}

// cloudStatusKind classifies a non-2xx cloud response by status and body.
func cloudStatusKind(status int, body string) ErrorKind {
	lower := strings.ToLower(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case strings.Contains(body, "API_KEY") || strings.Contains(lower, "api key not valid"):
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindQuota
	case strings.Contains(body, "RESOURCE_EXHAUSTED") || strings.Contains(lower, "quota"):
		return KindQuota
	default:
		return KindStatus
	}
}
