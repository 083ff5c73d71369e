package logging

import (
	"context"
	"time"
)

// DetachContextWithTimeout returns a context that is not cancelled when
// parent is, bounded by its own deadline. Values (including the request
// logger) are preserved.
//
// Chat handlers use it so that a client hanging up does not abort an
// in-flight model generation or the store write that follows it.
//
//	genCtx, cancel := logging.DetachContextWithTimeout(r.Context(), 2*time.Minute)
//	defer cancel()
//	res, err := router.Route(genCtx, prompt)
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
