package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// contextKey is the private key type used to store RequestContext
type contextKey string

const requestContextKey contextKey = "duallane_request_context"

// RequestContext carries request tracing information across layers.
type RequestContext struct {
	CorrelationID string    // unique correlation ID (10-char base36, e.g. mgrn0zfqda)
	OperationType string    // operation type submitted by the caller
	Priority      string    // request priority
	StartTime     time.Time // request start time
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 charset (lowercase letters + digits)
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateCorrelationID generates a 10-character random correlation ID.
// base36 encoding keeps IDs short and cheap compared to UUIDs.
func GenerateCorrelationID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext injects a RequestContext into the Context.
// Usually called in middleware so the whole request lifecycle is traceable.
func WithRequestContext(ctx context.Context, correlationID, operationType, priority string) context.Context {
	reqCtx := &RequestContext{
		CorrelationID: correlationID,
		OperationType: operationType,
		Priority:      priority,
		StartTime:     time.Now(),
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// GetRequestContext extracts the RequestContext from the Context.
// Returns a default empty RequestContext when absent, so callers never
// need a nil check.
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return &RequestContext{CorrelationID: "unknown"}
	}

	if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return reqCtx
	}

	return &RequestContext{CorrelationID: "unknown"}
}

// GetCorrelationID extracts the correlation ID from the Context.
func GetCorrelationID(ctx context.Context) string {
	return GetRequestContext(ctx).CorrelationID
}

// GetElapsedTime returns how long the request has been running, in milliseconds.
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
