// Package middleware provides HTTP server middleware.
package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "DualLane/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// slowRequestThresholdMs flags requests that took suspiciously long.
const slowRequestThresholdMs = 5000

// Logging returns a middleware that logs every HTTP request. It extracts or
// generates the correlation ID and injects a request context so all
// downstream log lines carry it.
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method        string
				path          string
				ip            string
				correlationID string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}

					ip = extractClientIP(httpReq)

					correlationID = httpReq.Header.Get("X-Correlation-ID")
					if correlationID == "" {
						correlationID = pkglog.GenerateCorrelationID()
					}
				}
			}

			// Operation type and priority are only known once the request
			// body is bound, so the context starts with the ID alone.
			ctx = pkglog.WithRequestContext(ctx, correlationID, "", "")

			reply, err := handler(ctx, req)

			duration := time.Since(startTime).Milliseconds()
			status := 200
			if err != nil {
				status = extractHTTPStatus(err)
			}

			logger.Request(method, path, status, duration,
				"correlation_id", correlationID,
				"ip", ip,
			)
			if duration > slowRequestThresholdMs {
				logger.SlowRequest(correlationID, method, path, duration)
			}

			return reply, err
		}
	}
}

// extractClientIP extracts the client IP from the request.
// Priority: X-Real-IP > X-Forwarded-For > RemoteAddr.
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	return req.RemoteAddr
}

// extractHTTPStatus maps an error to the HTTP status Kratos will send.
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	if se := kerrors.FromError(err); se != nil {
		return int(se.Code)
	}
	return 500
}
