package middleware

import (
	"context"
	"strings"

	pkglog "DualLane/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// OperatorAuth returns a middleware that guards the operator surface with a
// static admin token. The token is accepted either as "Authorization: Bearer
// {token}" or via the X-API-Key header. An empty configured token disables
// the check entirely, which is the expected mode in local development.
func OperatorAuth(adminToken string, logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if adminToken == "" {
				return handler(ctx, req)
			}

			presented := extractToken(ctx)
			if presented == "" {
				return nil, kerrors.Unauthorized("MISSING_TOKEN", "operator endpoint requires an admin token")
			}
			if presented != adminToken {
				logger.Security("operator request rejected: invalid admin token",
					"token_hint", pkglog.SanitizeField("api_key", presented),
				)
				return nil, kerrors.Unauthorized("INVALID_TOKEN", "admin token does not match")
			}

			return handler(ctx, req)
		}
	}
}

// extractToken pulls the admin token from the request headers.
// Priority: Authorization Bearer > X-API-Key.
func extractToken(ctx context.Context) string {
	tr, ok := transport.FromServerContext(ctx)
	if !ok {
		return ""
	}
	ht, ok := tr.(http.Transporter)
	if !ok {
		return ""
	}
	req := ht.Request()

	if authHeader := req.Header.Get("Authorization"); authHeader != "" {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return req.Header.Get("X-API-Key")
}
