package server

import (
	"context"

	"DualLane/internal/conf"
	"DualLane/internal/server/middleware"
	"DualLane/internal/service"
	pkglog "DualLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/middleware/selector"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, routing *service.RoutingService, audit *service.AuditService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),
			// Breaker overrides and chain verification are operator-only.
			selector.Server(middleware.OperatorAuth(c.AdminToken, logHelper)).
				Prefix("/v1.Routing/Override/").
				Path("/v1.Audit/VerifyChain").
				Build(),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, routing, audit)

	return srv
}

// registerRoutes wires the operator surface onto the server.
func registerRoutes(srv *http.Server, routing *service.RoutingService, audit *service.AuditService) {
	r := srv.Route("/v1")

	r.POST("/route", func(ctx http.Context) error {
		var in service.RouteRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, "/v1.Routing/Route")
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return routing.Route(ctx, req.(*service.RouteRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/decisions/{correlation_id}", func(ctx http.Context) error {
		http.SetOperation(ctx, "/v1.Routing/GetDecision")
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return routing.GetDecision(ctx, req.(string))
		})
		out, err := h(ctx, ctx.Vars().Get("correlation_id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/metrics/fallback", func(ctx http.Context) error {
		http.SetOperation(ctx, "/v1.Routing/FallbackMetrics")
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return routing.FallbackMetrics(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/metrics/breaker/{provider}", func(ctx http.Context) error {
		http.SetOperation(ctx, "/v1.Routing/BreakerSnapshot")
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return routing.BreakerSnapshot(ctx, req.(string))
		})
		out, err := h(ctx, ctx.Vars().Get("provider"))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/reliability/validate", func(ctx http.Context) error {
		http.SetOperation(ctx, "/v1.Routing/ValidateReliability")
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return routing.ValidateReliability(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	registerOverride(r, "force-open", routing.ForceOpenBreaker)
	registerOverride(r, "force-close", routing.ForceCloseBreaker)
	registerOverride(r, "reset", routing.ResetBreaker)

	r.POST("/audit/verify", func(ctx http.Context) error {
		// An empty body means "verify the stored chain".
		var in service.VerifyRequest
		if err := ctx.Bind(&in); err != nil {
			in = service.VerifyRequest{}
		}
		http.SetOperation(ctx, "/v1.Audit/VerifyChain")
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return audit.VerifyChain(ctx, req.(*service.VerifyRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/audit/report", func(ctx http.Context) error {
		in := service.ReportRequest{
			Start: ctx.Query().Get("start"),
			End:   ctx.Query().Get("end"),
		}
		http.SetOperation(ctx, "/v1.Audit/Report")
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return audit.Report(ctx, req.(*service.ReportRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
}

// overrideHandler is the shared shape of the three breaker override calls.
type overrideHandler func(ctx context.Context, providerKey string, req *service.OverrideRequest) (*service.OverrideReply, error)

func registerOverride(r *http.Router, action string, apply overrideHandler) {
	r.POST("/breaker/{provider}/"+action, func(ctx http.Context) error {
		var in service.OverrideRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		provider := ctx.Vars().Get("provider")
		http.SetOperation(ctx, "/v1.Routing/Override/"+action)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return apply(ctx, provider, req.(*service.OverrideRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
}
