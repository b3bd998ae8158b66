package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/propertyalert/pkg/config"
	"github.com/wyfcoding/propertyalert/pkg/logger"
	"github.com/wyfcoding/propertyalert/pkg/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubLimiter struct {
	res    *ratelimit.Result
	err    error
	keys   []string
	limits []ratelimit.Limit
}

func (s *stubLimiter) Allow(_ context.Context, key string, limit ratelimit.Limit) (*ratelimit.Result, error) {
	s.keys = append(s.keys, key)
	s.limits = append(s.limits, limit)
	return s.res, s.err
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/panic", func(*gin.Context) { panic("boom") })
	return r
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestRateLimit(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, QPS: 5, Burst: 10}

	allow := &stubLimiter{res: &ratelimit.Result{Allowed: true, Remaining: 9}}
	w := serve(newEngine(RateLimit(allow, cfg)), http.MethodGet, "/ok")
	if w.Code != http.StatusOK || w.Header().Get("X-RateLimit-Remaining") != "9" {
		t.Fatalf("allowed request: %d %v", w.Code, w.Header())
	}
	if len(allow.keys) != 1 || allow.keys[0] != "propertyalert:ratelimit:api:192.0.2.1" {
		t.Fatalf("unexpected keys: %v", allow.keys)
	}

	deny := &stubLimiter{res: &ratelimit.Result{Allowed: false}}
	w = serve(newEngine(RateLimit(deny, cfg)), http.MethodGet, "/ok")
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("denied request: %d %v", w.Code, w.Header())
	}

	broken := &stubLimiter{err: errors.New("redis down")}
	if w := serve(newEngine(RateLimit(broken, cfg)), http.MethodGet, "/ok"); w.Code != http.StatusOK {
		t.Fatalf("limiter failure must fail open, got %d", w.Code)
	}

	cfg.Enabled = false
	if w := serve(newEngine(RateLimit(deny, cfg)), http.MethodGet, "/ok"); w.Code != http.StatusOK {
		t.Fatalf("disabled limiter must pass, got %d", w.Code)
	}
}

func TestRateLimitInteractionScope(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, QPS: 5, Burst: 10, InteractionQPS: 200, InteractionBurst: 400}
	limiter := &stubLimiter{res: &ratelimit.Result{Allowed: true}}

	r := newEngine(RateLimit(limiter, cfg))
	r.POST("/api/v1/alerts/interactions", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	if w := serve(r, http.MethodPost, "/api/v1/alerts/interactions"); w.Code != http.StatusAccepted {
		t.Fatalf("interactions: %d", w.Code)
	}
	serve(r, http.MethodGet, "/ok")

	if limiter.keys[0] != "propertyalert:ratelimit:interactions:192.0.2.1" || limiter.limits[0].Burst != 400 {
		t.Fatalf("interaction scope: %v %+v", limiter.keys, limiter.limits)
	}
	if limiter.keys[1] != "propertyalert:ratelimit:api:192.0.2.1" || limiter.limits[1].Burst != 10 {
		t.Fatalf("api scope: %v %+v", limiter.keys, limiter.limits)
	}
}

func TestGinRecoveryAndLogging(t *testing.T) {
	r := newEngine(GinLogging(), GinRecovery())

	w := serve(r, http.MethodGet, "/panic")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("panic not recovered: %d", w.Code)
	}
	if w.Header().Get(HeaderRequestID) == "" {
		t.Fatalf("request id header missing")
	}
}

func TestGinLoggingInjectsIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinLogging())
	var traceID string
	r.GET("/trace", func(c *gin.Context) {
		traceID, _ = c.Request.Context().Value(logger.TraceIDKey).(string)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	req.Header.Set(HeaderTraceID, "trace-123")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if traceID != "trace-123" {
		t.Fatalf("trace id = %q", traceID)
	}
}

func TestGinCORSPreflight(t *testing.T) {
	w := serve(newEngine(GinCORS()), http.MethodOptions, "/ok")
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight: %d %v", w.Code, w.Header())
	}
}

func TestGRPCRecovery(t *testing.T) {
	interceptor := GRPCRecovery()
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, func(context.Context, any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}

	logging := GRPCLogging()
	resp, err := logging(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/x"}, func(ctx context.Context, req any) (any, error) {
		if ctx.Value(logger.RequestIDKey) == nil {
			t.Errorf("request id not injected")
		}
		return req, nil
	})
	if err != nil || resp != "req" {
		t.Fatalf("logging interceptor: %v %v", resp, err)
	}
}
