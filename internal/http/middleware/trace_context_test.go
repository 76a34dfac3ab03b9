package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/fulfillment-backend/internal/platform/ctxutil"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

func TestAttachTraceContextPropagatesIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var seen *ctxutil.TraceData
	r := gin.New()
	r.Use(AttachTraceContext(), RequestLogger(logger.Nop()))
	r.GET("/healthcheck", func(c *gin.Context) {
		seen = ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	req.Header.Set(headerRequestID, "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if seen == nil {
		t.Fatalf("trace data missing from request context")
	}
	if seen.RequestID != "req-1" {
		t.Fatalf("request id: got=%q want=req-1", seen.RequestID)
	}
	if seen.TraceID == "" {
		t.Fatalf("trace id not generated")
	}
	if got := rec.Header().Get(headerTraceID); got != seen.TraceID {
		t.Fatalf("trace header: got=%q want=%q", got, seen.TraceID)
	}
	if got := rec.Header().Get(headerRequestID); got != "req-1" {
		t.Fatalf("request header: got=%q", got)
	}
}

func TestAttachTraceContextReplacesUnsafeIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		header string
		keep   bool
	}{
		{"plain", "delivery-42", true},
		{"with colon and dot", "hook:v1.7", true},
		{"newline", "abc\nforged=1", false},
		{"space", "two words", false},
		{"too long", strings.Repeat("a", maxInboundIDLen+1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(AttachTraceContext())
			r.GET("/healthcheck", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
			req.Header.Set(headerRequestID, tc.header)
			req.Header.Set(headerTraceID, tc.header)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			gotReq := rec.Header().Get(headerRequestID)
			gotTrace := rec.Header().Get(headerTraceID)
			if tc.keep && (gotReq != tc.header || gotTrace != tc.header) {
				t.Fatalf("ids replaced: req=%q trace=%q", gotReq, gotTrace)
			}
			if !tc.keep && (gotReq == tc.header || gotReq == "" || gotTrace == tc.header || gotTrace == "") {
				t.Fatalf("unsafe ids kept: req=%q trace=%q", gotReq, gotTrace)
			}
		})
	}
}

func TestAttachTraceContextPrefersSpanTraceID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(trace.ContextWithSpanContext(c.Request.Context(), sc))
		c.Next()
	}, AttachTraceContext())
	r.GET("/healthcheck", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	req.Header.Set(headerTraceID, "client-trace")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get(headerTraceID); got != tid.String() {
		t.Fatalf("trace id: got=%q want=%q", got, tid.String())
	}
}
