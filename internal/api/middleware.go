package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Request headers understood by the API.
const (
	SellerIDHeader  = "X-Seller-ID"
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

// maxSellerIDLen bounds seller IDs, which become cache keys and bus subjects.
const maxSellerIDLen = 64

type ctxKey int

const (
	sellerKey ctxKey = iota
	requestKey
	traceKey
)

var tracer = otel.Tracer("github.com/opensource-finance/repricer/internal/api")

// validSellerID rejects IDs that would break a "<topic>.<seller>" subject.
func validSellerID(id string) bool {
	return id != "" && len(id) <= maxSellerIDLen && !strings.ContainsAny(id, ".*> \t\r\n")
}

// SellerMiddleware scopes the request to the seller named by X-Seller-ID,
// falling back to defaultSellerID. Requests with neither are rejected.
func SellerMiddleware(defaultSellerID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sellerID := r.Header.Get(SellerIDHeader)
			if sellerID == "" {
				sellerID = defaultSellerID
			}
			switch {
			case sellerID == "":
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": SellerIDHeader + " header is required"})
				return
			case !validSellerID(sellerID):
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + SellerIDHeader + " header"})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sellerKey, sellerID)))
		})
	}
}

// TracingMiddleware opens a span per request and echoes the request and trace
// IDs. Without a configured tracer provider the request ID doubles as trace ID.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				attribute.String("repricer.request_id", requestID),
			),
		)
		defer span.End()

		traceID := requestID
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}

		w.Header().Set(RequestIDHeader, requestID)
		w.Header().Set(TraceIDHeader, traceID)

		ctx = context.WithValue(ctx, requestKey, requestID)
		ctx = context.WithValue(ctx, traceKey, traceID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

// LoggingMiddleware emits one structured line per request. Server errors log
// at error level and client errors at warn.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		// The seller context is attached by a router-level middleware further down.
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"seller_id", r.Header.Get(SellerIDHeader),
			"request_id", RequestID(r.Context()),
			"trace_id", GetTraceID(r.Context()),
		)
	})
}

var (
	corsAllowHeaders  = strings.Join([]string{"Content-Type", "Authorization", SellerIDHeader, RequestIDHeader, TraceIDHeader}, ", ")
	corsExposeHeaders = strings.Join([]string{RequestIDHeader, TraceIDHeader}, ", ")
)

// CORSMiddleware lets browser dashboards call the API and answers preflights.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a handler panic into a 500 and logs the stack.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			slog.Error("panic recovered",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}()
		next.ServeHTTP(w, r)
	})
}

func stringValue(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// GetSellerID returns the seller the request is scoped to.
func GetSellerID(ctx context.Context) string { return stringValue(ctx, sellerKey) }

func GetTraceID(ctx context.Context) string { return stringValue(ctx, traceKey) }

func RequestID(ctx context.Context) string { return stringValue(ctx, requestKey) }
