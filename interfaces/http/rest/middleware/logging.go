package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"real-backend/pkg/common"
)

// Logger creates a logging middleware. The request id and a scoped logger
// are placed in the request context for handlers.
func Logger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := middleware.GetReqID(r.Context())

			scoped := logger.With(zap.String("requestID", requestID))
			ctx := common.WithRequestID(r.Context(), requestID)
			ctx = common.WithLogger(ctx, scoped)
			ctx = common.WithStartTime(ctx, start)

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remoteAddr", r.RemoteAddr),
			}
			if operator, ok := common.GetOperator(r.Context()); ok {
				fields = append(fields, zap.String("operator", operator))
			}
			if ww.Status() >= http.StatusInternalServerError {
				scoped.Error("HTTP Request", fields...)
				return
			}
			scoped.Info("HTTP Request", fields...)
		})
	}
}
