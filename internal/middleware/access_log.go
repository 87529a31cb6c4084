package middleware

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

// AccessLog 记录每个请求的方法、路径、状态码、响应大小和耗时。
func AccessLog(log *zap.Logger) func(http.Handler) http.Handler {
	log = log.Named("access")
	return func(next http.Handler) http.Handler {
		return handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
			fields := []zap.Field{
				zap.String("method", p.Request.Method),
				zap.String("path", p.URL.Path),
				zap.Int("status", p.StatusCode),
				zap.Int("size", p.Size),
				zap.Duration("latency", time.Since(p.TimeStamp)),
				zap.String("remote", p.Request.RemoteAddr),
			}
			if p.StatusCode >= http.StatusInternalServerError {
				log.Warn("request", fields...)
				return
			}
			log.Info("request", fields...)
		})
	}
}
