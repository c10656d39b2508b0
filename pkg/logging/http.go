package logging

import (
	"net/http"
	"time"
)

// HTTPMiddleware logs each request served by next at debug level, with its
// status, size and duration
func HTTPMiddleware(logger Logger) func(http.Handler) http.Handler {
	logger = logger.WithFields(Component("http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(rw, r)

			entry := logger.WithFields(
				String("method", r.Method),
				String("path", r.URL.Path),
				String("remote_addr", r.RemoteAddr),
				Int("status", rw.statusCode),
				Int("bytes", rw.bytesWritten),
				Duration("duration", time.Since(start)),
			)
			if rw.statusCode >= http.StatusInternalServerError {
				entry.Warn("HTTP request failed")
				return
			}
			entry.Debug("HTTP request served")
		})
	}
}

// responseWriter captures the status code and body size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(data)
	rw.bytesWritten += n
	return n, err
}
