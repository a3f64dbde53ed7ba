// internal/middleware/logging.go

package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/jason-s-yu/livehub/internal/models"
	"github.com/sirupsen/logrus"
)

// statusRecorder remembers the response status. It keeps Hijack available
// so websocket upgrades still work behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// LogMiddleware logs method, path, status and duration of each request.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Info("HTTP Request")
		})
	}
}

// LogWebSocketConnect logs a message when a WebSocket client connects.
func LogWebSocketConnect(logger *logrus.Logger, remoteAddr string, conn models.ConnID) {
	logger.WithFields(logrus.Fields{
		"remote": remoteAddr,
		"conn":   conn,
	}).Info("WebSocket connected")
}

// LogWebSocketDisconnect logs a message when a WebSocket client disconnects.
func LogWebSocketDisconnect(logger *logrus.Logger, remoteAddr string, conn models.ConnID, err error) {
	fields := logrus.Fields{
		"remote": remoteAddr,
		"conn":   conn,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("WebSocket disconnected")
}
