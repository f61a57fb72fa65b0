package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const loggerKey ctxKey = iota

// requestLogger returns the request-scoped logger set by requestMiddleware.
func requestLogger(r *http.Request) *log.Entry {
	if l, ok := r.Context().Value(loggerKey).(*log.Entry); ok {
		return l
	}
	return log.NewEntry(log.StandardLogger())
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

// requestMiddleware assigns the request ID and writes one access log line
// per request.
func (s *RuleServer) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.requestCount.Add(1)

		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		logger := s.logger.WithField("request_id", id)
		r = r.WithContext(context.WithValue(r.Context(), loggerKey, logger))

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		entry := logger.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"bytes":    rec.bytes,
			"duration": time.Since(start),
		})
		if rec.status >= http.StatusInternalServerError {
			entry.Warn("request")
		} else {
			entry.Info("request")
		}
	})
}

// recoverMiddleware turns a handler panic into a 500 response.
func (s *RuleServer) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.logger.WithField("panic", p).Error("handler panicked")
				writeError(w, http.StatusInternalServerError, "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware requires "Authorization: Bearer <token>" matching the
// configured bcrypt hash. It passes every request when no hash is configured.
func (s *RuleServer) AuthMiddleware(next http.Handler) http.Handler {
	if s.tokenHash == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ruleengine"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized: Missing token", nil)
			return
		}

		if !s.checkToken(token) {
			requestLogger(r).Warn("rejected invalid token")
			w.Header().Set("WWW-Authenticate", `Bearer realm="ruleengine"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized: Invalid token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkToken compares token against the bcrypt hash. The digest of the last
// accepted token is remembered so repeat requests skip bcrypt.
func (s *RuleServer) checkToken(token string) bool {
	digest := sha256.Sum256([]byte(token))
	if last := s.verified.Load(); last != nil && subtle.ConstantTimeCompare(last[:], digest[:]) == 1 {
		return true
	}
	if bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)) != nil {
		return false
	}
	s.verified.Store(&digest)
	return true
}
