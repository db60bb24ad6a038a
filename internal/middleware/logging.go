package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/sipico/comms-gateway/internal/logging"
)

// maxLoggedBody is the largest body HTTPLogging will decode for masking.
const maxLoggedBody = 64 << 10

// HTTPLogging logs requests and responses at debug level. Below debug it is a
// pass-through and never buffers bodies.
//
// Headers go through logging.MaskHeader. JSON bodies go through
// logging.MaskJSONBody with allowlist; with a non-nil allowlist, bodies that
// are not JSON are summarized by size so that free text never reaches the log.
func HTTPLogging(logger *slog.Logger, allowlist []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.Enabled(r.Context(), slog.LevelDebug) {
				next.ServeHTTP(w, r)
				return
			}

			logRequest(logger, r, allowlist)

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           new(bytes.Buffer),
			}

			start := time.Now()
			next.ServeHTTP(rec, r)
			logResponse(logger, r, rec, time.Since(start), allowlist)
		})
	}
}

func logRequest(logger *slog.Logger, r *http.Request, allowlist []string) {
	var reqBody []byte
	if r.Body != nil {
		var err error
		reqBody, err = io.ReadAll(r.Body)
		// Restore what was read; a read error resurfaces in the handler.
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(reqBody), r.Body))
		if err != nil {
			logger.Debug("HTTP Request",
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"url", r.URL.Path,
				"body_error", err.Error(),
			)
			return
		}
	}

	logger.Debug("HTTP Request",
		"request_id", GetRequestID(r.Context()),
		"method", r.Method,
		"url", r.URL.Path,
		"query_params", r.URL.RawQuery,
		"remote_addr", r.RemoteAddr,
		"headers", maskHeaders(r.Header),
		"body", maskBody(reqBody, allowlist),
	)
}

func logResponse(logger *slog.Logger, r *http.Request, rec *responseRecorder, duration time.Duration, allowlist []string) {
	logger.Debug("HTTP Response",
		"request_id", GetRequestID(r.Context()),
		"method", r.Method,
		"url", r.URL.Path,
		"status_code", rec.statusCode,
		"headers", maskHeaders(rec.Header()),
		"body", maskBody(rec.body.Bytes(), allowlist),
		"duration_ms", duration.Milliseconds(),
	)
}

func maskHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if len(v) > 0 {
			result[k] = logging.MaskHeader(k, v[0])
		}
	}
	return result
}

func maskBody(body []byte, allowlist []string) string {
	switch {
	case len(body) == 0:
		return ""
	case !utf8.Valid(body):
		return logging.FormatBinaryData(body)
	case allowlist == nil:
		return string(body)
	case len(body) > maxLoggedBody || !json.Valid(body):
		return fmt.Sprintf("[UNLOGGED: %d bytes]", len(body))
	}
	return string(logging.MaskJSONBody(body, allowlist))
}

// responseRecorder captures response details for logging.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.body.Len() <= maxLoggedBody {
		r.body.Write(b)
	}
	return r.ResponseWriter.Write(b)
}
