package webhook

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// LoggingTransport wraps an http.RoundTripper and logs webhook traffic at
// debug level. Webhook URLs often embed tokens, so only scheme and host are
// logged.
type LoggingTransport struct {
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// RoundTrip implements http.RoundTripper interface
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	target := redactURL(req.URL)

	t.logger().Debug("webhook request",
		"method", req.Method,
		"url", target,
		"content_length", req.ContentLength,
	)

	resp, err := t.transport().RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.logger().Debug("webhook request failed",
			"url", target,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	t.logger().Debug("webhook response",
		"url", target,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
	)
	return resp, nil
}

// transport returns the underlying transport or DefaultTransport if nil
func (t *LoggingTransport) transport() http.RoundTripper {
	if t.Transport != nil {
		return t.Transport
	}
	return http.DefaultTransport
}

func (t *LoggingTransport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// redactURL keeps scheme and host and hides path, query and credentials.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	if u.Path == "" || u.Path == "/" {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/[REDACTED]"
}
