package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sipico/comms-gateway/internal/allowlist"
	"github.com/sipico/comms-gateway/internal/auth"
	"github.com/sipico/comms-gateway/internal/filter"
	"github.com/sipico/comms-gateway/internal/logging"
	"github.com/sipico/comms-gateway/internal/message"
	"github.com/sipico/comms-gateway/internal/metrics"
	"github.com/sipico/comms-gateway/internal/middleware"
	"github.com/sipico/comms-gateway/internal/ratelimit"
	"github.com/sipico/comms-gateway/internal/storage"
)

// Send outcomes counted by sends_total.
const (
	outcomeQueued        = "queued"
	outcomeFlagged       = "flagged"
	outcomeBlocked       = "blocked"
	outcomeNotAllowed    = "not_allowed"
	outcomeConsentDenied = "consent_denied"
	outcomeRateLimited   = "rate_limited"

	// Rate limiting runs before the body is parsed.
	channelUnknown = "unknown"
)

type sendRequest struct {
	Channel          string          `json:"channel"`
	RecipientAddress string          `json:"recipient_address"`
	RecipientName    *string         `json:"recipient_name,omitempty"`
	Subject          *string         `json:"subject,omitempty"`
	Body             string          `json:"body"`
	Priority         string          `json:"priority,omitempty"`
	Context          json.RawMessage `json:"context,omitempty"`
}

type sendResponse struct {
	ActionID string         `json:"action_id"`
	Status   message.Status `json:"status"`
}

type actionResponse struct {
	ActionID     string         `json:"action_id"`
	Status       message.Status `json:"status"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	SentAt       *string        `json:"sent_at,omitempty"`
}

type healthResponse struct {
	Status       string `json:"status"`
	UptimeSecs   int64  `json:"uptime_secs"`
	PendingCount int    `json:"pending_count"`
	Version      string `json:"version"`
}

type queueEntryResponse struct {
	ID               string           `json:"id"`
	Channel          message.Channel  `json:"channel"`
	RecipientAddress string           `json:"recipient_address"`
	RecipientName    *string          `json:"recipient_name,omitempty"`
	Subject          *string          `json:"subject,omitempty"`
	Body             string           `json:"body"`
	Priority         message.Priority `json:"priority"`
	Status           message.Status   `json:"status"`
	AgentContext     json.RawMessage  `json:"agent_context,omitempty"`
	CreatedAt        string           `json:"created_at"`
	AgentName        string           `json:"agent_name"`
}

type queueListResponse struct {
	Entries []queueEntryResponse `json:"entries"`
	Total   int                  `json:"total"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	pending, err := s.Store.CountPending(r.Context())
	if err != nil {
		writeError(w, middleware.Logger(r.Context(), s.Logger), fmt.Errorf("failed to count pending messages: %w", err))
		return
	}
	writeOK(w, healthResponse{
		Status:       "ok",
		UptimeSecs:   int64(s.now().Sub(s.startedAt).Seconds()),
		PendingCount: pending,
		Version:      s.version,
	})
}

// handleSend runs the admission pipeline: rate limit, validation, allowlist,
// consent, content filters. The first failing stage decides the response.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.Logger(ctx, s.Logger)
	key := auth.APIKeyFromContext(ctx)
	if key == nil {
		writeError(w, logger, errors.New("send reached without an authenticated key"))
		return
	}
	logger = logger.With("key_id", key.ID)

	if err := s.Limiter.Check(ctx, key); err != nil {
		var exceeded *ratelimit.ExceededError
		if errors.As(err, &exceeded) {
			metrics.RecordSend(channelUnknown, outcomeRateLimited)
			logger.Info("send rate limited", "limit_type", string(exceeded.Window), "count", exceeded.CurrentCount)
		}
		writeError(w, logger, err)
		return
	}

	entry, err := decodeSend(r)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	entry.APIKeyID = key.ID
	channel := entry.Channel.String()
	recipient := logging.MaskAddress(entry.RecipientAddress)

	entries, err := s.Store.ListAllowlist(ctx, key.ID)
	if err != nil {
		writeError(w, logger, fmt.Errorf("failed to load allowlist: %w", err))
		return
	}
	if len(entries) > 0 {
		patterns := make([]string, len(entries))
		for i, e := range entries {
			patterns[i] = e.RecipientPattern
		}
		if !allowlist.Matches(entry.RecipientAddress, patterns) {
			metrics.RecordSend(channel, outcomeNotAllowed)
			logger.Info("recipient not allowlisted", "channel", channel, "recipient", recipient)
			writeError(w, logger, &AllowlistError{Recipient: entry.RecipientAddress, AllowedPatterns: patterns})
			return
		}
	}

	allowed, err := s.Consent.ContactAllowsAI(ctx, allowlist.Normalize(entry.RecipientAddress))
	if err != nil {
		writeError(w, logger, fmt.Errorf("failed to check contact consent: %w", err))
		return
	}
	if !allowed {
		metrics.RecordSend(channel, outcomeConsentDenied)
		logger.Info("contact declined AI messages", "channel", channel, "recipient", recipient)
		writeError(w, logger, &ConsentDeniedError{Recipient: entry.RecipientAddress})
		return
	}

	var res filter.Result
	if entry.Channel == message.ChannelEmail {
		res = s.Filters.CheckEmail(entry.Subject, entry.Body)
	} else {
		res = s.Filters.Check(entry.Body)
	}

	outcome := outcomeQueued
	entry.Status = message.StatusPending
	switch res.Verdict {
	case filter.Denied:
		metrics.RecordSend(channel, outcomeBlocked)
		logger.Info("content blocked", "channel", channel, "filter", res.Name)
		writeError(w, logger, &ContentBlockedError{Filter: res.Name, Description: res.Description})
		return
	case filter.Flagged:
		outcome = outcomeFlagged
		entry.Status = message.StatusFlagged
	}

	id, err := s.Store.InsertQueueEntry(ctx, entry)
	if err != nil {
		writeError(w, logger, fmt.Errorf("failed to queue message: %w", err))
		return
	}

	metrics.RecordSend(channel, outcome)
	logger.Info("message queued",
		"action_id", id,
		"channel", channel,
		"recipient", recipient,
		"priority", entry.Priority.String(),
		"status", entry.Status.String(),
	)
	writeOK(w, sendResponse{ActionID: id, Status: entry.Status})
}

// decodeSend parses and validates a send request body. Unknown fields are
// ignored.
func decodeSend(r *http.Request) (*storage.QueueEntry, error) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &ValidationError{Message: "Invalid request: " + err.Error()}
	}

	channel, err := message.ParseChannel(req.Channel)
	if err != nil {
		return nil, &ValidationError{Message: "Invalid request: " + err.Error()}
	}
	priority := message.PriorityNormal
	if req.Priority != "" {
		if priority, err = message.ParsePriority(req.Priority); err != nil {
			return nil, &ValidationError{Message: "Invalid request: " + err.Error()}
		}
	}

	if strings.TrimSpace(req.Body) == "" {
		return nil, &ValidationError{Message: "Message body cannot be empty"}
	}
	if strings.TrimSpace(req.RecipientAddress) == "" {
		return nil, &ValidationError{Message: "Recipient address is required"}
	}
	if channel == message.ChannelEmail && (req.Subject == nil || strings.TrimSpace(*req.Subject) == "") {
		return nil, &ValidationError{Message: "Email requires a subject"}
	}

	var agentContext json.RawMessage
	if len(req.Context) > 0 && string(req.Context) != "null" {
		agentContext = req.Context
	}

	return &storage.QueueEntry{
		Channel:          channel,
		RecipientAddress: strings.TrimSpace(req.RecipientAddress),
		RecipientName:    req.RecipientName,
		Subject:          req.Subject,
		Body:             req.Body,
		Priority:         priority,
		AgentContext:     agentContext,
	}, nil
}

// handleAction reports the status of a message queued by the calling key.
// Messages of other keys are indistinguishable from missing ones.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.Logger(ctx, s.Logger)
	key := auth.APIKeyFromContext(ctx)

	entry, err := s.Store.GetQueueEntry(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && (key == nil || entry.APIKeyID != key.ID)) {
		writeFailure(w, http.StatusNotFound, "Action not found")
		return
	}
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeOK(w, toActionResponse(entry))
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Store.ListPendingAndFlagged(r.Context())
	if err != nil {
		writeError(w, middleware.Logger(r.Context(), s.Logger), fmt.Errorf("failed to list queue: %w", err))
		return
	}

	resp := queueListResponse{Entries: make([]queueEntryResponse, 0, len(entries)), Total: len(entries)}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, queueEntryResponse{
			ID:               e.ID,
			Channel:          e.Channel,
			RecipientAddress: e.RecipientAddress,
			RecipientName:    e.RecipientName,
			Subject:          e.Subject,
			Body:             e.Body,
			Priority:         e.Priority,
			Status:           e.Status,
			AgentContext:     e.AgentContext,
			CreatedAt:        e.CreatedAt.UTC().Format(time.RFC3339),
			AgentName:        e.AgentName,
		})
	}
	writeOK(w, resp)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	entry, err := s.Reviewer.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, middleware.Logger(r.Context(), s.Logger), err)
		return
	}
	writeOK(w, toActionResponse(entry))
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	entry, err := s.Reviewer.Deny(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, middleware.Logger(r.Context(), s.Logger), err)
		return
	}
	writeOK(w, toActionResponse(entry))
}

func toActionResponse(e *storage.QueueEntry) actionResponse {
	resp := actionResponse{ActionID: e.ID, Status: e.Status, ErrorMessage: e.ErrorMessage}
	if e.SentAt != nil {
		sentAt := e.SentAt.UTC().Format(time.RFC3339)
		resp.SentAt = &sentAt
	}
	return resp
}
