// Package webhook receives Git push events, verifies their signatures,
// deduplicates deliveries, and enqueues ingestion jobs.
package webhook

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/go-github/v45/github"

	"github.com/modelearth/codechat/internal/observability"
	"github.com/modelearth/codechat/internal/queue"
)

// Handler validates GitHub push webhooks and turns them into queue jobs.
type Handler struct {
	secret      []byte
	branch      string // full ref that triggers ingestion, e.g. refs/heads/main
	queue       queue.Queue
	idempotency queue.IdempotencyTable
	ttl         time.Duration
	logger      *observability.Logger
	metrics     *observability.MetricsCollector
}

// NewHandler creates a webhook handler.
func NewHandler(
	secret, branch string,
	q queue.Queue,
	idempotency queue.IdempotencyTable,
	ttl time.Duration,
	logger *observability.Logger,
	metrics *observability.MetricsCollector,
) *Handler {
	if branch == "" {
		branch = "refs/heads/main"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handler{
		secret:      []byte(secret),
		branch:      branch,
		queue:       q,
		idempotency: idempotency,
		ttl:         ttl,
		logger:      logger,
		metrics:     metrics,
	}
}

// ServeHTTP handles POST /webhooks/github.
//
// Responses: 200 enqueued, 202 duplicate delivery, 400 bad JSON,
// 403 bad signature, 500 enqueue failure. Non-push events and pushes to
// other branches are acknowledged without work.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Constant-time HMAC-SHA256 comparison happens inside ValidatePayload.
	payload, err := github.ValidatePayload(r, h.secret)
	if err != nil {
		h.outcome("bad_signature")
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid signature"})
		return
	}

	deliveryID := github.DeliveryID(r)
	if deliveryID != "" {
		fresh, err := h.idempotency.Reserve(ctx, deliveryID, h.ttl)
		if err != nil {
			h.logger.ErrorContext(ctx, "idempotency check failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "dedupe unavailable"})
			return
		}
		if !fresh {
			h.outcome("duplicate")
			if h.metrics != nil {
				h.metrics.WebhookDuplicates.Inc()
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"message": "duplicate event, ignoring"})
			return
		}
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		h.outcome("bad_payload")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return
	}

	push, ok := event.(*github.PushEvent)
	if !ok {
		h.outcome("ignored_event")
		writeJSON(w, http.StatusOK, map[string]string{"message": "event ignored"})
		return
	}
	if push.GetRef() != h.branch {
		h.outcome("ignored_branch")
		writeJSON(w, http.StatusOK, map[string]string{"message": "branch ignored"})
		return
	}

	job := queue.Job{
		Repository: push.GetRepo().GetFullName(),
		CommitSHA:  push.GetAfter(),
		FromSHA:    push.GetBefore(),
		Pusher:     push.GetPusher().GetName(),
	}
	if job.Repository == "" || job.CommitSHA == "" {
		h.outcome("bad_payload")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing repository or commit"})
		return
	}

	if err := h.queue.Enqueue(ctx, job); err != nil {
		h.logger.ErrorContext(ctx, "enqueue failed", "repository", job.Repository, "error", err)
		h.outcome("enqueue_failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue ingestion job"})
		return
	}

	h.logger.InfoContext(ctx, "ingestion job enqueued",
		"repository", job.Repository, "commit", job.CommitSHA, "pusher", job.Pusher)
	h.outcome("enqueued")
	writeJSON(w, http.StatusOK, map[string]string{"message": "ingestion job enqueued"})
}

func (h *Handler) outcome(name string) {
	if h.metrics != nil {
		h.metrics.WebhookEventsTotal.WithLabelValues(name).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}
