package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"expvar"
	"net"
	"net/http"
	"strconv"
	"strings"

	"waitlist/queue-service/internal/models"
	"waitlist/queue-service/internal/queue"
	"waitlist/queue-service/internal/store"

	"github.com/google/uuid"
)

// Gateway is the slice of queue.Gateway the transport calls.
type Gateway interface {
	Join(ctx context.Context, in queue.JoinInput) (queue.JoinResult, error)
	Status(ctx context.Context, publicToken, clientIP string) (queue.StatusView, error)
	Cancel(ctx context.Context, publicToken, clientIP string) (queue.StatusView, error)
	Display(ctx context.Context, displayToken, clientIP string) (queue.DisplayView, error)
	Transition(ctx context.Context, businessID, entryID, action string) (models.QueueEntry, error)
	ReconcileDelivery(ctx context.Context, providerMessageID string, status models.DeliveryStatus) (models.QueueEntry, error)
	ResetCycle(ctx context.Context, businessID, queueID string) (models.Queue, error)
	ListEntries(ctx context.Context, businessID, queueID string) ([]models.QueueEntry, error)
	EntryEvents(ctx context.Context, businessID, entryID string) (queue.EventLog, error)
}

type Handler struct {
	gateway      Gateway
	webhookToken string
}

type Options struct {
	// WebhookToken guards the inbound delivery webhook. Empty disables the endpoint.
	WebhookToken string
}

type joinRequest struct {
	DisplayToken      string `json:"display_token"`
	Name              string `json:"name"`
	Phone             string `json:"phone"`
	Email             string `json:"email"`
	PartySize         int    `json:"party_size"`
	SeatingPreference string `json:"seating_preference"`
}

// staffJoinRequest carries no display token; the queue comes from the path.
type staffJoinRequest struct {
	Name              string `json:"name"`
	Phone             string `json:"phone"`
	Email             string `json:"email"`
	PartySize         int    `json:"party_size"`
	SeatingPreference string `json:"seating_preference"`
}

type deliveryRequest struct {
	ProviderMessageID string `json:"provider_message_id"`
	Status            string `json:"status"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// staffEntry exposes the public token to staff so they can share the status link.
type staffEntry struct {
	models.QueueEntry
	EntryToken string `json:"entry_token"`
}

func NewHandler(gateway Gateway, options Options) *Handler {
	return &Handler{gateway: gateway, webhookToken: options.WebhookToken}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/public/join", h.handlePublicJoin)
	mux.HandleFunc("/api/public/entries/", h.handlePublicEntry)
	mux.HandleFunc("/api/public/display/", h.handleDisplay)
	mux.HandleFunc("/api/webhooks/delivery", h.handleDeliveryWebhook)
	mux.HandleFunc("/api/queues/", h.handleQueues)
	mux.HandleFunc("/api/entries/", h.handleEntries)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handlePublicJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req joinRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.DisplayToken = strings.TrimSpace(req.DisplayToken)
	if req.DisplayToken == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "validation", "display_token is required")
		return
	}

	result, err := h.gateway.Join(r.Context(), queue.JoinInput{
		DisplayToken:      req.DisplayToken,
		ClientIP:          clientIP(r),
		Name:              req.Name,
		Phone:             req.Phone,
		Email:             req.Email,
		PartySize:         req.PartySize,
		SeatingPreference: req.SeatingPreference,
	})
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handlePublicEntry serves /api/public/entries/{token} and .../{token}/cancel.
func (h *Handler) handlePublicEntry(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/public/entries/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	token := parts[0]
	if token == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		view, err := h.gateway.Status(r.Context(), token, clientIP(r))
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case len(parts) == 2 && parts[1] == "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		view, err := h.gateway.Cancel(r.Context(), token, clientIP(r))
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/public/display/"), "/")
	if token == "" || strings.Contains(token, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	view, err := h.gateway.Display(r.Context(), token, clientIP(r))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleDeliveryWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.validWebhookToken(r) {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid webhook token")
		return
	}
	var req deliveryRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	entry, err := h.gateway.ReconcileDelivery(r.Context(), req.ProviderMessageID, models.DeliveryStatus(strings.ToLower(strings.TrimSpace(req.Status))))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entry_id": entry.EntryID,
		"sms":      entry.SMS,
		"email":    entry.EmailDelivery,
	})
}

func (h *Handler) validWebhookToken(r *http.Request) bool {
	if h.webhookToken == "" {
		return false
	}
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Webhook-Token"))
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookToken)) == 1
}

// handleQueues serves /api/queues/{queueID}/entries and /api/queues/{queueID}/reset.
func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/queues/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	queueID := parts[0]
	if !isValidUUID(queueID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "validation", "queue_id must be a UUID")
		return
	}

	switch {
	case parts[1] == "entries" && r.Method == http.MethodPost:
		h.handleStaffJoin(w, r, session, queueID)
	case parts[1] == "entries" && r.Method == http.MethodGet:
		entries, err := h.gateway.ListEntries(r.Context(), session.BusinessID, queueID)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		out := make([]staffEntry, 0, len(entries))
		for _, entry := range entries {
			out = append(out, staffEntry{QueueEntry: entry, EntryToken: entry.PublicToken})
		}
		writeJSON(w, http.StatusOK, out)
	case parts[1] == "reset" && r.Method == http.MethodPost:
		q, err := h.gateway.ResetCycle(r.Context(), session.BusinessID, queueID)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	case parts[1] == "entries" || parts[1] == "reset":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleStaffJoin(w http.ResponseWriter, r *http.Request, session store.Session, queueID string) {
	var req staffJoinRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.gateway.Join(r.Context(), queue.JoinInput{
		QueueID:           queueID,
		BusinessID:        session.BusinessID,
		Name:              req.Name,
		Phone:             req.Phone,
		Email:             req.Email,
		PartySize:         req.PartySize,
		SeatingPreference: req.SeatingPreference,
	})
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleEntries serves /api/entries/{entryID}/actions/{action} and /api/entries/{entryID}/events.
func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/entries/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	entryID := parts[0]
	if !isValidUUID(entryID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "validation", "entry_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !store.KnownAction(parts[2]) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		entry, err := h.gateway.Transition(r.Context(), session.BusinessID, entryID, parts[2])
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, staffEntry{QueueEntry: entry, EntryToken: entry.PublicToken})
	case len(parts) == 2 && parts[1] == "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		eventLog, err := h.gateway.EntryEvents(r.Context(), session.BusinessID, entryID)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, eventLog)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	var verr *queue.ValidationError
	var rerr *queue.RateLimitError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "validation", verr.Error()
	case errors.As(err, &rerr):
		return http.StatusTooManyRequests, "rate_limited", "too many requests"
	case errors.Is(err, store.ErrUnknownAction):
		return http.StatusBadRequest, "validation", "unknown action"
	case errors.Is(err, store.ErrDuplicateEntry):
		return http.StatusConflict, "conflict", "this contact is already waiting in the queue"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "conflict", "entry state does not allow this action"
	case errors.Is(err, store.ErrActiveEntries):
		return http.StatusConflict, "conflict", "queue still has waiting or notified entries"
	case errors.Is(err, store.ErrQuotaExceeded):
		return http.StatusPaymentRequired, "quota_exceeded", "monthly entry limit reached for this plan"
	case errors.Is(err, store.ErrLocationClosed):
		return http.StatusForbidden, "forbidden", "location is closed"
	case errors.Is(err, store.ErrSelfCheckInDisabled):
		return http.StatusForbidden, "forbidden", "self check-in is disabled for this queue"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "forbidden", "access denied"
	case errors.Is(err, store.ErrQueueNotFound):
		return http.StatusNotFound, "not_found", "queue not found"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "not_found", "entry not found"
	case errors.Is(err, store.ErrMessageNotFound):
		return http.StatusNotFound, "not_found", "message not found"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	var rerr *queue.RateLimitError
	if errors.As(err, &rerr) {
		w.Header().Set("Retry-After", strconv.Itoa(int(rerr.RetryAfter.Seconds()+0.999)))
	}
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		logInternalError(r, err)
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
