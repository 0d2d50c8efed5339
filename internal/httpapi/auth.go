package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"waitlist/queue-service/internal/models"
	"waitlist/queue-service/internal/realtime"
	"waitlist/queue-service/internal/store"
)

type authContextKey struct{}

// SessionSource resolves staff sessions.
type SessionSource interface {
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
}

// QueueSource resolves queue ownership for realtime subscriptions.
type QueueSource interface {
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
}

func AuthMiddleware(sessions SessionSource, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := sessions.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			logInternalError(r, err)
			writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	session, ok := ctx.Value(authContextKey{}).(store.Session)
	return session, ok
}

func requireSession(w http.ResponseWriter, r *http.Request) (store.Session, bool) {
	session, ok := sessionFromContext(r.Context())
	if !ok || session.BusinessID == "" {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return store.Session{}, false
	}
	return session, true
}

// ChannelAuthorizer admits realtime subscriptions. Display and entry channels
// are keyed by capability tokens and open to anyone holding them; queue
// channels need a staff session of the owning business.
func ChannelAuthorizer(sessions SessionSource, queues QueueSource) realtime.Authorizer {
	return func(r *http.Request, channel string) bool {
		kind, id, ok := realtime.SplitChannel(channel)
		if !ok {
			return false
		}
		if kind != realtime.KindQueue {
			return true
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			sessionID = strings.TrimSpace(r.URL.Query().Get("session"))
		}
		if sessionID == "" {
			return false
		}
		session, err := sessions.GetSession(r.Context(), sessionID)
		if err != nil {
			return false
		}
		queue, err := queues.GetQueue(r.Context(), id)
		if err != nil {
			return false
		}
		return queue.BusinessID == session.BusinessID
	}
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/public/"):
		return true
	case r.URL.Path == "/api/webhooks/delivery":
		// Checked against the webhook token in the handler.
		return true
	case strings.HasPrefix(r.URL.Path, "/realtime/"):
		return true
	default:
		return r.Method == http.MethodOptions
	}
}

func logInternalError(r *http.Request, err error) {
	log.Printf("internal error method=%s path=%s request_id=%s: %v", r.Method, r.URL.Path, requestIDFromRequest(r), err)
}
