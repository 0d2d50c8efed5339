package realtime

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

// Authorizer decides whether the connecting request may follow a channel.
type Authorizer func(r *http.Request, channel string) bool

// Handler serves sockjs sessions under prefix. Clients send
// {"action":"subscribe","channel":"queue:<id>"} and receive refresh events.
// The server's read and write deadlines are lifted for these requests so the
// xhr-streaming and eventsource transports are not cut by API timeouts.
func Handler(prefix string, h *Hub, authorize Authorizer) http.Handler {
	return withoutDeadlines(sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		req := session.Request()

		client := NewClient(uuid.NewString(), 16)
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.Unsubscribe(client, parsed.Channel)
				continue
			}
			if _, _, valid := SplitChannel(parsed.Channel); !valid {
				_ = session.Close(4004, "unknown channel")
				return
			}
			if authorize != nil && !authorize(req, parsed.Channel) {
				_ = session.Close(4003, "access denied")
				return
			}
			h.Subscribe(client, parsed.Channel)
		}
	}))
}

func withoutDeadlines(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		// Writers without deadline support (tests, some proxies) return ErrNotSupported.
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})
		next.ServeHTTP(w, r)
	})
}
