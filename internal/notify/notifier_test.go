package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"waitlist/queue-service/internal/models"
	"waitlist/queue-service/internal/store"
)

type recorder struct {
	deliveries []store.DeliveryInput
}

func (r *recorder) RecordDelivery(ctx context.Context, input store.DeliveryInput) error {
	r.deliveries = append(r.deliveries, input)
	return nil
}

type captureProvider struct {
	messages []string
}

func (p *captureProvider) Send(ctx context.Context, recipient, message string) (string, error) {
	p.messages = append(p.messages, recipient+": "+message)
	return "msg-1", nil
}

func TestRenderTemplate(t *testing.T) {
	got := renderTemplate("Ticket #{ticket_number} for {queue_name} in {eta_minutes} min {status_url}", Vars{
		TicketNumber: 7,
		QueueName:    "Patio",
		ETAMinutes:   30,
		StatusURL:    "https://x/s/abc",
	})
	if got != "Ticket #7 for Patio in 30 min https://x/s/abc" {
		t.Fatalf("unexpected template render: %s", got)
	}
}

func TestNotifyRecordsSentAndFailed(t *testing.T) {
	sms := &captureProvider{}
	rec := &recorder{}
	n := New(rec, sms, failProvider{})

	entry := models.QueueEntry{EntryID: "e1", Phone: "+628123456789", Email: "a@b.co"}
	n.Notify(context.Background(), TemplateCalled, entry, Vars{TicketNumber: 3, QueueName: "Main"})

	if len(sms.messages) != 1 || !strings.Contains(sms.messages[0], "#3") {
		t.Fatalf("expected one sms with ticket number, got %v", sms.messages)
	}
	if len(rec.deliveries) != 2 {
		t.Fatalf("expected two delivery records, got %d", len(rec.deliveries))
	}
	if rec.deliveries[0].Channel != models.ChannelSMS || rec.deliveries[0].Status != models.DeliverySent || rec.deliveries[0].MessageID != "msg-1" {
		t.Fatalf("unexpected sms delivery: %+v", rec.deliveries[0])
	}
	if rec.deliveries[1].Channel != models.ChannelEmail || rec.deliveries[1].Status != models.DeliveryFailed {
		t.Fatalf("unexpected email delivery: %+v", rec.deliveries[1])
	}
}

func TestNotifySkipsEntriesWithoutContact(t *testing.T) {
	sms := &captureProvider{}
	rec := &recorder{}
	New(rec, sms, sms).Notify(context.Background(), TemplateJoined, models.QueueEntry{EntryID: "e1"}, Vars{})
	if len(sms.messages) != 0 || len(rec.deliveries) != 0 {
		t.Fatalf("expected nothing sent")
	}
}

func TestWebhookProviderReturnsMessageID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["channel"] != "sms" || body["recipient"] != "+6281" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"message_id":"prov-42"}`))
	}))
	defer server.Close()

	provider := NewProvider("sms", ProviderConfig{Kind: "webhook", WebhookURL: server.URL, WebhookToken: "secret"})
	id, err := provider.Send(context.Background(), "+6281", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "prov-42" {
		t.Fatalf("expected provider message id, got %q", id)
	}
}

func TestWebhookProviderRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	provider := NewProvider("email", ProviderConfig{Kind: server.URL})
	if _, err := provider.Send(context.Background(), "a@b.co", "hello"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMaskRecipient(t *testing.T) {
	if got := maskRecipient("+628123456789"); got != "*********6789" {
		t.Fatalf("unexpected mask %q", got)
	}
}
