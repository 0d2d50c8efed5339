// Package notify sends join and call messages to customers. Delivery problems
// are logged and recorded on the entry; they never fail the queue operation
// that triggered them.
package notify

import (
	"context"
	"expvar"
	"log"

	"waitlist/queue-service/internal/models"
	"waitlist/queue-service/internal/store"
)

var notifyFailures = expvar.NewInt("notify_failures_total")

type Recorder interface {
	RecordDelivery(ctx context.Context, input store.DeliveryInput) error
}

type Notifier struct {
	providers map[string]Provider
	recorder  Recorder
}

func New(recorder Recorder, sms, email Provider) *Notifier {
	providers := map[string]Provider{}
	if sms != nil {
		providers[models.ChannelSMS] = sms
	}
	if email != nil {
		providers[models.ChannelEmail] = email
	}
	return &Notifier{providers: providers, recorder: recorder}
}

type channelTarget struct {
	name      string
	recipient string
}

func pickChannels(entry models.QueueEntry) []channelTarget {
	var channels []channelTarget
	if entry.Phone != "" {
		channels = append(channels, channelTarget{name: models.ChannelSMS, recipient: entry.Phone})
	}
	if entry.Email != "" {
		channels = append(channels, channelTarget{name: models.ChannelEmail, recipient: entry.Email})
	}
	return channels
}

// Notify renders templateID for every channel the entry has a contact for.
func (n *Notifier) Notify(ctx context.Context, templateID string, entry models.QueueEntry, vars Vars) {
	if n == nil {
		return
	}
	for _, channel := range pickChannels(entry) {
		provider, ok := n.providers[channel.name]
		if !ok {
			continue
		}
		message := renderTemplate(defaultTemplate(templateID, channel.name), vars)
		if message == "" {
			continue
		}

		delivery := store.DeliveryInput{EntryID: entry.EntryID, Channel: channel.name}
		messageID, err := provider.Send(ctx, channel.recipient, message)
		if err != nil {
			notifyFailures.Add(1)
			log.Printf("notify failed entry=%s channel=%s template=%s: %v", entry.EntryID, channel.name, templateID, err)
			delivery.Status = models.DeliveryFailed
		} else {
			delivery.Status = models.DeliverySent
			delivery.MessageID = messageID
		}
		if n.recorder == nil {
			continue
		}
		if err := n.recorder.RecordDelivery(ctx, delivery); err != nil {
			log.Printf("notify record delivery failed entry=%s channel=%s: %v", entry.EntryID, channel.name, err)
		}
	}
}
