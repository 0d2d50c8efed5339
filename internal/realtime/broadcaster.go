// Package realtime signals subscribers that something in a queue changed.
// Events carry no queue data; subscribers re-fetch what they are allowed to see.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"log"
	"strings"
	"time"
)

var realtimeDrops = expvar.NewInt("realtime_drops_total")

const (
	prefixQueue   = "queue:"
	prefixDisplay = "display:"
	prefixEntry   = "entry:"

	KindQueue   = "queue"
	KindDisplay = "display"
	KindEntry   = "entry"

	EventRefresh = "refresh"
)

func QueueChannel(queueID string) string        { return prefixQueue + queueID }
func DisplayChannel(displayToken string) string { return prefixDisplay + displayToken }
func EntryChannel(publicToken string) string    { return prefixEntry + publicToken }

// SplitChannel returns the channel kind (KindQueue, KindDisplay or KindEntry) and its id.
func SplitChannel(channel string) (kind, id string, ok bool) {
	for _, prefix := range []string{prefixQueue, prefixDisplay, prefixEntry} {
		if strings.HasPrefix(channel, prefix) {
			id = strings.TrimPrefix(channel, prefix)
			if id == "" {
				return "", "", false
			}
			return strings.TrimSuffix(prefix, ":"), id, true
		}
	}
	return "", "", false
}

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Fanout publishes to every member and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, channel string, payload []byte) error {
	var errs []error
	for _, publisher := range f {
		if err := publisher.Publish(ctx, channel, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type event struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// Broadcaster bounds every fan-out by a short timeout and swallows failures.
type Broadcaster struct {
	publisher Publisher
	timeout   time.Duration
}

func NewBroadcaster(publisher Publisher, timeout time.Duration) *Broadcaster {
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	return &Broadcaster{publisher: publisher, timeout: timeout}
}

func (b *Broadcaster) Refresh(ctx context.Context, channels ...string) {
	if b == nil || b.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()
	for _, channel := range channels {
		if channel == "" {
			continue
		}
		payload, _ := json.Marshal(event{Type: EventRefresh, Channel: channel})
		if err := b.publisher.Publish(ctx, channel, payload); err != nil {
			realtimeDrops.Add(1)
			log.Printf("realtime publish failed channel=%s: %v", channel, err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}
