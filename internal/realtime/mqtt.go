package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
}

// MQTTPublisher forwards refresh events to a broker so display boards and
// other replicas can subscribe outside this process.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
}

func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("waitlist-%d", time.Now().UnixNano())
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.BrokerURL).SetClientID(clientID)
	opts = opts.SetOrderMatters(false).SetAutoReconnect(true).SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", cfg.BrokerURL, clientID)
	return &MQTTPublisher{client: client, prefix: strings.Trim(cfg.TopicPrefix, "/")}, nil
}

// Topic maps "queue:<id>" to "<prefix>/queue/<id>".
func (p *MQTTPublisher) Topic(channel string) string {
	topic := strings.Replace(channel, ":", "/", 1)
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "/" + topic
}

func (p *MQTTPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	token := p.client.Publish(p.Topic(channel), 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ErrPublishTimeout
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
