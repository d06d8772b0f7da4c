// Package mqttpub pushes lifecycle notifications to an MQTT broker so
// repeater dashboards and home-automation setups can follow activity without
// polling the API.
//
// Topic layout under the configured prefix:
//
//	<prefix>/contact_started
//	<prefix>/contact_ended
//	<prefix>/contact_timed_out
//	<prefix>/mode_changed
//
// Payloads are the JSON form of qso.Notification. Delivery is live-broadcast:
// the publisher consumes a bounded broadcast subscription, so a dead broker
// costs notifications (counted by the hub), never pipeline progress. The
// paho client reconnects on its own with a capped interval.
package mqttpub

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"mmdvmmon/broadcast"
	"mmdvmmon/qso"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Publisher bridges the broadcast hub to an MQTT broker.
type Publisher struct {
	broker      string
	port        int
	topicPrefix string
	clientID    string
	client      mqtt.Client
}

// NewPublisher creates a publisher; call Connect before Run.
func NewPublisher(broker string, port int, topicPrefix, clientID string) *Publisher {
	if clientID == "" {
		clientID = fmt.Sprintf("mmdvmmon-%d", time.Now().Unix())
	}
	return &Publisher{
		broker:      broker,
		port:        port,
		topicPrefix: topicPrefix,
		clientID:    clientID,
	}
}

// Connect establishes the broker session. Auto-reconnect is left to the paho
// client so a broker restart needs no handling here.
func (p *Publisher) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.broker, p.port))
	opts.SetClientID(p.clientID)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("MQTT: connected to %s:%d", p.broker, p.port)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT: connection lost: %v (will reconnect)", err)
	})

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Run publishes notifications from sub until ctx is cancelled or the hub
// closes the subscription, then disconnects.
func (p *Publisher) Run(ctx context.Context, sub *broadcast.Subscription) {
	defer p.client.Disconnect(250)

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C:
			if !ok {
				return
			}
			p.publish(n)
		}
	}
}

func (p *Publisher) publish(n qso.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		log.Printf("MQTT: marshal %s: %v", n.Type, err)
		return
	}
	topic := Topic(p.topicPrefix, n.Type)
	// QoS 0, unretained: this is a live feed, late joiners use the API
	// snapshot. Token errors are logged, not retried; paho queues while
	// reconnecting.
	token := p.client.Publish(topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("MQTT: publish %s: %v", topic, token.Error())
		}
	}()
}

// Topic returns the full topic for a notification type.
func Topic(prefix string, t qso.NotificationType) string {
	return prefix + "/" + string(t)
}
