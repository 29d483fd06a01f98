package mqttbus

import (
	"context"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one inbound message from a subscription.
type Handler func(topic string, msg mqtt.Message) error

// IConsumer is the subscription interface engine services depend on.
type IConsumer interface {
	Consume(ctx context.Context)
	SetHandler(h Handler)
}

// Consumer subscribes to a set of topic filters on a shared client and feeds
// every message to a single handler.
type Consumer struct {
	client  mqtt.Client
	topics  []string
	qos     byte
	handler Handler
}

// NewConsumer creates a consumer for one or more topic filters at the given
// QoS. Handler may be set later via SetHandler.
func NewConsumer(client mqtt.Client, qos byte, topics ...string) *Consumer {
	return &Consumer{client: client, topics: topics, qos: qos}
}

func (c *Consumer) SetHandler(h Handler) { c.handler = h }

// Consume subscribes and blocks until ctx is cancelled, then unsubscribes.
func (c *Consumer) Consume(ctx context.Context) {
	for _, topic := range c.topics {
		topic := topic
		token := c.client.Subscribe(topic, c.qos, func(_ mqtt.Client, m mqtt.Message) {
			if c.handler == nil {
				log.Printf("mqttbus: no handler for %s", topic)
				return
			}
			if err := c.handler(m.Topic(), m); err != nil {
				log.Printf("mqttbus: handler error on %s: %v", m.Topic(), err)
			}
		})
		if token.Wait() && token.Error() != nil {
			log.Printf("mqttbus: subscribe %s failed: %v", topic, token.Error())
			continue
		}
		log.Printf("mqttbus: subscribed to %s (qos=%d)", topic, c.qos)
	}

	<-ctx.Done()

	for _, topic := range c.topics {
		c.client.Unsubscribe(topic)
	}
}
