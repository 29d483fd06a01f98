package mqttbus

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher is the outbound interface engine services depend on.
type IPublisher interface {
	Publish(topic string, v any) error
	PublishQoS(topic string, qos byte, retained bool, v any) error
}

// Publisher serializes payloads to JSON and publishes on a shared client.
type Publisher struct {
	client mqtt.Client
}

func NewPublisher(client mqtt.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends v as JSON at QoS 0, not retained.
func (p *Publisher) Publish(topic string, v any) error {
	return p.PublishQoS(topic, 0, false, v)
}

// PublishQoS sends v as JSON with explicit QoS/retain. Strings and []byte
// pass through unencoded.
func (p *Publisher) PublishQoS(topic string, qos byte, retained bool, v any) error {
	var payload []byte
	switch t := v.(type) {
	case []byte:
		payload = t
	case string:
		payload = []byte(t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("mqttbus: marshal for %s: %w", topic, err)
		}
		payload = b
	}

	token := p.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("mqttbus: publish to %s: %w", topic, token.Error())
	}
	return nil
}
