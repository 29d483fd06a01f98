package engine

import (
	"context"
	"fmt"

	"github.com/stewnight/cropsteer/internal/model"
	"github.com/stewnight/cropsteer/pkg/mqttbus"
)

// Actuator hands validated commands to the external hardware collaborator.
// Dispatch is fire-and-forget: once a valve command is out it cannot be
// recalled, and the engine never assumes it succeeded. Confirmation comes
// back as a ShotResult, and the next snapshot reconciles reality.
type Actuator interface {
	ExecuteShot(ctx context.Context, cmd model.IrrigationCommand) error
}

// MQTTActuator publishes commands on the platform's actuator topic at QoS 1.
type MQTTActuator struct {
	publisher mqttbus.IPublisher
	prefix    string
}

func NewMQTTActuator(publisher mqttbus.IPublisher, topicPrefix string) *MQTTActuator {
	return &MQTTActuator{publisher: publisher, prefix: topicPrefix}
}

func (a *MQTTActuator) ExecuteShot(_ context.Context, cmd model.IrrigationCommand) error {
	topic := fmt.Sprintf("%s/actuator/%s/shot", a.prefix, cmd.Zone)
	if err := a.publisher.PublishQoS(topic, 1, false, cmd); err != nil {
		return fmt.Errorf("dispatch shot %s: %v: %w", cmd.Zone, err, model.ErrHardwareCommand)
	}
	return nil
}
