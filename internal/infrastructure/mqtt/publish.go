package mqtt

import (
	"fmt"
)

// maxPayloadSize bounds a single message (1MB), in line with broker defaults.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker ack (QoS 1/2) or
// the local write (QoS 0), up to defaultPublishTimeout.
//
// Green-time messages are published at QoS 1 and not retained: a controller
// that reconnects must wait for the next calculation rather than act on a
// stale timing plan.
//
// Example:
//
//	err := client.Publish(mqtt.Topics{}.GreenTimes(), body, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishRetained publishes a retained message at the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
