package mqtt

import (
	"fmt"
)

// maxPayloadSize caps a single frame. Large HTTP passthrough bodies are the
// usual reason to hit it.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends one frame to the specified MQTT topic and waits for the
// broker to accept it.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "graylogic/module/generic-1/host")
//   - payload: One encoded frame (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// QoS Levels:
//   - 0: At most once; a lost frame leaves the remote call waiting until timeout
//   - 1: At least once; the default for module frames
//   - 2: Exactly once, at the cost of an extra round trip per frame
//
// Retained Messages:
//   - Module frames are never retained; a restarted peer must not replay old calls
//   - Only client status documents are retained (see Topics.ClientStatus)
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
//
// Example:
//
//	topic := mqtt.Topics{}.ToHost("generic-1")
//	err := client.Publish(topic, frame, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
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

func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	return nil
}
